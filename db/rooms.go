package db

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"time"
)

type Room struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Emoji            string        `json:"emoji"`
	CreatedBy        string        `json:"createdBy"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
	ParticipantCount int           `json:"participantCount,omitempty"`
	Participants     []Participant `json:"participants,omitempty"`
}

func nanoid() string {
	b := make([]byte, 10)
	rand.Read(b)
	return hex.EncodeToString(b)[:12]
}

func (db *DB) CreateRoom(name, emoji, createdBy, creatorName string) (*Room, error) {
	id := nanoid()
	now := time.Now().UTC()
	_, err := db.Exec(`
		INSERT INTO rooms (id, name, emoji, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, name, emoji, createdBy, now, now)
	if err != nil {
		return nil, err
	}

	// Add creator as owner participant
	_, err = db.Exec(`
		INSERT INTO participants (room_id, participant_id, display_name, role, joined_at)
		VALUES (?, ?, ?, 'owner', ?)
	`, id, createdBy, creatorName, now)
	if err != nil {
		return nil, err
	}

	return &Room{
		ID:        id,
		Name:      name,
		Emoji:     emoji,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (db *DB) GetRoom(id string) (*Room, error) {
	r := &Room{}
	err := db.QueryRow(`
		SELECT id, name, emoji, created_by, created_at, updated_at
		FROM rooms WHERE id = ?
	`, id).Scan(&r.ID, &r.Name, &r.Emoji, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	participants, err := db.GetParticipants(id)
	if err != nil {
		return nil, err
	}
	r.Participants = participants
	r.ParticipantCount = len(participants)

	return r, nil
}

func (db *DB) ListRoomsForParticipant(participantID string) ([]Room, error) {
	rows, err := db.Query(`
		SELECT r.id, r.name, r.emoji, r.created_by, r.created_at, r.updated_at,
		       (SELECT COUNT(*) FROM participants WHERE room_id = r.id) as participant_count
		FROM rooms r
		JOIN participants p ON p.room_id = r.id AND p.participant_id = ?
		ORDER BY r.updated_at DESC
	`, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.Name, &r.Emoji, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt, &r.ParticipantCount); err != nil {
			continue
		}
		rooms = append(rooms, r)
	}
	return rooms, nil
}

// TouchRoom bumps updated_at so recently active rooms sort first in lists.
// Messages are not persisted, so activity is recorded here on each send.
func (db *DB) TouchRoom(id string) error {
	_, err := db.Exec(`UPDATE rooms SET updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}
