package db

import (
	"database/sql"
	"time"
)

const (
	RoleOwner  = "owner"
	RoleMember = "member"
	RoleAgent  = "agent"
)

type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Emoji       string `json:"emoji"`
	Role        string `json:"role"`
	IsAgent     bool   `json:"isAgent"`
	IsOnline    bool   `json:"isOnline,omitempty"`

	// Agent-only. The token stays server-side.
	GatewayURL   string `json:"gatewayUrl,omitempty"`
	GatewayToken string `json:"-"`
}

func (db *DB) AddParticipant(roomID, participantID, displayName, role string) error {
	_, err := db.Exec(`
		INSERT OR IGNORE INTO participants (room_id, participant_id, display_name, role, joined_at)
		VALUES (?, ?, ?, ?, ?)
	`, roomID, participantID, displayName, role, time.Now().UTC())
	return err
}

func (db *DB) AddAgentParticipant(roomID, agentID, displayName, emoji, gatewayURL, gatewayToken string) error {
	_, err := db.Exec(`
		INSERT OR IGNORE INTO participants (room_id, participant_id, display_name, emoji, role, gateway_url, gateway_token, joined_at)
		VALUES (?, ?, ?, ?, 'agent', ?, ?, ?)
	`, roomID, agentID, displayName, emoji, gatewayURL, gatewayToken, time.Now().UTC())
	return err
}

func (db *DB) RemoveParticipant(roomID, participantID string) error {
	_, err := db.Exec(`
		DELETE FROM participants WHERE room_id = ? AND participant_id = ?
	`, roomID, participantID)
	return err
}

func (db *DB) GetParticipant(roomID, participantID string) (*Participant, error) {
	var p Participant
	err := db.QueryRow(`
		SELECT participant_id, display_name, emoji, role, gateway_url, gateway_token
		FROM participants WHERE room_id = ? AND participant_id = ?
	`, roomID, participantID).Scan(&p.ID, &p.DisplayName, &p.Emoji, &p.Role, &p.GatewayURL, &p.GatewayToken)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.IsAgent = p.Role == RoleAgent
	return &p, nil
}

func (db *DB) GetParticipants(roomID string) ([]Participant, error) {
	rows, err := db.Query(`
		SELECT participant_id, display_name, emoji, role, gateway_url, gateway_token
		FROM participants WHERE room_id = ? ORDER BY joined_at, participant_id
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.Emoji, &p.Role, &p.GatewayURL, &p.GatewayToken); err != nil {
			continue
		}
		p.IsAgent = p.Role == RoleAgent
		participants = append(participants, p)
	}
	return participants, nil
}

// AgentsInRoom returns only the agent participants of a room.
func (db *DB) AgentsInRoom(roomID string) ([]Participant, error) {
	participants, err := db.GetParticipants(roomID)
	if err != nil {
		return nil, err
	}
	var agents []Participant
	for _, p := range participants {
		if p.IsAgent {
			agents = append(agents, p)
		}
	}
	return agents, nil
}

func (db *DB) IsParticipant(roomID, participantID string) (bool, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM participants WHERE room_id = ? AND participant_id = ?
	`, roomID, participantID).Scan(&count)
	return count > 0, err
}

func (db *DB) GetParticipantRole(roomID, participantID string) (string, error) {
	var role string
	err := db.QueryRow(`
		SELECT role FROM participants WHERE room_id = ? AND participant_id = ?
	`, roomID, participantID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return role, err
}

// RefreshDisplayName records the name presented at connect time on every
// membership row for the participant. Agent rows keep their registered name.
func (db *DB) RefreshDisplayName(participantID, displayName string) error {
	if displayName == "" {
		return nil
	}
	_, err := db.Exec(`
		UPDATE participants SET display_name = ? WHERE participant_id = ? AND role != 'agent'
	`, displayName, participantID)
	return err
}
