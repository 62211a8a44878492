package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// RoomSettings holds per-room projection overrides. Nil fields inherit
// the server defaults; TagOverrides entries force a tag visible or hidden.
type RoomSettings struct {
	RoomID              string          `json:"roomId"`
	Mode                *string         `json:"mode,omitempty"`
	Separator           *string         `json:"separator,omitempty"`
	SuppressRepeats     *bool           `json:"suppressRepeats,omitempty"`
	MaxTurnChars        *int            `json:"maxTurnChars,omitempty"`
	MaxToolSummaryChars *int            `json:"maxToolSummaryChars,omitempty"`
	MaxStatusChars      *int            `json:"maxStatusChars,omitempty"`
	MaxMetaEvents       *int            `json:"maxMetaEvents,omitempty"`
	TagOverrides        map[string]bool `json:"tags,omitempty"`
}

func (db *DB) GetRoomSettings(roomID string) (*RoomSettings, error) {
	s := &RoomSettings{RoomID: roomID}
	var tags string
	err := db.QueryRow(`
		SELECT mode, separator, suppress_repeats, max_turn_chars,
		       max_tool_summary_chars, max_status_chars, max_meta_events, tag_overrides
		FROM room_settings WHERE room_id = ?
	`, roomID).Scan(&s.Mode, &s.Separator, &s.SuppressRepeats, &s.MaxTurnChars,
		&s.MaxToolSummaryChars, &s.MaxStatusChars, &s.MaxMetaEvents, &tags)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if tags != "" && tags != "{}" {
		if err := json.Unmarshal([]byte(tags), &s.TagOverrides); err != nil {
			return nil, fmt.Errorf("tag overrides for room %s: %w", roomID, err)
		}
	}
	return s, nil
}

func (db *DB) SaveRoomSettings(s *RoomSettings) error {
	tags := "{}"
	if len(s.TagOverrides) > 0 {
		data, err := json.Marshal(s.TagOverrides)
		if err != nil {
			return fmt.Errorf("tag overrides: %w", err)
		}
		tags = string(data)
	}
	_, err := db.Exec(`
		INSERT INTO room_settings (room_id, mode, separator, suppress_repeats, max_turn_chars,
		                           max_tool_summary_chars, max_status_chars, max_meta_events,
		                           tag_overrides, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET
			mode = excluded.mode,
			separator = excluded.separator,
			suppress_repeats = excluded.suppress_repeats,
			max_turn_chars = excluded.max_turn_chars,
			max_tool_summary_chars = excluded.max_tool_summary_chars,
			max_status_chars = excluded.max_status_chars,
			max_meta_events = excluded.max_meta_events,
			tag_overrides = excluded.tag_overrides,
			updated_at = excluded.updated_at
	`, s.RoomID, s.Mode, s.Separator, s.SuppressRepeats, s.MaxTurnChars,
		s.MaxToolSummaryChars, s.MaxStatusChars, s.MaxMetaEvents, tags, time.Now().UTC())
	return err
}
