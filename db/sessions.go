package db

import "time"

// EnsureAgentSession returns the gateway session key for the (room, agent)
// pair, creating it on first use. One session per pair keeps the agent's
// context continuous across turns while isolating rooms from each other.
func (db *DB) EnsureAgentSession(roomID, agentID string) (string, error) {
	_, err := db.Exec(`
		INSERT INTO agent_sessions (room_id, agent_id, session_key, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(room_id, agent_id) DO UPDATE SET updated_at = excluded.updated_at
	`, roomID, agentID, "agent:"+agentID+":room:"+roomID, time.Now().UTC())
	if err != nil {
		return "", err
	}

	var key string
	err = db.QueryRow(`
		SELECT session_key FROM agent_sessions WHERE room_id = ? AND agent_id = ?
	`, roomID, agentID).Scan(&key)
	return key, err
}
