package types

import "time"

type Event struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Ts      time.Time      `json:"timestamp"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Room is the binding between a human-facing room id, the video session that
// backs it and the pin phone callers enter to reach it.
type Room struct {
	ID        string    `json:"room_id"`
	SessionID string    `json:"session_id"`
	Pin       int       `json:"pin"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomStatus is a read-only view of a room and its SIP bridge.
type RoomStatus struct {
	Room
	DialedOut    bool   `json:"dialed_out"`
	ConnectionID string `json:"sip_connection_id,omitempty"`
}
