package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sipbridge/relay/internal/ncco"
)

type Sim struct {
	base string
	http *http.Client
	out  io.Writer
}

func newSim(base string, out io.Writer) *Sim {
	return &Sim{base: strings.TrimRight(base, "/"), http: &http.Client{Timeout: 30 * time.Second}, out: out}
}

type RoomInfo struct {
	SessionID        string `json:"sessionId"`
	Pin              int    `json:"pin"`
	RoomID           string `json:"roomId"`
	ConferenceNumber string `json:"conferenceNumber"`
}

type Call struct {
	UUID             string
	ConversationUUID string
	From             string
	Pin              string
	Hangup           bool
}

func (s *Sim) Room(ctx context.Context, roomID string) (RoomInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/room/"+url.PathEscape(roomID), nil)
	if err != nil {
		return RoomInfo{}, err
	}
	req.Header.Set("Accept", "application/json")
	var info RoomInfo
	if err := s.doJSON(req, &info); err != nil {
		return RoomInfo{}, fmt.Errorf("room: %w", err)
	}
	fmt.Fprintf(s.out, "Room: %s\nSession: %s\nPin: %d\nDial: %s\n", info.RoomID, info.SessionID, info.Pin, info.ConferenceNumber)
	return info, nil
}

// Call walks one caller through answer, pin entry and optional hangup.
func (s *Sim) Call(ctx context.Context, c Call) error {
	fmt.Fprintf(s.out, "=== Call %s from %s ===\n", c.UUID, c.From)

	q := url.Values{"uuid": {c.UUID}, "conversation_uuid": {c.ConversationUUID}, "from": {c.From}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/nexmo-answer?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	var answer ncco.NCCO
	if err := s.doJSON(req, &answer); err != nil {
		return fmt.Errorf("answer: %w", err)
	}
	s.print("[1] answer", answer)

	body, _ := json.Marshal(map[string]string{
		"dtmf":              c.Pin,
		"msisdn":            c.From,
		"uuid":              c.UUID,
		"conversation_uuid": c.ConversationUUID,
	})
	req, err = http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/nexmo-dtmf", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	var joined ncco.NCCO
	if err := s.doJSON(req, &joined); err != nil {
		return fmt.Errorf("dtmf: %w", err)
	}
	s.print("[2] dtmf", joined)

	if len(joined) == 0 || joined[0].Action != "conversation" {
		fmt.Fprintln(s.out, "[*] pin rejected")
		return nil
	}
	if !c.Hangup {
		return nil
	}

	body, _ = json.Marshal(map[string]string{
		"status":            "completed",
		"uuid":              c.UUID,
		"conversation_uuid": c.ConversationUUID,
		"duration":          "0",
	})
	req, err = http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/nexmo-events", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("events: %w", err)
	}
	resp.Body.Close()
	fmt.Fprintf(s.out, "[3] hangup -> %d\n", resp.StatusCode)
	return nil
}

func (s *Sim) print(step string, script ncco.NCCO) {
	ts := time.Now().Format("15:04:05.000")
	for _, a := range script {
		switch a.Action {
		case "talk":
			fmt.Fprintf(s.out, "[%s] %s <- talk: %q\n", ts, step, a.Text)
		case "input":
			fmt.Fprintf(s.out, "[%s] %s <- input: %v\n", ts, step, a.EventURL)
		case "conversation":
			fmt.Fprintf(s.out, "[%s] %s <- conversation: %s\n", ts, step, a.Name)
		default:
			fmt.Fprintf(s.out, "[%s] %s <- %s\n", ts, step, a.Action)
		}
	}
}

func (s *Sim) doJSON(req *http.Request, out any) error {
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%s: %s", resp.Status, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
