package opentok

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sipbridge/relay/internal/auth"
)

type MediaMode string

const (
	MediaRouted  MediaMode = "routed"
	MediaRelayed MediaMode = "relayed"
)

// Client is the subset of the video-session provider the relay depends on.
type Client interface {
	APIKey() string
	CreateSession(ctx context.Context, mode MediaMode) (Session, error)
	GenerateToken(sessionID string, role auth.Role, data string) (string, error)
	Dial(ctx context.Context, req DialRequest) (SipCall, error)
	ForceDisconnect(ctx context.Context, sessionID, connectionID string) error
	Signal(ctx context.Context, sessionID string, sig Signal) error
}

type Session struct {
	SessionID  string `json:"session_id"`
	ProjectID  string `json:"project_id"`
	CreateDate string `json:"create_dt"`
}

// DialRequest asks the provider to place an outbound SIP call that joins the
// session as a participant authenticated by Token.
type DialRequest struct {
	SessionID string
	Token     string
	URI       string
	From      string
	Headers   map[string]string
	Username  string
	Password  string
	Secure    bool
}

// SipCall is the provider's handle for a dialed SIP participant.
type SipCall struct {
	ID           string `json:"id"`
	ConnectionID string `json:"connectionId"`
	StreamID     string `json:"streamId"`
}

// Signal is an application message delivered to every client in a session.
type Signal struct {
	Type string
	Data any
}

// APIError is returned for non-2xx provider responses.
type APIError struct {
	Op         string
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("opentok %s: %s: %s", e.Op, e.Status, e.Body)
}

type HTTPClient struct {
	http      *http.Client
	apiKey    string
	apiSecret string
	base      string
	tokenTTL  time.Duration
	now       func() time.Time
}

func NewClient(apiKey, apiSecret, baseURL string, timeout, tokenTTL time.Duration) *HTTPClient {
	if baseURL == "" {
		baseURL = "https://api.opentok.com"
	}
	return &HTTPClient{
		http:      &http.Client{Timeout: timeout},
		apiKey:    apiKey,
		apiSecret: apiSecret,
		base:      strings.TrimRight(baseURL, "/"),
		tokenTTL:  tokenTTL,
		now:       time.Now,
	}
}

func (c *HTTPClient) APIKey() string { return c.apiKey }

func (c *HTTPClient) CreateSession(ctx context.Context, mode MediaMode) (Session, error) {
	form := url.Values{}
	form.Set("archiveMode", "manual")
	if mode == MediaRouted {
		form.Set("p2p.preference", "disabled")
	} else {
		form.Set("p2p.preference", "enabled")
	}
	var out []Session
	err := c.do(ctx, "CreateSession", http.MethodPost, "/session/create",
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", &out)
	if err != nil {
		return Session{}, err
	}
	if len(out) == 0 || out[0].SessionID == "" {
		return Session{}, errors.New("opentok CreateSession: empty session id")
	}
	return out[0], nil
}

func (c *HTTPClient) GenerateToken(sessionID string, role auth.Role, data string) (string, error) {
	return auth.GenerateClientToken(c.apiKey, c.apiSecret, sessionID, auth.ClientTokenOptions{
		Role:           role,
		ConnectionData: data,
		TTL:            c.tokenTTL,
		Now:            c.now(),
	})
}

func (c *HTTPClient) Dial(ctx context.Context, req DialRequest) (SipCall, error) {
	sip := map[string]any{
		"uri":    req.URI,
		"secure": req.Secure,
	}
	if req.From != "" {
		sip["from"] = req.From
	}
	if len(req.Headers) > 0 {
		sip["headers"] = req.Headers
	}
	if req.Username != "" {
		sip["auth"] = map[string]string{"username": req.Username, "password": req.Password}
	}
	body := map[string]any{
		"sessionId": req.SessionID,
		"token":     req.Token,
		"sip":       sip,
	}
	var out SipCall
	if err := c.doJSON(ctx, "Dial", http.MethodPost, c.projectPath("/dial"), body, &out); err != nil {
		return SipCall{}, err
	}
	if out.ConnectionID == "" {
		return SipCall{}, errors.New("opentok Dial: empty connection id")
	}
	return out, nil
}

func (c *HTTPClient) ForceDisconnect(ctx context.Context, sessionID, connectionID string) error {
	path := c.projectPath("/session/" + url.PathEscape(sessionID) + "/connection/" + url.PathEscape(connectionID))
	return c.do(ctx, "ForceDisconnect", http.MethodDelete, path, nil, "", nil)
}

func (c *HTTPClient) Signal(ctx context.Context, sessionID string, sig Signal) error {
	data, err := json.Marshal(sig.Data)
	if err != nil {
		return err
	}
	body := map[string]string{"type": sig.Type, "data": string(data)}
	path := c.projectPath("/session/" + url.PathEscape(sessionID) + "/signal")
	return c.doJSON(ctx, "Signal", http.MethodPost, path, body, nil)
}

func (c *HTTPClient) projectPath(p string) string {
	return "/v2/project/" + url.PathEscape(c.apiKey) + p
}

func (c *HTTPClient) doJSON(ctx context.Context, op, method, path string, body, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}
	return c.do(ctx, op, method, path, &buf, "application/json", out)
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, body io.Reader, contentType string, out any) error {
	jwt, err := auth.ProjectJWT(c.apiKey, c.apiSecret, c.now(), 3*time.Minute)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("X-OPENTOK-AUTH", jwt)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("opentok %s: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Op: op, StatusCode: resp.StatusCode, Status: resp.Status, Body: string(b)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("opentok %s: decode: %w", op, err)
	}
	return nil
}
