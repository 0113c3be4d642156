package vonage

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"sipbridge/relay/internal/auth"
)

// Member states and channel types reported by the conversation API.
const (
	MemberJoined = "JOINED"
	ChannelPhone = "phone"
)

// Client is what the call-control flow needs from the voice provider.
type Client interface {
	GetConversation(ctx context.Context, conversationUUID string) (Conversation, error)
	CallRecord(ctx context.Context, callUUID string) (CallRecord, error)
	UpdateApplicationWebhooks(ctx context.Context, app Application) error
}

// Provisioner covers the one-off account setup operations.
type Provisioner interface {
	CreateApplication(ctx context.Context, app Application) (CreatedApplication, error)
	ListNumbers(ctx context.Context) ([]Number, error)
	LinkNumber(ctx context.Context, country, msisdn, appID string) error
}

type Conversation struct {
	UUID    string   `json:"uuid"`
	Name    string   `json:"name"`
	Members []Member `json:"members"`
}

type Member struct {
	ID      string  `json:"member_id"`
	State   string  `json:"state"`
	Channel Channel `json:"channel"`
}

type Channel struct {
	Type string   `json:"type"`
	From Endpoint `json:"from"`
}

type Endpoint struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

// JoinedMembers returns the members still in the conversation.
func (c Conversation) JoinedMembers() []Member {
	var out []Member
	for _, m := range c.Members {
		if m.State == MemberJoined {
			out = append(out, m)
		}
	}
	return out
}

// CallRecord is a voice call detail record from the reports API. Duration is
// in seconds; both fields are passed through as the provider formats them.
type CallRecord struct {
	ID       string `json:"id"`
	Duration string `json:"duration"`
	Price    string `json:"price"`
	Status   string `json:"status"`
	From     string `json:"from"`
	To       string `json:"to"`
}

// Application describes a voice application and its webhook targets.
type Application struct {
	ID        string
	Name      string
	AnswerURL string
	EventURL  string
}

type CreatedApplication struct {
	ID         string
	Name       string
	PrivateKey string
}

type Number struct {
	Country  string   `json:"country"`
	MSISDN   string   `json:"msisdn"`
	Type     string   `json:"type"`
	Features []string `json:"features"`
}

// APIError is returned for non-2xx provider responses.
type APIError struct {
	Op         string
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vonage %s: %s: %s", e.Op, e.Status, e.Body)
}

// Credentials holds the account and application secrets. PrivateKey may be
// nil for clients that only use account-level endpoints.
type Credentials struct {
	APIKey     string
	APISecret  string
	AppID      string
	PrivateKey *rsa.PrivateKey
}

type HTTPClient struct {
	http    *http.Client
	creds   Credentials
	apiBase string
	rest    string
	now     func() time.Time
}

func NewClient(creds Credentials, apiBase, restBase string, timeout time.Duration) *HTTPClient {
	if apiBase == "" {
		apiBase = "https://api.nexmo.com"
	}
	if restBase == "" {
		restBase = "https://rest.nexmo.com"
	}
	return &HTTPClient{
		http:    &http.Client{Timeout: timeout},
		creds:   creds,
		apiBase: strings.TrimRight(apiBase, "/"),
		rest:    strings.TrimRight(restBase, "/"),
		now:     time.Now,
	}
}

// LoadPrivateKey reads the application's PEM key from disk.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	return auth.ParseRSAPrivateKey(b)
}

func (c *HTTPClient) GetConversation(ctx context.Context, conversationUUID string) (Conversation, error) {
	if conversationUUID == "" {
		return Conversation{}, errors.New("vonage GetConversation: empty conversation uuid")
	}
	tok, err := auth.ApplicationJWT(c.creds.AppID, c.creds.PrivateKey, c.now(), 5*time.Minute)
	if err != nil {
		return Conversation{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.apiBase+"/v0.1/conversations/"+url.PathEscape(conversationUUID), nil)
	if err != nil {
		return Conversation{}, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	var out Conversation
	if err := c.do(req, "GetConversation", &out); err != nil {
		return Conversation{}, err
	}
	return out, nil
}

func (c *HTTPClient) CallRecord(ctx context.Context, callUUID string) (CallRecord, error) {
	q := url.Values{}
	q.Set("account_id", c.creds.APIKey)
	q.Set("product", "VOICE-CALL")
	q.Set("id", callUUID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/v2/reports/records?"+q.Encode(), nil)
	if err != nil {
		return CallRecord{}, err
	}
	req.SetBasicAuth(c.creds.APIKey, c.creds.APISecret)
	var out struct {
		Records []CallRecord `json:"records"`
	}
	if err := c.do(req, "CallRecord", &out); err != nil {
		return CallRecord{}, err
	}
	if len(out.Records) == 0 {
		return CallRecord{}, fmt.Errorf("vonage CallRecord: no record for %s", callUUID)
	}
	return out.Records[0], nil
}

func (c *HTTPClient) UpdateApplicationWebhooks(ctx context.Context, app Application) error {
	if app.ID == "" {
		app.ID = c.creds.AppID
	}
	body, err := json.Marshal(applicationBody(app))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.apiBase+"/v2/applications/"+url.PathEscape(app.ID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.creds.APIKey, c.creds.APISecret)
	return c.do(req, "UpdateApplicationWebhooks", nil)
}

func (c *HTTPClient) CreateApplication(ctx context.Context, app Application) (CreatedApplication, error) {
	body, err := json.Marshal(applicationBody(app))
	if err != nil {
		return CreatedApplication{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/v2/applications", bytes.NewReader(body))
	if err != nil {
		return CreatedApplication{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.creds.APIKey, c.creds.APISecret)
	var out struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Keys struct {
			PrivateKey string `json:"private_key"`
		} `json:"keys"`
	}
	if err := c.do(req, "CreateApplication", &out); err != nil {
		return CreatedApplication{}, err
	}
	return CreatedApplication{ID: out.ID, Name: out.Name, PrivateKey: out.Keys.PrivateKey}, nil
}

func (c *HTTPClient) ListNumbers(ctx context.Context) ([]Number, error) {
	q := c.accountQuery()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.rest+"/account/numbers?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Count   int      `json:"count"`
		Numbers []Number `json:"numbers"`
	}
	if err := c.do(req, "ListNumbers", &out); err != nil {
		return nil, err
	}
	return out.Numbers, nil
}

func (c *HTTPClient) LinkNumber(ctx context.Context, country, msisdn, appID string) error {
	form := c.accountQuery()
	form.Set("country", country)
	form.Set("msisdn", msisdn)
	form.Set("app_id", appID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rest+"/number/update",
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	var out struct {
		Code  string `json:"error-code"`
		Label string `json:"error-code-label"`
	}
	if err := c.do(req, "LinkNumber", &out); err != nil {
		return err
	}
	if out.Code != "" && out.Code != "200" {
		return &APIError{Op: "LinkNumber", StatusCode: http.StatusOK, Status: out.Code, Body: out.Label}
	}
	return nil
}

func (c *HTTPClient) accountQuery() url.Values {
	q := url.Values{}
	q.Set("api_key", c.creds.APIKey)
	q.Set("api_secret", c.creds.APISecret)
	return q
}

func (c *HTTPClient) do(req *http.Request, op string, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("vonage %s: %w", op, err)
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
		return fmt.Errorf("vonage %s: decode: %w", op, err)
	}
	return nil
}

type webhook struct {
	Address    string `json:"address"`
	HTTPMethod string `json:"http_method"`
}

func applicationBody(app Application) map[string]any {
	return map[string]any{
		"name": app.Name,
		"capabilities": map[string]any{
			"voice": map[string]any{
				"webhooks": map[string]webhook{
					"answer_url": {Address: app.AnswerURL, HTTPMethod: http.MethodGet},
					"event_url":  {Address: app.EventURL, HTTPMethod: http.MethodPost},
				},
			},
		},
	}
}
