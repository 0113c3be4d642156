package bridge

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sipbridge/relay/internal/auth"
	"sipbridge/relay/internal/config"
	"sipbridge/relay/internal/opentok"
	"sipbridge/relay/internal/store"
	"sipbridge/relay/internal/vonage"
)

const (
	testAPIKey     = "4700"
	testSecret     = "0123456789abcdef0123456789abcdef01234567"
	testConference = "15550001000"
)

type fakeVideo struct {
	mu            sync.Mutex
	created       int
	createErr     error
	dials         []opentok.DialRequest
	dialErr       error
	dialDelay     time.Duration
	disconnects   []string
	disconnectErr error
	signals       []opentok.Signal
	signalErr     error
}

func (f *fakeVideo) APIKey() string { return testAPIKey }

func (f *fakeVideo) CreateSession(ctx context.Context, mode opentok.MediaMode) (opentok.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return opentok.Session{}, f.createErr
	}
	f.created++
	return opentok.Session{SessionID: fmt.Sprintf("sess-%d", f.created)}, nil
}

func (f *fakeVideo) GenerateToken(sessionID string, role auth.Role, data string) (string, error) {
	return auth.GenerateClientToken(testAPIKey, testSecret, sessionID, auth.ClientTokenOptions{Role: role, ConnectionData: data})
}

func (f *fakeVideo) Dial(ctx context.Context, req opentok.DialRequest) (opentok.SipCall, error) {
	if f.dialDelay > 0 {
		time.Sleep(f.dialDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials = append(f.dials, req)
	if f.dialErr != nil {
		return opentok.SipCall{}, f.dialErr
	}
	n := len(f.dials)
	return opentok.SipCall{
		ID:           fmt.Sprintf("call-%d", n),
		ConnectionID: fmt.Sprintf("conn-%d", n),
		StreamID:     fmt.Sprintf("stream-%d", n),
	}, nil
}

func (f *fakeVideo) ForceDisconnect(ctx context.Context, sessionID, connectionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disconnectErr != nil {
		return f.disconnectErr
	}
	f.disconnects = append(f.disconnects, sessionID+"/"+connectionID)
	return nil
}

func (f *fakeVideo) Signal(ctx context.Context, sessionID string, sig opentok.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, sig)
	return f.signalErr
}

func (f *fakeVideo) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dials)
}

func (f *fakeVideo) lastSignal() opentok.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.signals) == 0 {
		return opentok.Signal{}
	}
	return f.signals[len(f.signals)-1]
}

type fakeVoice struct {
	mu            sync.Mutex
	conversations map[string]vonage.Conversation
	convLookups   int
	records       map[string]vonage.CallRecord
	recordErr     error
}

func (f *fakeVoice) GetConversation(ctx context.Context, id string) (vonage.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convLookups++
	c, ok := f.conversations[id]
	if !ok {
		return vonage.Conversation{}, &vonage.APIError{Op: "GetConversation", StatusCode: 404, Status: "404 Not Found"}
	}
	return c, nil
}

func (f *fakeVoice) CallRecord(ctx context.Context, id string) (vonage.CallRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return vonage.CallRecord{}, f.recordErr
	}
	return f.records[id], nil
}

func (f *fakeVoice) UpdateApplicationWebhooks(ctx context.Context, app vonage.Application) error {
	return nil
}

func testConfig() config.Config {
	var c config.Config
	c.Server.PublicURL = "https://relay.example.com"
	c.Voice.APIKey = "voice-key"
	c.Voice.APISecret = "voice-secret"
	c.Voice.ConferenceNumber = testConference
	c.Voice.SIPDomain = "sip.nexmo.com"
	c.Voice.BridgeCallerID = "0000000000"
	c.Voice.PinPrompt = "enter pin"
	c.Voice.PinRetryPrompt = "retry pin"
	c.Voice.PinNotFoundPrompt = "unknown pin"
	return c
}

type harness struct {
	svc   *Service
	st    *store.Store
	video *fakeVideo
	voice *fakeVoice
}

func newHarness() *harness {
	h := &harness{
		st:    store.New(),
		video: &fakeVideo{},
		voice: &fakeVoice{conversations: map[string]vonage.Conversation{}, records: map[string]vonage.CallRecord{}},
	}
	h.svc = New(h.st, h.video, h.voice, testConfig())
	return h
}

// bind registers sessionID under roomID as if the room page had created it.
func (h *harness) bind(t *testing.T, roomID, sessionID string) {
	t.Helper()
	_, _, err := h.st.BindRoom(roomID, sessionID)
	require.NoError(t, err)
}
