package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sipbridge/relay/internal/vonage"
)

const sipData = `{"sip":true,"role":"client","callee":"15550001000"}`

func sipStream(event string, ts, createdAt int64, data string) StreamEvent {
	return StreamEvent{
		SessionID: "sess-1",
		Event:     event,
		Timestamp: ts,
		Stream: &CallbackStream{
			ID:         "stream-1",
			CreatedAt:  createdAt,
			Connection: CallbackConnection{ID: "conn-1", CreatedAt: createdAt, Data: data},
		},
	}
}

func TestStreamLifecycleRelaysDuration(t *testing.T) {
	h := newHarness()
	h.bind(t, "r1", "sess-1")
	const t0, t1 = int64(1700000000000), int64(1700000042500)

	h.svc.HandleStreamEvent(context.Background(), sipStream(EventStreamCreated, t0, t0, sipData))
	sig := h.video.lastSignal()
	assert.Equal(t, SignalSipVideoConnectionCreated, sig.Type)
	assert.Equal(t, map[string]any{"connectionData": json.RawMessage(sipData)}, sig.Data)

	snap, ok := h.st.Snapshot("sess-1", "conn-1")
	require.True(t, ok)
	assert.Equal(t, t0, snap.CreatedAt)

	// the destroy payload's own createdAt is ignored in favour of the snapshot
	h.svc.HandleStreamEvent(context.Background(), sipStream(EventStreamDestroyed, t1, t1-1, sipData))
	sig = h.video.lastSignal()
	assert.Equal(t, SignalSipVideoConnectionDestroyed, sig.Type)
	assert.Equal(t, map[string]any{"lengthSeconds": 42.5, "connectionData": json.RawMessage(sipData)}, sig.Data)

	_, ok = h.st.Snapshot("sess-1", "conn-1")
	assert.True(t, ok)
}

func TestStreamDestroyedWithoutSnapshot(t *testing.T) {
	h := newHarness()
	h.bind(t, "r1", "sess-1")
	h.svc.HandleStreamEvent(context.Background(), sipStream(EventStreamDestroyed, 10_000, 4_000, sipData))
	sig := h.video.lastSignal()
	assert.Equal(t, SignalSipVideoConnectionDestroyed, sig.Type)
	assert.Equal(t, 6.0, sig.Data.(map[string]any)["lengthSeconds"])
}

func TestStreamEventsIgnoreBrowserConnections(t *testing.T) {
	h := newHarness()
	h.bind(t, "r1", "sess-1")
	for _, data := range []string{"", `{"name":"alice"}`, `{"sip":false}`, "not json"} {
		h.svc.HandleStreamEvent(context.Background(), sipStream(EventStreamCreated, 1, 1, data))
	}
	h.svc.HandleStreamEvent(context.Background(), StreamEvent{SessionID: "sess-1", Event: "connectionCreated"})
	assert.Empty(t, h.video.signals)
}

func TestSipCallDestroyedRelaysReport(t *testing.T) {
	h := newHarness()
	room, err := h.svc.GetOrCreateSession(context.Background(), "r1")
	require.NoError(t, err)
	_, err = h.svc.DialOut(context.Background(), "r1")
	require.NoError(t, err)
	h.svc.HandleAnswer(AnswerQuery{UUID: "leg-7", SessionID: room.SessionID})
	h.voice.records["leg-7"] = vonage.CallRecord{ID: "leg-7", Duration: "61", Price: "0.02"}

	h.svc.HandleSipEvent(context.Background(), SipEvent{
		SessionID: room.SessionID,
		Event:     EventCallDestroyed,
		Call:      CallbackCall{ID: "call-1", ConnectionID: "conn-1"},
	})

	sig := h.video.lastSignal()
	assert.Equal(t, SignalNexmoSipCallReport, sig.Type)
	assert.Equal(t, map[string]any{
		"callData": map[string]any{"id": "leg-7", "duration": 61, "price": 0.02},
	}, sig.Data)
	assert.False(t, h.st.IsDialedOut(room.SessionID))
	_, ok := h.st.BridgeCall(room.SessionID)
	assert.False(t, ok)
}

func TestSipCallReportAfterTeardown(t *testing.T) {
	h := newHarness()
	room, err := h.svc.GetOrCreateSession(context.Background(), "r1")
	require.NoError(t, err)
	_, err = h.svc.DialOut(context.Background(), "r1")
	require.NoError(t, err)
	h.svc.HandleAnswer(AnswerQuery{UUID: "leg-7", SessionID: room.SessionID})
	require.NoError(t, h.svc.Teardown(context.Background(), room.SessionID))
	h.voice.records["leg-7"] = vonage.CallRecord{Duration: "5", Price: "0.001"}

	h.svc.HandleSipEvent(context.Background(), SipEvent{SessionID: room.SessionID, Event: EventCallDestroyed})
	assert.Equal(t, SignalNexmoSipCallReport, h.video.lastSignal().Type)
}

func TestSipEventWithoutBridgeCall(t *testing.T) {
	h := newHarness()
	h.bind(t, "r1", "sess-1")
	h.svc.HandleSipEvent(context.Background(), SipEvent{SessionID: "sess-1", Event: "callCreated"})
	h.svc.HandleSipEvent(context.Background(), SipEvent{SessionID: "sess-1", Event: EventCallDestroyed})
	assert.Empty(t, h.video.signals)

	h.st.SetBridgeCall("sess-1", "leg-1")
	h.voice.recordErr = errors.New("reports unavailable")
	h.svc.HandleSipEvent(context.Background(), SipEvent{SessionID: "sess-1", Event: EventCallDestroyed})
	assert.Empty(t, h.video.signals)
}

func TestSipEventForOtherConnectionKeepsDialOut(t *testing.T) {
	h := newHarness()
	room, err := h.svc.GetOrCreateSession(context.Background(), "r1")
	require.NoError(t, err)
	_, err = h.svc.DialOut(context.Background(), "r1")
	require.NoError(t, err)

	h.svc.HandleSipEvent(context.Background(), SipEvent{
		SessionID: room.SessionID,
		Event:     EventCallDestroyed,
		Call:      CallbackCall{ConnectionID: "someone-else"},
	})
	assert.True(t, h.st.IsDialedOut(room.SessionID))
}

func TestCallbacksForUnknownSessionLeaveNoState(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	h.svc.HandleStreamEvent(ctx, sipStream(EventStreamCreated, 1000, 1000, sipData))
	h.svc.HandleStreamEvent(ctx, sipStream(EventStreamDestroyed, 2000, 1000, sipData))
	h.svc.HandleSipEvent(ctx, SipEvent{SessionID: "sess-1", Event: EventCallDestroyed, Call: CallbackCall{ConnectionID: "conn-1"}})

	assert.Empty(t, h.video.signals)
	assert.Empty(t, h.st.ListEvents("sess-1"))
	_, ok := h.st.Snapshot("sess-1", "conn-1")
	assert.False(t, ok)
}
