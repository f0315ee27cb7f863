package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samikhalifabe/Pandorabox/pkg/broadcast"
	"github.com/samikhalifabe/Pandorabox/pkg/conversation"
	"github.com/samikhalifabe/Pandorabox/pkg/gateway"
	"github.com/samikhalifabe/Pandorabox/pkg/types"
)

type fakeSession struct {
	state      types.SessionState
	status     types.SessionStatus
	initErr    error
	pairing    types.Pairing
	pairingErr error
	chats      []types.ChatSummary
	chatsErr   error
}

func (f *fakeSession) Initialize(context.Context) (types.SessionState, error) {
	if f.initErr != nil {
		return types.StateFailed, f.initErr
	}
	return f.state, nil
}

func (f *fakeSession) Status() types.SessionStatus { return f.status }
func (f *fakeSession) State() types.SessionState   { return f.state }

func (f *fakeSession) RequestNewPairing(context.Context) (types.Pairing, error) {
	return f.pairing, f.pairingErr
}

func (f *fakeSession) ListChats(context.Context) ([]types.ChatSummary, error) {
	return f.chats, f.chatsErr
}

type fakeMessages struct {
	to, body string
	err      error
	msgs     map[string]*types.Message
}

func (f *fakeMessages) Send(_ context.Context, to, body string) (*gateway.Receipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.to, f.body = to, body
	return &gateway.Receipt{CorrelationID: "corr-1"}, nil
}

func (f *fakeMessages) Lookup(_ context.Context, id string) (*types.Message, error) {
	if m, ok := f.msgs[id]; ok {
		return m, nil
	}
	return nil, types.ErrNotFound
}

type fakeConversations struct {
	resynced []types.ChatSummary
	links    []conversation.Link
	updated  int
}

func (f *fakeConversations) Resync(_ context.Context, chats []types.ChatSummary) (int, error) {
	f.resynced = chats
	return len(chats) - 1, nil
}

func (f *fakeConversations) ContactedLinks(context.Context) ([]conversation.Link, error) {
	return f.links, nil
}

func (f *fakeConversations) UpdateContacted(context.Context) (int, error) { return f.updated, nil }

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type testServer struct {
	session *fakeSession
	msgs    *fakeMessages
	convs   *fakeConversations
	reloads int
	handler http.Handler
}

func newTestServer(t *testing.T, mutate func(*Deps)) *testServer {
	t.Helper()
	ts := &testServer{
		session: &fakeSession{state: types.StateConnected, status: types.SessionStatus{State: types.StateConnected}},
		msgs:    &fakeMessages{msgs: map[string]*types.Message{}},
		convs:   &fakeConversations{},
	}
	deps := Deps{
		Session:        ts.session,
		Messages:       ts.msgs,
		Conversations:  ts.convs,
		Broadcaster:    broadcast.New(8, nil, nil),
		Store:          fakePinger{},
		ReloadConfig:   func() error { ts.reloads++; return nil },
		AllowedOrigins: []string{"http://localhost:3000"},
	}
	if mutate != nil {
		mutate(&deps)
	}
	ts.handler = New(deps).Router()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	rec, body := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "connected", body["state"])

	ts = newTestServer(t, func(d *Deps) { d.Store = fakePinger{err: errors.New("connection refused")} })
	_, body = ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "connection refused", body["store"])
}

func TestInitialize(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.session.state = types.StateAwaitingPairing

	rec, body := ts.do(t, http.MethodPost, "/api/whatsapp/initialize", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "awaiting_pairing", body["state"])

	ts.session.initErr = &types.LaunchError{Cause: errors.New("no Chrome executable found in container")}
	rec, body = ts.do(t, http.MethodPost, "/api/whatsapp/initialize", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], "no Chrome executable")
}

func TestStatusAndQR(t *testing.T) {
	ts := newTestServer(t, nil)
	issued := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := issued.Add(time.Minute)
	ts.session.status = types.SessionStatus{
		State:         types.StateAwaitingPairing,
		QRPayload:     "P1",
		QRIssuedAt:    &issued,
		QRExpiresAt:   &expires,
		LastCheckedAt: issued,
	}

	_, body := ts.do(t, http.MethodGet, "/api/whatsapp/status", "")
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "awaiting_pairing", body["state"])
	assert.Equal(t, "P1", body["qrPayload"])
	assert.NotEmpty(t, body["lastCheckedAt"])

	_, body = ts.do(t, http.MethodGet, "/api/whatsapp/qr", "")
	assert.Equal(t, "P1", body["qr"])
	assert.Equal(t, false, body["stale"])

	ts.session.status = types.SessionStatus{State: types.StateConnected}
	_, body = ts.do(t, http.MethodGet, "/api/whatsapp/qr", "")
	assert.Equal(t, "", body["qr"])
}

func TestQRRefresh(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.session.state = types.StateAwaitingPairing
	ts.session.pairing = types.Pairing{Payload: "P2", IssuedAt: time.Now(), ExpiresAt: time.Now().Add(time.Minute)}

	rec, body := ts.do(t, http.MethodPost, "/api/whatsapp/qr/refresh", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "P2", body["qr"])

	ts.session.pairingErr = &types.InvalidStateError{Op: "requestNewPairing", State: types.StateConnected}
	rec, _ = ts.do(t, http.MethodPost, "/api/whatsapp/qr/refresh", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	ts.session.pairingErr = types.ErrPairingTimeout
	rec, _ = ts.do(t, http.MethodPost, "/api/whatsapp/qr/refresh", "")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestSend(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		sendErr    error
		wantStatus int
		wantTo     string
	}{
		{name: "to and body", body: `{"to":"33612345678","body":"hello"}`, wantStatus: http.StatusOK, wantTo: "33612345678"},
		{name: "number and message", body: `{"number":"+33 6 12 34 56 78","message":"hello"}`, wantStatus: http.StatusOK, wantTo: "+33 6 12 34 56 78"},
		{name: "missing body", body: `{"to":"33612345678"}`, wantStatus: http.StatusBadRequest},
		{name: "invalid json", body: `{"to":`, wantStatus: http.StatusBadRequest},
		{name: "not connected", body: `{"to":"33612345678","body":"hello"}`, sendErr: types.ErrNotConnected, wantStatus: http.StatusConflict},
		{name: "invalid identifier", body: `{"to":"0612","body":"hello"}`, sendErr: fmt.Errorf("%w: %q", types.ErrInvalidIdentifier, "0612"), wantStatus: http.StatusBadRequest},
		{name: "queue full", body: `{"to":"33612345678","body":"hello"}`, sendErr: gateway.ErrQueueFull, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.msgs.err = tt.sendErr

			rec, body := ts.do(t, http.MethodPost, "/api/whatsapp/send", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				assert.Equal(t, false, body["success"])
				assert.NotEmpty(t, body["error"])
				return
			}
			assert.Equal(t, "corr-1", body["correlationId"])
			assert.Equal(t, "corr-1", body["messageId"])
			assert.Equal(t, tt.wantTo, ts.msgs.to)
			assert.Equal(t, "hello", ts.msgs.body)
		})
	}
}

func TestMessageLookup(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.msgs.msgs["corr-1"] = &types.Message{ID: "corr-1", CorrelationID: "corr-1", DeliveryState: types.DeliveryFailed, Error: types.ErrSendTimeout.Error()}

	rec, body := ts.do(t, http.MethodGet, "/api/whatsapp/messages/corr-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	msg := body["message"].(map[string]any)
	assert.Equal(t, "failed", msg["deliveryState"])

	rec, _ = ts.do(t, http.MethodGet, "/api/whatsapp/messages/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResync(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.session.chats = []types.ChatSummary{{ChatID: "33612345678@c.us"}, {ChatID: "1203@g.us", IsGroup: true}}

	rec, body := ts.do(t, http.MethodGet, "/api/whatsapp/all-conversations", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["total"])
	assert.EqualValues(t, 1, body["synced"])
	assert.Len(t, ts.convs.resynced, 2)

	ts.session.chatsErr = types.ErrNotConnected
	rec, _ = ts.do(t, http.MethodGet, "/api/whatsapp/all-conversations", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUpdateContacted(t *testing.T) {
	ts := newTestServer(t, nil)
	rec, body := ts.do(t, http.MethodGet, "/api/whatsapp/update-contacted-vehicles", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, body["updated"])
	assert.Equal(t, []any{}, body["links"])

	ts.convs.links = []conversation.Link{{ConversationID: "c1", PhoneIdentifier: "33611111111", EntityRef: "veh-1"}}
	ts.convs.updated = 1
	_, body = ts.do(t, http.MethodGet, "/api/whatsapp/update-contacted-vehicles", "")
	assert.EqualValues(t, 1, body["updated"])
	assert.Len(t, body["links"], 1)
}

func TestAIConfigRefresh(t *testing.T) {
	ts := newTestServer(t, nil)
	rec, _ := ts.do(t, http.MethodPost, "/api/whatsapp/ai-config/refresh", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ts.reloads)

	ts = newTestServer(t, func(d *Deps) { d.ReloadConfig = func() error { return errors.New("bad yaml") } })
	rec, body := ts.do(t, http.MethodPost, "/api/whatsapp/ai-config/refresh", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, body["error"], "bad yaml")
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/whatsapp/send", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/whatsapp/status", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{types.ErrInvalidIdentifier, http.StatusBadRequest},
		{types.ErrNotConnected, http.StatusConflict},
		{&types.InvalidStateError{Op: "x"}, http.StatusConflict},
		{types.ErrPairingTimeout, http.StatusGatewayTimeout},
		{types.ErrSendTimeout, http.StatusGatewayTimeout},
		{&types.LaunchError{}, http.StatusServiceUnavailable},
		{types.ErrSessionTerminated, http.StatusGone},
		{fmt.Errorf("wrapped: %w", types.ErrNotFound), http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
