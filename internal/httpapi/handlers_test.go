package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pitchparty/realtime-server/internal/metrics"
	"github.com/pitchparty/realtime-server/internal/registry"
	"github.com/pitchparty/realtime-server/internal/room"
	"github.com/pitchparty/realtime-server/internal/store"
	"github.com/pitchparty/realtime-server/internal/wire"
)

const ingressSecret = "ingress-secret"

func newTestServer(t *testing.T, secret string) (*Server, *registry.Registry) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	counters := metrics.NewCounters()
	reg := registry.New(ctx, zap.NewNop(), counters)
	scheduler := store.NewScheduler(store.Nop{}, 10*time.Millisecond, zap.NewNop(), counters)
	return NewServer(reg, scheduler, secret, 8080, zap.NewNop(), counters), reg
}

func postBroadcast(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/broadcast", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Broadcast(rec, req)
	return rec
}

func ingressBody(t *testing.T, roomCode, secret string, event any) string {
	t.Helper()
	raw, err := json.Marshal(event)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]any{
		"roomCode": roomCode,
		"event":    json.RawMessage(raw),
		"secret":   secret,
	})
	require.NoError(t, err)
	return string(body)
}

func getRoom(t *testing.T, reg *registry.Registry, code string) *registry.Room {
	t.Helper()
	reply := make(chan *registry.Room, 1)
	reg.Inbox() <- registry.GetRoom{Code: code, Reply: reply}
	select {
	case rm := <-reply:
		return rm
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timed out waiting for room lookup")
		return nil // unreachable
	}
}

func viewOf(t *testing.T, rm *registry.Room) registry.View {
	t.Helper()
	require.NotNil(t, rm)
	reply := make(chan registry.View, 1)
	rm.Inbox() <- registry.GetView{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timed out waiting for view")
		return registry.View{} // unreachable
	}
}

func TestHealthReportsPort(t *testing.T) {
	s, _ := newTestServer(t, ingressSecret)
	srv := httptest.NewServer(s.Routes(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status string `json:"status"`
		Port   int    `json:"port"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 8080, body.Port)
}

func TestBroadcastWithoutConfiguredSecretIs500(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec := postBroadcast(t, s, ingressBody(t, "ROOM12", "anything", wire.ServerEvent{Type: wire.EvtSettingsChanged}))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestBroadcastWithWrongSecretIs403(t *testing.T) {
	s, reg := newTestServer(t, ingressSecret)
	rec := postBroadcast(t, s, ingressBody(t, "ROOM12", "wrong", wire.ServerEvent{Type: wire.EvtSettingsChanged}))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Nil(t, getRoom(t, reg, "ROOM12"), "rejected calls must not create rooms")
}

func TestBroadcastWithMissingFieldsIs400(t *testing.T) {
	s, _ := newTestServer(t, ingressSecret)

	rec := postBroadcast(t, s, `{"secret":"`+ingressSecret+`","event":{"type":"settings_changed"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing roomCode")

	rec = postBroadcast(t, s, `{"secret":"`+ingressSecret+`","roomCode":"ROOM12"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing event")

	rec = postBroadcast(t, s, `{"secret":"`+ingressSecret+`","roomCode":"ROOM12","event":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "event without type")

	rec = postBroadcast(t, s, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlayerJoinedCreatesRoomAndMutates(t *testing.T) {
	s, reg := newTestServer(t, ingressSecret)

	p := room.PlayerSummary{ID: "host", Name: "Ada", IsHost: true}
	rec := postBroadcast(t, s, ingressBody(t, "ROOM12", ingressSecret,
		wire.ServerEvent{Type: wire.EvtPlayerJoined, RoomCode: "ROOM12", Player: &p}))
	require.Equal(t, http.StatusOK, rec.Code)

	v := viewOf(t, getRoom(t, reg, "ROOM12"))
	assert.Equal(t, room.StatusCreating, v.Snapshot.Status, "placeholder defaults to a mid-game status")
	assert.Equal(t, 1, v.Snapshot.Version, "placeholder v0 plus one mutation")
	require.Len(t, v.Snapshot.Players, 1)
	assert.Equal(t, "host", v.Snapshot.Players[0].ID)
}

func TestReadyUpdateFlipsFlag(t *testing.T) {
	s, reg := newTestServer(t, ingressSecret)

	p := room.PlayerSummary{ID: "host", Name: "Ada", IsHost: true}
	postBroadcast(t, s, ingressBody(t, "ROOM12", ingressSecret,
		wire.ServerEvent{Type: wire.EvtPlayerJoined, RoomCode: "ROOM12", Player: &p}))

	ready := true
	rec := postBroadcast(t, s, ingressBody(t, "ROOM12", ingressSecret,
		wire.ServerEvent{Type: wire.EvtReadyUpdate, RoomCode: "ROOM12", PlayerID: "host", IsReady: &ready}))
	require.Equal(t, http.StatusOK, rec.Code)

	v := viewOf(t, getRoom(t, reg, "ROOM12"))
	assert.Equal(t, 2, v.Snapshot.Version)
	assert.True(t, v.Snapshot.Players[0].IsReady)
}

func TestBroadcastOnlyEventsDoNotBumpVersion(t *testing.T) {
	s, reg := newTestServer(t, ingressSecret)

	for _, typ := range []string{wire.EvtPlayerLeft, wire.EvtPresentationState, wire.EvtRoomState, wire.EvtHeartbeat} {
		rec := postBroadcast(t, s, ingressBody(t, "ROOM12", ingressSecret,
			wire.ServerEvent{Type: typ, RoomCode: "ROOM12", PlayerID: "host"}))
		require.Equal(t, http.StatusOK, rec.Code, typ)
	}

	v := viewOf(t, getRoom(t, reg, "ROOM12"))
	assert.Equal(t, 0, v.Snapshot.Version)
}

func TestStatusChangedUpdatesFields(t *testing.T) {
	s, reg := newTestServer(t, ingressSecret)

	phase := room.PhaseVisual
	rec := postBroadcast(t, s, ingressBody(t, "ROOM12", ingressSecret,
		wire.ServerEvent{Type: wire.EvtStatusChanged, RoomCode: "ROOM12", Status: room.StatusPresenting, CurrentPhase: &phase}))
	require.Equal(t, http.StatusOK, rec.Code)

	v := viewOf(t, getRoom(t, reg, "ROOM12"))
	assert.Equal(t, room.StatusPresenting, v.Snapshot.Status)
	require.NotNil(t, v.Snapshot.CurrentPhase)
	assert.Equal(t, room.PhaseVisual, *v.Snapshot.CurrentPhase)
	assert.NotNil(t, v.Snapshot.PhaseStartTime, "missing phaseStartTime defaults to now")
	assert.Equal(t, 1, v.Snapshot.Version)
}

func TestEventIsRebroadcastVerbatim(t *testing.T) {
	s, reg := newTestServer(t, ingressSecret)

	// Seed the room, then attach a fake socket.
	postBroadcast(t, s, ingressBody(t, "ROOM12", ingressSecret, wire.ServerEvent{Type: wire.EvtSettingsChanged}))
	rm := getRoom(t, reg, "ROOM12")
	require.NotNil(t, rm)
	out := make(chan []byte, 4)
	snapReply := make(chan room.Snapshot, 1)
	rm.Inbox() <- registry.Attach{Client: registry.Client{ID: "c1", PlayerID: "host", Outbox: out}, Reply: snapReply}
	<-snapReply

	// Unknown fields must survive the round trip untouched.
	raw := `{"type":"settings_changed","roomCode":"ROOM12","maxPlayers":8,"theme":"retro"}`
	rec := postBroadcast(t, s, `{"roomCode":"ROOM12","secret":"`+ingressSecret+`","event":`+raw+`}`)
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case frame := <-out:
		assert.JSONEq(t, raw, string(frame))
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timed out waiting for rebroadcast frame")
	}
}
