package statusfeed

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/voice-client/internal/turn"
)

func readUpdate(t *testing.T, conn *websocket.Conn) Update {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var u Update
	require.NoError(t, conn.ReadJSON(&u))
	return u
}

func TestHub_StreamsSnapshotThenChanges(t *testing.T) {
	ctrl := turn.NewController(zerolog.Nop())
	hub := NewHub(ctrl, "conv-1", zerolog.Nop())
	defer hub.Close()

	srv := httptest.NewServer(hub.HandleStream())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readUpdate(t, conn)
	assert.Equal(t, "idle", first.Status)
	assert.Equal(t, "conv-1", first.ConversationID)

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	ctrl.SetSessionActive(true)
	require.NoError(t, ctrl.RequestStatus(turn.StatusLoading))
	u := readUpdate(t, conn)
	assert.Equal(t, "loading", u.Status)
	assert.Equal(t, "idle", u.From)
	assert.True(t, u.SessionActive)
	assert.False(t, u.AcceptingSpeech)

	require.NoError(t, ctrl.RequestStatus(turn.StatusRecording))
	u = readUpdate(t, conn)
	assert.Equal(t, "recording", u.Status)
	assert.True(t, u.AcceptingSpeech)

	ctrl.Fail(errors.New("handshake timeout"))
	u = readUpdate(t, conn)
	assert.Equal(t, "error", u.Status)
	assert.Equal(t, "handshake timeout", u.Error)
}

func TestHub_HandleStatus(t *testing.T) {
	ctrl := turn.NewController(zerolog.Nop())
	hub := NewHub(ctrl, "conv-2", zerolog.Nop())
	require.NoError(t, ctrl.RequestStatus(turn.StatusLoading))

	rec := httptest.NewRecorder()
	hub.HandleStatus()(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var u Update
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &u))
	assert.Equal(t, "loading", u.Status)
	assert.Equal(t, "conv-2", u.ConversationID)
}

func TestHub_CloseDisconnectsObservers(t *testing.T) {
	ctrl := turn.NewController(zerolog.Nop())
	hub := NewHub(ctrl, "conv-3", zerolog.Nop())

	srv := httptest.NewServer(hub.HandleStream())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	readUpdate(t, conn)

	hub.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.Equal(t, 0, hub.Clients())
}
