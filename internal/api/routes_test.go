package api

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
	"github.com/yegors/voxdesk/internal/call"
	"github.com/yegors/voxdesk/internal/callcenter"
	"github.com/yegors/voxdesk/internal/capture"
	"github.com/yegors/voxdesk/internal/config"
	"github.com/yegors/voxdesk/internal/storage/sqlite"
	"github.com/yegors/voxdesk/internal/websocket"
	"github.com/yegors/voxdesk/pkg/logger"
)

type stubSignaler struct {
	msgs chan call.SignalMessage
}

func (s *stubSignaler) Connect(ctx context.Context, peerID string) error { return nil }
func (s *stubSignaler) Send(call.SignalMessage) error                    { return nil }
func (s *stubSignaler) Messages() <-chan call.SignalMessage              { return s.msgs }
func (s *stubSignaler) Close() error {
	close(s.msgs)
	return nil
}

type stubDevice struct{}

func (stubDevice) Start(func(pcm []byte)) error { return nil }
func (stubDevice) Stop() error                  { return nil }

type stubOpener struct{}

func (stubOpener) Open(capture.DeviceConfig) (capture.Device, error) { return stubDevice{}, nil }
func (stubOpener) SupportedCodecs() []string                         { return []string{"audio/wav"} }

func newTestServer(t *testing.T) (*httptest.Server, *sqlite.Store) {
	t.Helper()

	store, err := sqlite.NewStore(":memory:", logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.DefaultConfig()
	service := callcenter.NewService(cfg, callcenter.Deps{
		Store:       store,
		DeviceOwner: capture.NewDeviceOwner(stubOpener{}),
		Signaler:    &stubSignaler{msgs: make(chan call.SignalMessage)},
	}, logger.Nop())
	t.Cleanup(service.Close)

	wsServer := websocket.NewServer(logger.Nop())
	t.Cleanup(wsServer.Close)

	router := NewRouter(service, store, cfg, wsServer, logger.Nop())
	server := httptest.NewServer(router.Routes())
	t.Cleanup(server.Close)

	return server, store
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url, body string) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	var body map[string]string
	status := getJSON(t, server.URL+"/api/v1/health", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestRecordingEndpoints(t *testing.T) {
	server, store := newTestServer(t)

	var listing map[string]any
	status := getJSON(t, server.URL+"/api/v1/recordings", &listing)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), listing["count"])

	capturedAt := time.Date(2026, 9, 1, 14, 30, 5, 0, time.UTC)
	id, err := store.PutRecording(&sqlite.AudioRecording{
		ContactName:     "Acme Corp",
		FileName:        sqlite.RecordingFileName("Acme Corp", capturedAt, "audio/wav"),
		CapturedAt:      capturedAt,
		MimeType:        "audio/wav",
		DurationSeconds: 2,
		SizeBytes:       4,
		Audio:           []byte("RIFF"),
	})
	require.NoError(t, err)

	var rec sqlite.AudioRecording
	status = getJSON(t, server.URL+"/api/v1/recordings/1", &rec)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Acme Corp", rec.ContactName)

	// The audio endpoint serves the raw payload with the stored MIME type
	resp, err := http.Get(server.URL + "/api/v1/recordings/1/audio")
	require.NoError(t, err)
	assert.Equal(t, "audio/wav", resp.Header.Get("Content-Type"))
	resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, getJSON(t, server.URL+"/api/v1/recordings/999", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, server.URL+"/api/v1/recordings/abc", nil))

	req, err := http.NewRequest(http.MethodDelete, server.URL+"/api/v1/recordings/1", nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	delResp.Body.Close()
	assert.Equal(t, http.StatusOK, delResp.StatusCode)

	_, err = store.GetRecording(id)
	assert.ErrorIs(t, err, sqlite.ErrNotFound)
}

func TestRecordingControlValidation(t *testing.T) {
	server, _ := newTestServer(t)

	// Missing contact name
	assert.Equal(t, http.StatusBadRequest,
		postJSON(t, server.URL+"/api/v1/recordings/start", `{}`))

	// Nothing in progress to stop, pause or resume
	assert.Equal(t, http.StatusConflict,
		postJSON(t, server.URL+"/api/v1/recordings/stop", ``))
	assert.Equal(t, http.StatusConflict,
		postJSON(t, server.URL+"/api/v1/recordings/pause", ``))
	assert.Equal(t, http.StatusConflict,
		postJSON(t, server.URL+"/api/v1/recordings/resume", ``))
}

func TestContactEndpoints(t *testing.T) {
	server, _ := newTestServer(t)

	status := postJSON(t, server.URL+"/api/v1/contacts/sync",
		`[{"id":"c1","name":"Alice"},{"id":"c2","name":"Bob"}]`)
	assert.Equal(t, http.StatusOK, status)

	var listing map[string]any
	status = getJSON(t, server.URL+"/api/v1/contacts", &listing)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(2), listing["count"])

	// A second sync replaces the set wholesale
	status = postJSON(t, server.URL+"/api/v1/contacts/sync", `[{"id":"c3","name":"Carol"}]`)
	assert.Equal(t, http.StatusOK, status)

	status = getJSON(t, server.URL+"/api/v1/contacts", &listing)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), listing["count"])
}

func TestCallHistoryEndpoint(t *testing.T) {
	server, store := newTestServer(t)

	_, err := store.AppendCallHistory(&sqlite.CallHistoryEntry{
		ContactName:     "Acme Corp",
		CallType:        "audio",
		DurationSeconds: 42,
		Platform:        "voxdesk",
		Timestamp:       time.Now().UTC(),
	})
	require.NoError(t, err)

	var listing map[string]any
	status := getJSON(t, server.URL+"/api/v1/call-history", &listing)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), listing["count"])

	status = getJSON(t, server.URL+"/api/v1/call-history/contact/Nobody", &listing)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), listing["count"])
}

func TestTranscriptionNotFound(t *testing.T) {
	server, _ := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, getJSON(t, server.URL+"/api/v1/transcriptions/7", nil))
}

func TestConfigEndpointOmitsSecrets(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/v1/config")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body, "capture")
	assert.NotContains(t, body["transcription"], "openai_api_key")
}
