package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/yegors/voxdesk/internal/callcenter"
	"github.com/yegors/voxdesk/internal/config"
	"github.com/yegors/voxdesk/internal/contacts"
	"github.com/yegors/voxdesk/internal/storage/sqlite"
	"github.com/yegors/voxdesk/internal/websocket"
	"github.com/yegors/voxdesk/pkg/logger"
)

// Handler handles API requests
type Handler struct {
	service  *callcenter.Service
	store    *sqlite.Store
	config   *config.Config
	wsServer *websocket.Server
	logger   *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(service *callcenter.Service, store *sqlite.Store, cfg *config.Config, wsServer *websocket.Server, log *logger.Logger) *Handler {
	return &Handler{
		service:  service,
		store:    store,
		config:   cfg,
		wsServer: wsServer,
		logger:   log.Named("api-handler"),
	}
}

// respondJSON writes a JSON response
func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			h.logger.Error("Failed to encode response", logger.Error(err))
		}
	}
}

// respondError maps store faults onto HTTP statuses
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, sqlite.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, sqlite.ErrDuplicateKey):
		status = http.StatusConflict
	}
	h.respondJSON(w, status, map[string]string{"error": err.Error()})
}

// idParam parses the {id} URL parameter
func (h *Handler) idParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// GetHealth returns service health
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetConfig returns the non-sensitive configuration
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]any{
		"capture": h.config.Capture,
		"call": map[string]any{
			"platform": h.config.Call.Platform,
		},
		"transcription": map[string]any{
			"enabled":  h.config.Transcription.Enabled,
			"model":    h.config.Transcription.Model,
			"language": h.config.Transcription.Language,
		},
	})
}

// HandleWebSocket upgrades to the event stream
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsServer.HandleWS(w, r)
}

// --- recordings ---------------------------------------------------------

// GetAllRecordings lists all recordings
func (h *Handler) GetAllRecordings(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.GetAllAudioRecordings()
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"recordings": records, "count": len(records)})
}

// GetRecordingByID returns one recording's metadata
func (h *Handler) GetRecordingByID(w http.ResponseWriter, r *http.Request) {
	id, err := h.idParam(r)
	if err != nil {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid recording id"})
		return
	}
	rec, err := h.store.GetRecording(id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, rec)
}

// GetRecordingAudio streams one recording's audio payload
func (h *Handler) GetRecordingAudio(w http.ResponseWriter, r *http.Request) {
	id, err := h.idParam(r)
	if err != nil {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid recording id"})
		return
	}
	rec, err := h.store.GetRecording(id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", rec.MimeType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+rec.FileName+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(rec.Audio); err != nil {
		h.logger.Debug("Failed to stream recording audio", logger.Error(err))
	}
}

// GetRecordingsByContact lists recordings for one contact
func (h *Handler) GetRecordingsByContact(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.Recordings.GetByContact(chi.URLParam(r, "name"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"recordings": records, "count": len(records)})
}

// GetRecordingsByTimeRange lists recordings captured inside a time range
func (h *Handler) GetRecordingsByTimeRange(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseTimeRange(r)
	if err != nil {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	records, err := h.store.Recordings.GetByTimeRange(start, end)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"recordings": records, "count": len(records)})
}

// DeleteRecording deletes a recording and its transcriptions
func (h *Handler) DeleteRecording(w http.ResponseWriter, r *http.Request) {
	id, err := h.idParam(r)
	if err != nil {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid recording id"})
		return
	}
	if err := h.service.DeleteRecording(id); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

// --- recording control --------------------------------------------------

// StartRecording begins a capture session
func (h *Handler) StartRecording(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContactName string `json:"contact_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ContactName == "" {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "contact_name is required"})
		return
	}
	if !h.service.StartRecording(req.ContactName) {
		h.respondJSON(w, http.StatusConflict, map[string]string{"error": "a recording is already in progress"})
		return
	}
	h.respondJSON(w, http.StatusAccepted, map[string]string{"status": "starting"})
}

// StopRecording finalizes the in-progress capture
func (h *Handler) StopRecording(w http.ResponseWriter, r *http.Request) {
	if !h.service.StopRecording() {
		h.respondJSON(w, http.StatusConflict, map[string]string{"error": "no recording in progress"})
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// PauseRecording pauses the in-progress capture
func (h *Handler) PauseRecording(w http.ResponseWriter, r *http.Request) {
	if !h.service.PauseRecording() {
		h.respondJSON(w, http.StatusConflict, map[string]string{"error": "not recording"})
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

// ResumeRecording resumes a paused capture
func (h *Handler) ResumeRecording(w http.ResponseWriter, r *http.Request) {
	if !h.service.ResumeRecording() {
		h.respondJSON(w, http.StatusConflict, map[string]string{"error": "not paused"})
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "recording"})
}

// --- transcriptions -----------------------------------------------------

// GetAllTranscriptions lists all transcriptions
func (h *Handler) GetAllTranscriptions(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.GetAllTranscriptions()
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"transcriptions": records, "count": len(records)})
}

// GetTranscriptionByID returns one transcription
func (h *Handler) GetTranscriptionByID(w http.ResponseWriter, r *http.Request) {
	id, err := h.idParam(r)
	if err != nil {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid transcription id"})
		return
	}
	record, err := h.store.GetTranscription(id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, record)
}

// GetTranscriptionsByContact lists transcriptions for one contact
func (h *Handler) GetTranscriptionsByContact(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.Transcriptions.GetByContact(chi.URLParam(r, "name"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"transcriptions": records, "count": len(records)})
}

// DeleteTranscription deletes one transcription
func (h *Handler) DeleteTranscription(w http.ResponseWriter, r *http.Request) {
	id, err := h.idParam(r)
	if err != nil {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid transcription id"})
		return
	}
	if err := h.store.DeleteTranscription(id); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

// TranscribeRecording runs the post-hoc strategy on a stored recording
func (h *Handler) TranscribeRecording(w http.ResponseWriter, r *http.Request) {
	id, err := h.idParam(r)
	if err != nil {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid recording id"})
		return
	}
	transcriptionID, err := h.service.TranscribeAudioFile(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"transcription_id": transcriptionID})
}

// --- contacts -----------------------------------------------------------

// GetContacts lists the stored contact set
func (h *Handler) GetContacts(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.Contacts()
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"contacts": records, "count": len(records)})
}

// SyncContacts replaces the stored contact set with the posted list
func (h *Handler) SyncContacts(w http.ResponseWriter, r *http.Request) {
	var external []*contacts.ExternalContact
	if err := json.NewDecoder(r.Body).Decode(&external); err != nil {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid contact list"})
		return
	}
	if err := h.service.SyncContacts(external); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"synced": len(external)})
}

// SyncContactsRemote pulls the contact list from the external system
func (h *Handler) SyncContactsRemote(w http.ResponseWriter, r *http.Request) {
	if err := h.service.SyncContactsFromRemote(r.Context()); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "synced"})
}

// SetCurrentContact sets the contact context for call history
func (h *Handler) SetCurrentContact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	h.service.SetCurrentContact(req.Name)
	h.respondJSON(w, http.StatusOK, map[string]string{"contact": req.Name})
}

// --- calls --------------------------------------------------------------

// StartCall places an outbound call
func (h *Handler) StartCall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RemotePeerID string `json:"remote_peer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RemotePeerID == "" {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "remote_peer_id is required"})
		return
	}
	if err := h.service.StartCall(req.RemotePeerID); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, map[string]string{"status": "dialing"})
}

// AnswerCall answers the pending incoming call
func (h *Handler) AnswerCall(w http.ResponseWriter, r *http.Request) {
	if err := h.service.AnswerCall(); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "answering"})
}

// EndCall ends the active call
func (h *Handler) EndCall(w http.ResponseWriter, r *http.Request) {
	h.service.EndCall()
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

// --- call history -------------------------------------------------------

// GetCallHistory lists the call history log
func (h *Handler) GetCallHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.CallHistory()
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"calls": records, "count": len(records)})
}

// GetCallHistoryByContact lists call history entries for one contact
func (h *Handler) GetCallHistoryByContact(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.CallHistory.GetByContact(chi.URLParam(r, "name"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"calls": records, "count": len(records)})
}

// parseTimeRange parses start/end query parameters in RFC3339
func parseTimeRange(r *http.Request) (time.Time, time.Time, error) {
	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("invalid start time, expected RFC3339")
	}
	end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("invalid end time, expected RFC3339")
	}
	return start, end, nil
}
