package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/yegors/voxdesk/internal/callcenter"
	"github.com/yegors/voxdesk/internal/config"
	"github.com/yegors/voxdesk/internal/storage/sqlite"
	"github.com/yegors/voxdesk/internal/websocket"
	"github.com/yegors/voxdesk/pkg/logger"
)

// Router is the API router
type Router struct {
	handler    *Handler
	middleware *Middleware
	config     *config.Config
	logger     *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(service *callcenter.Service, store *sqlite.Store, cfg *config.Config, wsServer *websocket.Server, log *logger.Logger) *Router {
	return &Router{
		handler:    NewHandler(service, store, cfg, wsServer, log),
		middleware: NewMiddleware(log),
		config:     cfg,
		logger:     log.Named("api-router"),
	}
}

// Routes returns the API routes
func (r *Router) Routes() http.Handler {
	router := chi.NewRouter()

	// Middleware
	router.Use(r.middleware.RequestID)
	router.Use(r.middleware.Logger)
	router.Use(r.middleware.Recoverer)
	router.Use(r.middleware.CORS(r.config.Server.CORSAllowedOrigins))

	// API routes
	router.Route("/api/v1", func(router chi.Router) {
		// Recording routes
		router.Get("/recordings", r.handler.GetAllRecordings)
		router.Get("/recordings/{id}", r.handler.GetRecordingByID)
		router.Get("/recordings/{id}/audio", r.handler.GetRecordingAudio)
		router.Delete("/recordings/{id}", r.handler.DeleteRecording)
		router.Get("/recordings/contact/{name}", r.handler.GetRecordingsByContact)
		router.Get("/recordings/time-range", r.handler.GetRecordingsByTimeRange)

		// Recording control routes
		router.Post("/recordings/start", r.handler.StartRecording)
		router.Post("/recordings/stop", r.handler.StopRecording)
		router.Post("/recordings/pause", r.handler.PauseRecording)
		router.Post("/recordings/resume", r.handler.ResumeRecording)

		// Transcription routes
		router.Get("/transcriptions", r.handler.GetAllTranscriptions)
		router.Get("/transcriptions/{id}", r.handler.GetTranscriptionByID)
		router.Delete("/transcriptions/{id}", r.handler.DeleteTranscription)
		router.Get("/transcriptions/contact/{name}", r.handler.GetTranscriptionsByContact)
		router.Post("/recordings/{id}/transcribe", r.handler.TranscribeRecording)

		// Contact routes
		router.Get("/contacts", r.handler.GetContacts)
		router.Post("/contacts/sync", r.handler.SyncContacts)
		router.Post("/contacts/sync-remote", r.handler.SyncContactsRemote)
		router.Post("/contacts/current", r.handler.SetCurrentContact)

		// Call routes
		router.Post("/calls/start", r.handler.StartCall)
		router.Post("/calls/answer", r.handler.AnswerCall)
		router.Post("/calls/end", r.handler.EndCall)

		// Call history routes
		router.Get("/call-history", r.handler.GetCallHistory)
		router.Get("/call-history/contact/{name}", r.handler.GetCallHistoryByContact)

		// WebSocket route
		router.Get("/ws", r.handler.HandleWebSocket)

		// Health check
		router.Get("/health", r.handler.GetHealth)

		// Configuration
		router.Get("/config", r.handler.GetConfig)
	})

	return router
}
