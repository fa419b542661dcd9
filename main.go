package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yegors/voxdesk/internal/api"
	"github.com/yegors/voxdesk/internal/call"
	"github.com/yegors/voxdesk/internal/callcenter"
	"github.com/yegors/voxdesk/internal/capture"
	"github.com/yegors/voxdesk/internal/config"
	"github.com/yegors/voxdesk/internal/contacts"
	"github.com/yegors/voxdesk/internal/storage/sqlite"
	"github.com/yegors/voxdesk/internal/transcription"
	"github.com/yegors/voxdesk/internal/websocket"
	"github.com/yegors/voxdesk/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting voxdesk",
		logger.String("config", *configPath),
		logger.String("db", cfg.Storage.Path))

	store, err := sqlite.NewStore(cfg.Storage.Path, log)
	if err != nil {
		log.Error("Failed to open recording store", logger.Error(err))
		os.Exit(1)
	}
	defer store.Close()

	owner := capture.NewDeviceOwner(capture.NewMalgoOpener(log))

	// Nil capability handles stay nil interfaces so the components fall
	// back to their placeholder paths
	deps := callcenter.Deps{
		Store:       store,
		DeviceOwner: owner,
		Signaler:    call.NewWSSignaler(cfg.Call, log),
	}
	if r := transcription.NewRealtimeRecognizer(cfg.Transcription, log); r != nil {
		deps.Recognizer = r
	}
	if t := transcription.NewOpenAITranscriber(cfg.Transcription, log); t != nil {
		deps.Transcriber = t
	}
	if cfg.Contacts.SyncURL != "" {
		deps.Contacts = contacts.NewClient(cfg.Contacts, log)
	}

	wsServer := websocket.NewServer(log)
	deps.Sink = callcenter.NewBroadcastSink(wsServer)

	service := callcenter.NewService(cfg, deps, log)
	defer service.Close()

	if cfg.Call.SignalingURL != "" {
		registerCtx, cancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.Call.RegisterTimeoutSec)*time.Second)
		if err := service.RegisterCallSession(registerCtx); err != nil {
			log.Warn("Call session registration failed, calls unavailable", logger.Error(err))
		}
		cancel()
	}

	router := api.NewRouter(service, store, cfg, wsServer, log)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Error("HTTP server failed", logger.Error(err))
	case sig := <-sigCh:
		log.Info("Shutting down", logger.String("signal", sig.String()))
	}

	// Finalize any in-progress recording before the store closes
	service.StopRecording()
	service.EndCall()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", logger.Error(err))
	}
	wsServer.Close()
}
