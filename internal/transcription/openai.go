package transcription

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/yegors/voxdesk/internal/config"
	"github.com/yegors/voxdesk/pkg/logger"
)

// OpenAITranscriber produces transcripts directly from stored audio
// artifacts through the OpenAI audio transcription API
type OpenAITranscriber struct {
	client openai.Client
	cfg    config.TranscriptionConfig
	logger *logger.Logger
}

// NewOpenAITranscriber creates a transcriber. Returns nil if no API key
// is configured, which callers treat as capability unavailable.
func NewOpenAITranscriber(cfg config.TranscriptionConfig, log *logger.Logger) *OpenAITranscriber {
	if cfg.OpenAIAPIKey == "" {
		return nil
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &OpenAITranscriber{
		client: openai.NewClient(
			option.WithAPIKey(cfg.OpenAIAPIKey),
			option.WithRequestTimeout(timeout),
		),
		cfg:    cfg,
		logger: log.Named("openai-stt"),
	}
}

// TranscribeAudio sends the artifact bytes for transcription and
// returns the raw transcript text. An empty transcript maps to
// ErrNoSpeech.
func (t *OpenAITranscriber) TranscribeAudio(ctx context.Context, fileName string, data []byte) (string, error) {
	t.logger.Debug("Transcribing stored artifact",
		logger.String("file_name", fileName),
		logger.Int("size_bytes", len(data)))

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(data), fileName, "audio/wav"),
		Model: openai.AudioModel(t.cfg.Model),
	}
	if t.cfg.Language != "" {
		params.Language = openai.String(t.cfg.Language)
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", ErrNoSpeech
	}

	return text, nil
}
