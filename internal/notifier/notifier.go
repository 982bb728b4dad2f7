// Package notifier delivers a signed webhook notification when a run
// reaches terminal success, with optional text-to-speech enrichment.
package notifier

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dara-labs/workflow-control-plane/internal/config"
)

// ArtifactInfo is the minimal artifact view embedded in a webhook payload.
type ArtifactInfo struct {
	Path      string `json:"path"`
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
}

// Payload is the body sent to the configured webhook URL.
type Payload struct {
	RunID       string         `json:"run_id"`
	Status      string         `json:"status"`
	Summary     string         `json:"summary"`
	Artifacts   []ArtifactInfo `json:"artifacts"`
	ModelPreset string         `json:"model_preset"`
	TokensUsed  int            `json:"tokens_used"`
	FinishedAt  string         `json:"finished_at"`
	TTSAudio    string         `json:"tts_audio,omitempty"`
}

// Notifier sends the run-completion webhook and, when configured,
// synthesizes an audio summary to embed in the payload.
type Notifier struct {
	webhookURL       string
	webhookSecret    string
	notifyOnComplete bool
	tts              config.TTSConfig
	http             *http.Client
	logger           *slog.Logger
}

// New builds a Notifier from webhook and TTS configuration.
func New(webhook config.WebhookConfig, tts config.TTSConfig, logger *slog.Logger) *Notifier {
	return &Notifier{
		webhookURL:       webhook.URL,
		webhookSecret:    webhook.Secret,
		notifyOnComplete: webhook.NotifyOnComplete,
		tts:              tts,
		http:             &http.Client{Timeout: 15 * time.Second},
		logger:           logger,
	}
}

// Notify assembles and sends the completion payload. It is a no-op if no
// webhook URL is configured or notifications are disabled. A delivery
// failure is logged as a warning and never returned as an error: by the
// time Notify runs, the run has already completed.
func (n *Notifier) Notify(ctx context.Context, p Payload) {
	if n.webhookURL == "" || !n.notifyOnComplete {
		return
	}

	if n.tts.Provider != "none" && n.tts.APIKey != "" {
		audio, err := n.synthesize(ctx, p.Summary)
		if err != nil {
			n.logger.Warn("tts synthesis failed, sending notification without audio",
				"run_id", p.RunID, "provider", n.tts.Provider, "error", err)
		} else {
			p.TTSAudio = audio
		}
	}

	body, err := json.Marshal(p)
	if err != nil {
		n.logger.Warn("failed to encode webhook payload", "run_id", p.RunID, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("failed to build webhook request", "run_id", p.RunID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if n.webhookSecret != "" {
		req.Header.Set("X-Dara-Signature", sign(n.webhookSecret, body))
	}

	resp, err := n.http.Do(req)
	if err != nil {
		n.logger.Warn("webhook delivery failed", "run_id", p.RunID, "error", err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		n.logger.Warn("webhook returned non-2xx status", "run_id", p.RunID, "status", resp.StatusCode)
	}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// synthesize calls the configured TTS provider and returns base64-encoded
// audio bytes. Supported providers are elevenlabs and openai.
func (n *Notifier) synthesize(ctx context.Context, text string) (string, error) {
	if text == "" {
		return "", fmt.Errorf("empty summary text")
	}
	switch n.tts.Provider {
	case "elevenlabs":
		return n.synthesizeElevenLabs(ctx, text)
	case "openai":
		return n.synthesizeOpenAI(ctx, text)
	default:
		return "", fmt.Errorf("unsupported tts provider %q", n.tts.Provider)
	}
}

func (n *Notifier) synthesizeElevenLabs(ctx context.Context, text string) (string, error) {
	reqBody, _ := json.Marshal(map[string]any{
		"text":     text,
		"model_id": "eleven_turbo_v2",
	})
	voice := n.tts.Voice
	if voice == "" {
		voice = "21m00Tcm4TlvDq8ikWAM"
	}
	url := fmt.Sprintf("https://api.elevenlabs.io/v1/text-to-speech/%s", voice)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", n.tts.APIKey)
	return n.fetchAudio(req)
}

func (n *Notifier) synthesizeOpenAI(ctx context.Context, text string) (string, error) {
	voice := n.tts.Voice
	if voice == "" {
		voice = "alloy"
	}
	reqBody, _ := json.Marshal(map[string]any{
		"model": "tts-1",
		"input": text,
		"voice": voice,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.openai.com/v1/audio/speech", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.tts.APIKey)
	return n.fetchAudio(req)
}

func (n *Notifier) fetchAudio(req *http.Request) (string, error) {
	resp, err := n.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("tts provider returned status %d", resp.StatusCode)
	}
	return base64.StdEncoding.EncodeToString(audio), nil
}
