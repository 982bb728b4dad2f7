package notifier

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dara-labs/workflow-control-plane/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifySignsPayloadWithWebhookSecret(t *testing.T) {
	var gotSignature string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-Dara-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := New(config.WebhookConfig{URL: server.URL, Secret: "whsec", NotifyOnComplete: true},
		config.TTSConfig{Provider: "none"}, testLogger())

	n.Notify(context.Background(), Payload{RunID: "run-1", Status: "completed", Summary: "done"})

	require.NotEmpty(t, gotBody)
	mac := hmac.New(sha256.New, []byte("whsec"))
	mac.Write(gotBody)
	want := hex.EncodeToString(mac.Sum(nil))
	assert.Equal(t, want, gotSignature)

	var decoded Payload
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, "run-1", decoded.RunID)
}

func TestNotifyNoopWhenURLUnset(t *testing.T) {
	n := New(config.WebhookConfig{NotifyOnComplete: true}, config.TTSConfig{Provider: "none"}, testLogger())
	n.Notify(context.Background(), Payload{RunID: "run-1"})
}

func TestNotifyNoopWhenDisabled(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	n := New(config.WebhookConfig{URL: server.URL, NotifyOnComplete: false}, config.TTSConfig{Provider: "none"}, testLogger())
	n.Notify(context.Background(), Payload{RunID: "run-1"})
	assert.False(t, called)
}

func TestNotifySurvivesNon2xxWebhook(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := New(config.WebhookConfig{URL: server.URL, NotifyOnComplete: true}, config.TTSConfig{Provider: "none"}, testLogger())
	assert.NotPanics(t, func() {
		n.Notify(context.Background(), Payload{RunID: "run-1"})
	})
}

func TestNotifyWithoutSecretOmitsSignatureHeader(t *testing.T) {
	var gotHeader string
	seen := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = true
		gotHeader = r.Header.Get("X-Dara-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := New(config.WebhookConfig{URL: server.URL, NotifyOnComplete: true}, config.TTSConfig{Provider: "none"}, testLogger())
	n.Notify(context.Background(), Payload{RunID: "run-1"})
	require.True(t, seen)
	assert.Empty(t, gotHeader)
}
