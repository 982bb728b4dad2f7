// Package api exposes the workflow control plane's HTTP surface: plain
// REST/JSON handlers over the Engine, Vault, Presets, and Connector Client,
// routed with net/http's ServeMux in the style of the MCP Streamable HTTP
// transport this server's sibling components are modeled on.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dara-labs/workflow-control-plane/internal/connector"
	"github.com/dara-labs/workflow-control-plane/internal/engine"
	"github.com/dara-labs/workflow-control-plane/internal/presets"
	"github.com/dara-labs/workflow-control-plane/internal/vault"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Server wires the control plane's components to a net/http handler.
type Server struct {
	engine    *engine.Engine
	vault     *vault.Vault
	presets   *presets.Registry
	connector *connector.Client
	cors      string
	logger    *slog.Logger
}

// New builds a Server. cors is an allowed-origins list ("*" for any origin,
// comma-separated otherwise, empty to disable CORS headers).
func New(e *engine.Engine, v *vault.Vault, p *presets.Registry, c *connector.Client, cors string, logger *slog.Logger) *Server {
	return &Server{engine: e, vault: v, presets: p, connector: c, cors: cors, logger: logger}
}

// Handler returns the routed http.Handler for the control plane's API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/workflows", s.handleListWorkflows)
	mux.HandleFunc("GET /api/workflows/{id}", s.handleGetWorkflow)
	mux.HandleFunc("POST /api/workflows/run", s.handleCreateRun)
	mux.HandleFunc("GET /api/workflows/run/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/workflows/run/{id}/artifacts", s.handleListArtifacts)
	mux.HandleFunc("POST /api/workflows/run/{id}/approve", s.handleApprove)

	mux.HandleFunc("POST /api/vault/secrets", s.handleStoreSecret)
	mux.HandleFunc("GET /api/vault/secrets", s.handleListSecrets)

	mux.HandleFunc("GET /api/models/presets", s.handleListPresets)
	mux.HandleFunc("POST /api/models/presets/active", s.handleSetActivePreset)

	mux.HandleFunc("GET /api/connectors", s.handleListConnectors)
	mux.HandleFunc("GET /api/connectors/status", s.handleConnectorStatus)
	mux.HandleFunc("POST /api/connectors/connect", s.handleConnectorConnect)

	return s.withCORS(mux)
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cors != "" {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if s.cors == "*" {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					for _, allowed := range strings.Split(s.cors, ",") {
						if strings.TrimSpace(allowed) == origin {
							w.Header().Set("Access-Control-Allow-Origin", origin)
							break
						}
					}
				}
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeError(w http.ResponseWriter, err error) {
	status, message := statusFor(err)
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps the engine/vault/connector/presets error taxonomy to an
// HTTP status code, keeping that mapping in one place instead of scattering
// errors.Is checks across handlers.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, engine.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, engine.ErrExternal):
		return http.StatusBadGateway, err.Error()
	default:
		var vaultErr *vault.VaultError
		if errors.As(err, &vaultErr) {
			return http.StatusBadRequest, err.Error()
		}
		var cfgErr *vault.ConfigurationError
		if errors.As(err, &cfgErr) {
			return http.StatusBadRequest, err.Error()
		}
		var presetErr *presets.ValidationError
		if errors.As(err, &presetErr) {
			return http.StatusBadRequest, err.Error()
		}
		var connCfgErr *connector.ConfigurationError
		if errors.As(err, &connCfgErr) {
			return http.StatusBadRequest, err.Error()
		}
		return http.StatusInternalServerError, "internal error"
	}
}

func requestContext(r *http.Request) context.Context { return r.Context() }
