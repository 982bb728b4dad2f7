// Package connector talks to an outbound connector service over HTTP,
// guarded against SSRF by validating the configured base URL at
// construction time rather than per-request.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/dara-labs/workflow-control-plane/internal/id"
	"github.com/dara-labs/workflow-control-plane/internal/store"
	"github.com/dara-labs/workflow-control-plane/internal/workflow"
)

// ConfigurationError is returned when the client is disabled and an invoke
// is attempted anyway.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string { return e.Reason }

// Record is a connector's status as reported by the remote service.
type Record struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Metadata string `json:"metadata,omitempty"`
}

// Client is the outbound connector client. A Client with enabled=false
// answers list() with an empty slice and fails invoke() with a
// ConfigurationError, matching the behavior of an unreachable or unsafely
// configured base URL.
type Client struct {
	baseURL string
	apiKey  string
	enabled bool
	http    *http.Client
	store   *store.Store
}

// New validates baseURL against the SSRF gate and returns a Client. An
// unsafe or empty baseURL does not error; it produces a disabled client.
func New(baseURL, apiKey string, s *store.Store) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		store:   s,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	c.enabled = baseURL != "" && safeBaseURL(baseURL)
	return c
}

// safeBaseURL rejects non-http(s) schemes, loopback hosts, and private or
// link-local IPv4 prefixes.
func safeBaseURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := u.Hostname()
	if host == "" {
		return false
	}
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return false
	}
	for _, prefix := range []string{"10.", "172.16.", "192.168.", "169.254."} {
		if strings.HasPrefix(host, prefix) {
			return false
		}
	}
	return true
}

// Enabled reports whether the client passed its SSRF gate.
func (c *Client) Enabled() bool { return c.enabled }

// Fingerprint is the SHA-256 hex of value's canonical JSON encoding.
func Fingerprint(value any) (string, error) {
	return workflow.Fingerprint(value)
}

// List returns connector records known to the remote service. Returns an
// empty slice, not an error, for a disabled client.
func (c *Client) List(ctx context.Context) ([]Record, error) {
	if !c.enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	var records []Record
	if err := c.do(ctx, http.MethodGet, "/connectors", nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Connect registers a connector with the remote service and upserts the
// resulting record into the Store.
func (c *Client) Connect(ctx context.Context, name string, payload map[string]any) (Record, error) {
	if !c.enabled {
		return Record{}, &ConfigurationError{Reason: "connector client is disabled"}
	}
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	body := map[string]any{"name": name, "payload": payload}
	var rec Record
	if err := c.do(ctx, http.MethodPost, "/connectors/connect", body, &rec); err != nil {
		return Record{}, err
	}
	if err := c.upsert(rec); err != nil {
		return Record{}, fmt.Errorf("recording connector: %w", err)
	}
	return rec, nil
}

// Invoke calls a named tool on the remote service and returns its
// structured result, unmarshaled into a generic map.
func (c *Client) Invoke(ctx context.Context, toolName string, args map[string]any, runID string) (map[string]any, error) {
	if !c.enabled {
		return nil, &ConfigurationError{Reason: "connector client is disabled"}
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	body := map[string]any{"tool_name": toolName, "args": args, "run_id": runID}
	var result map[string]any
	if err := c.do(ctx, http.MethodPost, "/tools/invoke", body, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) upsert(rec Record) error {
	return c.store.Tx(func(tx *gorm.DB) error {
		var existing store.Connector
		err := tx.Where("name = ?", rec.Name).First(&existing).Error
		switch {
		case err == nil:
			existing.Status = rec.Status
			existing.Metadata = rec.Metadata
			return tx.Save(&existing).Error
		case err == gorm.ErrRecordNotFound:
			row := store.Connector{
				ID:        id.New(),
				Name:      rec.Name,
				Status:    rec.Status,
				Metadata:  rec.Metadata,
				CreatedAt: store.Now(),
			}
			return tx.Create(&row).Error
		default:
			return err
		}
	})
}

// Status returns the locally cached connector records, as last upserted by
// Connect, without contacting the remote service.
func (c *Client) Status() ([]store.Connector, error) {
	var rows []store.Connector
	if err := c.store.DB().Order("name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing connector status: %w", err)
	}
	return rows, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connector request failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading connector response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("connector returned status %d: %s", resp.StatusCode, string(respBody))
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decoding connector response: %w", err)
	}
	return nil
}
