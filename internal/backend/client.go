// Package backend is the Backend-mode data path: a thin client for the
// hosted REST API. The hosted database is the single source of truth
// in that mode, observed directly by every web client, so no change
// events are broadcast for mutations that go through here.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/plantops/plantsync/internal/schema"
)

// Client talks to the hosted plantsync API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the API at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// entityPath maps an entity kind to its REST collection.
func entityPath(kind schema.Kind) (string, error) {
	switch kind {
	case schema.KindEquipment:
		return "/api/equipments", nil
	case schema.KindAlarm:
		return "/api/alarms", nil
	case schema.KindProcedure:
		return "/api/procedures", nil
	case schema.KindLogEntry:
		return "/api/logbook", nil
	default:
		return "", fmt.Errorf("no backend route for entity kind %q", kind)
	}
}

// ApplyChange forwards one mutation to the hosted API.
func (c *Client) ApplyChange(ctx context.Context, ev *schema.ChangeEvent) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid change event: %w", err)
	}

	path, err := entityPath(ev.Entity)
	if err != nil {
		return err
	}

	var req *http.Request
	switch ev.Op {
	case schema.OpCreate:
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(ev.Payload))
	case schema.OpUpdate:
		req, err = http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path+"/"+ev.EntityID, bytes.NewReader(ev.Payload))
	case schema.OpDelete:
		req, err = http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path+"/"+ev.EntityID, nil)
	default:
		return fmt.Errorf("unknown op %q", ev.Op)
	}
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

// GetEquipment fetches one equipment record.
func (c *Client) GetEquipment(ctx context.Context, id string) (*schema.Equipment, error) {
	var eq schema.Equipment
	if err := c.getJSON(ctx, "/api/equipments/"+id, &eq); err != nil {
		return nil, err
	}
	return &eq, nil
}

// ListEquipments fetches all equipment records.
func (c *Client) ListEquipments(ctx context.Context) ([]*schema.Equipment, error) {
	var out []*schema.Equipment
	if err := c.getJSON(ctx, "/api/equipments", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Dump is the full-state payload served by /api/sync/data, used by
// desktop deployments to seed a fresh local store from the backend.
type Dump struct {
	Equipments []*schema.Equipment `json:"equipments"`
	Components []*schema.Component `json:"components"`
	Alarms     []*schema.Alarm     `json:"alarms"`
	Procedures []*schema.Procedure `json:"procedures"`
	LogEntries []*schema.LogEntry  `json:"log_entries"`
}

// FetchDump retrieves the full backend state for synchronization.
// Log entries arrive oldest first.
func (c *Client) FetchDump(ctx context.Context) (*Dump, error) {
	var d Dump
	if err := c.getJSON(ctx, "/api/sync/data", &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Clear wipes the hosted database. Children are deleted before the
// equipments that own them, respecting foreign keys; the server
// enforces the ordering, this call just triggers it.
func (c *Client) Clear(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/sync/clear", nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	return c.do(req)
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return httpError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode backend response: %w", err)
	}
	return nil
}

func (c *Client) do(req *http.Request) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return httpError(resp)
}

func httpError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = resp.Status
	}
	return fmt.Errorf("backend returned %d: %s", resp.StatusCode, msg)
}
