package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plantops/plantsync/internal/backend"
	"github.com/plantops/plantsync/internal/gateway"
	"github.com/plantops/plantsync/internal/runtime"
	"github.com/plantops/plantsync/internal/schema"
)

type memStore struct {
	counts map[string]int
}

func (m *memStore) ApplyChange(ctx context.Context, ev *schema.ChangeEvent) error { return nil }
func (m *memStore) GetEquipment(ctx context.Context, id string) (*schema.Equipment, error) {
	return nil, errors.New("not found")
}
func (m *memStore) ListEquipments(ctx context.Context) ([]*schema.Equipment, error) {
	return nil, nil
}
func (m *memStore) ListComponents(ctx context.Context, equipmentID string) ([]*schema.Component, error) {
	return nil, nil
}
func (m *memStore) Counts(ctx context.Context) (map[string]int, error) { return m.counts, nil }

type memRemote struct {
	cleared int
}

func (m *memRemote) ApplyChange(ctx context.Context, ev *schema.ChangeEvent) error { return nil }
func (m *memRemote) GetEquipment(ctx context.Context, id string) (*schema.Equipment, error) {
	return nil, errors.New("not found")
}
func (m *memRemote) ListEquipments(ctx context.Context) ([]*schema.Equipment, error) {
	return nil, nil
}
func (m *memRemote) Clear(ctx context.Context) error {
	m.cleared++
	return nil
}

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func startServer(t *testing.T, gw *gateway.Gateway, dump DumpFunc) *Server {
	t.Helper()
	s := NewServer(gw, dump, &Config{Port: 0, Logger: quiet()})
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func localServer(t *testing.T) *Server {
	t.Helper()
	store := &memStore{counts: map[string]int{"equipments": 3, "alarms": 7}}
	gw, err := gateway.New(gateway.Config{
		Mode:   runtime.ModeLocal,
		Local:  func(ctx context.Context) (gateway.LocalStore, error) { return store, nil },
		Logger: quiet(),
	})
	require.NoError(t, err)
	return startServer(t, gw, nil)
}

func getBody(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	s := localServer(t)

	status, body := getBody(t, "http://"+s.Addr()+"/health")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "local", body["mode"])
}

func TestStatusReportsCounts(t *testing.T) {
	s := localServer(t)

	status, body := getBody(t, "http://"+s.Addr()+"/api/status")
	require.Equal(t, http.StatusOK, status)

	counts, ok := body["counts"].(map[string]any)
	require.True(t, ok, "counts missing from status body")
	require.Equal(t, float64(3), counts["equipments"])
	require.Equal(t, float64(7), counts["alarms"])
}

func TestClearGuardedInLocalMode(t *testing.T) {
	s := localServer(t)

	resp, err := http.Post("http://"+s.Addr()+"/api/sync/clear", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	require.Contains(t, string(body), "unavailable in this environment")
}

func TestClearBackendMode(t *testing.T) {
	remote := &memRemote{}
	gw, err := gateway.New(gateway.Config{
		Mode:   runtime.ModeBackend,
		Remote: remote,
		Logger: quiet(),
	})
	require.NoError(t, err)
	s := startServer(t, gw, nil)

	resp, err := http.Post("http://"+s.Addr()+"/api/sync/clear", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, remote.cleared)
}

func TestClearRequiresPost(t *testing.T) {
	s := localServer(t)

	resp, err := http.Get("http://" + s.Addr() + "/api/sync/clear")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestDataGuardedWithoutDumpSource(t *testing.T) {
	s := localServer(t)

	status, body := getBody(t, "http://"+s.Addr()+"/api/sync/data")
	require.Equal(t, http.StatusConflict, status)
	require.Contains(t, body["error"], "unavailable")
}

func TestDataServesDump(t *testing.T) {
	remote := &memRemote{}
	gw, err := gateway.New(gateway.Config{
		Mode:   runtime.ModeBackend,
		Remote: remote,
		Logger: quiet(),
	})
	require.NoError(t, err)

	dump := func(ctx context.Context) (*backend.Dump, error) {
		return &backend.Dump{
			Equipments: []*schema.Equipment{{ID: "TG1", Name: "Turbine generator 1"}},
		}, nil
	}
	s := startServer(t, gw, dump)

	resp, err := http.Get("http://" + s.Addr() + "/api/sync/data")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var d backend.Dump
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&d))
	require.Len(t, d.Equipments, 1)
	require.Equal(t, "TG1", d.Equipments[0].ID)
}

func TestDataDumpFailure(t *testing.T) {
	remote := &memRemote{}
	gw, err := gateway.New(gateway.Config{
		Mode:   runtime.ModeBackend,
		Remote: remote,
		Logger: quiet(),
	})
	require.NoError(t, err)

	dump := func(ctx context.Context) (*backend.Dump, error) {
		return nil, errors.New("backend unreachable")
	}
	s := startServer(t, gw, dump)

	status, body := getBody(t, "http://"+s.Addr()+"/api/sync/data")
	require.Equal(t, http.StatusBadGateway, status)
	require.True(t, strings.Contains(body["error"].(string), "unreachable"))
}
