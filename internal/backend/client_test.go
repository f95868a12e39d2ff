package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/plantops/plantsync/internal/schema"
)

type recordedRequest struct {
	method string
	path   string
	body   string
}

func recordingServer(t *testing.T, status int, respond any) (*Client, *[]recordedRequest) {
	t.Helper()
	var reqs []recordedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		reqs = append(reqs, recordedRequest{r.Method, r.URL.Path, string(body)})

		w.WriteHeader(status)
		if respond != nil {
			_ = json.NewEncoder(w).Encode(respond)
		}
	}))
	t.Cleanup(srv.Close)

	return New(srv.URL), &reqs
}

func testEvent(t *testing.T, op schema.Op) *schema.ChangeEvent {
	t.Helper()
	eq := &schema.Equipment{ID: "TG1", Name: "Turbine generator 1", UpdatedAt: time.Now().UTC()}
	ev, err := schema.NewChangeEvent("origin-test", schema.KindEquipment, eq.ID, op, eq)
	require.NoError(t, err)
	return ev
}

func TestApplyChangeRoutes(t *testing.T) {
	tests := []struct {
		op         schema.Op
		wantMethod string
		wantPath   string
	}{
		{schema.OpCreate, http.MethodPost, "/api/equipments"},
		{schema.OpUpdate, http.MethodPut, "/api/equipments/TG1"},
		{schema.OpDelete, http.MethodDelete, "/api/equipments/TG1"},
	}
	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			c, reqs := recordingServer(t, http.StatusOK, nil)

			require.NoError(t, c.ApplyChange(context.Background(), testEvent(t, tt.op)))
			require.Len(t, *reqs, 1)
			require.Equal(t, tt.wantMethod, (*reqs)[0].method)
			require.Equal(t, tt.wantPath, (*reqs)[0].path)
		})
	}
}

func TestApplyChangeComponentRejected(t *testing.T) {
	c, reqs := recordingServer(t, http.StatusOK, nil)

	ev := &schema.ChangeEvent{
		EventID:  "ev-1",
		Origin:   "origin-test",
		Entity:   schema.KindComponent,
		EntityID: "C1",
		Op:       schema.OpUpdate,
		Payload:  json.RawMessage(`{"id":"C1","name":"Rotor"}`),
		At:       time.Now().UTC(),
	}
	err := c.ApplyChange(context.Background(), ev)
	require.Error(t, err)
	require.Empty(t, *reqs, "no request may be issued for a read-only entity")
}

func TestApplyChangeServerError(t *testing.T) {
	c, _ := recordingServer(t, http.StatusInternalServerError, nil)

	err := c.ApplyChange(context.Background(), testEvent(t, schema.OpCreate))
	require.Error(t, err)
	require.Contains(t, err.Error(), "500")
}

func TestClear(t *testing.T) {
	c, reqs := recordingServer(t, http.StatusOK, nil)

	require.NoError(t, c.Clear(context.Background()))
	require.Len(t, *reqs, 1)
	require.Equal(t, http.MethodPost, (*reqs)[0].method)
	require.Equal(t, "/api/sync/clear", (*reqs)[0].path)
}

func TestFetchDump(t *testing.T) {
	c, reqs := recordingServer(t, http.StatusOK, &Dump{
		Equipments: []*schema.Equipment{{ID: "TG1", Name: "Turbine generator 1"}},
		LogEntries: []*schema.LogEntry{{ID: "L1", Message: "started"}},
	})

	d, err := c.FetchDump(context.Background())
	require.NoError(t, err)
	require.Equal(t, "/api/sync/data", (*reqs)[0].path)
	require.Len(t, d.Equipments, 1)
	require.Len(t, d.LogEntries, 1)
	require.Equal(t, "TG1", d.Equipments[0].ID)
}

func TestGetEquipment(t *testing.T) {
	c, reqs := recordingServer(t, http.StatusOK, &schema.Equipment{ID: "TG1", Name: "Turbine generator 1"})

	eq, err := c.GetEquipment(context.Background(), "TG1")
	require.NoError(t, err)
	require.Equal(t, "/api/equipments/TG1", (*reqs)[0].path)
	require.Equal(t, "Turbine generator 1", eq.Name)
}
