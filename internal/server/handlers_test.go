package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vibekraft/vibekraft/internal/config"
	"github.com/vibekraft/vibekraft/internal/lifecycle"
	"github.com/vibekraft/vibekraft/internal/sandbox"
	"github.com/vibekraft/vibekraft/internal/storage/sqlite"
)

// stubRuntime is a minimal sandbox.Runtime for handler tests.
type stubRuntime struct {
	failCreate bool
	created    int
}

func (r *stubRuntime) Create(ctx context.Context, cfg sandbox.Config) (*sandbox.Ref, error) {
	if r.failCreate {
		return nil, errors.New("boom")
	}
	r.created++
	return &sandbox.Ref{
		ID:       fmt.Sprintf("ct-%d", r.created),
		Endpoint: fmt.Sprintf("http://127.0.0.1:%d", 50000+r.created),
	}, nil
}

func (r *stubRuntime) Probe(ctx context.Context, ref *sandbox.Ref) (bool, error) {
	return true, nil
}

func (r *stubRuntime) Destroy(ctx context.Context, ref *sandbox.Ref) error {
	return nil
}

func newTestServer(t *testing.T, capacity int) (*Server, *stubRuntime) {
	t.Helper()

	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	templates := map[string]*sandbox.Template{
		"dev": {Name: "dev", Image: "python:3.12-slim", GuestPort: 8080, MemoryMiB: 256},
	}
	rt := &stubRuntime{}
	mgr := lifecycle.NewManager(store, rt, templates, lifecycle.Options{
		Capacity:    capacity,
		IdleTimeout: time.Hour,
	})

	cfg := &config.Config{}
	return New(cfg, store, mgr, templates), rt
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestInstanceAndSandboxFlow(t *testing.T) {
	s, _ := newTestServer(t, 4)

	rec := doJSON(t, s, http.MethodPost, "/api/instances", map[string]any{
		"workspace_id": "ws-1",
		"owner_id":     "user-1",
		"template":     "dev",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create instance: status %d: %s", rec.Code, rec.Body.String())
	}

	var inst struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &inst); err != nil {
		t.Fatal(err)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/instances/"+inst.ID+"/sandbox", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("acquire: status %d: %s", rec.Code, rec.Body.String())
	}

	var handle lifecycle.HandleInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &handle); err != nil {
		t.Fatal(err)
	}
	if handle.Status != lifecycle.StatusRunning {
		t.Errorf("status = %s, want running", handle.Status)
	}
	if handle.Endpoint == "" {
		t.Error("acquire response missing connection endpoint")
	}

	rec = doJSON(t, s, http.MethodGet, "/api/sandboxes", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list sandboxes: status %d", rec.Code)
	}
	var handles []lifecycle.HandleInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &handles); err != nil {
		t.Fatal(err)
	}
	if len(handles) != 1 {
		t.Fatalf("listed %d sandboxes, want 1", len(handles))
	}

	rec = doJSON(t, s, http.MethodDelete, "/api/sandboxes/"+handle.SandboxID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("release: status %d", rec.Code)
	}
	// Idempotent second release
	rec = doJSON(t, s, http.MethodDelete, "/api/sandboxes/"+handle.SandboxID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("second release: status %d", rec.Code)
	}
}

func TestCreateInstanceUnknownTemplate(t *testing.T) {
	s, _ := newTestServer(t, 4)

	rec := doJSON(t, s, http.MethodPost, "/api/instances", map[string]any{
		"template": "firecracker-xl",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAcquireBusyWhenAtCapacity(t *testing.T) {
	s, _ := newTestServer(t, 1)

	var ids []string
	for i := 0; i < 2; i++ {
		rec := doJSON(t, s, http.MethodPost, "/api/instances", map[string]any{"template": "dev"})
		if rec.Code != http.StatusCreated {
			t.Fatal(rec.Body.String())
		}
		var inst struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &inst); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, inst.ID)
	}

	if rec := doJSON(t, s, http.MethodPost, "/api/instances/"+ids[0]+"/sandbox", nil); rec.Code != http.StatusOK {
		t.Fatalf("first acquire: %d", rec.Code)
	}
	rec := doJSON(t, s, http.MethodPost, "/api/instances/"+ids[1]+"/sandbox", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestAcquireInitFailure(t *testing.T) {
	s, rt := newTestServer(t, 4)
	rt.failCreate = true

	rec := doJSON(t, s, http.MethodPost, "/api/instances", map[string]any{"template": "dev"})
	var inst struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &inst); err != nil {
		t.Fatal(err)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/instances/"+inst.ID+"/sandbox", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}

	// The failed instance record reflects the error.
	rec = doJSON(t, s, http.MethodGet, "/api/instances/"+inst.ID, nil)
	var got struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != "error" {
		t.Errorf("persisted status = %s, want error", got.Status)
	}
}

func TestGetInstanceNotFound(t *testing.T) {
	s, _ := newTestServer(t, 4)

	rec := doJSON(t, s, http.MethodGet, "/api/instances/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestDeleteInstanceReleasesSandbox(t *testing.T) {
	s, _ := newTestServer(t, 4)

	rec := doJSON(t, s, http.MethodPost, "/api/instances", map[string]any{"template": "dev"})
	var inst struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &inst); err != nil {
		t.Fatal(err)
	}

	if rec := doJSON(t, s, http.MethodPost, "/api/instances/"+inst.ID+"/sandbox", nil); rec.Code != http.StatusOK {
		t.Fatal(rec.Body.String())
	}

	if rec := doJSON(t, s, http.MethodDelete, "/api/instances/"+inst.ID, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete instance: %d", rec.Code)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/sandboxes", nil)
	var handles []lifecycle.HandleInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &handles); err != nil {
		t.Fatal(err)
	}
	if len(handles) != 0 {
		t.Errorf("live sandboxes after instance delete = %d, want 0", len(handles))
	}
}
