package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vibekraft/vibekraft/internal/lifecycle"
	"github.com/vibekraft/vibekraft/internal/sandbox"
	"github.com/vibekraft/vibekraft/internal/storage"
)

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- Instance handlers ---

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	opts := storage.InstanceListOptions{}

	if status := r.URL.Query().Get("status"); status != "" {
		opts.Status = storage.InstanceStatus(status)
	}
	if owner := r.URL.Query().Get("owner"); owner != "" {
		opts.OwnerID = owner
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			opts.Limit = n
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil {
			opts.Offset = n
		}
	}

	instances, err := s.store.ListInstances(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if instances == nil {
		instances = []storage.Instance{}
	}
	writeJSON(w, http.StatusOK, instances)
}

type createInstanceRequest struct {
	WorkspaceID string `json:"workspace_id"`
	OwnerID     string `json:"owner_id"`
	Template    string `json:"template"`
	CPUShares   int    `json:"cpu_shares"`
	MemoryMiB   int    `json:"memory_mib"`
	DiskMiB     int    `json:"disk_mib"`
}

func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var req createInstanceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if req.Template == "" {
		writeError(w, http.StatusBadRequest, "template is required")
		return
	}
	if _, ok := s.templates[req.Template]; !ok {
		writeError(w, http.StatusBadRequest, "unknown template: "+req.Template)
		return
	}

	inst := &storage.Instance{
		ID:          uuid.New().String(),
		WorkspaceID: req.WorkspaceID,
		OwnerID:     req.OwnerID,
		Template:    req.Template,
		Status:      storage.StatusStopped,
		Claim: storage.ResourceClaim{
			CPUShares: req.CPUShares,
			MemoryMiB: req.MemoryMiB,
			DiskMiB:   req.DiskMiB,
		},
	}

	if err := s.store.CreateInstance(r.Context(), inst); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, inst)
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inst, err := s.store.GetInstance(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "instance not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	inst, err := s.store.GetInstance(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "instance not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	// Tear down the live sandbox first so nothing keeps running for a
	// deleted instance.
	if info, ok := s.manager.LookupInstance(inst.ID); ok {
		s.manager.Release(r.Context(), info.SandboxID, lifecycle.ReasonClientRequested)
	}

	if err := s.store.DeleteInstance(r.Context(), inst.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Sandbox handlers ---

type acquireRequest struct {
	OwnerID string `json:"owner_id"`
}

func (s *Server) handleAcquire(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req acquireRequest
	if err := decodeJSON(r, &req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	inst, err := s.store.GetInstance(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "instance not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	info, err := s.manager.Acquire(r.Context(), inst.ID, req.OwnerID)
	if err != nil {
		var initErr *lifecycle.InitError
		switch {
		case errors.Is(err, lifecycle.ErrCapacityExceeded):
			writeError(w, http.StatusServiceUnavailable, "workspace capacity reached, try again later")
		case errors.Is(err, lifecycle.ErrDuplicateInstance):
			writeError(w, http.StatusConflict, "instance is busy, retry")
		case errors.As(err, &initErr):
			writeError(w, http.StatusBadGateway, "failed to start workspace")
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "instance not found")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Release is idempotent: an unknown sandbox ID is still a success.
	if err := s.manager.Release(r.Context(), id, lifecycle.ReasonClientRequested); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSandboxes(w http.ResponseWriter, r *http.Request) {
	handles := s.manager.Handles()
	sort.Slice(handles, func(i, j int) bool {
		return handles[i].StartedAt.Before(handles[j].StartedAt)
	})
	writeJSON(w, http.StatusOK, handles)
}

// --- Template handlers ---

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates := make([]*sandbox.Template, 0, len(s.templates))
	for _, t := range s.templates {
		templates = append(templates, t)
	}
	sort.Slice(templates, func(i, j int) bool {
		return templates[i].Name < templates[j].Name
	})
	writeJSON(w, http.StatusOK, templates)
}
