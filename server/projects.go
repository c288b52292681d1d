package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/richinex/canvasync/model"
)

// errConflict reports the version the server actually holds.
type errConflict struct{ current int64 }

func (e errConflict) Error() string {
	return fmt.Sprintf("version conflict: server holds version %d", e.current)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var (
		raw, updated string
		p            = model.Project{ID: id}
	)
	err := s.db.QueryRowContext(r.Context(),
		`SELECT content, version, updated_at FROM projects WHERE id = ?`, id,
	).Scan(&raw, &p.Version, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if err != nil {
		s.internalError(w, "get project", err)
		return
	}
	if err := json.Unmarshal([]byte(raw), &p.Content); err != nil {
		s.internalError(w, "decode project", err)
		return
	}
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetMeta(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var (
		meta    model.ProjectMeta
		updated string
	)
	err := s.db.QueryRowContext(r.Context(),
		`SELECT version, updated_at FROM projects WHERE id = ?`, id,
	).Scan(&meta.ContentVersion, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if err != nil {
		s.internalError(w, "get meta", err)
		return
	}
	meta.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	writeJSON(w, http.StatusOK, meta)
}

// handleSaveProject stores content if the submitted version equals the
// stored one (0 for a new project) and answers with the incremented version.
func (s *Server) handleSaveProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)

	var req model.SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		bodyError(w, err)
		return
	}
	if req.Content == nil {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	raw, err := json.Marshal(req.Content)
	if err != nil {
		writeError(w, http.StatusBadRequest, "content is not serializable")
		return
	}

	resp, err := s.saveProject(r.Context(), id, req, string(raw))
	var conflict errConflict
	switch {
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, conflict.Error())
		return
	case err != nil:
		s.internalError(w, "save project", err)
		return
	}
	s.log.Info("project saved", "project_id", id, "version", resp.Version, "history", req.CreateWorkflowHistory)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) saveProject(ctx context.Context, id string, req model.SaveRequest, raw string) (model.SaveResponse, error) {
	now := s.now().UTC()
	stamp := now.Format(time.RFC3339Nano)
	next := req.Version + 1

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.SaveResponse{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM projects WHERE id = ?`, id).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if req.Version != 0 {
			return model.SaveResponse{}, errConflict{current: 0}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO projects (id, content, version, updated_at) VALUES (?, ?, ?, ?)`,
			id, raw, next, stamp); err != nil {
			return model.SaveResponse{}, fmt.Errorf("insert: %w", err)
		}
	case err != nil:
		return model.SaveResponse{}, fmt.Errorf("read version: %w", err)
	case current != req.Version:
		return model.SaveResponse{}, errConflict{current: current}
	default:
		res, err := tx.ExecContext(ctx,
			`UPDATE projects SET content = ?, version = ?, updated_at = ? WHERE id = ? AND version = ?`,
			raw, next, stamp, id, req.Version)
		if err != nil {
			return model.SaveResponse{}, fmt.Errorf("update: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return model.SaveResponse{}, errConflict{current: current}
		}
	}

	if req.CreateWorkflowHistory {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO project_history (project_id, version, content, created_at) VALUES (?, ?, ?, ?)`,
			id, next, raw, stamp); err != nil {
			return model.SaveResponse{}, fmt.Errorf("history: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return model.SaveResponse{}, fmt.Errorf("commit: %w", err)
	}
	return model.SaveResponse{Version: next, UpdatedAt: now}, nil
}

// HistoryLen returns the number of history snapshots kept for id.
func (s *Server) HistoryLen(ctx context.Context, id string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM project_history WHERE project_id = ?`, id).Scan(&n)
	return n, err
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.log.Error("request failed", "op", op, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
