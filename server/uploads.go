package server

import (
	"database/sql"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/richinex/canvasync/remote"
)

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		bodyError(w, err)
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty upload")
		return
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(r.Context(),
		`INSERT INTO uploads (id, content_type, data, size, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, contentType, data, len(data), s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		s.internalError(w, "store upload", err)
		return
	}
	writeJSON(w, http.StatusCreated, remote.UploadResponse{ID: id, URL: s.baseURL(r) + "/uploads/" + id})
}

func (s *Server) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	var (
		contentType string
		data        []byte
	)
	err := s.db.QueryRowContext(r.Context(),
		`SELECT content_type, data FROM uploads WHERE id = ?`, chi.URLParam(r, "id"),
	).Scan(&contentType, &data)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "upload not found")
		return
	}
	if err != nil {
		s.internalError(w, "get upload", err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Write(data)
}

func (s *Server) baseURL(r *http.Request) string {
	if s.publicURL != "" {
		return s.publicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
