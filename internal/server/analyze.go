package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/MrWong99/vishguard/internal/analysis"
	"github.com/MrWong99/vishguard/internal/history"
	"github.com/MrWong99/vishguard/internal/observe"
)

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, "No file part")
		return
	}
	defer file.Close()
	if hdr.Filename == "" {
		writeError(w, http.StatusBadRequest, "No selected file")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read upload")
		return
	}
	upload := analysis.Upload{
		Name:        filepath.Base(hdr.Filename),
		ContentType: hdr.Header.Get("Content-Type"),
		Data:        data,
	}
	if upload.ContentType == "application/octet-stream" {
		upload.ContentType = ""
	}

	call, err := s.pipeline.AnalyzeUpload(r.Context(), upload)
	if err != nil {
		if errors.Is(err, analysis.ErrUnsupportedFile) {
			writeError(w, http.StatusBadRequest, "Unsupported file type: "+upload.Name)
			return
		}
		observe.Logger(r.Context()).Error("analysis failed", "filename", upload.Name, "err", err)
		writeError(w, http.StatusInternalServerError, "Analysis failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, call)
}

type analyzeTextRequest struct {
	Text     string `json:"text"`
	Filename string `json:"filename"`
}

func (s *Server) handleAnalyzeText(w http.ResponseWriter, r *http.Request) {
	var req analyzeTextRequest
	if !decodeBody(r, &req) {
		writeError(w, http.StatusBadRequest, "Missing request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "No text provided")
		return
	}
	name := req.Filename
	if name == "" {
		name = "text input"
	}
	call, err := s.pipeline.AnalyzeText(r.Context(), name, history.SourceText, req.Text)
	if err != nil {
		observe.Logger(r.Context()).Error("analysis failed", "filename", name, "err", err)
		writeError(w, http.StatusInternalServerError, "Analysis failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, call)
}

type analyzeFolderRequest struct {
	Path string `json:"path"`
}

type analyzeFolderResponse struct {
	Processed int            `json:"processed"`
	Results   []history.Call `json:"results"`
}

func (s *Server) handleAnalyzeFolder(w http.ResponseWriter, r *http.Request) {
	var req analyzeFolderRequest
	if !decodeBody(r, &req) {
		writeError(w, http.StatusBadRequest, "Missing request body")
		return
	}
	calls, err := s.pipeline.AnalyzeFolder(r.Context(), req.Path)
	switch {
	case errors.Is(err, analysis.ErrInvalidDirectory):
		writeError(w, http.StatusBadRequest, "Invalid directory path")
		return
	case errors.Is(err, analysis.ErrDirectoryNotAllowed):
		writeError(w, http.StatusForbidden, "Directory not allowed")
		return
	case err != nil:
		slog.Error("folder analysis failed", "path", req.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "Analysis failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, analyzeFolderResponse{Processed: len(calls), Results: calls})
}
