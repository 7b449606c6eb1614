package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/vishguard/internal/history"
)

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := history.Filter{Status: q.Get("status")}

	// A malformed date drops the whole date filter; the status filter
	// still applies.
	start, end := q.Get("start_date"), q.Get("end_date")
	var dateErr error
	if start != "" {
		f.StartDate, dateErr = history.ParseDate(start)
	}
	if dateErr == nil && end != "" {
		f.EndDate, dateErr = history.ParseDate(end)
	}
	if dateErr != nil {
		slog.Warn("ignoring invalid date filter", "start_date", start, "end_date", end, "err", dateErr)
		f.StartDate, f.EndDate = time.Time{}, time.Time{}
	}

	calls, err := s.store.List(r.Context(), f)
	if err != nil {
		slog.Error("list calls failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to load calls")
		return
	}
	writeJSON(w, http.StatusOK, calls)
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	call, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, call)
}

type resolveResponse struct {
	Message string       `json:"message"`
	Call    history.Call `json:"call"`
}

func (s *Server) handleResolveCall(w http.ResponseWriter, r *http.Request) {
	call, err := s.store.Resolve(r.Context(), r.PathValue("id"))
	if !s.storeOK(w, err) {
		return
	}
	slog.Info("call resolved", "call_id", call.ID)
	writeJSON(w, http.StatusOK, resolveResponse{Message: "Call marked as resolved", Call: call})
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	call, ok := s.lookup(w, r)
	if !ok {
		return
	}
	sum, err := s.summarizer.Summarize(r.Context(), call)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Summary failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// lookup loads the call named by the {id} path value, writing the error
// response itself when that fails.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (history.Call, bool) {
	call, err := s.store.Get(r.Context(), r.PathValue("id"))
	return call, s.storeOK(w, err)
}

func (s *Server) storeOK(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, history.ErrNotFound):
		writeError(w, http.StatusNotFound, "Call not found")
	default:
		slog.Error("history store failed", "err", err)
		writeError(w, http.StatusInternalServerError, "History unavailable")
	}
	return false
}
