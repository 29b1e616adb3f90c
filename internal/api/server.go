package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/saaga0h/jeeves-rtls/internal/history"
)

// HistoryReader is the read side of the history service
type HistoryReader interface {
	GetHistory(ctx context.Context, q history.HistoryQuery) ([]history.Interval, error)
	GetContacts(ctx context.Context, q history.ContactQuery) ([]history.ContactEvent, error)
}

// Server exposes zone history and contacts over HTTP
type Server struct {
	history HistoryReader
	logger  *slog.Logger
}

// NewServer creates the query API
func NewServer(reader HistoryReader, logger *slog.Logger) *Server {
	return &Server{history: reader, logger: logger}
}

// errMalformedParam marks query parameters that do not parse
var errMalformedParam = errors.New("malformed query parameter")

// HistoryResponse is the body of the history endpoint
type HistoryResponse struct {
	TagID     string             `json:"tag_id"`
	Start     *time.Time         `json:"start,omitempty"`
	End       *time.Time         `json:"end,omitempty"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
	Intervals []history.Interval `json:"intervals"`
}

// ContactsResponse is the body of the contacts endpoint
type ContactsResponse struct {
	TagID    string                 `json:"tag_id"`
	Start    *time.Time             `json:"start,omitempty"`
	End      *time.Time             `json:"end,omitempty"`
	Limit    int                    `json:"limit"`
	Offset   int                    `json:"offset"`
	Contacts []history.ContactEvent `json:"contacts"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Router returns the API routes
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/tags/{tag_id}/history", s.getHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/tags/{tag_id}/contacts", s.getContacts).Methods(http.MethodGet)

	return r
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	tagID := mux.Vars(r)["tag_id"]

	window, limit, offset, err := parseQuery(r, history.DefaultHistoryLimit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	q := history.HistoryQuery{TagID: tagID, Range: window, Limit: limit, Offset: offset}
	intervals, err := s.history.GetHistory(r.Context(), q)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := HistoryResponse{TagID: tagID, Limit: limit, Offset: offset, Intervals: intervals}
	resp.Start, resp.End = bounds(window)
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getContacts(w http.ResponseWriter, r *http.Request) {
	tagID := mux.Vars(r)["tag_id"]

	window, limit, offset, err := parseQuery(r, history.DefaultContactLimit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	q := history.ContactQuery{TagID: tagID, Range: window, Limit: limit, Offset: offset}
	contacts, err := s.history.GetContacts(r.Context(), q)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := ContactsResponse{TagID: tagID, Limit: limit, Offset: offset, Contacts: contacts}
	resp.Start, resp.End = bounds(window)
	s.writeJSON(w, http.StatusOK, resp)
}

// parseQuery reads the optional start/end window and the page parameters
func parseQuery(r *http.Request, defaultLimit int) (*history.TimeRange, int, int, error) {
	window, err := parseWindow(r)
	if err != nil {
		return nil, 0, 0, err
	}
	limit, err := intParam(r, "limit", defaultLimit)
	if err != nil {
		return nil, 0, 0, err
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		return nil, 0, 0, err
	}
	return window, limit, offset, nil
}

// parseWindow reads start/end as ISO 8601. Both or neither must be given.
func parseWindow(r *http.Request) (*history.TimeRange, error) {
	rawStart, rawEnd := r.URL.Query().Get("start"), r.URL.Query().Get("end")
	if rawStart == "" && rawEnd == "" {
		return nil, nil
	}

	var start, end time.Time
	var err error
	if rawStart != "" {
		if start, err = parseTimestamp(rawStart); err != nil {
			return nil, fmt.Errorf("%w: start: %v", errMalformedParam, err)
		}
	}
	if rawEnd != "" {
		if end, err = parseTimestamp(rawEnd); err != nil {
			return nil, fmt.Errorf("%w: end: %v", errMalformedParam, err)
		}
	}
	if rawStart == "" || rawEnd == "" {
		return nil, fmt.Errorf("%w: start and end are both required", history.ErrInvalidArgument)
	}
	return &history.TimeRange{Start: start, End: end}, nil
}

// parseTimestamp accepts RFC 3339 and zone-less ISO 8601, which is read as UTC
func parseTimestamp(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02T15:04:05", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is not an ISO 8601 timestamp", raw)
	}
	return t.UTC(), nil
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", errMalformedParam, name)
	}
	return v, nil
}

func bounds(window *history.TimeRange) (*time.Time, *time.Time) {
	if window == nil {
		return nil, nil
	}
	start, end := window.Start, window.End
	return &start, &end
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errMalformedParam):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, history.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, history.ErrTagNotFound):
		status = http.StatusNotFound
	default:
		s.logger.Error("Query failed", "error", err)
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}
