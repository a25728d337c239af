// Package httpapi serves the read-only JSON views, health and metrics.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/vi13x/classbank/internal/domain"
	"github.com/vi13x/classbank/internal/engine"
	"github.com/vi13x/classbank/internal/metrics"
	"github.com/vi13x/classbank/internal/report"
)

const dateLayout = "2006-01-02"

type Server struct {
	eng    *engine.Engine
	log    logrus.FieldLogger
	router *mux.Router
}

func New(eng *engine.Engine, log logrus.FieldLogger) *Server {
	s := &Server{eng: eng, log: log, router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.observe)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/settings", s.handleSettings).Methods(http.MethodGet)
	api.HandleFunc("/jobs", s.handleJobs).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}/statement.csv", s.handleStatement).Methods(http.MethodGet)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// handleHealth reports ok when the store answers a settings read.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.eng.Settings(r.Context()); err != nil {
		s.log.WithError(err).Warn("health check failed")
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.eng.Settings(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := engine.JobFilter{
		State:      engine.JobState(q.Get("status")),
		AssignedTo: domain.AccountID(q.Get("assignee")),
	}
	switch f.State {
	case "", engine.StateOpen, engine.StateOccupied, engine.StateCompleted:
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", f.State))
		return
	}
	jobs, err := s.eng.ListJobs(r.Context(), f)
	if err != nil {
		s.fail(w, err)
		return
	}
	if jobs == nil {
		jobs = []*engine.JobListing{}
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := domain.AccountID(mux.Vars(r)["id"])
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	if _, err := s.eng.Account(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	txs, err := s.eng.History(r.Context(), id, limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	if txs == nil {
		txs = []*domain.Transaction{}
	}
	s.writeJSON(w, http.StatusOK, txs)
}

// handleStatement streams a CSV statement, optionally bounded by from/to dates.
func (s *Server) handleStatement(w http.ResponseWriter, r *http.Request) {
	id := domain.AccountID(mux.Vars(r)["id"])
	var rng report.Range
	q := r.URL.Query()
	if q.Get("from") != "" || q.Get("to") != "" {
		from, err1 := parseDate(q.Get("from"))
		to, err2 := parseDate(q.Get("to"))
		if err := errors.Join(err1, err2); err != nil {
			s.writeError(w, http.StatusBadRequest, "dates must look like 2006-01-02")
			return
		}
		if to.IsZero() {
			rng = report.Range{From: from}
		} else {
			rng = report.Day(from, to)
		}
	}
	acct, err := s.eng.Account(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	txs, err := s.eng.History(r.Context(), id, 0)
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="statement_%s.csv"`, acct.AccountNumber))
	if _, err := report.WriteStatement(w, id, txs, rng); err != nil {
		s.log.WithError(err).WithField("account", id).Warn("statement write failed")
	}
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(dateLayout, raw, time.UTC)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusOf(engine.KindOf(err))
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).Error("request failed")
		s.writeError(w, status, "internal error")
		return
	}
	s.writeError(w, status, err.Error())
}

func statusOf(kind engine.Kind) int {
	switch kind {
	case engine.KindValidation, engine.KindAmountFormat, engine.KindSelfTransfer:
		return http.StatusBadRequest
	case engine.KindInvalidRole:
		return http.StatusForbidden
	case engine.KindNotFound:
		return http.StatusNotFound
	case engine.KindConflict, engine.KindInsufficientFunds:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON logs encode failures; the status line is already sent by then.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.WithError(err).Warn("encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
