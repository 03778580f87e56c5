package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"eventcal/internal/config"
	"eventcal/internal/datasource"
	"eventcal/internal/eventindex"
	appLog "eventcal/internal/log"
	"eventcal/internal/model"
)

// Server exposes the upcoming and past month/day indexes and the save and
// remove operations over JSON.
type Server struct {
	cfg      *config.Config
	mux      *http.ServeMux
	upcoming *datasource.Source
	past     *datasource.Source
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, upcoming, past *datasource.Source) *Server {
	s := &Server{
		cfg:      cfg,
		mux:      http.NewServeMux(),
		upcoming: upcoming,
		past:     past,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="eventcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/months", s.handleMonths)
	s.mux.HandleFunc("GET /api/day", s.handleDay)
	s.mux.HandleFunc("POST /api/events", s.handleSave)
	s.mux.HandleFunc("DELETE /api/events/{id}", s.handleRemove)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// source picks the data source from ?scope=upcoming|past.
func (s *Server) source(r *http.Request) (*datasource.Source, bool) {
	switch r.URL.Query().Get("scope") {
	case "", "upcoming":
		return s.upcoming, s.upcoming != nil
	case "past":
		return s.past, s.past != nil
	default:
		return nil, false
	}
}

type dayDTO struct {
	Date   string               `json:"date"`
	Path   eventindex.IndexPath `json:"path"`
	Count  int                  `json:"count"`
	Events []model.Event        `json:"events"`
}

type monthDTO struct {
	Month string   `json:"month"`
	Count int      `json:"count"`
	Days  []dayDTO `json:"days"`
}

type monthsResponse struct {
	Scope    string     `json:"scope"`
	TimeZone string     `json:"timezone"`
	Months   []monthDTO `json:"months"`
}

// handleMonths renders the whole index in section/item order.
//
// GET /api/months?scope=upcoming
func (s *Server) handleMonths(w http.ResponseWriter, r *http.Request) {
	src, ok := s.source(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown scope")
		return
	}
	idx := src.Index()

	resp := monthsResponse{
		Scope:    src.Direction().String(),
		TimeZone: idx.Location().String(),
		Months:   make([]monthDTO, 0, idx.MonthCount()),
	}
	for section := 0; section < idx.MonthCount(); section++ {
		monthDate, _ := idx.Month(section)
		m, _ := idx.EventsForMonthAt(section)
		md := monthDTO{
			Month: monthDate.Format("2006-01"),
			Count: m.EventCount(),
			Days:  make([]dayDTO, 0, m.DayCount()),
		}
		days, _ := idx.DaysForMonth(section)
		for item, day := range days {
			p := eventindex.IndexPath{Section: section, Item: item}
			events, _ := idx.EventsForDayAt(p)
			md.Days = append(md.Days, dayDTO{Date: dayLabel(day, idx), Path: p, Count: len(events), Events: events})
		}
		resp.Months = append(resp.Months, md)
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleDay returns one day's events.
//
// GET /api/day?date=2026-03-10&scope=upcoming
func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	src, ok := s.source(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown scope")
		return
	}
	idx := src.Index()

	date, err := time.ParseInLocation("2006-01-02", r.URL.Query().Get("date"), idx.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	p, ok := idx.IndexPathForDay(date)
	if !ok {
		writeError(w, http.StatusNotFound, "no events on that day")
		return
	}
	events, _ := idx.EventsForDayAt(p)
	writeJSON(w, http.StatusOK, dayDTO{Date: date.Format("2006-01-02"), Path: p, Count: len(events), Events: events})
}

// saveRequest is the JSON body of POST /api/events. A missing ID creates.
type saveRequest struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Location string    `json:"location"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	AllDay   bool      `json:"all_day"`
}

// handleSave creates or updates an event and returns the update plan.
//
// POST /api/events?scope=upcoming
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	src, ok := s.source(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown scope")
		return
	}

	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ev := model.Event{
		ID:       req.ID,
		Title:    req.Title,
		Location: req.Location,
		Start:    req.Start,
		End:      req.End,
		AllDay:   req.AllDay,
	}
	if existing, found := src.Find(req.ID); found {
		ev.SourceID = existing.SourceID
		ev.Recurring = existing.Recurring
	}

	upd, err := src.Save(r.Context(), ev, true)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusOK
	if upd.Presave.Snapshot.IsNew {
		status = http.StatusCreated
	}
	writeJSON(w, status, upd)
}

// handleRemove deletes an event by ID.
//
// DELETE /api/events/{id}?scope=upcoming
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	src, ok := s.source(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown scope")
		return
	}
	ev, found := src.Find(r.PathValue("id"))
	if !found {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	upd, err := src.Remove(r.Context(), ev, true)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, upd)
}

// handleRefresh refetches both scopes.
//
// POST /api/refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var errs []error
	for _, src := range []*datasource.Source{s.upcoming, s.past} {
		if src == nil {
			continue
		}
		if err := src.Refetch(r.Context()); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"upcoming": count(s.upcoming), "past": count(s.past)})
}

func count(src *datasource.Source) int {
	if src == nil {
		return 0
	}
	return src.Len()
}

func dayLabel(day time.Time, idx *eventindex.Index) string {
	if day.Equal(eventindex.RecurringDay(idx.Location())) {
		return "recurring"
	}
	return day.Format("2006-01-02")
}

// writeDomainError maps datasource errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, datasource.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, datasource.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, datasource.ErrFetchInProgress):
		writeError(w, http.StatusConflict, err.Error())
	default:
		appLog.Error("api request failed", err)
		writeError(w, http.StatusInternalServerError, strings.SplitN(err.Error(), ":", 2)[0])
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
