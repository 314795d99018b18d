// Package server exposes the analyst dashboard and the JSON API.
package server

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yuin/goldmark"

	"osintwatch/internal/config"
	"osintwatch/internal/correlate"
	"osintwatch/internal/database"
	"osintwatch/internal/evaluate"
	"osintwatch/internal/report"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// Server is the HTTP server for the dashboard and API.
type Server struct {
	db      *database.DB
	cfg     *config.Config
	engine  *correlate.Engine
	reports *report.Generator
	pages   map[string]*template.Template
	mux     *http.ServeMux
}

// New creates a new Server.
func New(db *database.DB, cfg *config.Config) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// For each page template, clone the base and parse the page into the clone.
	// This gives each page its own {{define "content"}} and {{define "title"}}.
	pageNames := []string{"index.html", "report.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	engine := correlate.NewEngine(db)
	s := &Server{
		db:      db,
		cfg:     cfg,
		engine:  engine,
		reports: report.NewGenerator(db, engine),
		pages:   pages,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	// Static files
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// HTML pages
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/report/", s.handleReportPage)

	// JSON API
	s.mux.HandleFunc("/api/alerts", s.handleAlerts)
	s.mux.HandleFunc("/api/alerts/summary", s.handleAlertSummary)
	s.mux.HandleFunc("/api/alerts/", s.handleAlertReview)
	s.mux.HandleFunc("/api/threads", s.handleThreads)
	s.mux.HandleFunc("/api/report", s.handleReport)
	s.mux.HandleFunc("/api/eval", s.handleEval)
	s.mux.HandleFunc("/api/keywords", s.handleKeywords)
	s.mux.HandleFunc("/api/keywords/", s.handleKeywordDelete)
	s.mux.HandleFunc("/api/sources", s.handleSources)

	s.mux.Handle("/metrics", promhttp.Handler())
}

// correlationOptions maps configured defaults plus query overrides onto engine
// options. Out-of-range values are clamped by the engine itself.
func (s *Server) correlationOptions(r *http.Request) correlate.Options {
	c := s.cfg.Correlation
	opts := correlate.Options{
		Days:           c.Days,
		WindowHours:    c.WindowHours,
		MinClusterSize: c.MinClusterSize,
		Limit:          c.Limit,
		IncludeDemo:    c.IncludeDemo,
		MinLinkScore:   c.MinLinkScore,
		MaxPairChecks:  c.MaxPairChecks,
	}

	q := r.URL.Query()
	if v, err := strconv.Atoi(q.Get("days")); err == nil {
		opts.Days = v
	}
	if v, err := strconv.Atoi(q.Get("window_hours")); err == nil {
		opts.WindowHours = v
	}
	if v, err := strconv.Atoi(q.Get("min_cluster_size")); err == nil {
		opts.MinClusterSize = v
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		opts.Limit = v
	}
	if v, err := strconv.ParseBool(q.Get("include_demo")); err == nil {
		opts.IncludeDemo = v
	}
	return opts
}

// apiAlert is the wire shape of one alert.
type apiAlert struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	SourceName  string  `json:"source_name"`
	SourceType  string  `json:"source_type"`
	MatchedTerm string  `json:"matched_term"`
	Severity    string  `json:"severity"`
	RiskScore   float64 `json:"risk_score"`
	ORSScore    float64 `json:"ors_score"`
	TASScore    float64 `json:"tas_score"`
	PublishedAt *string `json:"published_at"`
	CreatedAt   *string `json:"created_at"`
	Reviewed    bool    `json:"reviewed"`
	DuplicateOf *int64  `json:"duplicate_of"`
}

func toAPIAlert(a database.Alert) apiAlert {
	return apiAlert{
		ID:          a.ID,
		Title:       a.Title,
		URL:         a.URL,
		SourceName:  a.SourceName,
		SourceType:  a.SourceType,
		MatchedTerm: a.MatchedTerm,
		Severity:    a.Severity,
		RiskScore:   a.RiskScore,
		ORSScore:    a.ORSScore,
		TASScore:    a.TASScore,
		PublishedAt: a.PublishedAt,
		CreatedAt:   a.CreatedAt,
		Reviewed:    a.Reviewed,
		DuplicateOf: a.DuplicateOf,
	}
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()

	severity := strings.ToLower(q.Get("severity"))
	var reviewed *bool
	if v := q.Get("reviewed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "reviewed must be true or false")
			return
		}
		reviewed = &b
	}

	limit := 50
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		limit = v
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 200 {
		limit = 200
	}
	offset := 0
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		offset = v
	}

	alerts, err := s.db.ListAlerts(severity, reviewed, limit, offset)
	if err != nil {
		log.Printf("Error listing alerts: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]apiAlert, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, toAPIAlert(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": out,
		"count":  len(out),
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleAlertSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	stats, err := s.db.Stats()
	if err != nil {
		log.Printf("Error loading stats: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	today := time.Now().UTC().Format("2006-01-02")
	severities, err := s.db.SeverityCounts(today)
	if err != nil {
		log.Printf("Error loading severity counts: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_alerts":      stats.TotalAlerts,
		"unreviewed_alerts": stats.UnreviewedAlerts,
		"duplicates":        stats.Duplicates,
		"sources":           stats.Sources,
		"active_keywords":   stats.ActiveKeywords,
		"pois":              stats.POIs,
		"entities":          stats.Entities,
		"poi_hits":          stats.POIHits,
		"today":             today,
		"today_by_severity": severities,
	})
}

// handleAlertReview handles PATCH /api/alerts/{id}/review. The outcome feeds
// the source's Bayesian credibility update.
func (s *Server) handleAlertReview(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/alerts/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[1] != "review" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPatch && r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	alertID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert id")
		return
	}

	var body struct {
		Outcome string `json:"outcome"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Outcome != "true_positive" && body.Outcome != "false_positive" {
		writeError(w, http.StatusBadRequest, "outcome must be true_positive or false_positive")
		return
	}

	sourceID, err := s.db.MarkReviewed(alertID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	credibility, err := s.db.RecordReviewOutcome(sourceID, body.Outcome == "true_positive")
	if err != nil {
		log.Printf("Error recording review outcome: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alert_id":           alertID,
		"reviewed":           true,
		"outcome":            body.Outcome,
		"source_id":          sourceID,
		"source_credibility": credibility,
	})
}

func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	threads, err := s.engine.BuildThreads(s.correlationOptions(r))
	if err != nil {
		log.Printf("Error building threads: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"threads": threads,
		"count":   len(threads),
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	daily, err := s.reports.DailyReport(date, s.correlationOptions(r))
	if err != nil {
		log.Printf("Error generating report: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		fmt.Fprint(w, daily.Markdown())
		return
	}
	writeJSON(w, http.StatusOK, daily)
}

func (s *Server) handleEval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	dataset, err := evaluate.LoadDefaultDataset()
	if err != nil {
		log.Printf("Error loading evaluation dataset: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	result, err := evaluate.Run(dataset)
	if err != nil {
		log.Printf("Error running evaluation: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		fmt.Fprint(w, evaluate.Markdown(result))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type apiKeyword struct {
	ID       int64   `json:"id"`
	Term     string  `json:"term"`
	Category string  `json:"category"`
	Weight   float64 `json:"weight"`
	Active   bool    `json:"active"`
}

func (s *Server) handleKeywords(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		keywords, err := s.db.ListKeywords()
		if err != nil {
			log.Printf("Error listing keywords: %v", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		out := make([]apiKeyword, 0, len(keywords))
		for _, k := range keywords {
			out = append(out, apiKeyword{k.ID, k.Term, k.Category, k.Weight, k.Active})
		}
		writeJSON(w, http.StatusOK, map[string]any{"keywords": out, "count": len(out)})

	case http.MethodPost:
		var body struct {
			Term     string  `json:"term"`
			Category string  `json:"category"`
			Weight   float64 `json:"weight"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		body.Term = strings.TrimSpace(body.Term)
		if body.Term == "" {
			writeError(w, http.StatusBadRequest, "term is required")
			return
		}
		if body.Category == "" {
			body.Category = "general"
		}
		if body.Weight <= 0 {
			body.Weight = 1.0
		}
		id, err := s.db.UpsertKeyword(body.Term, body.Category, body.Weight)
		if err != nil {
			log.Printf("Error upserting keyword: %v", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		writeJSON(w, http.StatusCreated, apiKeyword{id, body.Term, body.Category, body.Weight, true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleKeywordDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	idStr := strings.TrimPrefix(r.URL.Path, "/api/keywords/")
	keywordID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid keyword id")
		return
	}
	deleted, err := s.db.DeleteKeyword(keywordID)
	if err != nil {
		log.Printf("Error deleting keyword: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "keyword not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": keywordID})
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sources, err := s.db.ListSources()
	if err != nil {
		log.Printf("Error listing sources: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	type apiSource struct {
		ID             int64   `json:"id"`
		Name           string  `json:"name"`
		URL            string  `json:"url"`
		SourceType     string  `json:"source_type"`
		Credibility    float64 `json:"credibility_score"`
		TruePositives  int     `json:"true_positives"`
		FalsePositives int     `json:"false_positives"`
		Active         bool    `json:"active"`
	}
	out := make([]apiSource, 0, len(sources))
	for _, src := range sources {
		out = append(out, apiSource{
			ID: src.ID, Name: src.Name, URL: src.URL, SourceType: src.SourceType,
			Credibility:   src.CredibilityScore,
			TruePositives: src.TruePositives, FalsePositives: src.FalsePositives,
			Active: src.Active,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": out, "count": len(out)})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	stats, err := s.db.Stats()
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	alerts, err := s.db.ListAlerts("", nil, 20, 0)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	threads, _ := s.engine.BuildThreads(s.correlationOptions(r))

	s.render(w, "index.html", map[string]any{
		"Stats":   stats,
		"Alerts":  alerts,
		"Threads": threads,
		"Today":   time.Now().UTC().Format("2006-01-02"),
	})
}

func (s *Server) handleReportPage(w http.ResponseWriter, r *http.Request) {
	date := strings.TrimPrefix(r.URL.Path, "/report/")
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		http.NotFound(w, r)
		return
	}

	daily, err := s.reports.DailyReport(date, s.correlationOptions(r))
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.render(w, "report.html", map[string]any{
		"Date":     date,
		"Markdown": daily.Markdown(),
	})
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		log.Printf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		log.Printf("Error rendering template %s: %v", name, err)
	}
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Serve starts the HTTP server on the given port.
func Serve(db *database.DB, cfg *config.Config) error {
	srv, err := New(db, cfg)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	log.Printf("Server listening on http://%s", addr)
	return http.ListenAndServe(addr, srv.Handler())
}
