package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"osintwatch/internal/config"
	"osintwatch/internal/database"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestServer(t *testing.T, db *database.DB) *Server {
	t.Helper()
	srv, err := New(db, &config.Config{})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv
}

func seedAlert(t *testing.T, db *database.DB, title, severity string, risk float64) int64 {
	t.Helper()
	sourceID, err := db.UpsertSource("feed", "https://feed.example.com", "rss", 0.7)
	if err != nil {
		t.Fatalf("upserting source: %v", err)
	}
	keywordID, err := db.UpsertKeyword("doxxing", "protective_intel", 3.0)
	if err != nil {
		t.Fatalf("upserting keyword: %v", err)
	}
	published := database.FormatTimestamp(database.UTCNow())
	id, err := db.InsertAlert(&database.Alert{
		SourceID:    sourceID,
		KeywordID:   keywordID,
		Title:       title,
		URL:         "https://feed.example.com/" + strings.ReplaceAll(title, " ", "-"),
		MatchedTerm: "doxxing",
		Severity:    severity,
		PublishedAt: &published,
	})
	if err != nil {
		t.Fatalf("inserting alert: %v", err)
	}
	if err := db.UpdateAlertScores(id, risk, risk, 0, severity); err != nil {
		t.Fatalf("scoring alert: %v", err)
	}
	return id
}

func doJSON(t *testing.T, srv *Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	decoded := make(map[string]any)
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decoding response from %s %s: %v", method, path, err)
		}
	}
	return rec.Code, decoded
}

func TestIndexRoute(t *testing.T) {
	db := openTestDB(t)
	seedAlert(t, db, "doxxing thread targets executive", "high", 75.0)
	srv := newTestServer(t, db)

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Monitor Status") {
		t.Error("expected 'Monitor Status' in response body")
	}
	if !strings.Contains(body, "doxxing thread targets executive") {
		t.Error("expected seeded alert title in response body")
	}
}

func TestStaticRoute(t *testing.T) {
	db := openTestDB(t)
	srv := newTestServer(t, db)

	req := httptest.NewRequest("GET", "/static/style.css", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "--accent") {
		t.Error("expected CSS content")
	}
}

func TestAlertsAPI(t *testing.T) {
	db := openTestDB(t)
	seedAlert(t, db, "critical incident", "critical", 92.0)
	seedAlert(t, db, "routine mention", "low", 12.0)
	srv := newTestServer(t, db)

	code, body := doJSON(t, srv, "GET", "/api/alerts", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if int(body["count"].(float64)) != 2 {
		t.Errorf("expected 2 alerts, got %v", body["count"])
	}

	// Severity filter narrows the list.
	code, body = doJSON(t, srv, "GET", "/api/alerts?severity=critical", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	alerts := body["alerts"].([]any)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 critical alert, got %d", len(alerts))
	}
	first := alerts[0].(map[string]any)
	if first["title"] != "critical incident" {
		t.Errorf("unexpected alert: %v", first["title"])
	}

	// Limit is clamped, not rejected.
	code, _ = doJSON(t, srv, "GET", "/api/alerts?limit=99999", "")
	if code != http.StatusOK {
		t.Errorf("expected 200 for oversized limit, got %d", code)
	}

	code, _ = doJSON(t, srv, "GET", "/api/alerts?reviewed=maybe", "")
	if code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad reviewed value, got %d", code)
	}
}

func TestAlertSummaryAPI(t *testing.T) {
	db := openTestDB(t)
	seedAlert(t, db, "critical incident", "critical", 92.0)
	srv := newTestServer(t, db)

	code, body := doJSON(t, srv, "GET", "/api/alerts/summary", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if int(body["total_alerts"].(float64)) != 1 {
		t.Errorf("expected total_alerts 1, got %v", body["total_alerts"])
	}
	if int(body["unreviewed_alerts"].(float64)) != 1 {
		t.Errorf("expected unreviewed_alerts 1, got %v", body["unreviewed_alerts"])
	}
}

func TestAlertReviewAPI(t *testing.T) {
	db := openTestDB(t)
	alertID := seedAlert(t, db, "critical incident", "critical", 92.0)
	srv := newTestServer(t, db)

	code, body := doJSON(t, srv, "PATCH",
		"/api/alerts/"+itoa(alertID)+"/review", `{"outcome":"true_positive"}`)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", code, body)
	}
	if body["reviewed"] != true {
		t.Error("expected reviewed true in response")
	}
	if body["source_credibility"].(float64) <= 0 {
		t.Errorf("expected updated credibility, got %v", body["source_credibility"])
	}

	// The alert no longer shows up as unreviewed.
	reviewed := false
	alerts, err := db.ListAlerts("", &reviewed, 10, 0)
	if err != nil {
		t.Fatalf("listing alerts: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("expected no unreviewed alerts, got %d", len(alerts))
	}

	// The source's true-positive tally moved.
	sources, err := db.ListSources()
	if err != nil {
		t.Fatalf("listing sources: %v", err)
	}
	if len(sources) != 1 || sources[0].TruePositives != 1 {
		t.Errorf("expected one source with 1 true positive, got %+v", sources)
	}

	code, _ = doJSON(t, srv, "PATCH", "/api/alerts/"+itoa(alertID)+"/review", `{"outcome":"maybe"}`)
	if code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid outcome, got %d", code)
	}

	code, _ = doJSON(t, srv, "PATCH", "/api/alerts/999999/review", `{"outcome":"false_positive"}`)
	if code != http.StatusNotFound {
		t.Errorf("expected 404 for missing alert, got %d", code)
	}
}

func TestThreadsAPI(t *testing.T) {
	db := openTestDB(t)
	srv := newTestServer(t, db)

	code, body := doJSON(t, srv, "GET", "/api/threads?days=7&window_hours=24", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if int(body["count"].(float64)) != 0 {
		t.Errorf("expected 0 threads on empty store, got %v", body["count"])
	}
}

func TestKeywordsAPI(t *testing.T) {
	db := openTestDB(t)
	srv := newTestServer(t, db)

	code, created := doJSON(t, srv, "POST", "/api/keywords",
		`{"term":"bomb threat","category":"protective_intel","weight":4.0}`)
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	keywordID := int64(created["id"].(float64))
	if keywordID == 0 {
		t.Fatal("expected keyword id in response")
	}

	// Defaults fill in when omitted.
	code, created = doJSON(t, srv, "POST", "/api/keywords", `{"term":"surveillance"}`)
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	if created["category"] != "general" || created["weight"].(float64) != 1.0 {
		t.Errorf("expected defaults applied, got %v", created)
	}

	code, _ = doJSON(t, srv, "POST", "/api/keywords", `{"term":"  "}`)
	if code != http.StatusBadRequest {
		t.Errorf("expected 400 for blank term, got %d", code)
	}

	code, body := doJSON(t, srv, "GET", "/api/keywords", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if int(body["count"].(float64)) != 2 {
		t.Errorf("expected 2 keywords, got %v", body["count"])
	}

	code, _ = doJSON(t, srv, "DELETE", "/api/keywords/"+itoa(keywordID), "")
	if code != http.StatusOK {
		t.Errorf("expected 200 deleting keyword, got %d", code)
	}
	code, _ = doJSON(t, srv, "DELETE", "/api/keywords/"+itoa(keywordID), "")
	if code != http.StatusNotFound {
		t.Errorf("expected 404 deleting twice, got %d", code)
	}
}

func TestSourcesAPI(t *testing.T) {
	db := openTestDB(t)
	seedAlert(t, db, "critical incident", "critical", 92.0)
	srv := newTestServer(t, db)

	code, body := doJSON(t, srv, "GET", "/api/sources", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	sources := body["sources"].([]any)
	if len(sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(sources))
	}
	src := sources[0].(map[string]any)
	if src["source_type"] != "rss" {
		t.Errorf("unexpected source: %v", src)
	}
}

func TestReportAPI(t *testing.T) {
	db := openTestDB(t)
	seedAlert(t, db, "critical incident", "critical", 92.0)
	srv := newTestServer(t, db)

	code, body := doJSON(t, srv, "GET", "/api/report", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if body["report_date"] == "" {
		t.Error("expected report_date in response")
	}

	req := httptest.NewRequest("GET", "/api/report?format=markdown", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "# Daily Intelligence Report") {
		t.Error("expected markdown report body")
	}

	code, _ = doJSON(t, srv, "GET", "/api/report?date=not-a-date", "")
	if code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad date, got %d", code)
	}
}

func TestReportPage(t *testing.T) {
	db := openTestDB(t)
	seedAlert(t, db, "critical incident", "critical", 92.0)
	srv := newTestServer(t, db)

	req := httptest.NewRequest("GET", "/report/", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Daily Intelligence Report") {
		t.Error("expected rendered report heading")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	db := openTestDB(t)
	srv := newTestServer(t, db)

	code, _ := doJSON(t, srv, "DELETE", "/api/alerts", "")
	if code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", code)
	}
	code, _ = doJSON(t, srv, "GET", "/api/keywords/7", "")
	if code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", code)
	}
}

func TestMetricsRoute(t *testing.T) {
	db := openTestDB(t)
	srv := newTestServer(t, db)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
