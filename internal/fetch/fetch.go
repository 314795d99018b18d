// Package fetch enriches thin alerts with full page text via HTTP +
// readability extraction.
package fetch

import (
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"osintwatch/internal/database"
)

const maxFetchBatch = 50

// Result holds the results of a content fetch run.
type Result struct {
	Fetched int
	Failed  int
}

// ContentFetcher fetches full alert text for http(s) alerts with empty content.
type ContentFetcher struct {
	db     *database.DB
	client *http.Client
}

// NewContentFetcher creates a new content fetcher.
func NewContentFetcher(db *database.DB, timeout time.Duration) *ContentFetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &ContentFetcher{
		db: db,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// FetchMissingContent fetches content for alerts that have none. A hard HTTP
// failure skips the rest of that domain for the run.
func (f *ContentFetcher) FetchMissingContent() *Result {
	alerts, err := f.db.AlertsNeedingContent(maxFetchBatch)
	if err != nil {
		log.Printf("Error listing alerts needing content: %v", err)
		return &Result{}
	}
	if len(alerts) == 0 {
		log.Println("No alerts need content fetching")
		return &Result{}
	}

	result := &Result{}
	failedDomains := make(map[string]struct{})

	for _, alert := range alerts {
		u, _ := url.Parse(alert.URL)
		domain := ""
		if u != nil {
			domain = strings.ToLower(u.Host)
		}

		if _, failed := failedDomains[domain]; failed {
			result.Failed++
			continue
		}

		content, httpErr := f.fetchPageContent(alert.URL)
		if httpErr != nil {
			result.Failed++
			if domain != "" {
				failedDomains[domain] = struct{}{}
			}
			log.Printf("HTTP error for %s — skipping remaining from %s", alert.URL, domain)
			continue
		}

		if content != "" {
			if err := f.db.UpdateAlertContent(alert.ID, content); err != nil {
				log.Printf("Failed to store content for alert %d: %v", alert.ID, err)
				result.Failed++
				continue
			}
			result.Fetched++
			log.Printf("Fetched content for: %s", alert.Title)
		} else {
			result.Failed++
			log.Printf("No extractable content from: %s", alert.URL)
		}
	}

	log.Printf("Content fetch complete: %d fetched, %d failed", result.Fetched, result.Failed)
	return result
}

func (f *ContentFetcher) fetchPageContent(pageURL string) (string, error) {
	req, err := http.NewRequest(http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "osintwatch/1.0 (protective intelligence monitor)")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", nil // connection error, not HTTP error
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &httpError{code: resp.StatusCode}
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil
	}

	parsedURL, _ := url.Parse(pageURL)
	page, err := readability.FromReader(strings.NewReader(string(bodyBytes)), parsedURL)
	if err != nil {
		return "", nil
	}

	text := strings.TrimSpace(page.TextContent)
	if len(text) > 100 {
		return truncate(text, 10000), nil
	}
	return "", nil
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return http.StatusText(e.code)
}
