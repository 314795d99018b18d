package collect

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"osintwatch/internal/database"
)

const (
	pastebinSourceName = "Pastebin Archive"
	maxPasteBytes      = 5000
	pasteUserAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

type pasteRef struct {
	ID    string
	Title string
	URL   string
}

// collectPastebin scrapes the public archive for recent pastes and ingests
// ones whose body matches the watchlist.
func (c *Collector) collectPastebin(r *Result, keywords []database.Keyword) {
	cfg := c.cfg.Sources.Pastebin

	sourceID, err := c.db.UpsertSource(pastebinSourceName, cfg.ArchiveURL, "pastebin", cfg.Credibility)
	if err != nil {
		log.Printf("Failed to register pastebin source: %v", err)
		return
	}

	client := &http.Client{Timeout: 10 * time.Second}
	pastes, err := fetchRecentPastes(client, cfg.ArchiveURL)
	if err != nil {
		log.Printf("Failed to fetch pastebin archive: %v", err)
		return
	}

	limit := cfg.MaxPastes
	if limit <= 0 || limit > len(pastes) {
		limit = len(pastes)
	}
	collected := database.FormatTimestamp(database.UTCNow())

	for _, paste := range pastes[:limit] {
		content, err := fetchPasteContent(client, paste.URL)
		if err != nil {
			log.Printf("Failed to fetch paste %s: %v", paste.ID, err)
			continue
		}
		if content == "" {
			continue
		}

		c.ingest(r, sourceID, pastebinSourceName, "pastebin", keywords, Item{
			URL:         paste.URL,
			Title:       paste.Title,
			Content:     content,
			PublishedAt: collected, // archive rows carry no usable timestamp
		})
	}
}

// fetchRecentPastes parses the archive table into paste references.
func fetchRecentPastes(client *http.Client, archiveURL string) ([]pasteRef, error) {
	body, err := httpGet(client, archiveURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parsing archive page: %w", err)
	}

	var pastes []pasteRef
	doc.Find("table.maintable tr").Each(func(i int, row *goquery.Selection) {
		if i == 0 {
			return // header row
		}
		link := row.Find("td").First().Find("a").First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		pasteID := strings.Trim(href, "/")
		if pasteID == "" {
			return
		}
		title := strings.TrimSpace(link.Text())
		if title == "" {
			title = "Untitled"
		}
		pastes = append(pastes, pasteRef{
			ID:    pasteID,
			Title: title,
			URL:   "https://pastebin.com/" + pasteID,
		})
	})
	return pastes, nil
}

// fetchPasteContent fetches the raw paste body, bounded in size.
func fetchPasteContent(client *http.Client, pasteURL string) (string, error) {
	rawURL := strings.Replace(pasteURL, "pastebin.com/", "pastebin.com/raw/", 1)
	body, err := httpGet(client, rawURL)
	if err != nil {
		return "", err
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, maxPasteBytes))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func httpGet(client *http.Client, url string) (io.ReadCloser, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", pasteUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return resp.Body, nil
}
