package collect

import (
	"log"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"osintwatch/internal/database"
)

const maxPerFeed = 20

// collectFeeds parses every configured feed and ingests matching entries.
func (c *Collector) collectFeeds(r *Result, keywords []database.Keyword) {
	cutoff := time.Now().UTC().AddDate(0, 0, -c.daysBack)
	parser := gofeed.NewParser()

	for _, fc := range c.cfg.Sources.Feeds {
		sourceID, err := c.db.UpsertSource(fc.Name, fc.URL, fc.SourceType, fc.Credibility)
		if err != nil {
			log.Printf("Failed to register source %s: %v", fc.Name, err)
			continue
		}

		items, err := parseFeed(parser, fc.URL, cutoff)
		if err != nil {
			log.Printf("Failed to parse feed %s: %v", fc.URL, err)
			continue
		}
		log.Printf("Parsed %d entries from %s (within %d days)", len(items), fc.Name, c.daysBack)

		for _, item := range items {
			c.ingest(r, sourceID, fc.Name, fc.SourceType, keywords, item)
		}
	}
}

func parseFeed(parser *gofeed.Parser, feedURL string, cutoff time.Time) ([]Item, error) {
	feed, err := parser.ParseURL(feedURL)
	if err != nil {
		return nil, err
	}

	var items []Item
	for _, entry := range feed.Items {
		if len(items) >= maxPerFeed {
			break
		}

		item := parseItem(entry)
		if item == nil {
			continue
		}
		if withinWindow(item.PublishedAt, cutoff) {
			items = append(items, *item)
		}
	}
	return items, nil
}

func parseItem(entry *gofeed.Item) *Item {
	itemURL := entry.Link
	if itemURL == "" {
		itemURL = entry.GUID
	}
	if itemURL == "" {
		return nil
	}

	title := strings.TrimSpace(entry.Title)
	if title == "" {
		return nil
	}

	var publishedAt string
	if entry.PublishedParsed != nil {
		publishedAt = database.FormatTimestamp(*entry.PublishedParsed)
	} else if entry.UpdatedParsed != nil {
		publishedAt = database.FormatTimestamp(*entry.UpdatedParsed)
	}

	var content string
	if entry.Content != "" {
		content = stripHTML(entry.Content)
	} else if entry.Description != "" {
		content = stripHTML(entry.Description)
	}

	return &Item{
		URL:         itemURL,
		Title:       title,
		Content:     content,
		PublishedAt: publishedAt,
	}
}

func withinWindow(publishedAt string, cutoff time.Time) bool {
	if publishedAt == "" {
		return true // benefit of the doubt
	}
	ts, ok := database.ParseTimestamp(publishedAt)
	if !ok {
		return true
	}
	return !ts.Before(cutoff)
}

func stripHTML(text string) string {
	var result strings.Builder
	inTag := false
	for _, r := range text {
		if r == '<' {
			inTag = true
			result.WriteRune(' ')
			continue
		}
		if r == '>' {
			inTag = false
			continue
		}
		if !inTag {
			result.WriteRune(r)
		}
	}

	s := result.String()
	// Decode common entities
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", `"`)
	s = strings.ReplaceAll(s, "&#39;", "'")

	return strings.Join(strings.Fields(s), " ")
}
