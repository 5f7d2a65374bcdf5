package datasource

import (
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/seenimoa/stockpulse/pkg/models"
)

// feedToHeadlines converts parsed RSS items to headlines, newest first.
// Items without a title and repeated titles are dropped.
func feedToHeadlines(feed *gofeed.Feed, source string) []models.Headline {
	if feed == nil {
		return nil
	}
	seen := make(map[string]bool, len(feed.Items))
	out := make([]models.Headline, 0, len(feed.Items))
	for _, item := range feed.Items {
		title := cleanHTML(item.Title)
		if title == "" || seen[strings.ToLower(title)] {
			continue
		}
		seen[strings.ToLower(title)] = true

		h := models.Headline{
			Title:   title,
			URL:     item.Link,
			Source:  source,
			Summary: cleanHTML(item.Description),
		}
		if item.PublishedParsed != nil {
			h.PublishedAt = *item.PublishedParsed
		}
		out = append(out, h)
	}
	sortHeadlinesByDate(out)
	return out
}

// cleanHTML strips HTML tags from a string using goquery.
func cleanHTML(s string) string {
	if s == "" {
		return ""
	}
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + s + "</body>"))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// sortHeadlinesByDate sorts newest first; undated items sink to the end.
func sortHeadlinesByDate(h []models.Headline) {
	sort.SliceStable(h, func(i, j int) bool {
		return h[i].PublishedAt.After(h[j].PublishedAt)
	})
}
