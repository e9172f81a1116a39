package sources

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/atom"
	"github.com/mmcdole/gofeed/rss"
)

var (
	threadIDPattern  = regexp.MustCompile(`/comments/([a-z0-9]+)`)
	subredditPattern = regexp.MustCompile(`/r/([A-Za-z0-9_]+)(?:/|$)`)
)

// FeedEntry is one syndication entry, independent of the dialect it came from
type FeedEntry struct {
	ID        string
	Title     string
	Link      string
	Author    string
	Published time.Time
	Body      string
	// Subreddit is empty when neither the link nor a category names one
	Subreddit string
}

// ParseFeed detects whether data is Atom or RSS and extracts its entries.
// When detection is inconclusive Atom is attempted first, then RSS.
func ParseFeed(data []byte) ([]FeedEntry, error) {
	switch gofeed.DetectFeedType(bytes.NewReader(data)) {
	case gofeed.FeedTypeAtom:
		return parseAtom(data)
	case gofeed.FeedTypeRSS:
		return parseRSS(data)
	}

	entries, atomErr := parseAtom(data)
	if atomErr == nil {
		return entries, nil
	}
	entries, rssErr := parseRSS(data)
	if rssErr == nil {
		return entries, nil
	}
	return nil, fmt.Errorf("unrecognized feed format (atom: %v, rss: %v)", atomErr, rssErr)
}

func parseAtom(data []byte) ([]FeedEntry, error) {
	fp := &atom.Parser{}
	feed, err := fp.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse atom feed: %w", err)
	}

	entries := make([]FeedEntry, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		if e == nil {
			continue
		}

		entry := FeedEntry{
			Title:     e.Title,
			Link:      atomLink(e.Links),
			Published: pickTime(e.PublishedParsed, e.UpdatedParsed, e.Published, e.Updated),
		}
		if len(e.Authors) > 0 && e.Authors[0] != nil {
			entry.Author = e.Authors[0].Name
		}
		if e.Content != nil && e.Content.Value != "" {
			entry.Body = e.Content.Value
		} else {
			entry.Body = e.Summary
		}
		entry.ID = extractThreadID(entry.Link, e.ID)
		var categories []string
		for _, c := range e.Categories {
			if c != nil {
				categories = append(categories, c.Term, c.Label)
			}
		}
		entry.Subreddit = extractSubreddit(entry.Link, categories)

		entries = append(entries, entry)
	}

	return entries, nil
}

func parseRSS(data []byte) ([]FeedEntry, error) {
	rp := &rss.Parser{}
	feed, err := rp.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse rss feed: %w", err)
	}

	entries := make([]FeedEntry, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}

		link := item.Link
		guid := ""
		if item.GUID != nil {
			guid = item.GUID.Value
		}
		if link == "" && strings.HasPrefix(guid, "http") {
			link = guid
		}

		entry := FeedEntry{
			Title:     item.Title,
			Link:      link,
			Author:    item.Author,
			Published: pickTime(item.PubDateParsed, nil, item.PubDate, ""),
		}
		if entry.Author == "" && item.DublinCoreExt != nil && len(item.DublinCoreExt.Creator) > 0 {
			entry.Author = item.DublinCoreExt.Creator[0]
		}
		if item.Content != "" {
			entry.Body = item.Content
		} else {
			entry.Body = item.Description
		}
		entry.ID = extractThreadID(link, guid)
		var categories []string
		for _, c := range item.Categories {
			if c != nil {
				categories = append(categories, c.Value)
			}
		}
		entry.Subreddit = extractSubreddit(link, categories)

		entries = append(entries, entry)
	}

	return entries, nil
}

func atomLink(links []*atom.Link) string {
	for _, l := range links {
		if l != nil && (l.Rel == "" || l.Rel == "alternate") && l.Href != "" {
			return l.Href
		}
	}
	for _, l := range links {
		if l != nil && l.Href != "" {
			return l.Href
		}
	}
	return ""
}

func pickTime(primary, secondary *time.Time, raw, rawAlt string) time.Time {
	if primary != nil {
		return primary.UTC()
	}
	if secondary != nil {
		return secondary.UTC()
	}
	for _, s := range []string{raw, rawAlt} {
		if s == "" {
			continue
		}
		if t, err := dateparse.ParseAny(s); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

// extractThreadID returns the thread identifier embedded in a link, then in a "t3_" style
// entry id, and finally a synthesized id.
func extractThreadID(link, entryID string) string {
	if m := threadIDPattern.FindStringSubmatch(link); len(m) == 2 {
		return m[1]
	}
	if id, ok := strings.CutPrefix(entryID, "t3_"); ok && id != "" {
		return id
	}
	return fallbackID()
}

// extractSubreddit returns the community an entry was posted in, taken from its link
// and then from its categories ("solar" or "r/solar")
func extractSubreddit(link string, categories []string) string {
	if m := subredditPattern.FindStringSubmatch(link); len(m) == 2 {
		return m[1]
	}
	for _, c := range categories {
		c = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(c), "/"), "r/")
		if c != "" && !strings.ContainsAny(c, " /") {
			return c
		}
	}
	return ""
}

// fallbackID synthesizes an id from the clock and a random suffix. Real thread ids are
// lowercase base36 without underscores, so the "gen_" prefix keeps the two spaces apart.
func fallbackID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("gen_%d_%s", time.Now().UnixNano(), suffix)
}

// IsSynthesizedID reports whether id came from fallbackID
func IsSynthesizedID(id string) bool {
	return strings.HasPrefix(id, "gen_")
}
