package signals

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/foresight/internal/models"
)

// Item is one observation parsed out of a collaborator response
type Item struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Source      string     `json:"source"`
	URL         string     `json:"url"`
	PublishedAt *time.Time `json:"-"`
	Sentiment   string     `json:"sentiment"`
	Confidence  float64    `json:"confidence"`
}

// rawItem accepts the field spellings collaborators commonly use
type rawItem struct {
	Title       string  `json:"title"`
	Headline    string  `json:"headline"`
	Description string  `json:"description"`
	Summary     string  `json:"summary"`
	Text        string  `json:"text"`
	Source      string  `json:"source"`
	URL         string  `json:"url"`
	Link        string  `json:"link"`
	PublishedAt string  `json:"published_at"`
	Date        string  `json:"date"`
	Sentiment   string  `json:"sentiment"`
	Confidence  float64 `json:"confidence"`
}

var (
	fencePattern  = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	bulletPattern = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+`)
	spacePattern  = regexp.MustCompile(`\s+`)
)

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02", time.RFC1123Z, time.RFC1123}

// ParseItems extracts items from a collaborator response. A JSON array (bare
// or inside a fenced block) is preferred; otherwise each bullet or non-empty
// line becomes one item.
func ParseItems(response string) []Item {
	if items, ok := parseJSONItems(response); ok {
		return items
	}

	var items []Item
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(bulletPattern.ReplaceAllString(line, ""))
		if len(line) < 8 || strings.HasPrefix(line, "#") {
			continue
		}
		items = append(items, Item{Title: CleanText(line)})
	}
	return items
}

func parseJSONItems(response string) ([]Item, bool) {
	body := strings.TrimSpace(response)
	if m := fencePattern.FindStringSubmatch(body); m != nil {
		body = strings.TrimSpace(m[1])
	}
	start, end := strings.Index(body, "["), strings.LastIndex(body, "]")
	if start < 0 || end <= start {
		return nil, false
	}

	var raw []rawItem
	if err := json.Unmarshal([]byte(body[start:end+1]), &raw); err != nil {
		return nil, false
	}

	items := make([]Item, 0, len(raw))
	for _, r := range raw {
		item := Item{
			Title:       CleanText(firstNonEmpty(r.Title, r.Headline)),
			Description: CleanText(firstNonEmpty(r.Description, r.Summary, r.Text)),
			Source:      strings.TrimSpace(r.Source),
			URL:         strings.TrimSpace(firstNonEmpty(r.URL, r.Link)),
			Sentiment:   strings.ToLower(strings.TrimSpace(r.Sentiment)),
			Confidence:  r.Confidence,
			PublishedAt: parseDate(firstNonEmpty(r.PublishedAt, r.Date)),
		}
		if item.Title == "" {
			item.Title = item.Description
		}
		if item.Title == "" {
			continue
		}
		items = append(items, item)
	}
	return items, true
}

// ToSignals normalizes items into clean signals. Explicit item sentiment and
// confidence win over the scorer's; every confidence is clamped to [0, 1].
func ToSignals(items []Item, scorer Scorer, base models.CleanSignal, minLength int, newID func() string) []*models.CleanSignal {
	signals := make([]*models.CleanSignal, 0, len(items))
	for _, item := range items {
		text := strings.TrimSpace(item.Title + " " + item.Description)
		if len(text) < minLength {
			continue
		}

		c := scorer.Classify(text)
		sentiment := c.Sentiment
		switch models.Sentiment(item.Sentiment) {
		case models.SentimentBullish, models.SentimentBearish, models.SentimentNeutral:
			sentiment = models.Sentiment(item.Sentiment)
		}
		confidence := c.Confidence
		if item.Confidence > 0 {
			confidence = item.Confidence
		}

		signal := base
		signal.ID = newID()
		signal.Sentiment = sentiment
		signal.Category = c.Category
		signal.Strength = c.Strength
		signal.Confidence = clamp01(confidence)
		signal.Description = item.Title
		if item.Description != "" && item.Description != item.Title {
			signal.Description = item.Title + ": " + item.Description
		}
		signal.Source = firstNonEmpty(item.Source, hostOf(item.URL))
		signal.URL = item.URL
		signal.PublishedAt = item.PublishedAt
		signals = append(signals, &signal)
	}
	return signals
}

// CleanText strips HTML markup and collapses whitespace
func CleanText(s string) string {
	if strings.ContainsAny(s, "<&") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			s = doc.Text()
		}
	}
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}

// NormalizeTitle lowercases, strips punctuation and collapses whitespace
func NormalizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			// Punctuation is dropped without leaving a gap
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func parseDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func hostOf(url string) string {
	host := url
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	return strings.TrimPrefix(host, "www.")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
