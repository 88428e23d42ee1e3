package signals

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/foresight/internal/models"
)

// NewsOptions tunes the news ranking
type NewsOptions struct {
	HalfLife time.Duration // Recency decay constant; default 48h
	MaxItems int           // Zero keeps every item
	MinScore float64       // Items scoring below are dropped
}

// NewsResult is the computed part of a news ranking
type NewsResult struct {
	Items      []models.NewsItem
	Sentiment  models.Sentiment
	Score      float64
	Confidence float64
}

type newsGroup struct {
	item    models.NewsItem
	sources map[string]bool
	text    string
	direct  float64
	count   int
	trust   float64
	hasDate bool
}

// RankNews merges duplicate stories by normalized title and ranks the result.
//
//	score = 0.35*recency + 0.25*trust + 0.2*keyword + 0.2*corroboration
//
// where recency = exp(-age/halfLife), keyword = min(matches/3, 1) and
// corroboration = min((sources-1)/3, 1).
func RankNews(signals []*models.CleanSignal, keywords []string, scorer Scorer, now time.Time, opts NewsOptions) (*NewsResult, error) {
	if len(signals) == 0 {
		return nil, fmt.Errorf("no news articles in reply: %w", models.ErrCollaboratorFailure)
	}
	if opts.HalfLife <= 0 {
		opts.HalfLife = 48 * time.Hour
	}

	groups := make(map[string]*newsGroup)
	var order []string
	for _, s := range signals {
		key := NormalizeTitle(titleOf(s.Description))
		if key == "" {
			continue
		}

		g, ok := groups[key]
		if !ok {
			g = &newsGroup{
				item: models.NewsItem{
					Title:    titleOf(s.Description),
					URL:      s.URL,
					Category: s.Category,
				},
				sources: make(map[string]bool),
			}
			groups[key] = g
			order = append(order, key)
		}

		source := strings.ToLower(strings.TrimSpace(s.Source))
		if source == "" {
			source = "unknown"
		}
		if !g.sources[source] {
			g.sources[source] = true
			g.item.Sources = append(g.item.Sources, s.Source)
		}
		if t := scorer.Trust(s.Source + " " + s.URL); t > g.trust {
			g.trust = t
		}
		if s.PublishedAt != nil && (!g.hasDate || s.PublishedAt.After(g.item.PublishedAt)) {
			g.item.PublishedAt = *s.PublishedAt
			g.hasDate = true
		}
		if g.item.URL == "" {
			g.item.URL = s.URL
		}
		g.direct += clamp01(s.Confidence) * s.Sentiment.Sign()
		g.count++
		g.text += " " + s.Description
	}

	if len(order) == 0 {
		return nil, fmt.Errorf("no usable news titles in reply: %w", models.ErrCollaboratorFailure)
	}

	items := make([]models.NewsItem, 0, len(order))
	for _, key := range order {
		g := groups[key]
		n := len(g.sources)

		var age float64
		if g.hasDate {
			age = math.Max(now.Sub(g.item.PublishedAt).Hours(), 0)
		} else {
			// Undated stories are treated as one half-life old
			age = opts.HalfLife.Hours()
			g.item.PublishedAt = now.Add(-opts.HalfLife)
		}
		recency := math.Exp(-age / opts.HalfLife.Hours())
		keyword := math.Min(float64(keywordMatches(g.text, keywords))/3, 1)
		corroboration := math.Min(float64(n-1)/3, 1)

		categoryWeight, ok := CategoryWeight[g.item.Category]
		if !ok {
			categoryWeight = CategoryWeight[CategoryGeneral]
		}

		g.item.Corroboration = n
		g.item.Reliability = round(g.trust, 4)
		g.item.Accuracy = round(0.5+0.5*math.Min(float64(n-1)/2, 1), 4)
		g.item.Impact = round(keyword*categoryWeight, 4)
		g.item.Sentiment = ClassifyScore(g.direct / float64(g.count))
		g.item.Score = round(0.35*recency+0.25*g.trust+0.2*keyword+0.2*corroboration, 4)

		if g.item.Score < opts.MinScore {
			continue
		}
		items = append(items, g.item)
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("no news items above minimum score %.2f: %w", opts.MinScore, models.ErrCollaboratorFailure)
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].PublishedAt.After(items[j].PublishedAt)
	})
	if opts.MaxItems > 0 && len(items) > opts.MaxItems {
		items = items[:opts.MaxItems]
	}

	var weighted, weights float64
	quality := make([]float64, 0, len(items))
	for i := range items {
		items[i].Rank = i + 1
		weighted += items[i].Score * items[i].Sentiment.Sign()
		weights += items[i].Score
		quality = append(quality, 0.5*items[i].Reliability+0.5*items[i].Accuracy)
	}

	score := 0.0
	if weights > 0 {
		score = clamp(weighted/weights, -1, 1)
	}

	return &NewsResult{
		Items:      items,
		Sentiment:  ClassifyScore(score),
		Score:      round(score, 4),
		Confidence: round(clamp01(avg(quality)), 4),
	}, nil
}

// titleOf recovers the headline from a "title: description" signal text
func titleOf(description string) string {
	if i := strings.Index(description, ": "); i > 0 {
		return description[:i]
	}
	return description
}

func keywordMatches(text string, keywords []string) int {
	normalized := " " + NormalizeTitle(text) + " "
	matches := 0
	for _, k := range keywords {
		k = NormalizeTitle(k)
		if k == "" {
			continue
		}
		matches += strings.Count(normalized, " "+k+" ")
	}
	return matches
}
