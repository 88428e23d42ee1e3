package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/foresight/internal/interfaces"
)

// OfflineModel is reported as the model name of offline responses
const OfflineModel = "offline"

var (
	subjectPattern = regexp.MustCompile(`(?m)^Commodity: (.+)$`)
	daysPattern    = regexp.MustCompile(`last (\d+) days`)
	factPattern    = regexp.MustCompile(`(?m)^- (.+)$`)
)

// OfflineCollaborator answers tasks without a network provider. Canned
// responses are read from <fixtures_dir>/<task>.json or .txt when present;
// otherwise a deterministic synthetic response is generated per subject and day.
type OfflineCollaborator struct {
	fixturesDir string
	now         func() time.Time
	logger      arbor.ILogger
}

// NewOfflineCollaborator creates an offline collaborator
func NewOfflineCollaborator(fixturesDir string, logger arbor.ILogger) *OfflineCollaborator {
	return &OfflineCollaborator{
		fixturesDir: fixturesDir,
		now:         time.Now,
		logger:      logger,
	}
}

// Execute returns a fixture or a synthetic response for the task
func (c *OfflineCollaborator) Execute(ctx context.Context, req interfaces.ExecuteRequest) (*interfaces.ExecuteResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if response, ok := c.fixture(req.Task); ok {
		return &interfaces.ExecuteResponse{Response: response, Model: OfflineModel}, nil
	}

	subject := "commodity"
	if m := subjectPattern.FindStringSubmatch(req.Prompt); m != nil {
		subject = strings.TrimSpace(m[1])
	}
	now := c.now().UTC()
	rng := rand.New(rand.NewSource(seed(subject, now)))

	var response string
	switch req.Task {
	case "price_observations":
		days := 90
		if m := daysPattern.FindStringSubmatch(req.Prompt); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
				days = n
			}
		}
		response = syntheticPrices(rng, subject, now, days)
	case "market_signals":
		response = syntheticMarket(rng, subject)
	case "news_articles":
		response = syntheticNews(rng, subject, now)
	case "domain_summary", "ensemble_summary":
		response = syntheticSummary(subject, req.Prompt)
	default:
		return nil, fmt.Errorf("offline collaborator has no response for task %q", req.Task)
	}

	return &interfaces.ExecuteResponse{Response: response, Model: OfflineModel}, nil
}

func (c *OfflineCollaborator) fixture(task string) (string, bool) {
	if c.fixturesDir == "" {
		return "", false
	}
	for _, ext := range []string{".json", ".txt"} {
		data, err := os.ReadFile(filepath.Join(c.fixturesDir, task+ext))
		if err == nil {
			return string(data), true
		}
	}
	return "", false
}

func seed(subject string, now time.Time) int64 {
	h := fnv.New64a()
	h.Write([]byte(strings.ToLower(subject)))
	h.Write([]byte(now.Format("2006-01-02")))
	return int64(h.Sum64() & math.MaxInt64)
}

type observation struct {
	Date  string  `json:"date"`
	Price float64 `json:"price"`
}

func syntheticPrices(rng *rand.Rand, subject string, now time.Time, days int) string {
	// The level depends on the subject only so consecutive days stay continuous
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(subject)))
	price := 50 + float64(h.Sum32()%200)

	out := make([]observation, 0, days)
	for i := days; i >= 1; i-- {
		price *= 1 + rng.NormFloat64()*0.012 + 0.0003
		out = append(out, observation{
			Date:  now.AddDate(0, 0, -i).Format("2006-01-02"),
			Price: math.Round(price*100) / 100,
		})
	}

	data, _ := json.Marshal(out)
	return string(data)
}

type syntheticItem struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Source      string  `json:"source"`
	URL         string  `json:"url,omitempty"`
	PublishedAt string  `json:"published_at,omitempty"`
	Sentiment   string  `json:"sentiment,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
}

var marketTemplates = []syntheticItem{
	{Title: "Tight supply in top producing region", Description: "Inventory drawdown supports %s prices", Source: "USDA", Sentiment: "bullish"},
	{Title: "Strong demand from importers", Description: "Import buying for %s rises", Source: "Reuters", Sentiment: "bullish"},
	{Title: "Favourable weather boosts yield outlook", Description: "Rainfall improves %s crop conditions, supply expected to ease", Source: "Barchart", Sentiment: "bearish"},
	{Title: "Stronger dollar weighs on commodities", Description: "Currency moves pressure %s", Source: "Bloomberg", Sentiment: "bearish"},
	{Title: "Freight rates stable", Description: "Shipping costs for %s unchanged", Source: "Investing.com", Sentiment: "neutral"},
	{Title: "Export policy under review", Description: "Government considers quota changes affecting %s", Source: "Nikkei", Sentiment: "neutral"},
}

var newsTemplates = []syntheticItem{
	{Title: "%s prices climb as drought hits harvest", Source: "Reuters"},
	{Title: "%s prices climb as drought hits harvest", Source: "Bloomberg"},
	{Title: "Record crop forecast could pressure %s", Source: "Financial Times"},
	{Title: "Traders eye shipping delays for %s", Source: "CNBC"},
	{Title: "%s futures ease after surplus report", Source: "MarketWatch"},
	{Title: "Analysts see steady %s demand", Source: "agrimoney"},
}

func syntheticMarket(rng *rand.Rand, subject string) string {
	picks := rng.Perm(len(marketTemplates))[:4]
	out := make([]syntheticItem, 0, len(picks))
	for _, i := range picks {
		item := marketTemplates[i]
		item.Description = fmt.Sprintf(item.Description, subject)
		item.Confidence = math.Round((0.4+rng.Float64()*0.5)*100) / 100
		out = append(out, item)
	}
	data, _ := json.Marshal(out)
	return string(data)
}

func syntheticNews(rng *rand.Rand, subject string, now time.Time) string {
	out := make([]syntheticItem, 0, len(newsTemplates))
	for i, item := range newsTemplates {
		item.Title = fmt.Sprintf(item.Title, subject)
		item.URL = fmt.Sprintf("https://news.example.com/%s/%d", strings.ReplaceAll(strings.ToLower(subject), " ", "-"), i)
		age := time.Duration(rng.Intn(96)) * time.Hour
		item.PublishedAt = now.Add(-age).Format(time.RFC3339)
		out = append(out, item)
	}
	data, _ := json.Marshal(out)
	return string(data)
}

func syntheticSummary(subject, prompt string) string {
	facts := factPattern.FindAllStringSubmatch(prompt, -1)
	if len(facts) == 0 {
		return fmt.Sprintf("No notable developments for %s.", subject)
	}
	parts := make([]string, 0, len(facts))
	for _, f := range facts {
		parts = append(parts, strings.TrimSuffix(f[1], "."))
	}
	return fmt.Sprintf("%s: %s.", subject, strings.Join(parts, ". "))
}
