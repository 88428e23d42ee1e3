package signals

import (
	"fmt"
	"strings"

	"github.com/ternarybob/foresight/internal/models"
)

// Collaborator task names
const (
	TaskPriceObservations = "price_observations"
	TaskMarketSignals     = "market_signals"
	TaskNewsArticles      = "news_articles"
	TaskDomainSummary     = "domain_summary"
	TaskEnsembleSummary   = "ensemble_summary"
)

// TaskFor returns the collection task of a domain
func TaskFor(domain models.Domain) string {
	switch domain {
	case models.DomainPrice:
		return TaskPriceObservations
	case models.DomainMarket:
		return TaskMarketSignals
	case models.DomainNews:
		return TaskNewsArticles
	}
	return TaskEnsembleSummary
}

// BuildPrompt renders the collection prompt for a profile and domain
func BuildPrompt(profile *models.Profile, domain models.Domain, historyDays int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Commodity: %s\n", profile.Subject())
	if len(profile.Keywords) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(profile.Keywords, ", "))
	}
	if len(profile.Entities) > 0 {
		entities := make([]string, 0, len(profile.Entities))
		for _, e := range profile.Entities {
			entities = append(entities, e.Type+"="+e.Value)
		}
		fmt.Fprintf(&b, "Entities: %s\n", strings.Join(entities, ", "))
	}
	if profile.Region != "" {
		fmt.Fprintf(&b, "Region: %s\n", profile.Region)
	}
	b.WriteString("\n")

	switch domain {
	case models.DomainPrice:
		fmt.Fprintf(&b, "List the daily benchmark prices for the last %d days.\n", historyDays)
		b.WriteString(`Respond with a JSON array of objects: [{"date": "YYYY-MM-DD", "price": number}].`)
	case models.DomainMarket:
		b.WriteString("List the current market signals (supply, demand, weather, policy, logistics, macro) affecting the price.\n")
		b.WriteString(`Respond with a JSON array of objects: [{"title": "", "description": "", "source": "", "sentiment": "bullish|bearish|neutral", "confidence": 0.0}].`)
	case models.DomainNews:
		b.WriteString("List recent news articles about this commodity from the last 7 days.\n")
		b.WriteString(`Respond with a JSON array of objects: [{"title": "", "description": "", "source": "", "url": "", "published_at": "RFC3339"}].`)
	}

	return b.String()
}

// BuildSummaryPrompt asks for a short narrative over computed metrics
func BuildSummaryPrompt(profile *models.Profile, domain models.Domain, facts []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Commodity: %s\n", profile.Subject())
	if profile.Region != "" {
		fmt.Fprintf(&b, "Region: %s\n", profile.Region)
	}
	fmt.Fprintf(&b, "\nWrite a three sentence %s outlook using only these facts:\n", domain)
	for _, fact := range facts {
		fmt.Fprintf(&b, "- %s\n", fact)
	}
	return b.String()
}

// TemplateSummary renders the fallback narrative used when the collaborator
// summary call fails or is disabled
func TemplateSummary(profile *models.Profile, domain models.Domain, facts []string) string {
	subject := profile.Subject()
	if profile.Region != "" {
		subject += " (" + profile.Region + ")"
	}
	if len(facts) == 0 {
		return fmt.Sprintf("%s %s outlook: no signals available.", capitalize(string(domain)), subject)
	}
	return fmt.Sprintf("%s %s outlook: %s.", capitalize(string(domain)), subject, strings.Join(facts, "; "))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
