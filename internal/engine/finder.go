package engine

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"panorama-rulefinder/internal/metrics"
	"panorama-rulefinder/internal/model"
	"panorama-rulefinder/internal/resolver"
)

// ObjectResolver maps a search token to matching address objects.
type ObjectResolver interface {
	ResolveToken(ctx context.Context, token string) (*resolver.Resolution, error)
}

// RuleQuerier is the read side of the rule table.
type RuleQuerier interface {
	FindRulesByObjects(ctx context.Context, names []string) ([]model.RuleRecord, error)
}

// Finder answers "which rules reference this address or hostname".
type Finder struct {
	resolver ObjectResolver
	rules    RuleQuerier
	// Dedupe collapses a rule matched through several objects into one row.
	Dedupe bool
}

func NewFinder(r ObjectResolver, q RuleQuerier) *Finder {
	return &Finder{resolver: r, rules: q}
}

// Search resolves token and returns the matching objects with every rule
// that references one of them.
func (f *Finder) Search(ctx context.Context, token string) (*model.SearchResult, error) {
	start := time.Now()
	m := metrics.Get()
	defer func() { m.SearchLatency.Observe(time.Since(start).Seconds()) }()

	res, err := f.resolver.ResolveToken(ctx, token)
	if err != nil {
		m.Searches.WithLabelValues("resolve_error").Inc()
		return nil, err
	}

	names := make([]string, 0, len(res.Objects))
	for name := range res.Objects {
		names = append(names, name)
	}
	sort.Strings(names)

	rules, err := f.rules.FindRulesByObjects(ctx, names)
	if err != nil {
		m.Searches.WithLabelValues("query_error").Inc()
		return nil, err
	}
	if f.Dedupe {
		rules = Dedupe(rules)
	}

	outcome := "hit"
	if len(rules) == 0 {
		outcome = "miss"
	}
	m.Searches.WithLabelValues(outcome).Inc()
	slog.Debug("Search finished", "token", res.Token, "objects", len(names), "rules", len(rules))

	return &model.SearchResult{
		Token:   res.Token,
		IP:      res.IP,
		FQDN:    res.FQDN,
		Objects: res.Objects,
		Rules:   rules,
	}, nil
}

// Dedupe keeps the first occurrence of each rule id.
func Dedupe(rules []model.RuleRecord) []model.RuleRecord {
	seen := make(map[string]bool, len(rules))
	out := make([]model.RuleRecord, 0, len(rules))
	for _, r := range rules {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	return out
}
