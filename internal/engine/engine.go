// Package engine routes incoming metric samples to the rules that need
// them and forwards resulting alert transitions downstream.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"dcwatch/internal/alerts"
	"dcwatch/internal/metrics"
	"dcwatch/internal/model"
	"dcwatch/internal/rule"
	"dcwatch/internal/storage"
	"dcwatch/internal/telemetry"
)

// Publisher delivers alert transitions to the downstream transport.
type Publisher interface {
	Publish(ctx context.Context, t model.Transition) error
}

type Engine struct {
	logger    *slog.Logger
	cache     *metrics.Cache
	alerts    *alerts.Store
	store     storage.Store
	publisher Publisher

	mu         sync.RWMutex
	rules      []rule.Rule
	lastStatus map[string]model.Status
}

func New(logger *slog.Logger, cache *metrics.Cache, publisher Publisher, alertsStore *alerts.Store, store storage.Store) *Engine {
	return &Engine{
		logger:     logger,
		cache:      cache,
		alerts:     alertsStore,
		store:      store,
		publisher:  publisher,
		lastStatus: make(map[string]model.Status),
	}
}

func (e *Engine) Cache() *metrics.Cache {
	return e.cache
}

// AddRule loads a rule, replacing any loaded rule with the same name.
func (e *Engine) AddRule(r rule.Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, existing := range e.rules {
		if existing.Name() == r.Name() {
			e.rules[i] = r
			delete(e.lastStatus, r.Name())
			return
		}
	}
	e.rules = append(e.rules, r)
	telemetry.RulesLoaded.Set(float64(len(e.rules)))
}

func (e *Engine) RemoveRule(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, r := range e.rules {
		if r.Name() == name {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			delete(e.lastStatus, name)
			telemetry.RulesLoaded.Set(float64(len(e.rules)))
			return true
		}
	}
	return false
}

// ReplaceRules swaps the whole rule set atomically, e.g. on reload.
func (e *Engine) ReplaceRules(rules []rule.Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append([]rule.Rule(nil), rules...)
	e.lastStatus = make(map[string]model.Status)
	telemetry.RulesLoaded.Set(float64(len(e.rules)))
}

// RuleInfo is a read-only view of one loaded rule, for the API.
type RuleInfo struct {
	Name    string   `json:"name"`
	Element string   `json:"element"`
	Class   string   `json:"class,omitempty"`
	Topics  []string `json:"topics"`
}

func (e *Engine) Rules() []RuleInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]RuleInfo, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, RuleInfo{
			Name:    r.Name(),
			Element: r.Element(),
			Class:   r.Class(),
			Topics:  r.RequiredTopics(),
		})
	}
	return out
}

// Process updates the cache with the sample and evaluates every rule
// interested in its topic. Each evaluation yields a transition; only
// transitions whose status differs from the rule's previous one are
// forwarded to the publisher and persisted. Returns the forwarded
// transitions.
func (e *Engine) Process(ctx context.Context, sample model.MetricSample) []model.Transition {
	e.cache.Update(sample)
	telemetry.CacheEntries.Set(float64(e.cache.Len()))
	topic := sample.Topic()

	e.mu.RLock()
	matched := make([]rule.Rule, 0, 4)
	for _, r := range e.rules {
		if r.MatchesTopic(topic) {
			matched = append(matched, r)
		}
	}
	e.mu.RUnlock()

	forwarded := make([]model.Transition, 0, len(matched))
	for _, r := range matched {
		tr := r.Evaluate(e.cache)
		telemetry.EvaluationsTotal.WithLabelValues(string(tr.Status)).Inc()
		if !e.noteStatus(r.Name(), tr.Status) {
			continue
		}
		tr.ID = uuid.NewString()
		forwarded = append(forwarded, tr)
		if e.alerts != nil {
			e.alerts.Add(tr)
		}
		if e.logger != nil {
			e.logger.Info("alert transition",
				"rule", tr.RuleName,
				"element", tr.Element,
				"status", tr.Status,
				"severity", tr.Severity,
			)
		}
		if e.publisher != nil {
			if err := e.publisher.Publish(ctx, tr); err != nil {
				telemetry.PublishFailures.Inc()
				if e.logger != nil {
					e.logger.Error("publish failed", "rule", tr.RuleName, "err", err)
				}
			} else {
				telemetry.TransitionsPublished.WithLabelValues(string(tr.Status)).Inc()
			}
		}
		if e.store != nil {
			if err := e.store.SaveTransition(ctx, tr); err != nil && e.logger != nil {
				e.logger.Error("persist transition failed", "rule", tr.RuleName, "err", err)
			}
		}
	}
	return forwarded
}

// noteStatus records the rule's latest status and reports whether it
// changed since the previous evaluation.
func (e *Engine) noteStatus(ruleName string, status model.Status) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev, seen := e.lastStatus[ruleName]
	e.lastStatus[ruleName] = status
	return !seen || prev != status
}

// Start consumes samples from the ingest channel until ctx is done.
func (e *Engine) Start(ctx context.Context, in <-chan model.MetricSample) {
	go func() {
		for {
			select {
			case sample := <-in:
				e.Process(ctx, sample)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StartSweeper periodically reclaims expired cache entries.
func (e *Engine) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				removed := e.cache.SweepExpired()
				telemetry.CacheSweepRemoved.Add(float64(removed))
				telemetry.CacheEntries.Set(float64(e.cache.Len()))
			case <-ctx.Done():
				return
			}
		}
	}()
}
