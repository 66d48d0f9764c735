package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/obsidianstack/microclimate/pkg/types"
	"github.com/obsidianstack/microclimate/server/internal/config"
)

const (
	defaultCooldown = 15 * time.Minute
	maxHistoryLen   = 200
	recentWindow    = time.Hour
)

// Alert is a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	SourceID   string     `json:"source_id"`
	SourceName string     `json:"source_name"`
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
	Condition  string     `json:"condition"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"` // "firing" | "resolved"

	// Link points at the source's latest analysis on this server.
	Link string `json:"link"`
}

type rule struct {
	config.AlertRule
	cond condition
}

// Engine evaluates rules against analysis results. Safe for concurrent use.
type Engine struct {
	rules    []rule
	webhooks  []config.WebhookConfig
	publicURL string
	client    *http.Client
	now      func() time.Time

	mu       sync.Mutex
	active   map[string]*Alert    // key: "ruleName:sourceID"
	lastFire map[string]time.Time // cooldown per key
	history  []*Alert
	wg       sync.WaitGroup
}

// New validates the rule conditions and returns an Engine. An Engine with no
// rules is valid; Evaluate becomes a no-op.
func New(cfg config.AlertsConfig) (*Engine, error) {
	e := &Engine{
		webhooks:  cfg.Webhooks,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
	}
	for _, r := range cfg.Rules {
		c, err := parseCondition(r.Condition)
		if err != nil {
			return nil, fmt.Errorf("alerts: rule %q: %w", r.Name, err)
		}
		e.rules = append(e.rules, rule{AlertRule: r, cond: c})
	}
	return e, nil
}

// Evaluate tests every rule against r, the latest result for src. Firing and
// resolving both trigger asynchronous webhook delivery.
func (e *Engine) Evaluate(src types.Source, r types.AnalysisResult) {
	now := e.now()
	for _, rl := range e.rules {
		key := rl.Name + ":" + r.SourceID
		fires, value := rl.cond.eval(r)

		e.mu.Lock()
		var notify *Alert
		if fires {
			notify = e.fire(rl, key, src, value, now)
		} else {
			notify = e.resolve(key, now)
		}
		e.mu.Unlock()

		if notify != nil {
			e.wg.Add(1)
			go func(a Alert) {
				defer e.wg.Done()
				e.deliver(&a)
			}(*notify)
		}
	}
}

// fire records a new alert unless the key is still cooling down. Caller holds mu.
func (e *Engine) fire(rl rule, key string, src types.Source, value float64, now time.Time) *Alert {
	cooldown := rl.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	if _, firing := e.active[key]; firing || now.Sub(e.lastFire[key]) <= cooldown {
		return nil
	}
	sev := rl.Severity
	if sev == "" {
		sev = "info"
	}
	name := src.Name
	if name == "" {
		name = src.ID
	}
	a := &Alert{
		ID:         uuid.NewString(),
		RuleName:   rl.Name,
		SourceID:   src.ID,
		SourceName: name,
		Latitude:   src.Latitude,
		Longitude:  src.Longitude,
		Condition:  rl.Condition,
		Severity:   sev,
		Value:      value,
		Message:    fmt.Sprintf("%s at %s: %s (score %.2f)", rl.Name, name, rl.Condition, value),
		FiredAt:    now,
		State:      "firing",
		Link:       e.publicURL + "/api/v1/analysis/" + url.PathEscape(src.ID),
	}
	e.active[key] = a
	e.lastFire[key] = now
	slog.Info("alerts: fired", "rule", rl.Name, "source", src.ID, "value", value, "severity", sev)
	return a
}

// resolve closes a firing alert. Caller holds mu.
func (e *Engine) resolve(key string, now time.Time) *Alert {
	a, ok := e.active[key]
	if !ok {
		return nil
	}
	resolved := now
	a.State = "resolved"
	a.ResolvedAt = &resolved
	delete(e.active, key)

	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
	slog.Info("alerts: resolved", "rule", a.RuleName, "source", a.SourceID)
	return a
}

// Active returns copies of firing alerts plus alerts resolved within the
// last hour, newest first.
func (e *Engine) Active() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]Alert, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, *a)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// Wait blocks until in-flight webhook deliveries finish.
func (e *Engine) Wait() {
	e.wg.Wait()
}
