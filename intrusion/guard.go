package intrusion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/internal/rate"
	"github.com/redis/go-redis/v9"
)

// ErrThrottled is returned by Check when a source or identifier is over its
// failure threshold for the current window.
var ErrThrottled = errors.New("too many failed attempts")

const (
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Config tunes the guard. Zero values take the defaults below.
type Config struct {
	// Window is the fixed counting window. Default 15m.
	Window time.Duration
	// IPThreshold is the failure count per source IP that triggers an alert
	// and throttling. Default 20.
	IPThreshold int64
	// IdentifierThreshold is the failure count per identifier within one
	// realm. Default 5.
	IdentifierThreshold int64
	// Prefix namespaces the Redis keys. Default "gv:intr".
	Prefix string
	// AlertOnly disables throttling; Check always passes.
	AlertOnly bool
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = 15 * time.Minute
	}
	if c.IPThreshold <= 0 {
		c.IPThreshold = 20
	}
	if c.IdentifierThreshold <= 0 {
		c.IdentifierThreshold = 5
	}
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = "gv:intr"
	}
	return c
}

// Alert describes an escalation.
type Alert struct {
	Severity   string        `json:"severity"`
	EventType  string        `json:"event_type"`
	Kind       string        `json:"kind"`
	SourceIP   string        `json:"source_ip,omitempty"`
	Identifier string        `json:"identifier,omitempty"`
	Count      int64         `json:"count"`
	Window     time.Duration `json:"window"`
	Details    string        `json:"details"`
	At         time.Time     `json:"at"`
}

// Alerter delivers alerts. Implementations must not block the caller for
// long; Guard calls them from the audit dispatcher.
type Alerter interface {
	Alert(ctx context.Context, alert Alert) error
}

// AlerterFunc adapts a function to Alerter.
type AlerterFunc func(ctx context.Context, alert Alert) error

func (f AlerterFunc) Alert(ctx context.Context, alert Alert) error { return f(ctx, alert) }

// Guard counts failures and escalates. It is safe for concurrent use.
type Guard struct {
	config  Config
	window  *rate.Window
	alerter Alerter
	now     func() time.Time
}

// New creates a Guard. alerter may be nil, in which case escalations are
// only logged.
func New(rdb redis.UniversalClient, cfg Config, alerter Alerter) *Guard {
	cfg = cfg.withDefaults()
	return &Guard{
		config:  cfg,
		window:  rate.NewWindow(rdb, cfg.Prefix, cfg.Window),
		alerter: alerter,
		now:     time.Now,
	}
}

var _ goVerify.AuditSink = (*Guard)(nil)

// Emit implements goVerify.AuditSink.
func (g *Guard) Emit(ctx context.Context, event goVerify.AuditEvent) {
	if g == nil {
		return
	}

	switch event.Outcome {
	case goVerify.OutcomeFailure:
	case goVerify.OutcomeSuccess:
		if isLoginSuccess(event.EventType) {
			var keys []string
			if id := normalizeIdentifier(event.Identifier); id != "" {
				keys = append(keys, identifierKey(event.Kind, id))
			}
			if event.PrincipalID != "" {
				keys = append(keys, principalKey(event.Kind, event.PrincipalID))
			}
			if err := g.window.Reset(ctx, keys...); err != nil {
				log.Printf("goVerify: intrusion reset failed: %v", err)
			}
		}
		return
	default:
		return
	}

	if event.IP != "" {
		count, err := g.window.Incr(ctx, ipKey(event.IP))
		if err != nil {
			log.Printf("goVerify: intrusion count failed: %v", err)
		} else {
			g.escalate(ctx, event, count, g.config.IPThreshold, event.IP, "")
		}
	}

	// Failures after the password step carry only the principal id.
	key, id := "", normalizeIdentifier(event.Identifier)
	switch {
	case id != "":
		key = identifierKey(event.Kind, id)
	case event.PrincipalID != "":
		key, id = principalKey(event.Kind, event.PrincipalID), event.PrincipalID
	}
	if key != "" {
		count, err := g.window.Incr(ctx, key)
		if err != nil {
			log.Printf("goVerify: intrusion count failed: %v", err)
		} else {
			g.escalate(ctx, event, count, g.config.IdentifierThreshold, event.IP, id)
		}
	}
}

// Check returns ErrThrottled when ip, or identifier within realm kind, has
// reached its threshold in the current window. Empty values are skipped.
func (g *Guard) Check(ctx context.Context, kind goVerify.PrincipalKind, ip, identifier string) error {
	if g == nil || g.config.AlertOnly {
		return nil
	}

	var keys []string
	var limits []int64
	if ip != "" {
		keys = append(keys, ipKey(ip))
		limits = append(limits, g.config.IPThreshold)
	}
	if id := normalizeIdentifier(identifier); id != "" {
		keys = append(keys, identifierKey(string(kind), id))
		limits = append(limits, g.config.IdentifierThreshold)
	}
	if len(keys) == 0 {
		return nil
	}

	counts, err := g.window.Counts(ctx, keys...)
	if err != nil {
		return fmt.Errorf("%w: %v", goVerify.ErrBackendUnavailable, err)
	}
	for i, count := range counts {
		if count >= limits[i] {
			return ErrThrottled
		}
	}
	return nil
}

// Reset clears the counters for ip and identifier.
func (g *Guard) Reset(ctx context.Context, kind goVerify.PrincipalKind, ip, identifier string) error {
	var keys []string
	if ip != "" {
		keys = append(keys, ipKey(ip))
	}
	if id := normalizeIdentifier(identifier); id != "" {
		keys = append(keys, identifierKey(string(kind), id))
	}
	if err := g.window.Reset(ctx, keys...); err != nil {
		return fmt.Errorf("%w: %v", goVerify.ErrBackendUnavailable, err)
	}
	return nil
}

func (g *Guard) escalate(ctx context.Context, event goVerify.AuditEvent, count, threshold int64, ip, identifier string) {
	var severity string
	switch count {
	case threshold:
		severity = SeverityMedium
	case 2 * threshold:
		severity = SeverityHigh
	default:
		return
	}

	source := "ip " + ip
	if identifier != "" {
		source = "identifier " + identifier
	}
	alert := Alert{
		Severity:   severity,
		EventType:  event.EventType,
		Kind:       event.Kind,
		SourceIP:   ip,
		Identifier: identifier,
		Count:      count,
		Window:     g.config.Window,
		Details:    fmt.Sprintf("%d failures for %s in %s, last reason %q", count, source, g.config.Window, event.Reason),
		At:         g.now().UTC(),
	}

	log.Printf("goVerify: intrusion %s: %s", severity, alert.Details)
	if g.alerter == nil {
		return
	}
	if err := g.alerter.Alert(ctx, alert); err != nil {
		log.Printf("goVerify: intrusion alert delivery failed: %v", err)
	}
}

func isLoginSuccess(eventType string) bool {
	return eventType == "login_success" || eventType == "passkey_login_success"
}

func normalizeIdentifier(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func ipKey(ip string) string { return "ip:" + ip }

func identifierKey(kind, id string) string { return "id:" + kind + ":" + id }

func principalKey(kind, id string) string { return "pid:" + kind + ":" + id }
