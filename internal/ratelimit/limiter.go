package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/logging"
)

const (
	ScopeIP    = "ip"
	ScopeActor = "actor"

	ReasonIP = "Too many requests from this IP"
)

// ActionCounter counts persisted relay attempts by executor.
type ActionCounter interface {
	CountByExecutorSince(ctx context.Context, executor string, since time.Time) (int, error)
}

// Recorder receives rejection counts.
type Recorder interface {
	RecordRateLimitRejection(scope string)
}

// Config holds the limiter ceilings.
type Config struct {
	ActorLimit  int
	ActorWindow time.Duration
	IPLimit     int
	IPWindow    time.Duration
	// FailOpen allows requests when a counter cannot be read.
	FailOpen bool
}

// DefaultConfig returns 10 actions per executor per 24h and 100 requests per IP per hour.
func DefaultConfig() Config {
	return Config{
		ActorLimit:  10,
		ActorWindow: 24 * time.Hour,
		IPLimit:     100,
		IPWindow:    time.Hour,
	}
}

// Decision is the outcome of a Check.
type Decision struct {
	Allowed bool
	Reason  string
	Scope   string
}

// Limiter combines the volatile per-IP window with the durable per-actor count.
type Limiter struct {
	cfg     Config
	ips     IPCounter
	actions ActionCounter
	log     *logging.Logger
	metrics Recorder
	now     func() time.Time
}

// New builds a limiter. A nil ips defaults to a MemoryCounter.
func New(cfg Config, ips IPCounter, actions ActionCounter, log *logging.Logger) *Limiter {
	def := DefaultConfig()
	if cfg.ActorLimit <= 0 {
		cfg.ActorLimit = def.ActorLimit
	}
	if cfg.ActorWindow <= 0 {
		cfg.ActorWindow = def.ActorWindow
	}
	if cfg.IPLimit <= 0 {
		cfg.IPLimit = def.IPLimit
	}
	if cfg.IPWindow <= 0 {
		cfg.IPWindow = def.IPWindow
	}
	if ips == nil {
		ips = NewMemoryCounter()
	}
	if log == nil {
		log = logging.NewDefault("ratelimit")
	}
	return &Limiter{cfg: cfg, ips: ips, actions: actions, log: log, now: time.Now}
}

// WithMetrics attaches a rejection recorder.
func (l *Limiter) WithMetrics(r Recorder) *Limiter {
	l.metrics = r
	return l
}

// Config returns the effective configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

// Check records one hit for sourceIP and then evaluates both limits. The IP
// hit is counted even when the actor limit rejects the request, so callers
// must call Check exactly once per incoming request.
func (l *Limiter) Check(ctx context.Context, actorID, sourceIP string) (Decision, error) {
	if sourceIP != "" {
		w, err := l.ips.Hit(ctx, ScopeIP+":"+sourceIP, l.cfg.IPWindow)
		if err != nil {
			if !l.cfg.FailOpen {
				return Decision{}, fmt.Errorf("ip counter: %w", err)
			}
			l.log.WithContext(ctx).WithError(err).Warn("ip counter unavailable, allowing request")
		} else if w.Count > l.cfg.IPLimit {
			return l.reject(ctx, ScopeIP, ReasonIP, map[string]interface{}{
				"ip":       sourceIP,
				"count":    w.Count,
				"reset_at": w.ResetAt,
			}), nil
		}
	}

	if actorID != "" && l.actions != nil {
		actor := strings.ToLower(actorID)
		count, err := l.actions.CountByExecutorSince(ctx, actor, l.now().Add(-l.cfg.ActorWindow))
		if err != nil {
			if !l.cfg.FailOpen {
				return Decision{}, fmt.Errorf("actor count: %w", err)
			}
			l.log.WithContext(ctx).WithError(err).WithField("actor", actor).Warn("actor count unavailable, allowing request")
		} else if count >= l.cfg.ActorLimit {
			return l.reject(ctx, ScopeActor, l.actorReason(), map[string]interface{}{
				"actor": actor,
				"count": count,
			}), nil
		}
	}

	return Decision{Allowed: true}, nil
}

func (l *Limiter) actorReason() string {
	return fmt.Sprintf("Rate limit exceeded: maximum %d relayed actions per %s", l.cfg.ActorLimit, windowText(l.cfg.ActorWindow))
}

func (l *Limiter) reject(ctx context.Context, scope, reason string, fields map[string]interface{}) Decision {
	fields["scope"] = scope
	l.log.LogSecurityEvent(ctx, "rate_limit_exceeded", fields)
	if l.metrics != nil {
		l.metrics.RecordRateLimitRejection(scope)
	}
	return Decision{Allowed: false, Reason: reason, Scope: scope}
}

func windowText(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	}
	return d.String()
}
