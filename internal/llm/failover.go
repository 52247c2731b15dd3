package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

type breaker struct {
	failures    int
	lastFailure time.Time
	tripped     bool
}

// Failover tries completers in order and skips any whose breaker has
// tripped. It only moves on for provider failures: a shape error, a context
// overflow or a cancelled ctx is returned as is.
type Failover struct {
	chain    []Completer
	breakers map[string]*breaker

	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewFailover wraps primary with ordered fallbacks. A breaker trips after
// threshold consecutive failures and resets after cooldown.
func NewFailover(primary Completer, fallbacks []Completer, threshold int, cooldown time.Duration, logger *slog.Logger) *Failover {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	chain := append([]Completer{primary}, fallbacks...)
	breakers := make(map[string]*breaker, len(chain))
	for _, c := range chain {
		breakers[c.Name()] = &breaker{}
	}
	return &Failover{
		chain:     chain,
		breakers:  breakers,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		logger:    logger,
	}
}

func (f *Failover) Name() string {
	names := make([]string, len(f.chain))
	for i, c := range f.chain {
		names[i] = c.Name()
	}
	return strings.Join(names, "|")
}

func (f *Failover) Complete(ctx context.Context, prompt string) (*Completion, error) {
	var lastErr error
	for _, c := range f.chain {
		name := c.Name()
		if f.isTripped(name) {
			f.logger.Info("failover: skipping tripped provider", "provider", name)
			continue
		}
		comp, err := c.Complete(ctx, prompt)
		if err == nil {
			f.recordSuccess(name)
			return comp, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		f.recordFailure(name)
		ec := ClassifyError(err)
		f.logger.Warn("failover: provider failed", "provider", name, "error_class", string(ec), "error", err)
		if ec == ErrorClassContextOverflow || ec == ErrorClassShape {
			return nil, fmt.Errorf("failover: %s from %s: %w", ec, name, err)
		}
	}
	if lastErr == nil {
		lastErr = errors.New("every provider is cooling down")
	}
	return nil, fmt.Errorf("failover: all providers failed, last error: %w", lastErr)
}

func (f *Failover) isTripped(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.breakers[name]
	if !ok || !b.tripped {
		return false
	}
	if f.now().Sub(b.lastFailure) >= f.cooldown {
		b.tripped = false
		b.failures = 0
		f.logger.Info("failover: circuit breaker reset after cooldown", "provider", name)
		return false
	}
	return true
}

func (f *Failover) recordFailure(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.breakers[name]
	b.failures++
	b.lastFailure = f.now()
	if b.failures >= f.threshold {
		b.tripped = true
		f.logger.Warn("failover: circuit breaker tripped", "provider", name, "failures", b.failures)
	}
}

func (f *Failover) recordSuccess(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.breakers[name]
	b.failures = 0
	b.tripped = false
}
