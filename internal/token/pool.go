package token

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrEmptyPool is returned by Load when the store yields no tokens and the
// pool is not configured to tolerate emptiness.
var ErrEmptyPool = errors.New("no tokens found in store")

// Refresher is the escalation target: something able to regenerate the token
// set. The pool only knows this one method; how refresh happens is the
// implementer's business.
type Refresher interface {
	TriggerRefresh(reason string)
}

// Options configures a Pool.
type Options struct {
	Store       Store
	MaxFailures int
	// AllowEmpty tolerates an empty store at load time. Used when the
	// auto-update service is expected to fill the store shortly.
	AllowEmpty bool
	// FailureThreshold is the consecutive plain-failure streak that triggers
	// escalation. Suppressed entirely for pools of 2 tokens or fewer, where
	// rotation noise would false-trigger constantly.
	FailureThreshold int
	// UpstreamErrorThreshold is the consecutive auth-failure streak that
	// triggers escalation regardless of pool size: a batch expiry looks the
	// same in a small pool.
	UpstreamErrorThreshold int
	Refresher              Refresher
}

// Pool is the in-memory rotating collection of tokens with health state.
// All state is guarded by a single mutex; the lock is never held across I/O
// or the escalation dispatch.
type Pool struct {
	mu     sync.Mutex
	store  Store
	tokens []*Token
	cursor int

	maxFailures int
	allowEmpty  bool

	consecutiveFailures       int
	consecutiveUpstreamErrors int
	failureThreshold          int
	upstreamThreshold         int
	lastUpstreamError         time.Time

	refresher Refresher
}

// Stats is a point-in-time snapshot of pool health.
type Stats struct {
	Total                     int         `json:"total_tokens"`
	Active                    int         `json:"active_tokens"`
	Inactive                  int         `json:"inactive_tokens"`
	Cursor                    int         `json:"current_index"`
	MaxFailures               int         `json:"max_failures"`
	FailureDistribution       map[int]int `json:"failure_distribution"`
	ConsecutiveFailures       int         `json:"consecutive_failures"`
	ConsecutiveUpstreamErrors int         `json:"consecutive_upstream_errors"`
	FailureThreshold          int         `json:"consecutive_failure_threshold"`
	UpstreamErrorThreshold    int         `json:"upstream_error_threshold"`
}

// NewPool constructs a pool and performs the initial load from the store.
func NewPool(ctx context.Context, opts Options) (*Pool, error) {
	if opts.MaxFailures < 1 {
		opts.MaxFailures = 3
	}
	if opts.FailureThreshold < 1 {
		opts.FailureThreshold = 2
	}
	if opts.UpstreamErrorThreshold < 1 {
		opts.UpstreamErrorThreshold = 2
	}
	p := &Pool{
		store:             opts.Store,
		maxFailures:       opts.MaxFailures,
		allowEmpty:        opts.AllowEmpty,
		failureThreshold:  opts.FailureThreshold,
		upstreamThreshold: opts.UpstreamErrorThreshold,
		refresher:         opts.Refresher,
	}
	if err := p.Load(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// SetRefresher wires the escalation target after construction. Needed when
// the refresher itself depends on the pool (reload notification).
func (p *Pool) SetRefresher(r Refresher) {
	p.mu.Lock()
	p.refresher = r
	p.mu.Unlock()
}

// Load reads the store and replaces the in-memory token sequence wholesale.
// Health state of prior tokens is discarded; every loaded token starts
// active with zero failures. The rotation cursor resets to 0.
func (p *Pool) Load(ctx context.Context) error {
	values, err := p.store.Load(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(values))
	tokens := make([]*Token, 0, len(values))
	for _, v := range values {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		tokens = append(tokens, &Token{
			Value:  v,
			Index:  len(tokens),
			Active: true,
		})
	}

	p.mu.Lock()
	allowEmpty := p.allowEmpty
	if len(tokens) == 0 && !allowEmpty {
		p.mu.Unlock()
		return ErrEmptyPool
	}
	old := len(p.tokens)
	p.tokens = tokens
	p.cursor = 0
	p.mu.Unlock()

	log.WithFields(log.Fields{
		"store":  p.store.Name(),
		"before": old,
		"after":  len(tokens),
	}).Info("token pool loaded")
	return nil
}

// Next returns a snapshot of the next active token in round-robin order, or
// nil if no token is active. The shared cursor advances on every scanned
// position, inactive ones included, so concurrent callers spread across the
// pool.
func (p *Pool) Next() *Token {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.tokens) == 0 {
		return nil
	}

	for attempts := 0; attempts < len(p.tokens); attempts++ {
		t := p.tokens[p.cursor]
		p.cursor = (p.cursor + 1) % len(p.tokens)
		if t.Active {
			t.LastUsed = time.Now()
			log.WithFields(log.Fields{
				"index":    t.Index,
				"failures": t.Failures,
			}).Debug("token assigned")
			return t.clone()
		}
	}

	log.Warn("all tokens are inactive")
	return nil
}

// ReportFailure records a failed use of the token identified by value.
// The error text is classified as upstream-auth or plain; the matching
// consecutive counter is bumped and, on crossing its threshold, escalation
// fires once and that counter resets. Returns true iff this report is the
// one that deactivated the token.
func (p *Pool) ReportFailure(value, errText string) bool {
	p.mu.Lock()

	t := p.findLocked(value)
	if t == nil {
		p.mu.Unlock()
		log.Warn("failure report for unknown token")
		return false
	}

	t.Failures++
	t.LastFailure = time.Now()

	reason := ""
	if IsAuthError(errText) {
		p.consecutiveUpstreamErrors++
		p.lastUpstreamError = time.Now()
		log.WithFields(log.Fields{
			"index":            t.Index,
			"failures":         t.Failures,
			"max_failures":     p.maxFailures,
			"consecutive_auth": p.consecutiveUpstreamErrors,
		}).Warnf("upstream auth failure: %s", errText)
		if p.consecutiveUpstreamErrors >= p.upstreamThreshold {
			reason = "consecutive upstream auth failures"
			p.consecutiveUpstreamErrors = 0
		}
	} else {
		p.consecutiveFailures++
		log.WithFields(log.Fields{
			"index":        t.Index,
			"failures":     t.Failures,
			"max_failures": p.maxFailures,
			"consecutive":  p.consecutiveFailures,
		}).Warnf("token failure: %s", errText)
		// A tiny pool produces failure streaks from plain rotation noise;
		// skip escalation below 3 tokens.
		if len(p.tokens) > 2 && p.consecutiveFailures >= p.failureThreshold {
			reason = "consecutive token failures"
			p.consecutiveFailures = 0
		}
	}

	deactivated := false
	if t.Active && t.Failures >= p.maxFailures {
		t.Active = false
		deactivated = true
		log.WithFields(log.Fields{
			"index":    t.Index,
			"failures": t.Failures,
		}).Error("token deactivated")
	}

	refresher := p.refresher
	p.mu.Unlock()

	// Escalation is dispatched outside the lock, fire-and-forget: a slow
	// refresh must never block the request handler that reported the failure.
	if reason != "" {
		if refresher != nil {
			log.WithField("reason", reason).Warn("failure streak detected, triggering token refresh")
			go refresher.TriggerRefresh(reason)
		} else {
			log.WithField("reason", reason).Warn("failure streak detected but no refresher is wired")
		}
	}

	return deactivated
}

// ReportSuccess records a successful use: the token's failure count resets
// and both consecutive counters clear. A success anywhere is pool-wide good
// news for streak tracking.
func (p *Pool) ReportSuccess(value string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t := p.findLocked(value)
	if t == nil {
		return
	}
	if t.Failures > 0 {
		log.WithFields(log.Fields{
			"index":    t.Index,
			"failures": t.Failures,
		}).Info("token recovered, failure count reset")
		t.Failures = 0
	}
	p.consecutiveFailures = 0
	p.consecutiveUpstreamErrors = 0
}

// Reset reactivates the token at index and clears its failure count.
func (p *Pool) Reset(index int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= len(p.tokens) {
		return false
	}
	t := p.tokens[index]
	t.Failures = 0
	t.Active = true
	t.LastFailure = time.Time{}
	log.WithField("index", index).Info("token reset")
	return true
}

// ResetAll reactivates every token and clears all failure counts.
func (p *Pool) ResetAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	count := 0
	for _, t := range p.tokens {
		if t.Failures > 0 || !t.Active {
			t.Failures = 0
			t.Active = true
			t.LastFailure = time.Time{}
			count++
		}
	}
	log.WithFields(log.Fields{
		"reset": count,
		"total": len(p.tokens),
	}).Info("all tokens reset")
}

// ResetConsecutive clears both streak counters without touching per-token
// state. Called after a successful refresh and from the admin surface.
func (p *Pool) ResetConsecutive() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutiveFailures = 0
	p.consecutiveUpstreamErrors = 0
}

// Size returns the number of tokens currently loaded.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tokens)
}

// Get returns a snapshot of the token at index, or nil.
func (p *Pool) Get(index int) *Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.tokens) {
		return nil
	}
	return p.tokens[index].clone()
}

// Stats returns a snapshot of pool health.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		Total:                     len(p.tokens),
		Cursor:                    p.cursor,
		MaxFailures:               p.maxFailures,
		FailureDistribution:       make(map[int]int),
		ConsecutiveFailures:       p.consecutiveFailures,
		ConsecutiveUpstreamErrors: p.consecutiveUpstreamErrors,
		FailureThreshold:          p.failureThreshold,
		UpstreamErrorThreshold:    p.upstreamThreshold,
	}
	for _, t := range p.tokens {
		if t.Active {
			s.Active++
		} else {
			s.Inactive++
		}
		s.FailureDistribution[t.Failures]++
	}
	return s
}

func (p *Pool) findLocked(value string) *Token {
	for _, t := range p.tokens {
		if t.Value == value {
			return t
		}
	}
	return nil
}
