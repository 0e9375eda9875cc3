package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	apierrors "k2api-go/internal/errors"
	"k2api-go/internal/token"

	log "github.com/sirupsen/logrus"
)

// ErrRefreshStarted reports that the first attempt hit an auth failure and a
// credential refresh was kicked off instead of burning the remaining
// attempts. Non-stream callers turn this into a friendly retry-shortly reply.
var ErrRefreshStarted = errors.New("token refresh started, retry shortly")

// Attempt is one upstream try with a specific token. Returning nil marks the
// token healthy; any error is reported against it.
type Attempt func(ctx context.Context, tok *token.Token) error

// Orchestrator runs attempts against rotating pool tokens with bounded
// retries.
type Orchestrator struct {
	pool       *token.Pool
	maxRetries int
	retryDelay time.Duration
	autoUpdate bool
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(pool *token.Pool, maxRetries int, retryDelay time.Duration, autoUpdate bool) *Orchestrator {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = 500 * time.Millisecond
	}
	return &Orchestrator{pool: pool, maxRetries: maxRetries, retryDelay: retryDelay, autoUpdate: autoUpdate}
}

// Do runs the attempt loop for non-stream requests. An auth-class failure on
// the very first attempt short-circuits to ErrRefreshStarted: the failure
// report has already escalated a refresh, so retrying other tokens that were
// minted in the same batch would only burn them too.
func (o *Orchestrator) Do(ctx context.Context, attempt Attempt) error {
	return o.run(ctx, attempt, true)
}

// DoStream runs the attempt loop for streaming requests, retrying until the
// stream is established. Once an attempt returns nil the stream has started
// and any later failure is out of this loop's hands.
func (o *Orchestrator) DoStream(ctx context.Context, attempt Attempt) error {
	return o.run(ctx, attempt, false)
}

func (o *Orchestrator) run(ctx context.Context, attempt Attempt, softAuth bool) error {
	var lastErr error

	for i := 0; i < o.maxRetries; i++ {
		tok := o.pool.Next()
		if tok == nil {
			return o.noTokenError()
		}

		log.WithFields(log.Fields{
			"attempt":     i + 1,
			"token_index": tok.Index,
		}).Debug("upstream attempt")

		err := attempt(ctx, tok)
		if err == nil {
			o.pool.ReportSuccess(tok.Value)
			return nil
		}
		lastErr = err

		if o.pool.ReportFailure(tok.Value, err.Error()) {
			log.WithField("token_index", tok.Index).Warn("token deactivated after repeated failures")
		}
		if softAuth && i == 0 && token.IsAuthError(err.Error()) {
			log.Warn("auth failure on first attempt, deferring to token refresh")
			return ErrRefreshStarted
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		log.WithError(err).WithField("attempt", i+1).Warn("upstream attempt failed")
		if i < o.maxRetries-1 {
			select {
			case <-time.After(o.retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("all %d attempts failed: %s", o.maxRetries, failureMessage(lastErr))
}

// failureMessage flattens the last attempt error into the text surfaced to the
// client. Upstream statuses are never forwarded as the response status, only
// their message survives the wrap.
func failureMessage(err error) string {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		if msg := apierrors.ExtractUpstreamMessage([]byte(ue.Body)); msg != "" {
			return fmt.Sprintf("upstream returned %d: %s", ue.StatusCode, msg)
		}
		return fmt.Sprintf("upstream returned %d", ue.StatusCode)
	}
	return err.Error()
}

func (o *Orchestrator) noTokenError() error {
	if o.autoUpdate {
		return apierrors.New(http.StatusServiceUnavailable, "no_tokens", "api_error",
			"Token pool is temporarily empty, an automatic refresh may be in progress. Retry shortly or check the updater status.")
	}
	return apierrors.New(http.StatusServiceUnavailable, "no_tokens", "api_error",
		"All tokens are exhausted. Check the token configuration or reload the token file.")
}
