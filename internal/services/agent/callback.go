// Package agent's callback.go posts the terminal status to the dispatcher
// (spec.md §4.5.6): retried once with a short delay on transport failure,
// final failure logged and swallowed - never re-thrown, since a
// callback-delivery failure must not turn a completed ticker into a crash.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/ternarybob/arbor"

	"github.com/kestrelfin/ledgersync/internal/interfaces"
	"github.com/kestrelfin/ledgersync/internal/models"
)

// CallbackPoster posts the terminal CallbackPayload with a bearer token.
type CallbackPoster struct {
	http        *resty.Client
	bearerToken string
	retryDelay  time.Duration
	logger      arbor.ILogger
}

var _ interfaces.CallbackPoster = (*CallbackPoster)(nil)

// NewCallbackPoster creates a callback poster with a shared timeout-bound
// resty client.
func NewCallbackPoster(bearerToken string, timeout time.Duration, logger arbor.ILogger) *CallbackPoster {
	return &CallbackPoster{
		http:        resty.New().SetTimeout(timeout),
		bearerToken: bearerToken,
		retryDelay:  2 * time.Second,
		logger:      logger,
	}
}

// Post delivers payload to url, retrying once on transport failure. Final
// failure is logged but never returned as an error, matching spec.md §7's
// TransportError handling for the callback leg specifically.
func (p *CallbackPoster) Post(ctx context.Context, url string, payload models.CallbackPayload) error {
	err := p.attempt(ctx, url, payload)
	if err == nil {
		return nil
	}

	p.logger.Warn().Err(err).Str("ticker", payload.Ticker).Msg("callback post failed, retrying once")
	select {
	case <-time.After(p.retryDelay):
	case <-ctx.Done():
		p.logger.Error().Err(ctx.Err()).Str("ticker", payload.Ticker).Msg("callback retry aborted by context")
		return nil
	}

	if err := p.attempt(ctx, url, payload); err != nil {
		p.logger.Error().Err(err).Str("ticker", payload.Ticker).Msg("callback post failed after retry, swallowing")
	}
	return nil
}

func (p *CallbackPoster) attempt(ctx context.Context, url string, payload models.CallbackPayload) error {
	resp, err := p.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+p.bearerToken).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(url)
	if err != nil {
		return fmt.Errorf("%w: callback post: %v", interfaces.ErrTransport, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: callback post returned %d", interfaces.ErrTransport, resp.StatusCode())
	}
	return nil
}
