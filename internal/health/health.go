package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jinzoro/syseng-scripts/internal/logging"
)

var ErrUnhealthy = errors.New("service did not become healthy")

// Policy is a fixed-interval probe schedule. There is no backoff.
type Policy struct {
	URL          string
	Attempts     int
	Interval     time.Duration
	ProbeTimeout time.Duration
}

type Result struct {
	Healthy    bool
	Probes     int
	LastStatus int
	LastError  error
	Duration   time.Duration
}

// ProbeFunc is called after every probe with its 1-based number and outcome.
type ProbeFunc func(attempt int, err error)

type Verifier struct {
	client  *http.Client
	onProbe ProbeFunc
}

func NewVerifier(client *http.Client, onProbe ProbeFunc) *Verifier {
	if client == nil {
		client = &http.Client{}
	}
	return &Verifier{client: client, onProbe: onProbe}
}

// Verify probes the endpoint until one probe passes or all attempts are used.
// It returns ErrUnhealthy once exhausted, or the context error when cancelled;
// in both cases Result reports how many probes ran.
func (v *Verifier) Verify(ctx context.Context, p Policy) (Result, error) {
	if p.Attempts < 1 {
		return Result{}, fmt.Errorf("health check needs at least one attempt, got %d", p.Attempts)
	}
	logger := logging.Ctx(ctx)
	start := time.Now()
	var res Result

	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			res.Duration = time.Since(start)
			return res, fmt.Errorf("health check cancelled after %d probes: %w", res.Probes, err)
		}

		status, err := v.probe(ctx, p.URL, p.ProbeTimeout)
		res.Probes = attempt
		res.LastStatus = status
		res.LastError = err
		if v.onProbe != nil {
			v.onProbe(attempt, err)
		}

		if err == nil {
			res.Healthy = true
			res.Duration = time.Since(start)
			logger.Debug().Int("attempt", attempt).Int("status", status).Msg("Health probe passed")
			return res, nil
		}
		logger.Debug().Int("attempt", attempt).Int("max_attempts", p.Attempts).Err(err).Msg("Health probe failed")

		if attempt == p.Attempts {
			break
		}
		timer := time.NewTimer(p.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			res.Duration = time.Since(start)
			return res, fmt.Errorf("health check cancelled after %d probes: %w", res.Probes, ctx.Err())
		case <-timer.C:
		}
	}

	res.Duration = time.Since(start)
	return res, fmt.Errorf("%w after %d attempts: %w", ErrUnhealthy, res.Probes, res.LastError)
}

// probe performs one GET. Any transport error, timeout or non-2xx status fails it.
func (v *Verifier) probe(ctx context.Context, url string, timeout time.Duration) (int, error) {
	probeCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("invalid health check url: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return resp.StatusCode, nil
}
