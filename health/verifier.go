package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type Verdict string

const (
	Healthy Verdict = "healthy"
	// Unhealthy is definitive: the target responded and is not serving
	// the expected version, or never became ready within the window.
	Unhealthy Verdict = "unhealthy"
	// Inconclusive means polling could not observe the target at all
	// (network partition, cancellation). Callers must not treat it as
	// Healthy; the pipeline rolls back on it.
	Inconclusive Verdict = "inconclusive"
)

// Status is the health endpoint's response body.
type Status struct {
	Status  string `json:"status"` // ok, starting, failing
	Version string `json:"version"`
}

// Verifier polls a target's health endpoint after a deploy.
type Verifier struct {
	Client   *http.Client
	Interval time.Duration
	// MaxNetRetries is how many consecutive transport failures are
	// retried before the poll gives up as Inconclusive.
	MaxNetRetries int
}

func NewVerifier(interval time.Duration) *Verifier {
	return &Verifier{
		Client:        &http.Client{Timeout: 5 * time.Second},
		Interval:      interval,
		MaxNetRetries: 3,
	}
}

// Verify polls until the target reports healthy on the expected version,
// reports a definitive failure, or the timeout elapses. It confirms the
// version, not just liveness: a restart that never loaded the new
// artifact must not pass.
func (v *Verifier) Verify(ctx context.Context, healthURL, expectedVersion string, timeout time.Duration) Verdict {
	interval := v.Interval
	if interval == 0 {
		interval = 2 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	netFailures := 0
	observed := false

	for {
		st, err := v.Check(ctx, healthURL)
		switch {
		case err != nil:
			netFailures++
			if netFailures > v.MaxNetRetries {
				return Inconclusive
			}
		case st.Status == "failing":
			return Unhealthy
		case st.Status == "ok" && st.Version == expectedVersion:
			return Healthy
		default:
			// Reachable but not ready yet, or still serving the old
			// version. Keep polling until the deadline.
			netFailures = 0
			observed = true
		}

		select {
		case <-ctx.Done():
			if observed {
				return Unhealthy
			}
			return Inconclusive
		case <-ticker.C:
		}
	}
}

// Check performs a single probe. Used by Verify and by the deploy stage's
// idempotence and consistency checks.
func (v *Verifier) Check(ctx context.Context, healthURL string) (*Status, error) {
	client := v.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, "GET", healthURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}
	if resp.StatusCode >= 500 && st.Status == "" {
		st.Status = "failing"
	}
	return &st, nil
}
