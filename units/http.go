package units

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum-optimism/infra/op-harness/registry"
	"github.com/ethereum-optimism/infra/op-harness/resilience"
	"github.com/ethereum-optimism/infra/op-harness/types"
)

const (
	FallbackFail = "fail"
	FallbackSkip = "skip"

	defaultAttemptTimeout = 5 * time.Second
)

// ProbeClient is the HTTP client shared by every http unit of an environment
type ProbeClient struct {
	*http.Client
}

// Close releases idle connections when the run's registry is torn down
func (c *ProbeClient) Close() error {
	c.CloseIdleConnections()
	return nil
}

func newProbeClient() (*ProbeClient, error) {
	return &ProbeClient{Client: &http.Client{
		Transport: http.DefaultTransport.(*http.Transport).Clone(),
	}}, nil
}

// ReadinessError is returned when an endpoint never reached the expected status
type ReadinessError struct {
	URL        string
	Expected   int
	LastStatus int
	Budget     time.Duration
}

func (e *ReadinessError) Error() string {
	return fmt.Sprintf("%s did not return status %d within %s (last status %d)", e.URL, e.Expected, e.Budget, e.LastStatus)
}

func (e *ReadinessError) Unwrap() error {
	return &resilience.PollExhaustedError{}
}

// httpUnit polls the unit URL until it returns the expected status. The
// unit timeout is the overall poll budget and attempt_timeout bounds each
// request.
func (f *Factory) httpUnit(unit types.UnitConfig) types.UnitFunc {
	expected := unit.ExpectStatus
	if expected == 0 {
		expected = http.StatusOK
	}
	policy := resilience.PollPolicy{
		OverallTimeout:       f.timeout(unit),
		PerInvocationTimeout: unit.Attempt,
		Interval:             unit.Interval,
	}
	if policy.PerInvocationTimeout <= 0 {
		policy.PerInvocationTimeout = min(defaultAttemptTimeout, policy.OverallTimeout)
	}
	logger := f.log.New("unit", unit.ID, "url", unit.URL)

	return func(ctx context.Context) error {
		client, err := registry.Resolve(f.env.Components, f.env.Environment, newProbeClient)
		if err != nil {
			return err
		}

		var lastStatus atomic.Int64
		_, err = resilience.Poll[int](ctx, f.env.Invoker, resilience.PollFuncs[int]{
			RunFunc: func(ctx context.Context) (int, bool, error) {
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, unit.URL, nil)
				if err != nil {
					return 0, false, resilience.Unrecoverable(err)
				}
				resp, err := client.Do(req)
				if err != nil {
					logger.Debug("Endpoint not reachable yet", "err", err)
					return 0, false, nil
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()

				lastStatus.Store(int64(resp.StatusCode))
				return resp.StatusCode, resp.StatusCode == expected, nil
			},
			TimedOutFunc: func(ctx context.Context) (int, error) {
				readinessErr := &ReadinessError{URL: unit.URL, Expected: expected, LastStatus: int(lastStatus.Load()), Budget: policy.OverallTimeout}
				if unit.Fallback == FallbackSkip {
					return 0, types.Skip(readinessErr.Error())
				}
				return 0, readinessErr
			},
		}, policy)
		return err
	}
}
