package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "market-observer/internal/errors"
	"market-observer/internal/models"
	"market-observer/pkg/utils"
)

// HTTPSource polls a quote endpoint that serves the feed's snapshot as
// JSON. It is the default live source; replay and tests substitute their
// own implementations of Source.
type HTTPSource struct {
	url    string
	client *http.Client
	retry  utils.RetryConfig
}

// NewHTTPSource creates a source polling the given URL.
func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
		retry: utils.DefaultRetryConfig(),
	}
}

// Poll implements Source.
func (s *HTTPSource) Poll(ctx context.Context) (*models.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, apperrors.NewFeedError("build request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperrors.NewFeedError("poll", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, apperrors.NewFeedError("poll",
			fmt.Errorf("feed returned status %d: %w", resp.StatusCode, apperrors.ErrFeedUnavailable))
	}

	var snap models.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, apperrors.NewFeedError("decode snapshot", err)
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now().UTC()
	}
	return &snap, nil
}

// Recover implements Source. For an HTTP feed there is no session to
// rebuild, so recovery is a probe with backoff: the stall clears once the
// endpoint answers again.
func (s *HTTPSource) Recover(ctx context.Context) error {
	return utils.Retry(ctx, s.retry, func() error {
		probeCtx, cancel := context.WithTimeout(ctx, s.client.Timeout)
		defer cancel()

		_, err := s.Poll(probeCtx)
		return err
	})
}
