package processor

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/fieldlens/analysis-queue/internal/domain"
)

// Fetcher opens the bytes of an artifact.
type Fetcher interface {
	Fetch(ctx context.Context, artifact *domain.Artifact) (io.ReadCloser, error)
}

// HTTPFetcher reads artifacts from their SourceURL.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a fetcher. A nil client uses http.DefaultClient.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client}
}

// Fetch issues a GET for artifact.SourceURL. The caller closes the body.
func (f *HTTPFetcher) Fetch(ctx context.Context, artifact *domain.Artifact) (io.ReadCloser, error) {
	if artifact.SourceURL == "" {
		return nil, fmt.Errorf("artifact %s has no source url", artifact.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifact.SourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build fetch request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch artifact: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("failed to fetch artifact: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
