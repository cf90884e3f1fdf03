package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/fieldlens/analysis-queue/internal/domain"
)

// RemoteOptions configures a RemoteAdapter.
type RemoteOptions struct {
	Endpoint            string
	LargeThresholdBytes int64
	SmallTimeout        time.Duration
	LargeTimeout        time.Duration
}

// RemoteAdapter posts artifact bytes to the external analysis service.
type RemoteAdapter struct {
	logger  *slog.Logger
	client  *http.Client
	fetcher Fetcher
	opts    RemoteOptions
}

// remoteResponse is the body returned by the analysis service.
type remoteResponse struct {
	ItemCount int             `json:"item_count"`
	BoxCount  int             `json:"box_count"`
	Analysis  json.RawMessage `json:"analysis"`
}

// NewRemoteAdapter creates a RemoteAdapter. A nil client uses a client
// without its own timeout; per-request timeouts come from opts.
func NewRemoteAdapter(logger *slog.Logger, client *http.Client, fetcher Fetcher, opts RemoteOptions) *RemoteAdapter {
	if client == nil {
		client = &http.Client{}
	}
	return &RemoteAdapter{
		logger:  logger.With("component", "remote_adapter"),
		client:  client,
		fetcher: fetcher,
		opts:    opts,
	}
}

// Kind implements Adapter.
func (a *RemoteAdapter) Kind() domain.ProcessorKind {
	return domain.ProcessorRemote
}

// TimeoutFor returns the request timeout for a payload of size bytes.
func (a *RemoteAdapter) TimeoutFor(size int64) time.Duration {
	if size > a.opts.LargeThresholdBytes {
		return a.opts.LargeTimeout
	}
	return a.opts.SmallTimeout
}

// Process implements Adapter.
func (a *RemoteAdapter) Process(ctx context.Context, job *domain.Job, artifact *domain.Artifact) (*domain.Result, error) {
	size := artifact.SizeBytes
	if size <= 0 {
		size = job.Metadata.SizeBytes
	}
	ctx, cancel := context.WithTimeout(ctx, a.TimeoutFor(size))
	defer cancel()

	start := time.Now()

	body, err := a.fetcher.Fetch(ctx, artifact)
	if err != nil {
		return nil, &AdapterError{Processor: domain.ProcessorRemote, Op: OpFetch, Err: err}
	}
	defer body.Close()

	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mw, job, artifact, body))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.opts.Endpoint, pr)
	if err != nil {
		return nil, a.fail("request", 0, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	a.logger.DebugContext(ctx, "posting artifact to remote processor",
		"job_id", job.ID.String(),
		"size_bytes", size)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, a.fail("post", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, a.fail("post", resp.StatusCode, fmt.Errorf("unexpected response: %s", msg))
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, a.fail("decode", resp.StatusCode, err)
	}

	return &domain.Result{
		Success:    true,
		ItemCount:  out.ItemCount,
		BoxCount:   out.BoxCount,
		Raw:        out.Analysis,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func (a *RemoteAdapter) fail(op string, status int, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		op = "timeout"
	}
	return &AdapterError{Processor: domain.ProcessorRemote, Op: op, StatusCode: status, Err: err}
}

func writeForm(mw *multipart.Writer, job *domain.Job, artifact *domain.Artifact, body io.Reader) error {
	fields := []struct{ k, v string }{
		{"job_id", job.ID.String()},
		{"subject_id", job.SubjectID.String()},
		{"work_type", string(job.Type)},
		{"attempt", strconv.Itoa(job.Attempts)},
		{"project_id", job.Tenant.ProjectID},
		{"user_id", job.Tenant.UserID},
		{"org_id", job.Tenant.OrgID},
		{"content_type", artifact.ContentType},
	}
	for _, f := range fields {
		if err := mw.WriteField(f.k, f.v); err != nil {
			return err
		}
	}

	part, err := mw.CreateFormFile("file", artifact.ID.String())
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, body); err != nil {
		return err
	}
	return mw.Close()
}
