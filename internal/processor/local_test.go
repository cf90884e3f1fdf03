package processor_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/fieldlens/analysis-queue/internal/domain"
	"github.com/fieldlens/analysis-queue/internal/platform/gemini"
	"github.com/fieldlens/analysis-queue/internal/processor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnalyzer struct {
	got      gemini.Image
	analysis *gemini.Analysis
	err      error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, img gemini.Image) (*gemini.Analysis, error) {
	f.got = img
	return f.analysis, f.err
}

func TestLocalAdapter_Success(t *testing.T) {
	t.Parallel()
	src := sourceServer(t)
	an := &fakeAnalyzer{analysis: &gemini.Analysis{Items: []gemini.Item{
		{Label: "cat", Box: []float64{0, 0, 0.5, 0.5}},
		{Label: "mat"},
	}}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := processor.NewLocalAdapter(domain.ProcessorLocalPrimary, logger, an, processor.NewHTTPFetcher(nil))
	job, artifact := testJobAndArtifact(src.URL)
	job.Type = domain.WorkTypeVideoFrameAnalysis

	res, err := a.Process(context.Background(), job, artifact)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.ItemCount)
	assert.Equal(t, 1, res.BoxCount)
	assert.Contains(t, string(res.Raw), `"cat"`)

	assert.Equal(t, imageBytes, an.got.Data)
	assert.Equal(t, "image/jpeg", an.got.MIMEType)
	assert.Equal(t, "video frame", an.got.Kind)
	assert.Equal(t, domain.ProcessorLocalPrimary, a.Kind())
}

func TestLocalAdapter_AnalyzerFailureAttributedLocally(t *testing.T) {
	t.Parallel()
	src := sourceServer(t)
	an := &fakeAnalyzer{err: gemini.ErrContentBlocked}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := processor.NewLocalAdapter(domain.ProcessorLocalSecondary, logger, an, processor.NewHTTPFetcher(nil))
	job, artifact := testJobAndArtifact(src.URL)

	_, err := a.Process(context.Background(), job, artifact)
	var ae *processor.AdapterError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, domain.ProcessorLocalSecondary, ae.Processor)
	assert.False(t, processor.IsRemoteFailure(err))
	assert.ErrorIs(t, err, gemini.ErrContentBlocked)
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fetcher := processor.NewHTTPFetcher(nil)
	primary := processor.NewLocalAdapter(domain.ProcessorLocalPrimary, logger, &fakeAnalyzer{}, fetcher)
	secondary := processor.NewLocalAdapter(domain.ProcessorLocalSecondary, logger, &fakeAnalyzer{}, fetcher)

	reg, err := processor.NewRegistry(primary, secondary)
	require.NoError(t, err)

	got, err := reg.Get(domain.ProcessorLocalPrimary)
	require.NoError(t, err)
	assert.Same(t, primary, got)

	_, err = reg.Get(domain.ProcessorRemote)
	assert.Error(t, err)

	_, err = processor.NewRegistry(primary, primary)
	assert.Error(t, err)

	bad := processor.NewLocalAdapter("bogus", logger, &fakeAnalyzer{}, fetcher)
	_, err = processor.NewRegistry(bad)
	assert.Error(t, err)
}
