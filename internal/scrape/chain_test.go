package scrape

import (
	"context"
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omegalab/histcollect/internal/resilience"
)

func errorsIs(err, target error) bool { return errors.Is(err, target) }

// stubFetcher implements Fetcher for testing.
type stubFetcher struct {
	name  string
	page  *Page
	err   error
	calls int
}

func (s *stubFetcher) Name() string { return s.name }
func (s *stubFetcher) Fetch(_ context.Context, _ string) (*Page, error) {
	s.calls++
	return s.page, s.err
}

func TestChain_FirstSuccess(t *testing.T) {
	s1 := &stubFetcher{name: "local_http", page: &Page{URL: "https://x", Source: "local_http"}}
	s2 := &stubFetcher{name: "browser"}

	page, err := NewChain(s1, s2).Fetch(context.Background(), "https://x")
	require.NoError(t, err)
	assert.Equal(t, "local_http", page.Source)
	assert.Zero(t, s2.calls)
}

func TestChain_FallbackOnBlock(t *testing.T) {
	s1 := &stubFetcher{name: "local_http", err: eris.Wrap(ErrBlocked, "403")}
	s2 := &stubFetcher{name: "browser", err: resilience.NewTransientError(errors.New("no chrome"), 0)}
	s3 := &stubFetcher{name: "jina", page: &Page{Source: "jina"}}

	page, err := NewChain(s1, nil, s2, s3).Fetch(context.Background(), "https://x")
	require.NoError(t, err)
	assert.Equal(t, "jina", page.Source)
	assert.Equal(t, 1, s1.calls)
	assert.Equal(t, 1, s2.calls)
}

func TestChain_NotFoundStops(t *testing.T) {
	s1 := &stubFetcher{name: "local_http", err: eris.Wrap(resilience.ErrNotFound, "404")}
	s2 := &stubFetcher{name: "browser", page: &Page{}}

	_, err := NewChain(s1, s2).Fetch(context.Background(), "https://x")
	assert.Equal(t, resilience.OutcomeNotFound, resilience.Classify(err))
	assert.Zero(t, s2.calls)
}

func TestChain_AllFail(t *testing.T) {
	s1 := &stubFetcher{name: "local_http", err: eris.Wrap(ErrBlocked, "403")}
	s2 := &stubFetcher{name: "jina", err: &resilience.AuthError{Provider: "jina"}}

	_, err := NewChain(s1, s2).Fetch(context.Background(), "https://x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all fetchers failed")
	assert.Equal(t, resilience.OutcomeTransient, resilience.Classify(err))
}

func TestChain_FetcherCredentialsAreNotAuthFailure(t *testing.T) {
	s1 := &stubFetcher{name: "local_http", err: resilience.NewTransientError(eris.Wrap(ErrBlocked, "429"), 429)}
	s2 := &stubFetcher{name: "firecrawl", err: resilience.StatusError("firecrawl", 401, []byte("invalid api key"))}

	_, err := NewChain(s1, s2).Fetch(context.Background(), "https://x")
	require.Error(t, err)
	assert.Equal(t, resilience.OutcomeTransient, resilience.Classify(err))
	assert.Contains(t, err.Error(), "firecrawl credentials rejected")

	var ae *resilience.AuthError
	assert.False(t, errors.As(err, &ae))
	var te *resilience.TransientError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 401, te.StatusCode)
}

func TestChain_Empty(t *testing.T) {
	c := NewChain()
	assert.Empty(t, c.Fetchers())
	_, err := c.Fetch(context.Background(), "https://x")
	assert.Error(t, err)
}

func TestChain_Fetchers(t *testing.T) {
	c := NewChain(NewLocalFetcher(""), NewJinaFetcher(nil))
	assert.Equal(t, []string{"local_http", "jina"}, c.Fetchers())
}
