package scrape

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/omegalab/histcollect/internal/resilience"
	"github.com/omegalab/histcollect/pkg/jina"
)

// JinaFetcher fetches HTML through the Jina Reader proxy. A circuit breaker
// stops calling the proxy after repeated failures so the chain fails fast.
type JinaFetcher struct {
	client  jina.Client
	breaker *resilience.CircuitBreaker
}

// NewJinaFetcher creates a JinaFetcher from a Jina client. Three consecutive
// failures open the circuit for 60s.
func NewJinaFetcher(client jina.Client) *JinaFetcher {
	return &JinaFetcher{
		client: client,
		breaker: resilience.NewCircuitBreaker("jina", resilience.CircuitBreakerConfig{
			FailureThreshold: 3,
			ResetTimeout:     60 * time.Second,
			ShouldTrip:       func(err error) bool { return resilience.Classify(err) != resilience.OutcomeNotFound },
		}),
	}
}

func (j *JinaFetcher) Name() string { return "jina" }

// Fetch reads a URL through the proxy in HTML format and validates the
// response.
func (j *JinaFetcher) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	return resilience.ExecuteVal(ctx, j.breaker, func(ctx context.Context) (*Page, error) {
		resp, err := j.client.Read(ctx, targetURL, jina.WithFormat("html"))
		if err != nil {
			return nil, err
		}
		if needsFallback(resp) {
			return nil, eris.Wrap(ErrBlocked, "jina: unusable response")
		}
		return &Page{
			URL:        targetURL,
			HTML:       resp.Data.Body(),
			StatusCode: 200,
			Source:     "jina",
		}, nil
	})
}

// needsFallback reports whether a reader response is empty, an upstream
// error, or a challenge page.
func needsFallback(resp *jina.ReadResponse) bool {
	if resp == nil {
		return true
	}

	if resp.Code != 0 && resp.Code != 200 {
		return true
	}

	content := strings.TrimSpace(resp.Data.Body())
	if len(content) < minDocumentSize {
		return true
	}

	lower := strings.ToLower(content)
	challengeSignatures := []string{
		"checking your browser",
		"enable javascript",
		"please enable cookies",
		"access denied",
		"403 forbidden",
		"just a moment",
		"attention required",
	}
	for _, sig := range challengeSignatures {
		if strings.Contains(lower, sig) && len(content) < 1000 {
			return true
		}
	}

	return false
}
