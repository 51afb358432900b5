package supplemental

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/omegalab/histcollect/internal/model"
	"github.com/omegalab/histcollect/internal/resilience"
	"github.com/omegalab/histcollect/internal/waterfall/provider"
	"github.com/omegalab/histcollect/pkg/perplexity"
)

// PerplexityName is the provider name of the Perplexity source.
const PerplexityName = "perplexity"

var _ provider.SupplementSource = (*Perplexity)(nil)

// Perplexity answers supplemental fields through web-grounded search.
type Perplexity struct {
	client perplexity.Client
	model  string
}

// NewPerplexity creates a Perplexity supplemental source. An empty model
// uses the client default.
func NewPerplexity(client perplexity.Client, model string) *Perplexity {
	return &Perplexity{client: client, model: model}
}

func (p *Perplexity) Name() string        { return PerplexityName }
func (p *Perplexity) Kind() provider.Kind { return provider.KindSupplemental }

// FetchSupplement asks for the missing fields of game.
func (p *Perplexity) FetchSupplement(ctx context.Context, game model.GameRecord, missing []string) (*provider.RawSupplement, error) {
	if len(missing) == 0 {
		return nil, eris.Wrapf(resilience.ErrNotFound, "%s: nothing missing for %s", PerplexityName, game.ID)
	}
	temp := 0.0
	resp, err := p.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Model: p.model,
		Messages: []perplexity.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: question(game, missing)},
		},
		Temperature: &temp,
	})
	if err != nil {
		return nil, err
	}
	return parseAnswer(PerplexityName, resp.Text(), missing)
}
