package supplemental

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/omegalab/histcollect/internal/model"
	"github.com/omegalab/histcollect/internal/resilience"
	"github.com/omegalab/histcollect/internal/waterfall/provider"
	"github.com/omegalab/histcollect/pkg/anthropic"
)

// AnthropicName is the provider name of the Claude source.
const AnthropicName = "anthropic"

const maxAnswerTokens = 256

var _ provider.SupplementSource = (*Anthropic)(nil)

// Anthropic answers supplemental fields from model knowledge.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic creates a Claude supplemental source. An empty model uses
// anthropic.DefaultModel.
func NewAnthropic(client anthropic.Client, model string) *Anthropic {
	if model == "" {
		model = anthropic.DefaultModel
	}
	return &Anthropic{client: client, model: model}
}

func (a *Anthropic) Name() string        { return AnthropicName }
func (a *Anthropic) Kind() provider.Kind { return provider.KindSupplemental }

// FetchSupplement asks for the missing fields of game.
func (a *Anthropic) FetchSupplement(ctx context.Context, game model.GameRecord, missing []string) (*provider.RawSupplement, error) {
	if len(missing) == 0 {
		return nil, eris.Wrapf(resilience.ErrNotFound, "%s: nothing missing for %s", AnthropicName, game.ID)
	}
	temp := 0.0
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   maxAnswerTokens,
		System:      anthropic.CachedSystem(systemPrompt),
		Messages:    []anthropic.Message{{Role: "user", Content: question(game, missing)}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(a.model, "supplemental")
	return parseAnswer(AnthropicName, resp.Text(), missing)
}
