package provider

import (
	"context"
	"fmt"

	"github.com/sells-group/multiscrape/internal/model"
	"github.com/sells-group/multiscrape/pkg/anthropic"
)

// Claude asks an Anthropic model for a JSON array of results. The model has
// no live web access; it is not in the default order.
type Claude struct {
	client anthropic.Client
	apiKey string
}

// NewClaude creates a Claude adapter.
func NewClaude(apiKey string, opts ...anthropic.Option) *Claude {
	return &Claude{client: anthropic.NewClient(apiKey, opts...), apiKey: apiKey}
}

func (c *Claude) Name() string     { return "claude" }
func (c *Claude) Configured() bool { return c.apiKey != "" }

func (c *Claude) Execute(ctx context.Context, q model.Query) ([]model.RawResult, error) {
	subject := kindSubjects[q.Kind]
	if subject == "" {
		subject = kindSubjects[model.KindGeneral]
	}

	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		System: fmt.Sprintf("You list well-known %s with their public URLs. Respond with a JSON array only; return [] when unsure.", subject),
		Messages: []anthropic.Message{{
			Role: "user",
			Content: fmt.Sprintf("Find: %s. Return up to %d results as a JSON array of objects with fields: title, url, description.",
				q.Text, q.Limit()),
		}},
	})
	if err != nil {
		return nil, transportErr(c.Name(), err)
	}

	return extractAnswer(c.Name(), resp.Text(), nil)
}
