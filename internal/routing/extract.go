package routing

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/sells-group/mailcrm/internal/model"
	"github.com/sells-group/mailcrm/pkg/anthropic"
)

// Extract pulls structured CRM data out of one message. A failed call or
// unparseable response yields the zero Extraction; downstream plan building
// treats missing data as "unknown", never as an error.
func (e *Engine) Extract(ctx context.Context, msg model.NormalizedMessage) model.Extraction {
	system := anthropic.BuildCachedSystemBlocks(extractionSystemPrompt)
	text, err := e.ai.Complete(ctx, "extraction", system, buildMessagePrompt(msg, nil))
	if err != nil {
		zap.L().Warn("extraction failed, continuing without structured data",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return model.Extraction{}
	}

	var out model.Extraction
	if err := json.Unmarshal([]byte(cleanJSON(text)), &out); err != nil {
		zap.L().Warn("unparseable extraction, continuing without structured data",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return model.Extraction{}
	}

	// Drop half-empty entries the model sometimes emits.
	people := out.People[:0]
	for _, p := range out.People {
		if p.Name != "" || p.Email != "" {
			people = append(people, p)
		}
	}
	out.People = people
	if out.Company != nil && out.Company.Name == "" && out.Company.Domain == "" {
		out.Company = nil
	}

	return out
}
