package analyze

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/toolwatch/internal/model"
	"github.com/sells-group/toolwatch/pkg/anthropic"
)

const classifySystemPrompt = `You analyze job postings to determine whether the hiring company uses the sales engagement platforms Outreach (outreach.io) or SalesLoft (salesloft.com).

Only count references to these specific products. The word "outreach" used generically (cold outreach, community outreach, outbound outreach) is NOT a product mention.

Signal types, strongest first:
- "explicit_mention": the posting names the product as a tool the team uses
- "required_skill": experience with the product is listed as a requirement
- "preferred_skill": experience with the product is listed as nice to have
- "tool_migration": the posting describes moving to or from the product

Respond with a valid JSON object and nothing else:
{"tool_detected": "outreach" | "salesloft" | "both" | "none", "signal_type": "<one of the four above, or empty when none>", "context": "<the sentence or phrase that is the evidence, verbatim, max 300 chars>"}`

const classifyUserPrompt = `Company: %s
Job title: %s

Job description:
%s`

// maxDescriptionChars bounds prompt size; tool mentions in practice appear
// in the requirements section well before this cutoff.
const maxDescriptionChars = 6000

// classification is the parsed verdict for a single posting.
type classification struct {
	Tool       model.Tool
	SignalType model.SignalType
	Context    string
}

func buildRequest(modelID string, p model.RawPosting) anthropic.MessageRequest {
	desc := p.Description
	if len(desc) > maxDescriptionChars {
		// Back off to a rune boundary so the cut never splits a character.
		cut := maxDescriptionChars
		for cut > 0 && !utf8.RuneStart(desc[cut]) {
			cut--
		}
		desc = desc[:cut]
	}
	return anthropic.MessageRequest{
		Model:     modelID,
		MaxTokens: 256,
		System:    anthropic.BuildCachedSystemBlocks(classifySystemPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(classifyUserPrompt, p.Company, p.Title, desc)},
		},
	}
}

// parseClassification decodes the model's JSON verdict. Markdown fences and
// surrounding chatter are tolerated; an unrecognized tool value is an error
// so the posting stays eligible for retry.
func parseClassification(text string) (classification, error) {
	text = cleanJSON(text)

	var result struct {
		ToolDetected string `json:"tool_detected"`
		SignalType   string `json:"signal_type"`
		Context      string `json:"context"`
	}
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return classification{}, eris.Wrap(err, "analyze: parse classification")
	}

	tool := model.Tool(strings.ToLower(strings.TrimSpace(result.ToolDetected)))
	switch tool {
	case model.ToolOutreach, model.ToolSalesLoft, model.ToolBoth, model.ToolNone:
	default:
		return classification{}, eris.Errorf("analyze: unrecognized tool %q", result.ToolDetected)
	}

	c := classification{
		Tool:    tool,
		Context: strings.TrimSpace(result.Context),
	}
	if tool != model.ToolNone {
		c.SignalType = model.SignalType(strings.ToLower(strings.TrimSpace(result.SignalType)))
		switch c.SignalType {
		case model.SignalExplicitMention, model.SignalRequiredSkill, model.SignalPreferredSkill, model.SignalToolMigration:
		default:
			// A positive verdict without a recognizable signal still counts;
			// the weakest signal is assumed.
			c.SignalType = model.SignalPreferredSkill
		}
	}
	return c, nil
}

func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find first { and last }.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
