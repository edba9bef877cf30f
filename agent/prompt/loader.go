package prompt

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/chative-crm-agent/agent/contract"
)

//go:embed template/system.txt
var systemRaw string

// LanguageDirective is appended to every system instruction.
const LanguageDirective = "Reply in the same language as the user's last message."

// SystemTemplate returns the embedded system prompt as an eino chat template.
// Variables: business_name, personalization, today, weekday, language_directive.
func SystemTemplate() einoprompt.ChatTemplate {
	return einoprompt.FromMessages(schema.FString, schema.SystemMessage(strings.TrimSpace(systemRaw)))
}

func renderSystem(ctx context.Context, tpl einoprompt.ChatTemplate, vars map[string]any) (string, error) {
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("%w: render system prompt: %v", contractx.ErrPromptMissing, err)
	}
	if len(msgs) == 0 || strings.TrimSpace(msgs[0].Content) == "" {
		return "", fmt.Errorf("%w: system prompt is empty", contractx.ErrPromptMissing)
	}
	return collapseBlankLines(msgs[0].Content), nil
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.TrimRight(l, " \t")
		if l == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
