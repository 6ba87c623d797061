package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"halluclean/api/internal/pipeline"
)

const maxMessage = 3900

// makeAnalysisKeyboard offers the detection reasoning behind the last answer.
func makeAnalysisKeyboard() tgbotapi.InlineKeyboardMarkup {
	btn := tgbotapi.NewInlineKeyboardButtonData("Show analysis", "show_analysis")
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(btn))
}

func usage(t pipeline.Task) string {
	d, _ := pipeline.Describe(t)
	return fmt.Sprintf("/%s %s", t, strings.Join(d.Fields, " | "))
}

func helpText() string {
	var b strings.Builder
	b.WriteString("Send a task with its fields separated by |, I will check it for hallucinations and fix it if needed.\n\n")
	for _, t := range pipeline.Tasks {
		b.WriteString(usage(t))
		b.WriteString("\n")
	}
	b.WriteString("\n/engine [chatgpt|gpt4o|gpt4o-mini|deepseek|gemini], /health")
	return b.String()
}

func formatResult(res pipeline.PipelineResult, model string) string {
	d, _ := pipeline.Describe(res.Task)
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s, model: %s\n", res.Task, model)
	switch {
	case res.Task == pipeline.SelfContradiction && res.Detection.IsHallucinated:
		b.WriteString("Verdict: contradictory\n")
	case res.Task == pipeline.SelfContradiction:
		b.WriteString("Verdict: consistent\n")
	case res.Detection.IsHallucinated:
		b.WriteString("Verdict: hallucinated\n")
	default:
		b.WriteString("Verdict: no hallucination found\n")
	}
	if res.Detection.IsHallucinated {
		fmt.Fprintf(&b, "\nRevised %s:\n%s", d.Target, res.Revised)
	}
	return truncate(b.String())
}

func truncate(s string) string {
	if len(s) <= maxMessage {
		return s
	}
	// keep utf-8 intact
	cut := maxMessage
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }
