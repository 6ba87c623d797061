package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"halluclean/api/internal/batch"
	"halluclean/api/internal/llm"
	"halluclean/api/internal/pipeline"
	"halluclean/api/internal/store"
)

// Bot is the part of *tgbotapi.BotAPI the router talks to.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Cleaner runs the detect-then-revise pipeline.
type Cleaner interface {
	Clean(ctx context.Context, in pipeline.Input, opts pipeline.CleanOptions) (pipeline.PipelineResult, error)
}

type Router struct {
	Bot      Bot
	Pipeline Cleaner
	Models   *ModelManager
	// ReviseModel, when set, overrides the chat model for the revise stage.
	ReviseModel string
	// Runs is optional.
	Runs    batch.RunRecorder
	Timeout time.Duration
	Log     *slog.Logger
}

func (r *Router) logger() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.CallbackQuery != nil {
		r.handleCallback(*upd.CallbackQuery)
		return
	}
	if upd.Message == nil {
		return
	}
	msg := upd.Message
	cid := msg.Chat.ID

	if msg.IsCommand() {
		r.HandleCommand(ctx, msg)
		return
	}
	// the text after a bare /<task>
	if t, ok := takePending(cid); ok && strings.TrimSpace(msg.Text) != "" {
		r.runClean(ctx, cid, t, msg.Text)
		return
	}
	if strings.TrimSpace(msg.Text) != "" {
		r.send(cid, helpText())
	}
}

func (r *Router) HandleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	args := strings.TrimSpace(msg.CommandArguments())
	switch cmd := strings.ToLower(msg.Command()); cmd {
	case "start", "help":
		r.send(cid, helpText())
	case "health":
		r.send(cid, "✅ OK")
	case "engine":
		r.handleEngineCommand(cid, args)
	default:
		t, err := pipeline.ParseTask(cmd)
		if err != nil {
			r.send(cid, "Unknown command. Try /help")
			return
		}
		if args == "" {
			setPending(cid, t)
			r.send(cid, "Send the fields as: "+strings.TrimPrefix(usage(t), "/"+string(t)+" "))
			return
		}
		r.runClean(ctx, cid, t, args)
	}
}

// handleEngineCommand switches the chat backend.
//
//	/engine
//	/engine gpt4o
func (r *Router) handleEngineCommand(chatID int64, args string) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		r.send(chatID, "Current engine: "+r.Models.Get(chatID)+
			"\nUsage: /engine {chatgpt|gpt4o|gpt4o-mini|deepseek|gemini}")
		return
	}
	b, err := llm.ParseBackend(fields[0])
	if err != nil {
		r.send(chatID, "Unknown engine. Available: chatgpt | gpt4o | gpt4o-mini | deepseek | gemini")
		return
	}
	if !b.Hosted() {
		r.send(chatID, "❌ Local models are not available in the bot.")
		return
	}
	r.Models.Set(chatID, b.String())
	r.send(chatID, "✅ Engine: "+b.String())
}

func (r *Router) runClean(ctx context.Context, chatID int64, t pipeline.Task, text string) {
	in, err := parseFields(t, text)
	if err != nil {
		r.send(chatID, err.Error()+"\nUsage: "+usage(t))
		return
	}
	model := r.Models.Get(chatID)
	opts := pipeline.CleanOptions{
		Detect: pipeline.CallOptions{Model: model},
		Revise: pipeline.CallOptions{Model: r.ReviseModel},
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	_, _ = r.Bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	res, err := r.Pipeline.Clean(ctx, in, opts)
	r.record(ctx, t, model, opts.Revise.Model, in, res, err)
	if err != nil {
		r.logger().Warn("clean failed", "chat_id", chatID, "task", t, "err", err)
		r.send(chatID, "❌ "+userError(err))
		return
	}
	lastResult.Store(chatID, res)

	m := tgbotapi.NewMessage(chatID, formatResult(res, model))
	m.ReplyMarkup = makeAnalysisKeyboard()
	_, _ = r.Bot.Send(m)
}

func (r *Router) handleCallback(cb tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	cid := cb.Message.Chat.ID
	_, _ = r.Bot.Request(tgbotapi.NewCallback(cb.ID, "")) // ack

	switch cb.Data {
	case "show_analysis":
		v, ok := lastResult.Load(cid)
		if !ok {
			r.send(cid, "Nothing to show yet.")
			return
		}
		res := v.(pipeline.PipelineResult)
		edit := tgbotapi.NewEditMessageReplyMarkup(cid, cb.Message.MessageID, tgbotapi.InlineKeyboardMarkup{})
		_, _ = r.Bot.Send(edit)
		r.send(cid, truncate("Analysis:\n"+res.Detection.Analysis))
	}
}

func (r *Router) record(ctx context.Context, t pipeline.Task, detectModel, reviseModel string, in pipeline.Input, res pipeline.PipelineResult, err error) {
	if r.Runs == nil {
		return
	}
	if reviseModel == "" {
		reviseModel = detectModel
	}
	run := &store.Run{Task: string(t), Mode: "clean", DetectModel: detectModel, ReviseModel: reviseModel}
	run.Input, _ = json.Marshal(in.Fields)
	if err != nil {
		run.Error = err.Error()
	} else {
		run.Result, _ = json.Marshal(res)
		run.IsHallucinated = &res.Detection.IsHallucinated
	}
	if _, err := r.Runs.Insert(context.WithoutCancel(ctx), run); err != nil {
		r.logger().Error("store run", "err", err)
	}
}

// parseFields splits "a | b" into the task fields. The last field keeps any
// further separators.
func parseFields(t pipeline.Task, text string) (pipeline.Input, error) {
	d, err := pipeline.Describe(t)
	if err != nil {
		return pipeline.Input{}, err
	}
	parts := strings.SplitN(text, "|", len(d.Fields))
	if len(parts) != len(d.Fields) {
		return pipeline.Input{}, fmt.Errorf("%w: %s needs %d fields separated by |", pipeline.ErrFieldNotFound, t, len(d.Fields))
	}
	fields := make(map[string]string, len(parts))
	for i, f := range d.Fields {
		fields[f] = strings.TrimSpace(parts[i])
	}
	return pipeline.Input{Task: t, Fields: fields}, nil
}

func userError(err error) string {
	switch {
	case errors.Is(err, llm.ErrConfiguration):
		return "this engine is not configured, try /engine with another backend"
	case errors.Is(err, context.DeadlineExceeded):
		return "the model took too long, try again"
	default:
		return "model error: " + err.Error()
	}
}

func (r *Router) send(chatID int64, text string) {
	_, _ = r.Bot.Send(tgbotapi.NewMessage(chatID, text))
}
