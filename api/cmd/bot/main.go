package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"halluclean/api/internal/config"
	"halluclean/api/internal/llm"
	"halluclean/api/internal/pipeline"
	"halluclean/api/internal/prompt"
	"halluclean/api/internal/store"
	"halluclean/api/internal/telegram"
)

func main() {
	configPath := flag.String("config", os.Getenv("HALLUCLEAN_CONFIG"), "YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	log := newLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		log.Error("TELEGRAM_BOT_TOKEN is empty")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prompts, err := prompt.Load(cfg.Prompts.Dir)
	if err != nil {
		log.Error("load prompts", "err", err)
		os.Exit(1)
	}
	gw := llm.NewGateway(cfg.LLMSettings(), llm.WithLogger(log))
	p := pipeline.New(gw, pipeline.WithPrompts(prompts), pipeline.WithLogger(log))

	// --- Postgres (optional) ---
	var st *store.Store
	if dsn := store.ResolveDSN(cfg.Database.DSN); dsn != "" {
		st, err = store.Open(dsn)
		if err != nil {
			log.Error("sql.Open", "err", err)
			os.Exit(1)
		}
		defer st.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = st.Ping(pingCtx)
		if err == nil {
			err = st.Migrate(pingCtx)
		}
		cancel()
		if err != nil {
			log.Error("db", "err", err)
			os.Exit(1)
		}
		log.Info("db connected", "dsn", store.SafeDSNSummary(dsn))
	}

	// --- Telegram bot ---
	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		log.Error("telegram", "err", err)
		os.Exit(1)
	}
	bot.Debug = false

	// the bot has no local generator; local tags fall back to a hosted default
	if _, ok := telegram.HostedEngine(cfg.LLM.DetectModel); !ok {
		log.Warn("detect model is not hosted, chats start on the default", "model", cfg.LLM.DetectModel, "default", pipeline.DefaultModel)
	}
	reviseModel := cfg.LLM.ReviseModel
	if reviseModel != "" {
		if tag, ok := telegram.HostedEngine(reviseModel); ok {
			reviseModel = tag
		} else {
			log.Warn("revise model is not hosted, revising with the chat engine", "model", reviseModel)
			reviseModel = ""
		}
	}

	r := &telegram.Router{
		Bot:         bot,
		Pipeline:    p,
		Models:      telegram.NewModelManager(cfg.LLM.DetectModel),
		ReviseModel: reviseModel,
		Timeout:     4 * cfg.LLM.Timeout,
		Log:         log,
	}
	if st != nil {
		r.Runs = store.NewRunRepo(st.DB())
	}

	// ListenForWebhook registers on DefaultServeMux, so healthz goes there too.
	http.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if st != nil {
			ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
			defer cancel()
			if err := st.Ping(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("db: not ok\n" + err.Error()))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	addr := "0.0.0.0:" + cfg.Port
	if webhookURL := strings.TrimSpace(cfg.Telegram.WebhookURL); webhookURL != "" {
		startWebhookMode(ctx, log, addr, bot, r, webhookURL)
	} else {
		startPollingMode(ctx, log, addr, bot, r)
	}
}

func startWebhookMode(ctx context.Context, log *slog.Logger, addr string, bot *tgbotapi.BotAPI, r *telegram.Router, baseURL string) {
	path := telegram.WebhookPath(bot.Token)
	public := strings.TrimRight(baseURL, "/") + path

	wh, err := tgbotapi.NewWebhook(public)
	if err != nil {
		log.Error("webhook", "err", err)
		os.Exit(1)
	}
	wh.DropPendingUpdates = true
	if _, err := bot.Request(wh); err != nil {
		log.Error("set webhook", "err", err)
		os.Exit(1)
	}

	updates := bot.ListenForWebhook(path)
	go func() {
		for upd := range updates {
			r.HandleUpdate(ctx, upd)
		}
		log.Info("webhook updates channel closed")
	}()

	log.Info("webhook listening", "addr", addr, "path", path)
	serveHTTP(ctx, log, addr)
}

func startPollingMode(ctx context.Context, log *slog.Logger, addr string, bot *tgbotapi.BotAPI, r *telegram.Router) {
	// healthz only; polling does not need the listener
	go serveHTTP(ctx, log, addr)

	telegram.RunPolling(ctx, bot, log, func(upd tgbotapi.Update) {
		r.HandleUpdate(ctx, upd)
	})
}

func serveHTTP(ctx context.Context, log *slog.Logger, addr string) {
	srv := &http.Server{Addr: addr, ReadHeaderTimeout: 10 * time.Second} // DefaultServeMux
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info("health server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("http server", "err", err)
		os.Exit(1)
	}
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
