package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"halluclean/api/internal/config"
	"halluclean/api/internal/llm"
	"halluclean/api/internal/pipeline"
	"halluclean/api/internal/prompt"
	"halluclean/api/internal/store"
)

var (
	configPath string
	logLevel   string
	logFormat  string

	rootCmd = &cobra.Command{
		Use:   "halluclean",
		Short: "Detect and revise hallucinations in LLM output",
		Long: `halluclean runs a plan, reason, judge pipeline over model output for five
tasks (qa, sum, da, tsc, mwp) and rewrites the hallucinated part.

  halluclean run --task qa --input data.jsonl --output out.jsonl
  halluclean serve`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("HALLUCLEAN_CONFIG"), "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug | info | warn | error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "text | json (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = strings.ToLower(logLevel)
	}
	if logFormat != "" {
		cfg.Log.Format = strings.ToLower(logFormat)
	}
	log := newLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)
	return cfg, log, nil
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	// logs go to stderr so stdout stays clean for JSONL output
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func buildPipeline(cfg *config.Config, log *slog.Logger) (*pipeline.Pipeline, *prompt.Set, error) {
	prompts, err := prompt.Load(cfg.Prompts.Dir)
	if err != nil {
		return nil, nil, fmt.Errorf("load prompts: %w", err)
	}
	gw := llm.NewGateway(cfg.LLMSettings(), llm.WithLogger(log))
	p := pipeline.New(gw, pipeline.WithPrompts(prompts), pipeline.WithLogger(log))
	return p, prompts, nil
}

// openStore connects and migrates when a DSN is configured. It returns nil
// when there is nothing to connect to.
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (*store.Store, error) {
	dsn := store.ResolveDSN(cfg.Database.DSN)
	if dsn == "" {
		return nil, nil
	}
	st, err := store.Open(dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := st.Ping(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	log.Info("db connected", "dsn", store.SafeDSNSummary(dsn))
	return st, nil
}
