package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"halluclean/api/internal/handle"
	"halluclean/api/internal/store"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the detect / revise / clean HTTP API",
	Long: `serve exposes POST /v1/{task}/{detect|revise|clean}, GET /v1/prompts/{task}/{stage},
GET /v1/runs[/{id}], GET /healthz and GET /metrics. Runs are stored when a database is configured.`,
	RunE: serve,
}

func init() {
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "listen port (default from config / PORT)")
	rootCmd.AddCommand(serveCmd)
}

func serve(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != "" {
		cfg.Port = servePort
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, prompts, err := buildPipeline(cfg, log)
	if err != nil {
		return err
	}

	opts := []handle.Option{
		handle.WithPrompts(prompts),
		handle.WithLogger(log),
		handle.WithDefaults(handle.Defaults{
			DetectModel:  cfg.LLM.DetectModel,
			ReviseModel:  cfg.LLM.ReviseModel,
			MaxNewTokens: cfg.LLM.MaxNewTokens,
			Local:        cfg.LocalGenerator(),
		}),
	}
	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
		runs := store.NewRunRepo(st.DB())
		opts = append(opts, handle.WithDB(st), handle.WithRecorder(runs), handle.WithRunLog(runs))
	} else {
		log.Info("no database configured, runs are not stored")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handle.New(p, opts...).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("halluclean listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
