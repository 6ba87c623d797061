package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"halluclean/api/internal/batch"
	"halluclean/api/internal/pipeline"
	"halluclean/api/internal/store"
)

var (
	runTask               string
	runMode               string
	runInput              string
	runOutput             string
	runDetectModel        string
	runReviseModel        string
	runMaxNewTokensDetect int
	runMaxNewTokensRevise int
	runLimit              int
	runConcurrency        int
	runStore              bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process a JSONL file record by record",
	Long: `run reads one JSON object per line, runs the chosen mode on it and writes the
record back with hallu_detection, hallu_revision or hallu_result attached.
A record that fails gets hallu_error instead and the run continues.

  halluclean run --task qa --mode detect --input qa.jsonl
  cat sum.jsonl | halluclean run --task sum --detect-model gpt4o --revise-model deepseek`,
	RunE: runBatch,
}

func init() {
	runCmd.Flags().StringVarP(&runTask, "task", "t", "", "qa | sum | da | tsc | mwp")
	runCmd.Flags().StringVarP(&runMode, "mode", "m", string(batch.ModePipeline), "detect | revise | pipeline")
	runCmd.Flags().StringVarP(&runInput, "input", "i", "-", "input JSONL file, - for stdin")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "-", "output JSONL file, - for stdout")
	runCmd.Flags().StringVar(&runDetectModel, "detect-model", "", "backend for plan, reason and judge (default from config)")
	runCmd.Flags().StringVar(&runReviseModel, "revise-model", "", "backend for revise (default: config, then detect model)")
	runCmd.Flags().IntVar(&runMaxNewTokensDetect, "max-new-tokens-detect", 0, "local generation budget for detection (default from config)")
	runCmd.Flags().IntVar(&runMaxNewTokensRevise, "max-new-tokens-revise", 0, "local generation budget for revision (default from config)")
	runCmd.Flags().IntVarP(&runLimit, "limit", "n", 0, "process at most n records (0 = all)")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 1, "records in flight")
	runCmd.Flags().BoolVar(&runStore, "store", false, "record every processed line in the database")
	_ = runCmd.MarkFlagRequired("task")
	rootCmd.AddCommand(runCmd)
}

func runBatch(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	task, err := pipeline.ParseTask(runTask)
	if err != nil {
		return err
	}
	mode, err := batch.ParseMode(runMode)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, _, err := buildPipeline(cfg, log)
	if err != nil {
		return err
	}

	var opts []batch.Option
	opts = append(opts, batch.WithLogger(log))
	if runStore {
		st, err := openStore(ctx, cfg, log)
		if err != nil {
			return err
		}
		if st == nil {
			return fmt.Errorf("--store needs DATABASE_URL or POSTGRES_* env vars")
		}
		defer st.Close()
		opts = append(opts, batch.WithRecorder(store.NewRunRepo(st.DB())))
	}

	in, closeIn, err := openInput(runInput)
	if err != nil {
		return err
	}
	defer closeIn()
	out, closeOut, err := openOutput(runOutput)
	if err != nil {
		return err
	}

	local := cfg.LocalGenerator()
	reviseModel := runReviseModel
	if reviseModel == "" {
		reviseModel = cfg.LLM.ReviseModel
	}
	detectModel := runDetectModel
	if detectModel == "" {
		detectModel = cfg.LLM.DetectModel
	}

	start := time.Now()
	stats, runErr := batch.NewRunner(p, opts...).Run(ctx, in, out, batch.Options{
		Task: task,
		Mode: mode,
		Detect: pipeline.CallOptions{
			Model:        detectModel,
			Local:        local,
			MaxNewTokens: orDefault(runMaxNewTokensDetect, cfg.LLM.MaxNewTokens),
		},
		Revise: pipeline.CallOptions{
			Model:        reviseModel,
			Local:        local,
			MaxNewTokens: orDefault(runMaxNewTokensRevise, cfg.LLM.MaxNewTokens),
		},
		Limit:       runLimit,
		Concurrency: runConcurrency,
	})
	if err := closeOut(); err != nil && runErr == nil {
		runErr = err
	}
	if stats.Failed > 0 {
		log.Warn("some records failed", "failed", stats.Failed, "records", stats.Records)
	}
	log.Debug("run finished", "took", time.Since(start).String())
	return runErr
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func openOutput(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
