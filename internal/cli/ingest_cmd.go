package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"props2mcp/internal/appstate"
	"props2mcp/internal/config"
	"props2mcp/internal/elastic"
	"props2mcp/internal/ingest"
	"props2mcp/internal/store"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Download the dataset and load it into Elasticsearch",
	RunE:  runIngest,
}

var (
	ingestDataset       string
	ingestBatchSize     int
	ingestMaxAttempts   int
	ingestFailFast      bool
	ingestSettleDelay   time.Duration
	ingestFailureReport string
)

func init() {
	ingestCmd.Flags().StringVar(&ingestDataset, "dataset", "", "dataset variant: full|medium|small|tiny")
	ingestCmd.Flags().IntVar(&ingestBatchSize, "batch-size", 0, "documents per bulk request")
	ingestCmd.Flags().IntVar(&ingestMaxAttempts, "max-attempts", 0, "total load attempts before giving up")
	ingestCmd.Flags().BoolVar(&ingestFailFast, "fail-fast", false, "single attempt, no retry loop")
	ingestCmd.Flags().DurationVar(&ingestSettleDelay, "settle-delay", 0, "wait before the post-load count check")
	ingestCmd.Flags().StringVar(&ingestFailureReport, "failure-report", "", "path for the per-document failure report")
}

func runIngest(cmd *cobra.Command, _ []string) error {
	overrides := &config.Overrides{}
	if cmd.Flags().Changed("dataset") {
		overrides.Variant = &ingestDataset
	}
	if cmd.Flags().Changed("batch-size") {
		overrides.BatchSize = &ingestBatchSize
	}
	if cmd.Flags().Changed("max-attempts") {
		overrides.MaxAttempts = &ingestMaxAttempts
	}
	if cmd.Flags().Changed("fail-fast") {
		overrides.FailFast = &ingestFailFast
	}
	if cmd.Flags().Changed("settle-delay") {
		overrides.SettleDelay = &ingestSettleDelay
	}
	if cmd.Flags().Changed("failure-report") {
		overrides.FailureReport = &ingestFailureReport
	}

	cfg, err := config.Load(config.Options{
		ConfigPath: globalFlags.ConfigPath,
		StateDir:   globalFlags.StateDir,
		Overrides:  overrides,
	})
	if err != nil {
		exitWith(ExitConfigInvalid, "ERROR: "+err.Error())
	}

	client, err := elastic.NewClient(cfg.Elastic)
	if err != nil {
		exitWith(ExitConfigInvalid, "ERROR: elasticsearch client: "+err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ledgerPath, err := cfg.StatePath("ledger.sqlite")
	if err != nil {
		exitWith(ExitLedgerFailure, "ERROR: state directory: "+err.Error())
	}
	ledger := store.NewSQLiteLedger(ledgerPath)
	if err := ledger.Init(ctx); err != nil {
		exitWith(ExitLedgerFailure, "ERROR: run ledger: "+err.Error())
	}
	defer func() { _ = ledger.Close() }()

	state := appstate.NewIngestState()
	interactive := !globalFlags.JSON && !globalFlags.Quiet && term.IsTerminal(int(os.Stdout.Fd()))

	logWriter := io.Writer(os.Stderr)
	if interactive || globalFlags.Quiet {
		// the live view owns the terminal; pipeline logs would tear it
		logWriter = io.Discard
	}
	pipeline := &ingest.Pipeline{
		Cfg:    cfg,
		Store:  client,
		Ledger: ledger,
		State:  state,
		Logger: log.New(logWriter, "", log.LstdFlags),
	}

	if interactive {
		return runIngestInteractive(ctx, pipeline, state, cfg)
	}
	return runIngestPlain(ctx, pipeline, cfg)
}

func runIngestPlain(ctx context.Context, pipeline *ingest.Pipeline, cfg *config.Config) error {
	if globalFlags.JSON {
		emitNDJSON("ingest_started", map[string]interface{}{"variant": cfg.Ingest.Variant})
	}
	run, err := pipeline.Run(ctx)
	if globalFlags.JSON {
		event := "ingest_succeeded"
		if err != nil {
			event = "ingest_failed"
		}
		data := map[string]interface{}{
			"run_id":        run.RunID,
			"variant":       run.Variant,
			"attempts":      run.Attempts,
			"success_count": run.SuccessCount,
			"error_count":   run.ErrorCount,
			"final_count":   run.FinalCount,
			"reindexed":     run.Reindexed,
		}
		if err != nil {
			data["error"] = err.Error()
		}
		emitNDJSON(event, data)
	}
	if err != nil {
		exitWith(ExitIngestFailure, "ERROR: ingest: "+err.Error())
	}
	if !globalFlags.Quiet && !globalFlags.JSON {
		s := newStyles(os.Stdout, false)
		fmt.Println(s.Success.Render("ingest complete"),
			s.stat("loaded", run.SuccessCount),
			s.stat("failed", run.ErrorCount),
			s.stat("reindexed", run.Reindexed),
			s.stat("attempts", run.Attempts),
		)
	}
	return nil
}
