package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"props2mcp/internal/config"
	"props2mcp/internal/state"
	"props2mcp/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last recorded ingest run",
	RunE:  runStatus,
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.Options{
		ConfigPath:   globalFlags.ConfigPath,
		StateDir:     globalFlags.StateDir,
		SkipValidate: true,
	})
	if err != nil {
		exitWith(ExitConfigInvalid, "ERROR: "+err.Error())
	}

	ledgerPath, err := cfg.StatePath("ledger.sqlite")
	if err != nil {
		return err
	}
	ledger := store.NewSQLiteLedger(ledgerPath)
	defer func() { _ = ledger.Close() }()

	if conn, found, connErr := state.ReadConnection(cfg.StateDir); connErr == nil && found && !globalFlags.JSON {
		s := newStyles(os.Stdout, false)
		fmt.Println(s.sectionHeader("MCP endpoint"))
		fmt.Println(s.kv("URL", conn.URL))
		fmt.Println(s.kv("Transport", conn.Transport))
		fmt.Println()
	}

	ctx := context.Background()
	run, ok, err := ledger.LastRun(ctx)
	if err != nil {
		exitWith(ExitLedgerFailure, "ERROR: run ledger: "+err.Error())
	}
	if !ok {
		fmt.Println("No runs recorded yet - run 'props2mcp ingest' first.")
		return nil
	}

	if globalFlags.JSON {
		emitNDJSON("last_run", map[string]interface{}{
			"run_id":        run.RunID,
			"variant":       run.Variant,
			"started_at":    run.StartedAt.UTC(),
			"finished_at":   run.FinishedAt.UTC(),
			"attempts":      run.Attempts,
			"success_count": run.SuccessCount,
			"error_count":   run.ErrorCount,
			"final_count":   run.FinalCount,
			"reindexed":     run.Reindexed,
			"succeeded":     run.Succeeded,
		})
		return nil
	}

	s := newStyles(os.Stdout, false)
	outcome := s.Success.Render("succeeded")
	if !run.Succeeded {
		outcome = s.Red.Render("failed")
	}
	fmt.Println(s.sectionHeader("Last ingest run"))
	fmt.Println(s.kv("Run", run.RunID))
	fmt.Println(s.kv("Variant", run.Variant))
	fmt.Println(s.kv("Started", run.StartedAt.UTC().Format("2006-01-02 15:04:05 MST")))
	fmt.Println(s.kv("Finished", run.FinishedAt.UTC().Format("2006-01-02 15:04:05 MST")))
	fmt.Println(s.kv("Outcome", outcome))
	fmt.Println(" ",
		s.stat("attempts", run.Attempts),
		s.stat("loaded", run.SuccessCount),
		s.stat("failed", run.ErrorCount),
		s.stat("final_count", run.FinalCount),
		s.stat("reindexed", run.Reindexed),
	)
	return nil
}
