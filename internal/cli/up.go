package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"props2mcp/internal/appstate"
	"props2mcp/internal/config"
	"props2mcp/internal/elastic"
	"props2mcp/internal/geo"
	"props2mcp/internal/health"
	"props2mcp/internal/mcp"
	"props2mcp/internal/model"
	"props2mcp/internal/state"
	"props2mcp/internal/store"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start the MCP search server",
	RunE:  runUp,
}

var upListen string

func init() {
	upCmd.Flags().StringVar(&upListen, "listen", "", "host:port to listen on (default 127.0.0.1:8000)")
}

func runUp(_ *cobra.Command, _ []string) error {
	overrides := &config.Overrides{}
	if upListen != "" {
		overrides.ListenAddr = &upListen
	}
	cfg, err := config.Load(config.Options{
		ConfigPath: globalFlags.ConfigPath,
		StateDir:   globalFlags.StateDir,
		Overrides:  overrides,
	})
	if err != nil {
		exitWith(ExitConfigInvalid, "ERROR: "+err.Error())
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)
	if globalFlags.Quiet {
		logger = log.New(io.Discard, "", 0)
	}

	client, err := elastic.NewClient(cfg.Elastic)
	if err != nil {
		exitWith(ExitConfigInvalid, "ERROR: elasticsearch client: "+err.Error())
	}

	ledgerPath, err := cfg.StatePath("ledger.sqlite")
	if err != nil {
		exitWith(ExitLedgerFailure, "ERROR: state directory: "+err.Error())
	}
	ledger := store.NewSQLiteLedger(ledgerPath)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := ledger.Init(ctx); err != nil {
		exitWith(ExitLedgerFailure, "ERROR: run ledger: "+err.Error())
	}
	defer func() { _ = ledger.Close() }()

	var geocoder model.Geocoder
	if cfg.GoogleMapsAPIKey != "" {
		geocoder = geo.NewClient(cfg.GoogleMapsAPIKey)
	}

	ingestState := appstate.NewIngestState()
	server := mcp.NewServer(mcp.Options{
		Config:   cfg,
		Backend:  client,
		Geocoder: geocoder,
		State:    ingestState,
		Ledger:   ledger,
		Logger:   logger,
	})

	listener, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		exitWith(ExitBindFailure, "ERROR: server bind failure: "+err.Error())
	}
	mcpURL := fmt.Sprintf("http://%s%s", listener.Addr().String(), cfg.Server.MCPPath)

	if err := state.WriteConnection(cfg.StateDir, state.Connection{
		URL:             mcpURL,
		Transport:       "streamable-http",
		ProtocolVersion: cfg.Server.ProtocolVersion,
	}); err != nil {
		logger.Printf("could not write connection file: %v", err)
	}

	if cfg.Server.HealthCheckInterval > 0 {
		checker := &health.Checker{
			Client:      client,
			InferenceID: cfg.Elastic.InferenceID,
			Logger:      logger,
		}
		go checker.Run(ctx, cfg.Server.HealthCheckInterval)
	}

	if globalFlags.JSON {
		emitNDJSON("server_started", map[string]interface{}{"url": mcpURL})
		emitNDJSON("connection", map[string]interface{}{
			"transport": "mcp_streamable_http",
			"url":       mcpURL,
		})
	} else if !globalFlags.Quiet {
		s := newStyles(os.Stdout, globalFlags.JSON)
		fmt.Println(s.sectionHeader("MCP endpoint"))
		fmt.Println(s.kv("URL", mcpURL))
		fmt.Println(s.kv("Index", cfg.Elastic.PropertiesIndex))
		fmt.Println(s.kv("Template", cfg.Elastic.SearchTemplateID))
		fmt.Println(s.kv("Headers", "MCP-Session-Id (assigned after initialize)"))
		fmt.Println()
	}

	return server.Serve(ctx, listener)
}

func emitNDJSON(event string, data map[string]interface{}) {
	out := map[string]interface{}{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"level": "info",
		"event": event,
		"data":  data,
	}
	enc := json.NewEncoder(os.Stdout)
	_ = enc.Encode(out)
}
