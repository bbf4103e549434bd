package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"props2mcp/internal/appstate"
	"props2mcp/internal/config"
	"props2mcp/internal/ingest"
	"props2mcp/internal/model"
)

type ingestTickMsg struct{}

type ingestDoneMsg struct {
	run model.RunRecord
	err error
}

// ingestModel renders live pipeline counters while the run proceeds in a
// background goroutine. Counters come from the shared atomic state, so the
// view never blocks the workers.
type ingestModel struct {
	ctx      context.Context
	pipeline *ingest.Pipeline
	state    *appstate.IngestState
	variant  string
	styles   styles
	spinner  spinner.Model

	snapshot appstate.IngestSnapshot
	done     bool
	run      model.RunRecord
	err      error
}

func newIngestModel(ctx context.Context, pipeline *ingest.Pipeline, state *appstate.IngestState, cfg *config.Config) ingestModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(clrBrand)

	return ingestModel{
		ctx:      ctx,
		pipeline: pipeline,
		state:    state,
		variant:  cfg.Ingest.Variant,
		styles:   newStyles(os.Stdout, false),
		spinner:  s,
	}
}

func (m ingestModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.runPipelineCmd(), ingestTickCmd())
}

func (m ingestModel) runPipelineCmd() tea.Cmd {
	return func() tea.Msg {
		run, err := m.pipeline.Run(m.ctx)
		return ingestDoneMsg{run: run, err: err}
	}
}

func ingestTickCmd() tea.Cmd {
	return tea.Tick(150*time.Millisecond, func(time.Time) tea.Msg {
		return ingestTickMsg{}
	})
}

func (m ingestModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		return m, nil
	case ingestTickMsg:
		m.snapshot = m.state.Snapshot()
		if m.done {
			return m, nil
		}
		return m, ingestTickCmd()
	case ingestDoneMsg:
		m.done = true
		m.run = msg.run
		m.err = msg.err
		m.snapshot = m.state.Snapshot()
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	default:
		return m, nil
	}
}

func (m ingestModel) View() string {
	var b strings.Builder

	if m.done {
		if m.err != nil {
			b.WriteString(fmt.Sprintf("%s ingest failed: %v\n", m.styles.errPrefix(), m.err))
		} else {
			b.WriteString("ingest complete\n")
		}
	} else {
		b.WriteString(fmt.Sprintf("%s ingesting %s dataset (attempt %d, %s)\n",
			m.spinner.View(), m.variant, m.snapshot.Attempt, m.snapshot.Phase))
	}

	b.WriteString(fmt.Sprintf("  %s %s %s %s %s\n",
		m.styles.stat("attempted", m.snapshot.Attempted),
		m.styles.stat("decoded", m.snapshot.Decoded),
		m.styles.stat("loaded", m.snapshot.Succeeded),
		m.styles.stat("failed", m.snapshot.Failed),
		m.styles.stat("reindexed", m.snapshot.Reindexed),
	))
	if m.done && m.err == nil {
		b.WriteString(fmt.Sprintf("  %s %s\n",
			m.styles.stat("final_count", m.run.FinalCount),
			m.styles.stat("attempts", m.run.Attempts),
		))
	}
	return b.String()
}

func runIngestInteractive(ctx context.Context, pipeline *ingest.Pipeline, state *appstate.IngestState, cfg *config.Config) error {
	program := tea.NewProgram(newIngestModel(ctx, pipeline, state, cfg))
	final, err := program.Run()
	if err != nil {
		exitWith(ExitGenericError, "ERROR: "+err.Error())
	}
	if m, ok := final.(ingestModel); ok && m.err != nil {
		exitWith(ExitIngestFailure, "ERROR: ingest: "+m.err.Error())
	}
	return nil
}
