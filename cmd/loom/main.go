// Command loom runs the streaming pipeline against a scripted backend and
// renders the resulting document to the terminal. It exists to exercise the
// full path (adapter, bus, dispatcher, correlation, echo suppression, part
// store) outside of tests.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"loom/internal/config"
	"loom/internal/event"
	"loom/internal/observability"
	"loom/internal/part"
	"loom/internal/pipeline"
	"loom/internal/source"
)

var (
	cyan   = color.New(color.FgCyan).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func main() {
	root := &cobra.Command{
		Use:   "loom",
		Short: "Streaming event pipeline for an agent terminal frontend",
	}
	root.AddCommand(newDemoCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		os.Exit(1)
	}
}

func newDemoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Stream a scripted conversation through the pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo()
		},
	}
	cmd.Flags().Duration("flush-interval", 0, "dispatcher flush cadence (0 = default)")
	cmd.Flags().Bool("debug-events", false, "log every event crossing the bus")
	cmd.Flags().Int("metrics-port", 0, "serve Prometheus metrics on this port")
	_ = viper.BindPFlag("flush_interval", cmd.Flags().Lookup("flush-interval"))
	_ = viper.BindPFlag("debug_events", cmd.Flags().Lookup("debug-events"))
	_ = viper.BindPFlag("metrics_port", cmd.Flags().Lookup("metrics-port"))
	viper.SetEnvPrefix("LOOM")
	viper.AutomaticEnv()
	return cmd
}

func runDemo() error {
	cfg := config.FromEnv()
	if d := viper.GetDuration("flush_interval"); d > 0 {
		cfg.FlushInterval = d
	}
	if viper.GetBool("debug_events") {
		cfg.DebugEvents = true
		cfg.Log.Level = "debug"
	}
	if port := viper.GetInt("metrics_port"); port > 0 {
		cfg.Metrics.Enabled = true
		cfg.Metrics.PrometheusPort = port
	}

	logger := observability.NewLogger(cfg.Log)
	metrics, err := observability.NewMetrics(cfg.Metrics)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = metrics.Shutdown(ctx)
	}()

	p := pipeline.New(logger, metrics, pipeline.Config{
		FlushInterval: cfg.FlushInterval,
		DebugEvents:   cfg.DebugEvents,
	})
	defer p.Close()

	finished := make(chan struct{})
	p.Subscribe(func(batch []event.Enriched) {
		for _, en := range batch {
			printEvent(en)
			if en.Kind.Terminal() {
				close(finished)
			}
		}
	})

	handle := newScriptedHandle("sess-demo", "run-demo")
	adapter := source.NewPullAdapter(handle, p.Bus(), logger)
	if err := p.StartRun(handle.RunID(), handle.SessionID(), adapter); err != nil {
		return fmt.Errorf("start run: %w", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-finished:
	case <-stop:
		fmt.Println(yellow("\ninterrupted, cancelling run"))
		p.CancelRun()
		return nil
	}

	printDocument(p.Store(), "msg-1")
	usage := p.Store().Usage(handle.RunID())
	fmt.Printf("%s in=%d out=%d\n", gray("usage:"), usage.InputTokens, usage.OutputTokens)
	return nil
}

func printEvent(en event.Enriched) {
	switch payload := en.Payload.(type) {
	case event.TextDelta:
		fmt.Print(payload.Text)
	case event.TextComplete:
		fmt.Println()
	case event.ToolStart:
		if !en.SubagentTool {
			fmt.Printf("%s %s\n", cyan("⚙"), bold(payload.Name))
		}
	case event.ToolComplete:
		if en.SubagentTool {
			return
		}
		if payload.Status == event.ToolError {
			fmt.Printf("%s %s\n", red("✗"), payload.ErrorMessage)
		} else {
			fmt.Printf("%s %s\n", green("✓"), gray(firstLine(payload.Output)))
		}
	case event.AgentStart:
		fmt.Printf("%s agent %s: %s\n", yellow("→"), payload.AgentID, payload.Task)
	case event.AgentComplete:
		fmt.Printf("%s agent %s %s\n", yellow("←"), payload.AgentID, string(payload.Status))
	case event.SessionStatus:
		fmt.Printf("%s %s\n", gray("·"), gray(payload.Status))
	}
}

func printDocument(store *part.Store, messageID string) {
	fmt.Println(bold("\n--- final document ---"))
	for _, pt := range store.Parts(messageID) {
		switch pt.Type {
		case part.TypeText:
			fmt.Printf("%s %s\n", gray("[text]"), pt.Text)
		case part.TypeReasoning:
			fmt.Printf("%s %s\n", gray("[reasoning]"), gray(pt.Text))
		case part.TypeTool:
			fmt.Printf("%s %s (%s)\n", gray("[tool]"), pt.Tool.Name, pt.Tool.Status)
		case part.TypeAgentGroup:
			fmt.Printf("%s %d agents\n", gray("[agents]"), len(pt.Agents))
			for _, track := range pt.Agents {
				fmt.Printf("   %s %s: %d tools, %s\n",
					yellow("•"), track.AgentID, len(track.Tools), track.Status)
			}
		case part.TypeStatus:
			fmt.Printf("%s %s\n", gray("[status]"), pt.Status)
		}
	}
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

// scriptedHandle is a pull backend replaying a canned conversation with
// small inter-unit delays so batching is observable.
type scriptedHandle struct {
	sessionID string
	runID     string
	units     []*source.PullUnit
	idx       int
}

func newScriptedHandle(sessionID, runID string) *scriptedHandle {
	return &scriptedHandle{
		sessionID: sessionID,
		runID:     runID,
		units: []*source.PullUnit{
			{Type: source.PullStatus, MessageID: "msg-1", Status: "thinking"},
			{Type: source.PullThinking, MessageID: "msg-1", Text: "The user wants a file search. "},
			{Type: source.PullThinkingDone, MessageID: "msg-1"},
			{Type: source.PullText, MessageID: "msg-1", Text: "Let me look "},
			{Type: source.PullText, MessageID: "msg-1", Text: "at the project. "},
			{Type: source.PullToolBegin, MessageID: "msg-1", CallID: "call-1", ToolName: "glob", Input: map[string]any{"pattern": "**/*.go"}},
			{Type: source.PullToolEnd, MessageID: "msg-1", CallID: "call-1", ToolName: "glob", Output: "main.go\npipeline.go"},
			{Type: source.PullAgentBegin, MessageID: "msg-1", AgentID: "agent-1", ParentCallID: "call-1", Task: "summarize matches"},
			{Type: source.PullToolBegin, MessageID: "msg-1", CallID: "call-2", ToolName: "read", AgentID: "agent-1"},
			{Type: source.PullToolEnd, MessageID: "msg-1", CallID: "call-2", ToolName: "read", AgentID: "agent-1", Output: "package main"},
			{Type: source.PullAgentDone, MessageID: "msg-1", AgentID: "agent-1", Result: "two Go files"},
			{Type: source.PullText, MessageID: "msg-1", Text: "Found two Go files."},
			{Type: source.PullTextDone, MessageID: "msg-1"},
			{Type: source.PullUsage, InputTokens: 420, OutputTokens: 96},
		},
	}
}

func (h *scriptedHandle) SessionID() string { return h.sessionID }
func (h *scriptedHandle) RunID() string     { return h.runID }

func (h *scriptedHandle) Next(ctx context.Context) (*source.PullUnit, error) {
	if h.idx >= len(h.units) {
		return nil, io.EOF
	}
	select {
	case <-time.After(30 * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	u := h.units[h.idx]
	h.idx++
	return u, nil
}
