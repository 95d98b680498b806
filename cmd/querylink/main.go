// Command querylink runs SQL against saved PostgreSQL and SQLite servers
// and browses their catalogs.
//
// Usage:
//
//	querylink [global flags] <command> [flags]
//
//	querylink servers add -name local -host localhost -user app -default-database app
//	querylink query -server 1 -sql 'SELECT 1'
//	querylink catalog -server 1 -schema public -table users
//	querylink shell -server 1
package main

import (
	"context"
	_ "embed"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/term"

	"github.com/justjake/querylink/pkg/backend"
	"github.com/justjake/querylink/pkg/config"
	"github.com/justjake/querylink/pkg/observability"
	"github.com/justjake/querylink/pkg/query"
	"github.com/justjake/querylink/pkg/servers"
	"github.com/justjake/querylink/pkg/workers"
)

//go:embed README.md
var readmeMarkdown string

var bannerLines = []string{
	`                           ___       __   `,
	`  ___ ___ _____ ______ __ / (_)___  / /__ `,
	` / _ '/ // / -_) __/ // // / / _ \/  '_/ `,
	` \_, /\_,_/\__/_/  \_, //_/_/_//_/_/\_\  `,
	`  /_/             /___/                  `,
}

func printBanner(w io.Writer) {
	// Gradient from teal to purple
	teal, _ := colorful.Hex("#00CED1")
	purple, _ := colorful.Hex("#9B30FF")
	bgColor := lipgloss.Color("#1a1a2e")

	maxWidth := len(bannerLines[0])

	var lines []string
	for _, line := range bannerLines {
		var result strings.Builder
		for i, r := range line {
			t := float64(i) / float64(maxWidth-1)
			c := teal.BlendLuv(purple, t)
			style := lipgloss.NewStyle().
				Foreground(lipgloss.Color(c.Hex())).
				Background(bgColor).
				Bold(true)
			result.WriteString(style.Render(string(r)))
		}
		lines = append(lines, result.String())
	}

	box := lipgloss.NewStyle().
		Background(bgColor).
		Padding(0, 2).
		Render(strings.Join(lines, "\n"))

	fmt.Fprintln(w, box)
	fmt.Fprintln(w)
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00CED1"))

	descStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))

	flagStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#9B30FF")).
			Bold(true)

	exampleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Italic(true)
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, app *app, args []string) error
}

var commands = []command{
	{"query", "run one statement and print its rows", runQuery},
	{"catalog", "list databases, schemas, tables, or describe a table", runCatalog},
	{"servers", "manage saved servers (list, get, add, update, rm)", runServers},
	{"shell", "read statements from stdin, keeping connections open", runShell},
}

func findCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, titleStyle.Render("Usage:"))
	fmt.Fprintf(w, "  querylink %s %s\n\n", flagStyle.Render("[flags]"), flagStyle.Render("<command> [command flags]"))

	fmt.Fprintln(w, titleStyle.Render("Commands:"))
	for _, c := range commands {
		fmt.Fprintf(w, "  %s %s\n", flagStyle.Render(fmt.Sprintf("%-8s", c.name)), descStyle.Render(c.summary))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, titleStyle.Render("Flags:"))
	flag.VisitAll(func(f *flag.Flag) {
		fmt.Fprintf(w, "  %s\n      %s\n", flagStyle.Render("-"+f.Name), f.Usage)
	})
	fmt.Fprintln(w)

	fmt.Fprintln(w, titleStyle.Render("Example:"))
	fmt.Fprintln(w, exampleStyle.Render("  querylink -config querylink.json query -server 1 -sql 'SELECT now()'"))
	fmt.Fprintln(w)

	fmt.Fprintln(w, descStyle.Render("Run 'querylink -help' for full documentation."))
	fmt.Fprintln(w)
}

func printFullDocs() {
	// Get terminal width, default to 80 if not a terminal
	width := 80
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = w
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		fmt.Println(readmeMarkdown)
		return
	}

	out, err := renderer.Render(readmeMarkdown)
	if err != nil {
		fmt.Println(readmeMarkdown)
		return
	}

	fmt.Print(out)
}

// app is the wiring shared by every command.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *servers.Store
	executor *query.Executor
	out      *output
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics, out *output) (*app, error) {
	store, err := servers.Open(ctx, cfg.GetStateDatabase(), config.NewLazySecretCache(), logger)
	if err != nil {
		return nil, err
	}
	executor := query.NewExecutor(query.Options{
		Servers:                 store,
		Connector:               &backend.Connector{Timeout: cfg.GetConnectTimeout()},
		Workers:                 workers.New(cfg.GetWorkers()),
		Logger:                  logger,
		Metrics:                 metrics,
		DiscardOnTransportError: cfg.GetDiscardOnTransportError(),
	})
	return &app{cfg: cfg, logger: logger, store: store, executor: executor, out: out}, nil
}

func (a *app) Close() {
	a.executor.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("error closing state database", "error", err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.ParseConfig("{}")
	}
	return config.ReadConfigFile(path)
}

func main() {
	configPath := flag.String("config", "", "path to querylink.json config file (default: built-in defaults)")
	jsonOut := flag.Bool("json", false, "output logs and results as JSON")
	verbose := flag.Bool("v", false, "log at debug level")
	metricsListen := flag.String("metrics", "", "serve Prometheus metrics on this address, e.g. ':9090' (overrides config)")
	showHelp := flag.Bool("help", false, "show full documentation")
	flag.Usage = func() { printUsage(os.Stderr) }
	flag.Parse()

	if *showHelp {
		printFullDocs()
		os.Exit(0)
	}

	cmd, ok := findCommand(flag.Arg(0))
	if !ok {
		if flag.NArg() > 0 {
			fmt.Fprintf(os.Stderr, "unknown command %q\n\n", flag.Arg(0))
		} else if term.IsTerminal(int(os.Stderr.Fd())) {
			printBanner(os.Stderr)
		}
		printUsage(os.Stderr)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	var handler slog.Handler
	if *jsonOut {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("failed to read config", "error", err)
		os.Exit(1)
	}
	if p := config.ParsePrometheusListen(*metricsListen); p != nil {
		cfg.Prometheus = p
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("config validation failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metrics *observability.Metrics
	metricsServer := observability.NewMetricsServer(cfg.Prometheus, nil, logger)
	if metricsServer.Enabled() {
		metrics = observability.DefaultMetrics(cfg.Prometheus.GetNamespace())
		if err := metricsServer.Start(); err != nil {
			logger.Error("failed to start metrics server", "error", err)
			os.Exit(1)
		}
	}

	out := newOutput(os.Stdout, *jsonOut)
	a, err := newApp(ctx, cfg, logger, metrics, out)
	if err != nil {
		logger.Error("failed to open state database", "path", cfg.GetStateDatabase(), "error", err)
		os.Exit(1)
	}

	err = cmd.run(ctx, a, flag.Args()[1:])
	a.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	_ = metricsServer.Shutdown(shutdownCtx)
	cancel()

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		logger.Error(cmd.name+" failed", "error", err)
		os.Exit(1)
	}
}
