package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"

	"doctriage/internal/classify"
	"doctriage/internal/config"
	"doctriage/internal/domain"
	"doctriage/internal/export"
	"doctriage/internal/server"
	"doctriage/internal/tui"
)

const usage = `Usage: doctriage [--config=config.yaml] <command> [args]

Commands:
  add_paper <path> [--topics "A, B, C"]   classify, file and index one PDF
  scan_dir <path>                         ingest every PDF under a directory
  search_paper <query>                    semantic search over papers
  add_image <path>                        describe and index one image
  search_image <query>                    semantic search over images
  tui                                     interactive search
  serve [--addr 127.0.0.1:8080]           HTTP API
  export <out.xlsx>                       dump both collections to a workbook
`

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

func main() {
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/doctriage/config.yaml if not provided)")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		fmt.Print(usage)
		return
	}

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, rest := args[0], args[1:]
	if !knownCommand(cmd) {
		fmt.Print(usage)
		return
	}

	app, err := assemble(ctx, cfg, needsGeneration(cmd), logger)
	if err != nil {
		log.Fatalf("init failed: %v", err)
	}
	defer app.Close()

	if err := run(ctx, app, cfg, cmd, rest, os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Print(usage)
			return
		}
		logger.Error("command failed", "command", cmd, "error", err)
	}
}

var errUsage = errors.New("usage")

func knownCommand(cmd string) bool {
	switch cmd {
	case "add_paper", "scan_dir", "search_paper", "add_image", "search_image", "tui", "serve", "export":
		return true
	}
	return false
}

func needsGeneration(cmd string) bool {
	switch cmd {
	case "add_paper", "scan_dir", "add_image", "serve":
		return true
	}
	return false
}

func run(ctx context.Context, app *App, cfg *config.AppConfig, cmd string, args []string, out io.Writer) error {
	agent := app.Agent
	switch cmd {
	case "add_paper":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		topics := fs.String("topics", "", "comma separated topic list")
		pos, err := parseInterspersed(fs, args)
		if err != nil || len(pos) != 1 {
			return errUsage
		}
		res, err := agent.AddPaper(ctx, pos[0], classify.ParseTopics(*topics))
		if err != nil {
			return err
		}
		printPaperOutcome(out, res.Category, res.Path, res.Indexed)
	case "scan_dir":
		if len(args) != 1 {
			return errUsage
		}
		stats, err := agent.ScanDir(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(out, okStyle.Render(fmt.Sprintf("Scanned %d PDFs: %d indexed, %d not indexed", stats.Found, stats.Indexed, stats.Failed)))
	case "search_paper", "search_image":
		if len(args) != 1 {
			return errUsage
		}
		collection := domain.Papers
		title := "Search Results:"
		if cmd == "search_image" {
			collection = domain.Images
			title = "Image Results:"
		}
		res, err := agent.Search(ctx, collection, args[0])
		if err != nil {
			return err
		}
		if res == nil {
			return nil
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, titleStyle.Render(title))
		for i, r := range res {
			fmt.Fprintln(out, tui.FormatResult(i+1, collection, r))
		}
	case "add_image":
		if len(args) != 1 {
			return errUsage
		}
		res, err := agent.AddImage(ctx, args[0])
		if err != nil {
			return err
		}
		if res.Indexed {
			fmt.Fprintln(out, okStyle.Render("Image indexed: "+classify.Truncate(res.Description, 50)+"..."))
		} else {
			fmt.Fprintln(out, warnStyle.Render("Image described but not indexed"))
		}
	case "tui":
		if _, err := tea.NewProgram(tui.New(ctx, agent), tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return err
		}
	case "serve":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		addr := fs.String("addr", cfg.Server.Addr, "listen address")
		if _, err := parseInterspersed(fs, args); err != nil {
			return errUsage
		}
		return serve(ctx, *addr, server.NewRouter(agent, server.Config{InboxRoot: cfg.Server.InboxRoot}, slog.Default()))
	case "export":
		if len(args) != 1 {
			return errUsage
		}
		if err := export.NewService(agent, slog.Default()).WriteFile(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintln(out, okStyle.Render("Exported to "+args[0]))
	}
	return nil
}

func printPaperOutcome(out io.Writer, category, path string, indexed bool) {
	fmt.Fprintf(out, "Category: %s\n", category)
	fmt.Fprintf(out, "File:     %s\n", path)
	if indexed {
		fmt.Fprintln(out, okStyle.Render("Indexed."))
	} else {
		fmt.Fprintln(out, warnStyle.Render("Not indexed ("+filepath.Base(path)+")."))
	}
}

// parseInterspersed parses flags that may appear before or after positional
// arguments and returns the positionals.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	fs.SetOutput(io.Discard)
	var pos []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return pos, nil
		}
		pos = append(pos, args[0])
		args = args[1:]
	}
}

func serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http.listen", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
