package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	flag "github.com/spf13/pflag"

	"github.com/emx-mail/mailrows/pkgs/config"
	"github.com/emx-mail/mailrows/pkgs/email"
	"github.com/emx-mail/mailrows/pkgs/logging"
	"github.com/emx-mail/mailrows/pkgs/metrics"
)

const version = "1.0.0"

// app holds global options parsed from the command line and the state
// shared by all commands.
type app struct {
	account     string
	verbose     bool
	metricsAddr string

	cfg      *config.Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	sessions *email.Registry
}

func main() {
	a := &app{sessions: email.NewRegistry()}

	// Global flags
	flag.StringVar(&a.account, "account", "", "Account name or email to use")
	flag.BoolVarP(&a.verbose, "verbose", "v", false, "Verbose output")
	flag.StringVar(&a.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Usage = printUsage
	flag.CommandLine.SetInterspersed(false)
	flag.Parse()

	if *showVersion {
		fmt.Printf("mailrows v%s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "help":
		printUsage()
		os.Exit(0)
	case "init":
		// "init" doesn't need config loaded
		if err := handleInit(parseInitFlags(cmdArgs), os.Stdout); err != nil {
			fatal("init: %v", err)
		}
		return
	}

	a.loadConfig()
	closer := a.setupLogging()
	defer closer()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.setupMetrics(ctx)
	acc := a.loadAccount()

	var err error
	switch cmd {
	case "folders":
		err = a.handleFolders(ctx, acc)
	case "list":
		err = a.handleList(ctx, acc, parseListFlags(cmdArgs))
	case "retrieve":
		err = a.handleRetrieve(ctx, acc, a.parseRetrieveFlags(cmdArgs))
	case "relocate":
		err = a.handleRelocate(ctx, acc, a.parseRelocateFlags(cmdArgs))
	case "runs":
		err = a.handleRuns(ctx, a.parseRunsFlags(cmdArgs))
	case "watch":
		err = a.handleWatch(ctx, acc, a.parseWatchFlags(cmdArgs))
	default:
		fatal("unknown command '%s'", cmd)
	}
	a.closeSessions()
	if err != nil {
		stop()
		closer()
		fatal("%s: %v", cmd, err)
	}
}

func (a *app) loadConfig() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		fmt.Fprintf(os.Stderr, "Run 'mailrows init' to create config instructions\n")
		os.Exit(1)
	}
	a.cfg = cfg
}

func (a *app) setupLogging() func() {
	logCfg := logging.Config{
		Level:  a.cfg.Log.Level,
		Format: a.cfg.Log.Format,
		Output: a.cfg.Log.Output,
	}
	if a.verbose {
		logCfg.Level = "debug"
		logCfg.AddSource = true
	}
	logger, closer := logging.New(logCfg)
	slog.SetDefault(logger)
	a.log = logger
	return func() { closer.Close() }
}

// setupMetrics registers the collectors and, when --metrics-addr is set,
// serves them until ctx is done.
func (a *app) setupMetrics(ctx context.Context) {
	reg := prometheus.NewRegistry()
	a.metrics = metrics.New(reg)
	if a.metricsAddr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{
		Addr:              a.metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server failed", "addr", a.metricsAddr, "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	a.log.Info("serving metrics", "addr", a.metricsAddr)
}

func (a *app) loadAccount() *config.AccountConfig {
	acc, err := a.cfg.GetAccount(a.account)
	if err != nil {
		fatal("%v", err)
	}
	return acc
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `mailrows v%s - Materialize mailbox messages into correlated rows

Usage:
  mailrows [global options] <command> [command options]

Commands:
  folders    List all folders
  list       List message envelopes in a folder (read-only)
  retrieve   Materialize messages into the row store
  relocate   Move messages by identity to another folder
  runs       List stored retrieval runs
  watch      Retrieve new messages whenever the folder changes
  init       Initialize configuration file

Global Options:
  --account <name>        Account name or email to use
  -v, --verbose           Debug logging
  --metrics-addr <addr>   Serve Prometheus metrics on /metrics
  --version               Show version information

Config Resolution:
  1) If emx-config exists: mailrows reads config via emx-config list --json.
  2) Otherwise: set env var EMX_MAIL_CONFIG_JSON to a JSON or YAML config file.
  EMX_MAIL_* variables override single keys (EMX_MAIL_DB, EMX_MAIL_LOG_LEVEL, ...).

List Options:
  --folder <name>        Folder to list (default: INBOX)
  --limit <number>       Maximum messages to show (default: 20)
  --unread-only          Show only unread messages

Retrieve Options:
  --folder <name>           Folder to read (default: retrieve.folder)
  --seen <filter>           all, seen or unseen
  --answered <filter>       all, answered or unanswered
  --select <selection>      all, oldest or newest
  --limit <number>          Cap for oldest/newest (0: no cap)
  --mark-as-read            Leave retrieved messages marked as read
  --attachments             Produce attachment rows
  --headers                 Produce header rows
  --db <path>               Row store path (default: store.path)
  --save-attachments <dir>  Also write attachments to directory

Relocate Options:
  --from <name>          Source folder (default: retrieve.folder)
  --to <name>            Target folder (required)
  --id <identity>        Message identity (repeatable; positional args work too)
  --run <id|last>        Relocate every message of a stored run
  --db <path>            Row store path (default: store.path)

Init Options:
  --path <file>          Config file to write (default: $EMX_MAIL_CONFIG_JSON)
  --force                Overwrite an existing config file

Watch Options:
  --folder <name>        Folder to watch (default: INBOX)
  --poll-only            Force polling mode (disable IDLE)
  --once                 Process existing messages then exit
  --attachments          Produce attachment rows
  --headers              Produce header rows
  --db <path>            Row store path (default: store.path)

Examples:
  mailrows folders
  mailrows list --limit 5
  mailrows retrieve --seen unseen --select newest --limit 10 --attachments
  mailrows relocate --run last --to Archive
  mailrows relocate --to Archive "<abc@example.com>"
  mailrows --metrics-addr :9090 watch --headers
  mailrows init --path ~/.config/mailrows.json
`, version)
}
