package main

import (
	"context"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/emx-mail/mailrows/pkgs/config"
	"github.com/emx-mail/mailrows/pkgs/relocation"
	"github.com/emx-mail/mailrows/pkgs/store"
)

type relocateFlags struct {
	from string
	to   string
	ids  []string
	run  string
	db   string
}

func (a *app) parseRelocateFlags(args []string) relocateFlags {
	fs := flag.NewFlagSet("relocate", flag.ExitOnError)
	var f relocateFlags
	fs.StringVar(&f.from, "from", a.cfg.Retrieve.Folder, "Source folder")
	fs.StringVar(&f.to, "to", "", "Target folder")
	fs.StringArrayVar(&f.ids, "id", nil, "Message identity (repeatable)")
	fs.StringVar(&f.run, "run", "", "Relocate the messages of a stored run (id or \"last\")")
	fs.StringVar(&f.db, "db", "", "Row store path")
	if err := fs.Parse(args); err != nil {
		fatal("relocate: %v", err)
	}
	f.ids = append(f.ids, fs.Args()...)
	return f
}

func (a *app) handleRelocate(ctx context.Context, acc *config.AccountConfig, f relocateFlags) error {
	if f.to == "" {
		return fmt.Errorf("--to is required")
	}

	ids := f.ids
	if f.run != "" {
		runIDs, err := a.runIdentities(ctx, f.db, f.run)
		if err != nil {
			return err
		}
		ids = append(ids, runIDs...)
	}
	if len(ids) == 0 {
		return fmt.Errorf("no identities given: use --id, --run or positional arguments")
	}

	client, err := a.connect(acc)
	if err != nil {
		return err
	}

	engine := &relocation.Engine{
		Session:   client,
		Log:       a.log,
		Metrics:   a.metrics,
		BatchSize: a.cfg.Relocate.BatchSize,
	}
	if a.verbose {
		engine.Progress = func(fraction float64, status string) {
			fmt.Fprintf(os.Stderr, "[%3.0f%%] %s\n", fraction*100, status)
		}
	}

	res, err := engine.Relocate(ctx, ids, f.from, f.to)
	if err != nil {
		return err
	}
	if res.Moved == 0 {
		fmt.Printf("No matching messages in %s\n", f.from)
		return nil
	}
	fmt.Printf("Moved %d message(s) from %s to %s (%s)\n", res.Moved, f.from, f.to, res.Strategy)
	return nil
}

// runIdentities reads the identities of a stored run. "last" names the
// newest completed run.
func (a *app) runIdentities(ctx context.Context, db, run string) ([]string, error) {
	st, err := a.openStore(db)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	if run == "last" {
		runs, err := st.Runs(ctx)
		if err != nil {
			return nil, err
		}
		if len(runs) == 0 {
			return nil, fmt.Errorf("no stored runs")
		}
		run = runs[0].ID
	}
	return st.Identities(ctx, run)
}

type runsFlags struct {
	db string
}

func (a *app) parseRunsFlags(args []string) runsFlags {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	var f runsFlags
	fs.StringVar(&f.db, "db", "", "Row store path")
	if err := fs.Parse(args); err != nil {
		fatal("runs: %v", err)
	}
	return f
}

func (a *app) handleRuns(ctx context.Context, f runsFlags) error {
	st, err := a.openStore(f.db)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.Runs(ctx)
	if err != nil {
		return err
	}
	for _, r := range runs {
		printRun(ctx, st, r)
	}
	return nil
}

func printRun(ctx context.Context, st *store.SQLiteStore, r store.Run) {
	ids, err := st.Identities(ctx, r.ID)
	if err != nil {
		fmt.Printf("%s  %s  %s  (error: %v)\n", r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Folder, err)
		return
	}
	fmt.Printf("%s  %s  %-20s %d message(s)\n", r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Folder, len(ids))
}
