package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/emx-mail/mailrows/pkgs/config"
)

type initFlags struct {
	path  string
	force bool
}

func parseInitFlags(args []string) initFlags {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	var f initFlags
	fs.StringVar(&f.path, "path", "", "Config file to write (default: $"+config.EnvConfigJSONPath+")")
	fs.BoolVar(&f.force, "force", false, "Overwrite an existing config file")
	if err := fs.Parse(args); err != nil {
		fatal("init: %v", err)
	}
	return f
}

func handleInit(f initFlags, w io.Writer) error {
	root := config.ExampleRootConfig()

	if f.path == "" && config.HasEmxConfig() {
		data, err := json.MarshalIndent(root, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format example config: %w", err)
		}
		fmt.Fprintln(w, "emx-config detected. Add the keys under 'mail' to your emx-config file:")
		fmt.Fprintln(w, string(data))
		fmt.Fprintln(w, "Then verify with: emx-config list --json")
		return nil
	}

	path := f.path
	if path == "" {
		var err error
		if path, err = config.GetEnvConfigPath(); err != nil {
			return fmt.Errorf("%w (or pass --path)", err)
		}
	}
	if _, err := os.Stat(path); err == nil && !f.force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.SaveConfig(path, root); err != nil {
		return err
	}

	// Read the file back so the printed defaults are the ones commands will see.
	cfg, err := config.LoadConfigFile(path)
	if err != nil {
		return fmt.Errorf("written config does not load: %w", err)
	}

	fmt.Fprintf(w, "Created config file at: %s\n", path)
	if os.Getenv(config.EnvConfigJSONPath) != path {
		fmt.Fprintf(w, "Tip: set %s=%s to use this config file.\n", config.EnvConfigJSONPath, path)
	}
	printDefaults(w, cfg)
	fmt.Fprintln(w, "Edit the account entry and add its password before running retrieve.")
	return nil
}

func printDefaults(w io.Writer, cfg *config.Config) {
	r := cfg.Retrieve
	fmt.Fprintln(w, "\nRetrieve defaults:")
	fmt.Fprintf(w, "  folder=%s seen=%s answered=%s selection=%s limit=%d\n",
		r.Folder, r.Seen, r.Answered, r.Selection, r.Limit)
	fmt.Fprintf(w, "  mark_as_read=%t attachments=%t headers=%t\n", r.MarkAsRead, r.Attachments, r.Headers)
	fmt.Fprintf(w, "Relocate batch size: %d\n", cfg.Relocate.BatchSize)
	fmt.Fprintf(w, "Row store: %s\n", cfg.Store.Path)

	fmt.Fprintln(w, "\nEnvironment overrides:")
	for _, o := range config.EnvOverrides() {
		fmt.Fprintf(w, "  %-30s %s\n", o.Env, o.Key)
	}
}
