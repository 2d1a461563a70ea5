// snapshotctl inspects and repairs statusboard snapshots offline.
//
//	snapshotctl inspect [--backend file|sqlite] [--path data.json] [--format json|yaml]
//	snapshotctl export  [--backend ...] [--path ...] [--format json|yaml]
//	snapshotctl heal    [--backend ...] [--path ...]
//
// heal rewrites the snapshot in the current layout, migrating a legacy
// document and assigning ids to roster entries that lack one. Run it with
// the server stopped.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/p-blackswan/statusboard/internal/record"
	"github.com/p-blackswan/statusboard/internal/snapshot"
	"github.com/p-blackswan/statusboard/internal/state"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	backend string
	path    string
	format  string
	verbose bool
}

// summary is the inspect output.
type summary struct {
	Backend      string   `json:"backend" yaml:"backend"`
	Path         string   `json:"path" yaml:"path"`
	Roster       int      `json:"roster" yaml:"roster"`
	History      int      `json:"history" yaml:"history"`
	Active       bool     `json:"active" yaml:"active"`
	ActiveID     string   `json:"active_id,omitempty" yaml:"active_id,omitempty"`
	MissingIDs   int      `json:"missing_ids" yaml:"missing_ids"`
	DuplicateIDs []string `json:"duplicate_ids,omitempty" yaml:"duplicate_ids,omitempty"`
}

// document mirrors the stored layout for export.
type document struct {
	Version int                  `json:"version" yaml:"version"`
	Roster  []record.Record      `json:"roster" yaml:"roster"`
	Active  *state.Active        `json:"active" yaml:"active"`
	History []state.HistoryEntry `json:"history" yaml:"history"`
}

func run(args []string, stdout, stderr io.Writer) error {
	var opts options
	flagSet := pflag.NewFlagSet("snapshotctl", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&opts.backend, "backend", snapshot.BackendFile, "snapshot backend: file or sqlite")
	flagSet.StringVarP(&opts.path, "path", "p", "data.json", "snapshot file or sqlite database")
	flagSet.StringVarP(&opts.format, "format", "f", "json", "output format: json or yaml")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")
	flagSet.Usage = func() { printHelp(stderr, flagSet) }

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	rest := flagSet.Args()
	if len(rest) != 1 {
		printHelp(stderr, flagSet)
		return fmt.Errorf("expected exactly one command")
	}
	if opts.format != "json" && opts.format != "yaml" {
		return fmt.Errorf("unknown format %q", opts.format)
	}

	logger := zerolog.Nop()
	if opts.verbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: stderr}).With().Timestamp().Logger()
	}

	gw, err := snapshot.Open(opts.backend, opts.path, logger)
	if err != nil {
		return err
	}
	defer gw.Close()

	ctx := context.Background()
	switch rest[0] {
	case "inspect":
		snap, err := gw.Load(ctx)
		if err != nil {
			return fmt.Errorf("loading snapshot: %w", err)
		}
		return write(stdout, opts.format, inspect(opts, snap))
	case "export":
		snap, err := gw.Load(ctx)
		if err != nil {
			return fmt.Errorf("loading snapshot: %w", err)
		}
		return write(stdout, opts.format, document{
			Version: snapshot.Version,
			Roster:  snap.Roster,
			Active:  snap.Active,
			History: snap.History,
		})
	case "heal":
		snap, err := gw.Load(ctx)
		if err != nil {
			return fmt.Errorf("loading snapshot: %w", err)
		}
		healed := snapshot.Heal(&snap, nil)
		if err := gw.Save(ctx, snap); err != nil {
			return fmt.Errorf("saving snapshot: %w", err)
		}
		fmt.Fprintf(stdout, "healed %d roster entries, snapshot rewritten at version %d\n", healed, snapshot.Version)
		return nil
	default:
		printHelp(stderr, flagSet)
		return fmt.Errorf("unknown command %q", rest[0])
	}
}

func inspect(opts options, snap state.Snapshot) summary {
	s := summary{
		Backend: opts.backend,
		Path:    opts.path,
		Roster:  len(snap.Roster),
		History: len(snap.History),
		Active:  snap.Active != nil,
	}
	if snap.Active != nil {
		s.ActiveID = snap.Active.Record.ID()
	}
	seen := make(map[string]bool)
	for _, r := range snap.Roster {
		id := r.ID()
		if id == "" {
			s.MissingIDs++
			continue
		}
		if seen[id] {
			s.DuplicateIDs = append(s.DuplicateIDs, id)
		}
		seen[id] = true
	}
	return s
}

func write(w io.Writer, format string, v any) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, "Usage: snapshotctl [flags] inspect|export|heal\n\nFlags:\n")
	fmt.Fprint(w, flagSet.FlagUsages())
}
