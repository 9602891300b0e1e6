package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-iris/pkg/eventlog"
)

func newEventsCmd(f *flags) *cobra.Command {
	var (
		last   int
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print logged safety events",
		Long: `Print the most recent safety events as JSON lines. With --follow, keep
printing events as iris appends them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			path := cfg.Events.Path
			out := cmd.OutOrStdout()

			events, err := eventlog.ReadLast(path, last)
			if err != nil {
				return err
			}
			for _, ev := range events {
				if err := printEvent(out, ev); err != nil {
					return err
				}
			}
			if !follow {
				return nil
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return eventlog.Follow(ctx, path, false, func(ev eventlog.Event) {
				printEvent(out, ev)
			})
		},
	}
	cmd.Flags().IntVarP(&last, "last", "n", 20, "number of recent events to print")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new events")
	return cmd
}

func printEvent(w io.Writer, ev eventlog.Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(line))
	return err
}

func newConfigCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
