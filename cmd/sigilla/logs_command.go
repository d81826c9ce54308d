package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sigilla/internal/logs"
)

type logsOptions struct {
	lines  int
	follow bool
	raw    bool
	file   string
	filter logs.Filter
}

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var opts logsOptions
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show daemon log output",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.lines < 0 {
				return errors.New("--lines must not be negative")
			}
			if !logs.ValidLevel(opts.filter.Level) {
				return fmt.Errorf("unknown level %q (want debug, info, warn, or error)", opts.filter.Level)
			}
			path := opts.file
			if path == "" {
				path = filepath.Join(ctx.configValue().Paths.LogDir, "sigilla.log")
			}

			runCtx := cmd.Context()
			if runCtx == nil {
				runCtx = context.Background()
			}
			if opts.follow {
				var stop context.CancelFunc
				runCtx, stop = signal.NotifyContext(runCtx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()
			}
			err := streamLogs(runCtx, cmd.OutOrStdout(), path, opts)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "Print JSON lines unformatted")
	cmd.Flags().StringVar(&opts.file, "file", "", "Log file to read (default <log_dir>/sigilla.log)")
	cmd.Flags().StringVar(&opts.filter.Level, "level", "", "Minimum level to show")
	cmd.Flags().StringVar(&opts.filter.Component, "component", "", "Only show lines from this component")
	cmd.Flags().StringVar(&opts.filter.ConnID, "conn", "", "Only show lines for this connection id")
	cmd.Flags().StringVar(&opts.filter.SessionID, "session", "", "Only show lines whose session id has this prefix")
	return cmd
}

func streamLogs(ctx context.Context, w io.Writer, path string, opts logsOptions) error {
	tailOpts := logs.TailOptions{Offset: -1, Limit: opts.lines}
	if !opts.filter.Empty() && opts.lines > 0 {
		// Filtering happens after the tail, so read wider to fill the window.
		tailOpts.Limit = opts.lines * 20
	}
	result, err := logs.Tail(ctx, path, tailOpts)
	if err != nil {
		return err
	}
	printLogLines(w, lastN(selectLogLines(result.Lines, opts), opts.lines))
	if !opts.follow {
		return nil
	}

	offset := result.Offset
	for {
		next, err := logs.Tail(ctx, path, logs.TailOptions{Offset: offset, Follow: true, Wait: 2 * time.Second})
		if err != nil {
			return err
		}
		printLogLines(w, selectLogLines(next.Lines, opts))
		offset = next.Offset
	}
}

func selectLogLines(lines []string, opts logsOptions) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		entry, err := logs.ParseEntry(line)
		if err != nil {
			if opts.filter.Empty() {
				out = append(out, line)
			}
			continue
		}
		if !opts.filter.Match(entry) {
			continue
		}
		if opts.raw {
			out = append(out, line)
		} else {
			out = append(out, logs.Format(entry))
		}
	}
	return out
}

func lastN(lines []string, n int) []string {
	if n >= 0 && len(lines) > n {
		return lines[len(lines)-n:]
	}
	return lines
}

func printLogLines(w io.Writer, lines []string) {
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
}
