package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sigilla/internal/transcript"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent turns from the transcript",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return errors.New("--limit must be positive")
			}
			cfg := ctx.configValue()
			stdout := cmd.OutOrStdout()
			if !cfg.Transcript.Enabled {
				fmt.Fprintln(stdout, "Transcript is disabled (transcript.enabled = false)")
				return nil
			}
			if _, err := os.Stat(cfg.Transcript.Path); errors.Is(err, os.ErrNotExist) {
				fmt.Fprintln(stdout, "No turns recorded")
				return nil
			}
			store, err := transcript.Open(cfg.Transcript.Path)
			if err != nil {
				return fmt.Errorf("open transcript: %w", err)
			}
			defer store.Close()

			turns, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(turns) == 0 {
				fmt.Fprintln(stdout, "No turns recorded")
				return nil
			}
			fmt.Fprintln(stdout, renderTable(historyColumns, historyRows(turns)))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of turns to show")
	return cmd
}

var historyColumns = []column{
	{Header: "ID", Align: alignRight},
	{Header: "Finished"},
	{Header: "Session"},
	{Header: "Outcome"},
	{Header: "Took", Align: alignRight},
	{Header: "Prompt", MaxWidth: 40},
	{Header: "Reply", MaxWidth: 50},
}

func historyRows(turns []transcript.Turn) [][]string {
	rows := make([][]string, 0, len(turns))
	for _, turn := range turns {
		rows = append(rows, []string{
			strconv.FormatInt(turn.ID, 10),
			turn.FinishedAt.Local().Format("2006-01-02 15:04"),
			shortID(turn.SessionID),
			string(turn.Outcome),
			turn.Duration().Round(100 * time.Millisecond).String(),
			oneLine(turn.Content),
			oneLine(turn.ReplyText),
		})
	}
	return rows
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
