package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"sigilla/internal/config"
	"sigilla/internal/daemonctl"
	"sigilla/internal/preflight"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

func renderStatus(out io.Writer, snap *daemonctl.Snapshot, cfg *config.Config, colorize bool) {
	for _, line := range renderSectionHeader("System Status", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, line := range systemStatusLines(snap, cfg, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Session", colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprint(out, renderTable([]column{{Header: "Field"}, {Header: "Value"}}, sessionRows(snap, time.Now())))
	fmt.Fprintln(out)
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Checks", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, line := range checkLines(snap.Checks, colorize) {
		fmt.Fprintln(out, line)
	}
}

func systemStatusLines(snap *daemonctl.Snapshot, cfg *config.Config, colorize bool) []string {
	lines := make([]string, 0, 4)
	switch {
	case snap.Reachable:
		detail := "Running"
		if snap.PID > 0 {
			detail = fmt.Sprintf("Running (pid %d)", snap.PID)
		}
		lines = append(lines, renderStatusLine("Sigilla", statusOK, detail, colorize))
	case snap.PID > 0:
		lines = append(lines, renderStatusLine("Sigilla", statusError, fmt.Sprintf("Process %d alive but socket unreachable", snap.PID), colorize))
	default:
		lines = append(lines, renderStatusLine("Sigilla", statusWarn, "Not running (run `sigilla start`)", colorize))
	}

	if snap.Reachable {
		if snap.Status.Running {
			lines = append(lines, renderStatusLine("Claude Session", statusOK, "Running", colorize))
		} else {
			lines = append(lines, renderStatusLine("Claude Session", statusError, "Not running (run `sigilla restart`)", colorize))
		}
	} else {
		lines = append(lines, renderStatusLine("Claude Session", statusInfo, "Inactive (daemon not running)", colorize))
	}

	if cfg != nil {
		lines = append(lines, renderStatusLine("Socket", statusInfo, cfg.Paths.Socket, colorize))
	}
	if snap.StatusError != nil {
		lines = append(lines, renderStatusLine("Status Query", statusWarn, snap.StatusError.Error(), colorize))
	}
	return lines
}

func sessionRows(snap *daemonctl.Snapshot, now time.Time) [][]string {
	sessionID := snap.Status.SessionID
	if sessionID == "" {
		sessionID = "-"
	}
	rows := [][]string{
		{"Session ID", sessionID},
		{"Backend running", yesNo(snap.Status.Running)},
		{"Active clients", strconv.Itoa(snap.Status.ActiveClients)},
		{"Turns recorded", strconv.Itoa(snap.TurnCount)},
	}
	last := "-"
	if snap.LastTurn != nil {
		last = fmt.Sprintf("%s ago (%s)", formatAge(now.Sub(snap.LastTurn.FinishedAt)), snap.LastTurn.Outcome)
	}
	rows = append(rows, []string{"Last turn", last})
	return rows
}

func checkLines(results []preflight.Result, colorize bool) []string {
	lines := make([]string, 0, len(results))
	for _, r := range results {
		kind := statusOK
		switch {
		case !r.Passed && r.Optional:
			kind = statusInfo
		case !r.Passed:
			kind = statusError
		}
		lines = append(lines, renderStatusLine(r.Name, kind, r.Detail, colorize))
	}
	return lines
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, message)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func isTerminalWriter(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func shouldColorize(writer io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return isTerminalWriter(writer)
}
