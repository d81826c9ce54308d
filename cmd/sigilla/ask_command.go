package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sigilla/internal/ipc"
	"sigilla/internal/prompt"
	"sigilla/internal/session"
)

type askOptions struct {
	status    bool
	fromStdin bool
	jsonOut   bool
	timeout   time.Duration
}

func newAskCommand(ctx *commandContext) *cobra.Command {
	var opts askOptions
	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Send one prompt to the session and print the reply",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.status {
				return printStatusJSON(cmd, ctx)
			}
			content, err := askContent(cmd.InOrStdin(), args, opts.fromStdin)
			if err != nil {
				return err
			}
			return sendAndPrint(cmd, ctx, content, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.status, "status", false, "Print the daemon status response as JSON and exit")
	cmd.Flags().BoolVar(&opts.fromStdin, "stdin", false, "Read the prompt from standard input")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print every received message line instead of the reply text")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Read deadline for the reply (default client.timeout_seconds)")
	return cmd
}

func newHeartbeatCommand(ctx *commandContext) *cobra.Command {
	var opts askOptions
	cmd := &cobra.Command{
		Use:   "heartbeat <prompt-file>",
		Short: "Send a timestamped prompt file, for timers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			loc, err := prompt.LoadLocation(cfg.Heartbeat.Timezone)
			if err != nil {
				return err
			}
			hb := prompt.Heartbeat{Location: loc, Place: cfg.Heartbeat.Location}
			content, err := hb.ComposeFile(args[0])
			if err != nil {
				return err
			}
			if !opts.jsonOut {
				fmt.Fprintf(cmd.OutOrStdout(), "== %s ==\n", prompt.Title(args[0]))
			}
			return sendAndPrint(cmd, ctx, content, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print every received message line instead of the reply text")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Read deadline for the reply (default client.timeout_seconds)")
	return cmd
}

func newPingCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the daemon answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				start := time.Now()
				pong, err := client.Ping(cmd.Context())
				if err != nil {
					return err
				}
				state := "running"
				if !pong.Running {
					state = "not running"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pong from session %s (claude %s) in %s\n",
					shortID(pong.SessionID), state, time.Since(start).Round(time.Millisecond))
				return nil
			})
		},
	}
}

func askContent(stdin io.Reader, args []string, fromStdin bool) (string, error) {
	if fromStdin {
		if len(args) > 0 {
			return "", errors.New("pass the prompt as an argument or with --stdin, not both")
		}
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	if len(args) == 0 {
		return "", errors.New("prompt is required (or use --stdin)")
	}
	return args[0], nil
}

func printStatusJSON(cmd *cobra.Command, ctx *commandContext) error {
	return ctx.withClient(func(client *ipc.Client) error {
		status, err := client.Status(cmd.Context())
		if err != nil {
			return err
		}
		encoded, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
		return nil
	})
}

// sendAndPrint relays one message request. A daemon or backend error is
// printed as "Error from daemon: ..." and exits 1.
func sendAndPrint(cmd *cobra.Command, ctx *commandContext, content string, opts askOptions) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("prompt is empty")
	}
	client, err := ctx.dialClient()
	if err != nil {
		return err
	}
	defer client.Close()
	if opts.timeout > 0 {
		client.SetTimeout(opts.timeout)
	}

	stdout := cmd.OutOrStdout()
	var onMessage func(session.Message)
	if opts.jsonOut {
		onMessage = func(msg session.Message) {
			fmt.Fprintln(stdout, string(msg.Raw))
		}
	}

	reply, err := client.Ask(cmd.Context(), content, onMessage)
	var remote *ipc.RemoteError
	if errors.As(err, &remote) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error from daemon: %s\n", remote.Message)
		return &exitError{code: 1}
	}
	if err != nil {
		return fmt.Errorf("communicate with daemon: %w", err)
	}
	if !opts.jsonOut {
		fmt.Fprintln(stdout, reply.Text)
	}
	return nil
}
