package commands

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sweetpotato0/carebridge/router"
)

var chatUser string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation on stdin",
	Long: `Read one message per line from stdin and print each reply. Type /reset to
start a new conversation and /quit (or send EOF) to leave.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatUser, "user", "cli", "User identifier")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	return withApp(ctx, func(ctx context.Context, a *app) error {
		out := cmd.OutOrStdout()
		sessionID := uuid.NewString()
		scanner := bufio.NewScanner(cmd.InOrStdin())

		fmt.Fprintln(out, "Type /quit to leave, /reset to start over.")
		for {
			fmt.Fprint(out, "> ")
			if !scanner.Scan() {
				fmt.Fprintln(out)
				return scanner.Err()
			}
			line := strings.TrimSpace(scanner.Text())
			switch line {
			case "":
				continue
			case "/quit", "/exit":
				return nil
			case "/reset":
				if err := a.router.Reset(ctx, sessionID, chatUser); err != nil {
					return err
				}
				sessionID = uuid.NewString()
				fmt.Fprintln(out, "Started a new conversation.")
				continue
			}

			res, err := a.router.ProcessTurn(ctx, sessionID, chatUser, line)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				a.logger.Error("turn failed", "session_id", sessionID, "error", err)
				fmt.Fprintln(out, router.Message(err))
				continue
			}
			printResult(out, res)
			for _, s := range res.Sources {
				fmt.Fprintf(out, "  - %s\n", s)
			}
		}
	})
}
