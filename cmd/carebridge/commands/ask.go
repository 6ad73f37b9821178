package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sweetpotato0/carebridge/router"
)

var (
	askUser    string
	askSession string
	askJSON    bool
)

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Process a single message and print the reply",
	Long: `Process one conversation turn. Sessions only persist between invocations
with a shared session store such as redis.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askUser, "user", "cli", "User identifier")
	askCmd.Flags().StringVar(&askSession, "session", "", "Session identifier (default: a new random session)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Print the full turn result as JSON")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	if askSession == "" {
		askSession = uuid.NewString()
	}
	message := strings.Join(args, " ")

	return withApp(ctx, func(ctx context.Context, a *app) error {
		res, err := a.router.ProcessTurn(ctx, askSession, askUser, message)
		if err != nil {
			a.logger.Error("turn failed", "session_id", askSession, "error", err)
			fmt.Fprintln(cmd.OutOrStdout(), router.Message(err))
			return err
		}
		if askJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		printResult(cmd.OutOrStdout(), res)
		return nil
	})
}

func printResult(w io.Writer, res router.Result) {
	fmt.Fprintf(w, "[%s] %s\n", res.Agent, res.Response)
	for _, h := range res.Handoffs {
		fmt.Fprintf(w, "  (handoff %s)\n", h)
	}
}
