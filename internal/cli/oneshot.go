package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var flagHTML bool

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Run one poll cycle and print the dashboard state as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := NewApp(flagConfig, "stderr")
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, cancel := signalContext()
		defer cancel()

		app.Monitor.Probe(ctx)
		state, err := app.Scheduler.RunOnce(ctx)
		if err != nil {
			return err
		}
		state.Online = app.Monitor.Online()

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(state)
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Ask the market assistant a single question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := NewApp(flagConfig, "stderr")
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, cancel := signalContext()
		defer cancel()

		reply, err := app.Chat.Chat(ctx, strings.Join(args, " "), nil)
		if err != nil {
			return err
		}

		if flagHTML {
			reply.RenderHTML()
			fmt.Fprintln(cmd.OutOrStdout(), reply.HTML)
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), reply.Text)
		return nil
	},
}

func init() {
	chatCmd.Flags().BoolVar(&flagHTML, "html", false, "render the reply as HTML")
}
