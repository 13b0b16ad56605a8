package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "switchboard",
	Short: "Multi-tenant conversational agent gateway",
	Long: `Switchboard receives chat messages from Telegram, browser websockets and a
load simulator, answers them with a language model and routes each reply back
to the channel it came from.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
