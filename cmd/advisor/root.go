package main

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/propadvisor/orchestrator/cmd/advisor/internal/client"
)

// app carries the settings shared by every subcommand
type app struct {
	v      *viper.Viper
	client *client.Client
	out    *printer
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:          "advisor",
		Short:        "Chat with the property advisor and manage buyer preferences",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()

			format := a.v.GetString("output")
			switch format {
			case "text", "json", "yaml":
			default:
				return fmt.Errorf("--output must be text, json or yaml, got %q", format)
			}
			a.out = &printer{w: cmd.OutOrStdout(), format: format}
			a.client = client.New(a.v.GetString("gateway"), a.v.GetString("user"), a.v.GetDuration("timeout"))
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.String("gateway", "http://localhost:8080", "gateway base URL")
	flags.String("user", "", "user id to act as")
	flags.StringP("output", "o", "text", "output format: text, json or yaml")
	flags.Duration("timeout", 3*time.Minute, "per-request timeout")
	for _, name := range []string{"gateway", "user", "output", "timeout"} {
		if err := a.v.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
	a.v.SetEnvPrefix("advisor")
	a.v.AutomaticEnv()

	root.AddCommand(
		newChatCmd(a),
		newQueryCmd(a),
		newHistoryCmd(a),
		newConversationsCmd(a),
		newSeedCmd(a),
		newPreferencesCmd(a),
	)
	return root
}

// requireUser fails early for commands that act on behalf of a user
func (a *app) requireUser() error {
	if a.client.UserID() == "" {
		return fmt.Errorf("a user id is required; pass --user or set ADVISOR_USER")
	}
	return nil
}
