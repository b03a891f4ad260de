package main

import (
	"bufio"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/propadvisor/orchestrator/cmd/advisor/internal/client"
	"github.com/propadvisor/orchestrator/internal/preferences"
)

func newChatCmd(a *app) *cobra.Command {
	var conversationID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireUser(); err != nil {
				return err
			}
			in := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(cmd.ErrOrStderr(), "you> ")
				if !in.Scan() {
					return in.Err()
				}
				line := strings.TrimSpace(in.Text())
				switch line {
				case "":
					continue
				case "exit", "quit":
					return nil
				}

				resp, err := a.client.Turn(cmd.Context(), conversationID, line)
				if err != nil {
					// a failed turn leaves the conversation usable
					fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
					continue
				}
				conversationID = resp.ConversationID
				if err := a.out.turn(resp); err != nil {
					return err
				}
			}
		},
	}
	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "continue an existing conversation")
	return cmd
}

func newQueryCmd(a *app) *cobra.Command {
	var conversationID string
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Send a single utterance and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireUser(); err != nil {
				return err
			}
			resp, err := a.client.Turn(cmd.Context(), conversationID, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return a.out.turn(resp)
		},
	}
	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "conversation to continue")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "Print the transcript of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.client.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.out.history(h)
		},
	}
}

func newConversationsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "conversations",
		Short: "List the user's conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireUser(); err != nil {
				return err
			}
			c, err := a.client.Conversations(cmd.Context())
			if err != nil {
				return err
			}
			return a.out.conversations(c)
		},
	}
}

// seedResult pairs the opening turn with the preferences it was built from
type seedResult struct {
	Preferences *preferences.Preferences `json:"preferences,omitempty" yaml:"preferences,omitempty"`
	Turn        *client.TurnResponse     `json:"turn" yaml:"turn"`
}

func newSeedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed [user-id]",
		Short: "Open a conversation from the user's stored preferences",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.client
			if len(args) == 1 {
				c = client.New(a.v.GetString("gateway"), args[0], a.v.GetDuration("timeout"))
			}
			if c.UserID() == "" {
				return a.requireUser()
			}

			var res seedResult
			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				p, err := c.Preferences(ctx)
				var apiErr *client.APIError
				if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
					return nil
				}
				res.Preferences = p
				return err
			})
			g.Go(func() error {
				turn, err := c.Seed(ctx)
				res.Turn = turn
				return err
			})
			if err := g.Wait(); err != nil {
				return err
			}
			return a.out.seed(&res)
		},
	}
}

func newPreferencesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preferences",
		Short: "Read or replace the user's stored preferences",
	}

	get := &cobra.Command{
		Use:   "get",
		Short: "Print the stored preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireUser(); err != nil {
				return err
			}
			p, err := a.client.Preferences(cmd.Context())
			if err != nil {
				return err
			}
			return a.out.preferences(p)
		},
	}

	var p preferences.Preferences
	set := &cobra.Command{
		Use:   "set",
		Short: "Replace the stored preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireUser(); err != nil {
				return err
			}
			stored, err := a.client.SetPreferences(cmd.Context(), p)
			if err != nil {
				return err
			}
			return a.out.preferences(stored)
		},
	}
	set.Flags().Int64Var(&p.MinPrice, "min-price", 0, "minimum budget in rupees")
	set.Flags().Int64Var(&p.MaxPrice, "max-price", 0, "maximum budget in rupees")
	set.Flags().Int64Var(&p.MinArea, "min-area", 0, "minimum area in sq ft")
	set.Flags().Int64Var(&p.MaxArea, "max-area", 0, "maximum area in sq ft")
	set.Flags().StringSliceVar(&p.PreferredCities, "city", nil, "preferred city, repeatable")
	for _, name := range []string{"min-price", "max-price", "min-area", "max-area"} {
		_ = set.MarkFlagRequired(name)
	}

	cmd.AddCommand(get, set)
	return cmd
}
