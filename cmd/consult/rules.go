package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cognicore/consult/pkg/consult/report"
	"github.com/cognicore/consult/pkg/consult/store"
)

func newRulesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List and reorder rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(st store.Store) error {
				rules, err := st.Rules(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(rules) == 0 {
					fmt.Fprintln(out, "No rules.")
				}
				for _, r := range rules {
					fmt.Fprintf(out, "[%s] %s\n", r.ID, report.RuleText(r, a.cfg.ActionKey))
				}
				return nil
			})
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "add",
			Short: "Append an empty rule",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withStore(cmd.Context(), func(st store.Store) error {
					id, err := st.AddBlankRule(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "added rule %s\n", id)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "delete ID",
			Short: "Delete a rule",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withStore(cmd.Context(), func(st store.Store) error {
					ok, err := st.DeleteRule(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("rule %s does not exist", args[0])
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted rule %s\n", args[0])
					return nil
				})
			},
		},
		moveCmd(a, "up", "Evaluate a rule one step earlier", store.Store.MoveRuleUp),
		moveCmd(a, "down", "Evaluate a rule one step later", store.Store.MoveRuleDown),
	)
	return cmd
}

func moveCmd(a *app, use, short string, move func(store.Store, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(st store.Store) error {
				return move(st, cmd.Context(), args[0])
			})
		},
	}
}

func (a *app) withStore(ctx context.Context, fn func(store.Store) error) error {
	st, err := a.openStore(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	return fn(st)
}
