package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cognicore/consult/pkg/consult/store"
)

func newFactsCmd(a *app) *cobra.Command {
	var syncFacts bool
	cmd := &cobra.Command{
		Use:   "facts",
		Short: "List and edit the question asked for each fact",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withStore(ctx, func(st store.Store) error {
				if syncFacts {
					if err := st.SyncFacts(ctx); err != nil {
						return err
					}
				}
				questions, err := st.Questions(ctx)
				if err != nil {
					return err
				}
				facts := make([]string, 0, len(questions))
				for fact := range questions {
					facts = append(facts, fact)
				}
				sort.Strings(facts)

				out := cmd.OutOrStdout()
				if len(facts) == 0 {
					fmt.Fprintln(out, "No facts.")
				}
				for _, fact := range facts {
					fmt.Fprintf(out, "%s: %s\n", fact, questions[fact])
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&syncFacts, "sync", false, "add an entry for every fact the rules use")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "set FACT QUESTION...",
			Short: "Set the question asked for a fact",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withStore(cmd.Context(), func(st store.Store) error {
					return st.PutQuestion(cmd.Context(), args[0], strings.Join(args[1:], " "))
				})
			},
		},
		&cobra.Command{
			Use:   "delete FACT",
			Short: "Delete a fact no rule uses",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withStore(cmd.Context(), func(st store.Store) error {
					ok, err := st.DeleteFact(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("fact %s does not exist", args[0])
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted fact %s\n", args[0])
					return nil
				})
			},
		},
	)
	return cmd
}
