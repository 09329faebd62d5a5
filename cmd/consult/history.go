package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cognicore/consult/pkg/consult/store"
)

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List saved consultations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(st store.Store) error {
				cs, err := st.Consultations(cmd.Context(), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(cs) == 0 {
					fmt.Fprintln(out, "No consultations.")
				}
				for _, c := range cs {
					actions := "-"
					if len(c.Actions) > 0 {
						actions = strings.Join(c.Actions, "; ")
					}
					fmt.Fprintf(out, "%s  %s  %-13s  %d answers  %s\n",
						c.ID, c.StartedAt.Local().Format(time.DateTime), c.State, len(c.Answers), actions)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of consultations")
	return cmd
}
