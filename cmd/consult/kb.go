package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cognicore/consult/pkg/consult/kb"
	"github.com/cognicore/consult/pkg/consult/store"
)

func (a *app) documentPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return a.cfg.KnowledgeBase
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a knowledge base document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.documentPath(args)
			out := cmd.OutOrStdout()

			k, err := kb.ReadFile(path, kb.WithActionKey(a.cfg.ActionKey))
			var verr *kb.ValidationError
			if errors.As(err, &verr) {
				for _, issue := range verr.Issues {
					fmt.Fprintln(out, issue)
				}
				return fmt.Errorf("%s: %d issue(s)", path, len(verr.Issues))
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: ok, %d rules, %d facts\n", path, k.Len(), len(k.Facts()))
			return nil
		},
	}
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import [file]",
		Short: "Copy a knowledge base document into the store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.documentPath(args)
			k, err := kb.ReadFile(path, kb.WithActionKey(a.cfg.ActionKey))
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			if err := store.Import(ctx, st, k); err != nil {
				return err
			}
			if err := st.SyncFacts(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d rules from %s\n", k.Len(), path)
			return nil
		},
	}
}
