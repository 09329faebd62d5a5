package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cognicore/consult/pkg/consult"
	"github.com/cognicore/consult/pkg/consult/inference"
	"github.com/cognicore/consult/pkg/consult/kb"
	"github.com/cognicore/consult/pkg/consult/report"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		answers string
		asHTML  bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a consultation",
		Long: `Run asks the questions the rules need and prints the suggested actions.

Answer yes, no, or unknown at the prompt. With --answers the answers are
taken from the flag instead and the run fails if a question has none.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var src inference.FactSource
			if cmd.Flags().Changed("answers") {
				m, err := parseAnswers(answers)
				if err != nil {
					return err
				}
				src = m
			} else {
				src = &promptSource{
					in:  bufio.NewScanner(cmd.InOrStdin()),
					out: cmd.OutOrStdout(),
				}
			}
			return a.runConsultation(cmd.Context(), cmd.OutOrStdout(), src, asHTML)
		},
	}
	cmd.Flags().StringVar(&answers, "answers", "", "answers as fact=value pairs, e.g. fever=1,cough=0,rash=?")
	cmd.Flags().BoolVar(&asHTML, "html", false, "write the report as HTML")
	return cmd
}

func (a *app) runConsultation(ctx context.Context, out io.Writer, src inference.FactSource, asHTML bool) error {
	st, err := a.openStore(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	c := consult.New(consult.Options{Store: st, Logger: a.logger})
	defer c.Close()

	cons, err := c.Begin(ctx)
	if err != nil {
		return err
	}

	runErr := c.Run(ctx, cons, src)
	if _, err := c.Finish(ctx, cons); err != nil {
		a.logger.Warn("consultation not saved", zap.Error(err))
	}
	if runErr != nil {
		return runErr
	}

	t := report.FromSession(cons.ID, cons.Session)
	if asHTML {
		return report.HTML(out, t)
	}
	return report.Text(out, t)
}

// parseAnswers reads "fact=value" pairs separated by commas.
func parseAnswers(s string) (inference.MapSource, error) {
	m := make(inference.MapSource)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		fact, value, ok := strings.Cut(pair, "=")
		fact = strings.TrimSpace(fact)
		if !ok || fact == "" {
			return nil, fmt.Errorf("answer %q: want fact=value", pair)
		}
		v, err := kb.ParseValue(value)
		if err != nil {
			return nil, fmt.Errorf("answer %q: %w", pair, err)
		}
		m[fact] = v
	}
	return m, nil
}

// promptSource asks each question on out and reads the answer from in.
type promptSource struct {
	in  *bufio.Scanner
	out io.Writer
}

func (p *promptSource) Ask(ctx context.Context, q inference.Question) (kb.Value, error) {
	for {
		fmt.Fprintf(p.out, "%s [yes/no/unknown]: ", q.Text)
		if !p.in.Scan() {
			if err := p.in.Err(); err != nil {
				return 0, err
			}
			fmt.Fprintln(p.out)
			return 0, io.ErrUnexpectedEOF
		}
		v, err := kb.ParseValue(p.in.Text())
		if err != nil {
			fmt.Fprintln(p.out, "Please answer yes, no, or unknown.")
			continue
		}
		return v, nil
	}
}
