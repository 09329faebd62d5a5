package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cognicore/consult/pkg/consult/config"
	"github.com/cognicore/consult/pkg/consult/kb"
	"github.com/cognicore/consult/pkg/consult/store"
	"github.com/cognicore/consult/pkg/consult/store/filestore"
	"github.com/cognicore/consult/pkg/consult/store/memstore"
	"github.com/cognicore/consult/pkg/consult/store/sqlite"
)

// app carries the global flags and everything derived from them.
type app struct {
	configPath string
	kbPath     string
	storePath  string
	driver     string
	debug      bool

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop()}

	rootCmd := &cobra.Command{
		Use:   "consult",
		Short: "Rule-based consultations over a yes/no knowledge base",
		Long: `consult asks yes/no questions, walks the rules of a knowledge base in
order, and reports the actions whose conditions held.

The knowledge base is a JSON or YAML document with numbered rules and a
question for each fact. It can be kept in that document, in SQLite, or
in memory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: ./consult.yaml)")
	rootCmd.PersistentFlags().StringVar(&a.kbPath, "kb", "", "knowledge base document")
	rootCmd.PersistentFlags().StringVar(&a.storePath, "store", "", "store path (document or SQLite database)")
	rootCmd.PersistentFlags().StringVar(&a.driver, "driver", "", "store driver: file, sqlite, or memory")
	rootCmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newRunCmd(a),
		newValidateCmd(a),
		newImportCmd(a),
		newRulesCmd(a),
		newFactsCmd(a),
		newHistoryCmd(a),
	)
	return rootCmd
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.kbPath != "" {
		cfg.KnowledgeBase = a.kbPath
	}
	if a.storePath != "" {
		cfg.Store.Path = a.storePath
	}
	if a.driver != "" {
		cfg.Store.Driver = a.driver
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := cfg.Logger(a.debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger
	return nil
}

// openStore opens the configured store. The memory store starts from the
// knowledge base document, which is replaced by an empty base when it
// cannot be read.
func (a *app) openStore(ctx context.Context) (store.Store, error) {
	switch a.cfg.Store.Driver {
	case config.DriverFile:
		st, err := filestore.Open(ctx, a.cfg.Store.Path, a.cfg.ActionKey)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.DriverSQLite:
		return sqlite.OpenSQLite(ctx, a.cfg.Store.Path, a.cfg.ActionKey)
	default:
		st := memstore.New(a.cfg.ActionKey)
		k, err := kb.Load(a.cfg.KnowledgeBase, a.logger, kb.WithActionKey(a.cfg.ActionKey))
		if err != nil {
			return nil, err
		}
		if err := store.Import(ctx, st, k); err != nil {
			return nil, err
		}
		return st, nil
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
