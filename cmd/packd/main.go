package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/odvcencio/packd/pkg/pack"
	"github.com/odvcencio/packd/pkg/remote"
	"github.com/odvcencio/packd/pkg/store"
)

const version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds what every subcommand needs once flags and config are loaded.
type app struct {
	configPath string
	storeKind  string
	storePath  string
	logLevel   string
	workers    int

	cfg Config
	log *logrus.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "packd",
		Short:         "Git pack engine and content-addressed object store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "TOML config file (default $"+configEnv+")")
	flags.StringVar(&a.storeKind, "store-kind", "", "object store kind: loose, bolt or memory")
	flags.StringVarP(&a.storePath, "store", "C", "", "object store directory")
	flags.StringVar(&a.logLevel, "log-level", "", "log level")
	flags.IntVar(&a.workers, "workers", 0, "delta resolution workers")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newIndexPackCmd(a))
	root.AddCommand(newVerifyPackCmd(a))
	root.AddCommand(newPackObjectsCmd(a))
	root.AddCommand(newCatFileCmd(a))
	root.AddCommand(newVerifyCmd(a))
	root.AddCommand(newRepackCmd(a))
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := loadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.storeKind != "" {
		cfg.Store.Kind = a.storeKind
	}
	if a.storePath != "" {
		cfg.Store.Path = a.storePath
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if cmd.Flags().Changed("workers") {
		cfg.Decode.Workers = a.workers
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	log, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.cfg, a.log = cfg, log
	return nil
}

func (a *app) openStore() (store.Backend, error) {
	return store.Open(a.cfg.Store.Kind, a.cfg.Store.Path, a.log)
}

func (a *app) looseStore() (*store.LooseStore, error) {
	if a.cfg.Store.Kind != store.KindLoose {
		return nil, fmt.Errorf("%s store does not hold packs; use --store-kind %s", a.cfg.Store.Kind, store.KindLoose)
	}
	return store.NewLooseStore(a.cfg.Store.Path, a.log), nil
}

func (a *app) decoder(backing store.Backend) *pack.Decoder {
	return pack.NewDecoder(pack.Options{
		Store:       backing,
		Workers:     a.cfg.Decode.Workers,
		MemoryLimit: a.cfg.Decode.MemoryLimit,
		SpillDir:    a.cfg.Decode.SpillDir,
		Logger:      a.log,
	})
}

func (a *app) fetcher() *remote.Fetcher {
	return remote.NewFetcher(remote.FetchOptions{
		MaxAttempts:  a.cfg.Fetch.Attempts,
		ChannelDepth: a.cfg.Decode.ChannelDepth,
		Token:        a.cfg.Fetch.Token,
		Logger:       a.log,
	})
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "packd "+version)
		},
	}
}
