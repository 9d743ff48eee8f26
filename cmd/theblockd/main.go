// Command theblockd runs a single-node block kernel: mempool admission,
// proof-of-work mining, block validation, and a durable chain store, wired
// together behind a small HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/Ian-Reitsma/the-block-sub006/core"
	pkgconfig "github.com/Ian-Reitsma/the-block-sub006/pkg/config"
)

var (
	envName string
	logger  = logrus.New()
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	if _, err := maxprocs.Set(maxprocs.Logger(logger.Printf)); err != nil {
		logger.WithError(err).Warn("theblockd: GOMAXPROCS adjustment failed")
	}

	root := &cobra.Command{
		Use:   "theblockd",
		Short: "single-node block kernel daemon",
	}
	root.PersistentFlags().StringVar(&envName, "env", "", "configuration overlay name (merges cmd/config/<env>.yaml)")

	root.AddCommand(serveCmd())
	root.AddCommand(mineCmd())
	root.AddCommand(statusCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves configuration via pkg/config and translates it into
// core.Config plus the daemon-only fields (data dir, bind addr, logging).
func loadConfig() (pkgconfig.Config, core.Config, error) {
	cfg, err := pkgconfig.Load(envName)
	if err != nil {
		return pkgconfig.Config{}, core.Config{}, err
	}
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err == nil {
		logger.SetLevel(level)
	}
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return pkgconfig.Config{}, core.Config{}, fmt.Errorf("open log file: %w", err)
		}
		logger.SetOutput(f)
	}
	logger.SetFormatter(&logrus.JSONFormatter{})

	coreCfg, err := cfg.ToCore()
	if err != nil {
		return pkgconfig.Config{}, core.Config{}, err
	}
	return *cfg, coreCfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the chain with its HTTP API and purge driver",
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, coreCfg, err := loadConfig()
			if err != nil {
				return err
			}
			chain, err := core.NewChain(coreCfg, appCfg.DataDir, nil, logger)
			if err != nil {
				return fmt.Errorf("construct chain: %w", err)
			}
			defer chain.Close()

			if chain.Purge != nil {
				chain.Purge.Start()
			}

			srv := NewServer(chain, logger)
			logger.WithField("addr", appCfg.BindAddr).Info("theblockd: listening")
			return srv.ListenAndServe(appCfg.BindAddr)
		},
	}
}

func mineCmd() *cobra.Command {
	var minerAddr string
	var budget int
	cmd := &cobra.Command{
		Use:   "mine",
		Short: "mine a single block synchronously and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, coreCfg, err := loadConfig()
			if err != nil {
				return err
			}
			chain, err := core.NewChain(coreCfg, appCfg.DataDir, nil, logger)
			if err != nil {
				return err
			}
			defer chain.Close()

			addr, err := parseAddress(minerAddr)
			if err != nil {
				return err
			}
			block, err := chain.MineOneBlock(addr, budget)
			if err != nil {
				return err
			}
			fmt.Printf("mined block %d (%s), %d tx\n", block.Header.Height, block.Hash().Hex(), len(block.Transactions))
			return nil
		},
	}
	cmd.Flags().StringVar(&minerAddr, "miner", "", "hex-encoded coinbase address")
	cmd.Flags().IntVar(&budget, "budget", 4096, "max transactions to drain into the block")
	_ = cmd.MarkFlagRequired("miner")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "print resolved configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Printf("chain_id=%s data_dir=%s bind_addr=%s mempool_size=%d difficulty_window=%d\n",
				appCfg.ChainID, appCfg.DataDir, appCfg.BindAddr, appCfg.MaxMempoolSize, appCfg.DifficultyWindow)
			return nil
		},
	}
}

// init sets viper's TB env prefix once so every subcommand does not have to
// repeat SetEnvPrefix.
func init() {
	viper.SetEnvPrefix("TB")
}
