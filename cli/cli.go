// Package cli wires the version store into a command line tool.
package cli

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/norvik/vatn/internal/config"
	"github.com/norvik/vatn/internal/store/boltstore"
	"github.com/norvik/vatn/internal/tiered"
)

const configFile = ".vatn.yaml"

var rootCmd = &cobra.Command{
	Use:   "vatn",
	Short: "vatn is a tiered, content-addressed catalog version store",
	Long:  `vatn versions catalog metadata (tables, views) with Git-like branches, commits and tags.`,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(initCmd)

	rootCmd.AddCommand(branchCmd)
	branchCmd.AddCommand(branchCreateCmd, branchListCmd, branchRemoveCmd)

	rootCmd.AddCommand(tagCmd)
	tagCmd.AddCommand(tagCreateCmd, tagRemoveCmd)

	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(delCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(collapseCmd)

	putCmd.Flags().StringVar(&putIceberg, "iceberg", "", "iceberg metadata location")
	putCmd.Flags().StringVar(&putSQL, "sql", "", "sql view text")
	putCmd.Flags().StringVar(&putDialect, "dialect", "", "sql view dialect")
	putCmd.Flags().StringVar(&putHiveDB, "hive-db", "", "path to hive database bytes")
	logCmd.Flags().IntVar(&logLimit, "limit", 20, "maximum commits to print")
}

// openStore opens the configured store and the surface on top of it.
func openStore() (*tiered.VersionStore, func(), error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	bs, err := boltstore.Open(cfg.StorePath, logger)
	if err != nil {
		return nil, nil, err
	}
	vs := tiered.New(bs, cfg, logger)
	closer := func() {
		_ = bs.Close()
		_ = logger.Sync()
	}
	return vs, closer, nil
}

func fatal(err error) {
	log.Fatalf("vatn: %v", err)
}
