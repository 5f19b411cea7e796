package main

import (
	"os"

	"github.com/celer-network/oracle-updater/config"
	"github.com/celer-network/oracle-updater/types"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var loadEnvFunc = godotenv.Load

type options struct {
	configPath  string
	workerIndex int
	envFiles    []string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "oracle-updater",
		Short:        "Keeps on-chain Pyth prices fresh from one of several staggered workers",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "path to the YAML configuration")
	root.PersistentFlags().IntVar(&opts.workerIndex, "worker-index", 0, "worker index, 1 for the primary (overrides the file and ORACLE_WORKER_INDEX)")
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "dotenv files to load before the configuration (default .env if present)")

	root.AddCommand(newRunCmd(opts), newConfigCmd(opts))
	return root
}

// loadConfig loads dotenv files and then resolves the configuration for the
// requested worker.
func loadConfig(opts *options) (*types.Config, []string, error) {
	if len(opts.envFiles) > 0 {
		if err := loadEnvFunc(opts.envFiles...); err != nil {
			return nil, nil, err
		}
	} else if _, err := os.Stat(".env"); err == nil {
		if err := loadEnvFunc(); err != nil {
			return nil, nil, err
		}
	}
	return config.Load(opts.configPath, opts.workerIndex)
}
