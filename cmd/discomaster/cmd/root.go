package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fifar/disco/internal/common"
	"github.com/fifar/disco/internal/master/configuration"
)

func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discomaster",
		Short: "discomaster is the cluster's scheduling and worker-lifecycle authority",
	}
	cmd.PersistentFlags().String("config", "config/discomaster", "directory containing config.yaml")
	cmd.AddCommand(runCmd())
	return cmd
}

func loadConfig(cmd *cobra.Command) (configuration.MasterConfig, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return configuration.MasterConfig{}, err
	}
	var config configuration.MasterConfig
	common.LoadConfig(&config, path)
	return config, nil
}
