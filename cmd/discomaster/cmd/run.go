package cmd

import (
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fifar/disco/internal/common"
	"github.com/fifar/disco/internal/common/healthcheck"
	"github.com/fifar/disco/internal/events"
	"github.com/fifar/disco/internal/executor"
	"github.com/fifar/disco/internal/master"
	"github.com/fifar/disco/internal/master/configuration"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the master",
		RunE:  runMaster,
	}
	return cmd
}

func runMaster(cmd *cobra.Command, _ []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := config.Validate(); err != nil {
		common.LogValidationErrors(err)
		return errors.New("config validation failed")
	}
	return Run(config)
}

// Run wires the master together and runs it until a SIGTERM is received.
func Run(config configuration.MasterConfig) error {
	mux := http.NewServeMux()

	startupCompleteCheck := healthcheck.NewStartupCompleteChecker()
	healthChecks := healthcheck.NewMultiChecker(startupCompleteCheck)
	healthcheck.SetupHttpMux(mux, healthChecks)

	eventStore := events.NewStore(config.Events.PerJobLimit)
	eventStore.Register(mux)

	runner := executor.NewProcessRunner(config.Worker.Binary, config.Worker.HandshakeTimeout, eventStore)

	nodes := make([]master.NodeConfig, len(config.Nodes))
	for i, node := range config.Nodes {
		nodes[i] = master.NodeConfig{Name: node.Name, Capacity: node.Capacity}
	}
	scheduler, err := master.NewScheduler(nodes, runner, eventStore)
	if err != nil {
		return err
	}
	runner.AttachReporter(scheduler)

	master.NewControlApi(scheduler).Register(mux)
	prometheus.MustRegister(master.NewMetricsCollector(scheduler))
	mux.Handle("/metrics", promhttp.Handler())

	shutdownHttpServer := common.ServeHttp(config.HttpPort, mux)
	defer shutdownHttpServer()

	ctx := common.ContextWithShutdown()
	startupCompleteCheck.MarkComplete()
	log.Infof("Master up: %d node(s) configured, worker binary %s", len(nodes), config.Worker.Binary)
	return scheduler.Run(ctx)
}
