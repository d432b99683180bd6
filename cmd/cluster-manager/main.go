// Command cluster-manager is the cron-invoked entry point for the
// elastic MATLAB Parallel Server cluster control loop. It is designed to
// run to completion and exit every ~60 seconds; it holds no long-lived
// state beyond a single invocation and takes no internal locks.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	metrics "github.com/armon/go-metrics"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/cloudport"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/config"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/logging"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/notifier"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/orchestrator"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/schedulerport"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/statestore"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := flag.NewFlagSet("cluster-manager", flag.ContinueOnError)
	configPath := flags.String("config", "/etc/mathworks/cluster-manager.hcl", "path to the runtime configuration file")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	conf, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cluster-manager: unable to load configuration: %v\n", err)
		return 1
	}

	log := logging.New(logging.Config{Level: conf.LogLevel, Format: conf.LogFormat})
	setupMetrics()

	log.Info("cluster-manager %s starting", version.String())

	store := statestore.New(conf.StateFile, log)
	if err := store.Load(); err != nil {
		log.Error("unable to load cluster management data file: %v", err)
		return int(4)
	}

	ctx := context.Background()
	headNodeID, err := cloudport.HeadNodeIDFromMetadata(ctx)
	if err != nil {
		log.Error("unable to determine head node instance ID from metadata: %v", err)
		return 1
	}
	cloud := cloudport.NewAWSAdapter(conf.AWSRegion, conf.AutoScalingGroup, headNodeID, conf.WorkersPerNode, log)

	sched := schedulerport.NewCLIAdapter(
		adminCLIPaths(conf),
		log,
		schedulerport.WithConcurrency(conf.SchedulerConcurrency),
		schedulerport.WithHostTimeout(time.Duration(conf.SchedulerHostTimeoutSeconds)*time.Second),
	)

	n := buildNotifier(conf, log)

	orch := orchestrator.New(store, cloud, sched, log)
	status := orch.Run(ctx)

	n.NotifyStatus(conf.Notification.ClusterIdentifier, status.String())

	log.Info("cluster-manager finished with status %s", status)
	return int(status)
}

func adminCLIPaths(conf *config.RuntimeConfig) schedulerport.Paths {
	bin := conf.MJSAdminCLI
	maxWorkersFlag := "-linux"
	if conf.WorkerOS == "windows" {
		maxWorkersFlag = "-windows"
	}
	return schedulerport.Paths{
		MJSExecutable:            bin,
		NodeStatusExecutable:     filepath.Join(filepath.Dir(bin), "nodestatus"),
		ResizeExecutable:         filepath.Join(filepath.Dir(bin), "resize"),
		StopWorkerExecutable:     filepath.Join(filepath.Dir(bin), "stopworker"),
		StopJobManagerExecutable: filepath.Join(filepath.Dir(bin), "stopjobmanager"),
		MaxWorkersFlag:           maxWorkersFlag,
		WorkerOS:                 conf.WorkerOS,
	}
}

func buildNotifier(conf *config.RuntimeConfig, log *logging.Logger) *notifier.Notifier {
	var providers []notifier.Provider
	if conf.Notification != nil {
		if conf.Notification.PagerDutyServiceKey != "" {
			providers = append(providers, notifier.NewPagerDutyProvider(conf.Notification.PagerDutyServiceKey, log))
		}
		if conf.Notification.OpsGenieAPIKey != "" {
			providers = append(providers, notifier.NewOpsGenieProvider(conf.Notification.OpsGenieAPIKey, log))
		}
	}
	return notifier.New(log, providers...)
}

func setupMetrics() {
	inm := metrics.NewInmemSink(10*time.Second, time.Minute)
	metrics.DefaultInmemSignal(inm)
	metrics.NewGlobal(metrics.DefaultConfig("cluster_manager"), inm)
}
