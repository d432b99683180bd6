// Command spot-interrupt is the independent, one-shot handler for Spot
// Instance interruption notices: it checks instance metadata and, if the
// instance has been flagged for removal, stops workers local to this
// host before the two-minute notice expires.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/cloudport"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/config"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/logging"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/schedulerport"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/spotinterrupt"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := flag.NewFlagSet("spot-interrupt", flag.ContinueOnError)
	configPath := flags.String("config", "/etc/mathworks/cluster-manager.hcl", "path to the runtime configuration file")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	conf, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "spot-interrupt: unable to load configuration: %v\n", err)
		return 1
	}

	log := logging.New(logging.Config{Level: conf.LogLevel, Format: conf.LogFormat})

	ctx := context.Background()
	headNodeID, err := cloudport.HeadNodeIDFromMetadata(ctx)
	if err != nil {
		log.Error("unable to determine head node instance ID from metadata: %v", err)
		return 1
	}
	cloud := cloudport.NewAWSAdapter(conf.AWSRegion, conf.AutoScalingGroup, headNodeID, conf.WorkersPerNode, log)

	maxWorkersFlag := "-linux"
	if conf.WorkerOS == "windows" {
		maxWorkersFlag = "-windows"
	}
	bin := conf.MJSAdminCLI
	sched := schedulerport.NewCLIAdapter(schedulerport.Paths{
		MJSExecutable:            bin,
		NodeStatusExecutable:     filepath.Join(filepath.Dir(bin), "nodestatus"),
		ResizeExecutable:         filepath.Join(filepath.Dir(bin), "resize"),
		StopWorkerExecutable:     filepath.Join(filepath.Dir(bin), "stopworker"),
		StopJobManagerExecutable: filepath.Join(filepath.Dir(bin), "stopjobmanager"),
		MaxWorkersFlag:           maxWorkersFlag,
		WorkerOS:                 conf.WorkerOS,
	}, log,
		schedulerport.WithConcurrency(conf.SchedulerConcurrency),
		schedulerport.WithHostTimeout(time.Duration(conf.SchedulerHostTimeoutSeconds)*time.Second),
	)

	handler := spotinterrupt.New(cloud, sched, log)
	if err := handler.Run(ctx); err != nil {
		return 1
	}
	return 0
}
