// Package clusterteardown implements component J: the full cluster
// termination sequence once the state document has been marked ready for
// termination — scaling down to zero nodes, stopping workers and the job
// scheduler, and resetting the termination policy tag for the next
// deployment.
package clusterteardown

import (
	"context"
	"os"
	"strconv"
	"time"

	metrics "github.com/armon/go-metrics"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/cloudport"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/logging"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/schedulerport"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/structs"
)

// UpdateFunc lets the caller apply validated state updates.
type UpdateFunc func(updates map[string]interface{})

// TearDown runs the cluster termination routine.
type TearDown struct {
	cloud  cloudport.Port
	sched  schedulerport.Port
	log    *logging.Logger
	remove func(string) error
}

// Option customizes a TearDown, primarily for tests.
type Option func(*TearDown)

// WithFileRemover overrides the default os.Remove, for tests.
func WithFileRemover(f func(string) error) Option {
	return func(t *TearDown) { t.remove = f }
}

// New builds a TearDown.
func New(cloud cloudport.Port, sched schedulerport.Port, log *logging.Logger, opts ...Option) *TearDown {
	if log == nil {
		log = logging.Nop()
	}
	t := &TearDown{
		cloud:  cloud,
		sched:  sched,
		log:    log.Component("clusterteardown"),
		remove: os.Remove,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run executes the teardown sequence and returns its status. The
// orchestrator calls ShutdownInstance only when this status is StatusOK.
func (t *TearDown) Run(ctx context.Context, config structs.Config, state structs.State, update UpdateFunc) structs.Status {
	defer metrics.MeasureSince([]string{"clusterteardown", "run"}, time.Now())
	metrics.IncrCounter([]string{"clusterteardown", "started"}, 1)

	cloudIssue, clusterIssue := false, false

	cloudCapacity, err := t.cloud.GetCloudCapacity(ctx)
	if err != nil {
		t.log.Error("unable to retrieve cloud capacity: %v", err)
		return structs.StatusCloud
	}

	if cloudCapacity.CurrentNodes > 0 {
		if cloudCapacity.MinimumNodes > 0 {
			update(map[string]interface{}{structs.KeyMinNodesPreTermination: strconv.Itoa(cloudCapacity.MinimumNodes)})

			t.log.Info("setting cluster minimum capacity to zero")
			if err := t.cloud.SetMinNodes(ctx, 0); err != nil {
				t.log.Debug("failed to set minimum number of nodes to zero: %v", err)
				cloudIssue = true
			}
		}

		t.log.Info("setting desired capacity of the cluster to zero")
		if err := t.cloud.SetCloudCapacity(ctx, 0); err != nil {
			t.log.Debug("failed to set desired capacity to 0 for the auto scaling group: %v", err)
			cloudIssue = true
		}

		t.log.Info("stopping workers on cluster nodes")
		workerNodes, err := t.sched.GetWorkerNodes(ctx)
		if err != nil {
			t.log.Error("unable to retrieve worker nodes: %v", err)
			clusterIssue = true
		} else if len(workerNodes) > 0 {
			nodesStopped, err := t.sched.StopWorkersOnNodes(ctx, workerNodes)
			if err != nil {
				t.log.Error("unable to stop workers on nodes: %v", err)
				clusterIssue = true
			} else {
				if len(nodesStopped) > 0 {
					t.log.Debug("stopped workers on %d nodes", len(nodesStopped))

					t.log.Info("unprotecting cluster nodes")
					nodesUnprotected, err := t.cloud.SetNodesProtection(ctx, nodesStopped, false)
					if err != nil {
						t.log.Error("unable to unprotect nodes: %v", err)
						cloudIssue = true
					} else {
						if len(nodesStopped) != len(nodesUnprotected) {
							failed := nodesStopped.Difference(nodesUnprotected)
							t.log.Debug("failed to unprotect %d nodes: %v", len(failed), failed.Slice())
							cloudIssue = true
						}
						if len(nodesUnprotected) > 0 {
							t.log.Debug("unprotected %d nodes", len(nodesUnprotected))
						}
					}
				}

				if len(workerNodes) != len(nodesStopped) {
					failed := workerNodes.Difference(nodesStopped)
					t.log.Debug("failed to stop workers on %d nodes: %v, skipping cluster termination", len(failed), failed.Slice())
					clusterIssue = true
				}
			}
		}

		if !clusterIssue {
			if err := t.cloud.UnprotectAllNodes(ctx); err != nil {
				t.log.Debug("failed to unprotect all nodes in the auto scaling group: %v", err)
				cloudIssue = true
			}
		}
	}

	if cloudIssue || clusterIssue {
		return structs.FromIssues(cloudIssue, clusterIssue)
	}

	t.log.Debug("stopping MATLAB Job Scheduler service")
	jobManagerErr := t.sched.StopJobManager(ctx)
	var mjsErr error
	if jobManagerErr == nil {
		mjsErr = t.sched.StopMJS(ctx)
	}
	if jobManagerErr != nil || mjsErr != nil {
		t.log.Debug("failed to stop MATLAB Job Scheduler on head node, skipping head node termination")
		clusterIssue = true
	}

	logPath := config.MJSStatusLogFile
	if logPath != "" {
		if _, err := os.Stat(logPath); err == nil {
			if err := t.remove(logPath); err != nil {
				t.log.Debug("unable to delete %s: %v", logPath, err)
			} else {
				t.log.Debug("deleted %s", logPath)
			}
		}
	}

	initialPolicy := config.EffectiveInitialTerminationPolicy()
	t.log.Debug("resetting the cluster termination policy to the initial choice: %s", initialPolicy)
	if err := t.cloud.SetClusterTerminationPolicy(ctx, initialPolicy); err != nil {
		t.log.Debug("failed to reset the cluster termination policy: %v", err)
		cloudIssue = true
	}

	update(map[string]interface{}{structs.KeyLastTerminationPolicy: initialPolicy})

	status := structs.FromIssues(cloudIssue, clusterIssue)
	if status == structs.StatusOK {
		metrics.IncrCounter([]string{"clusterteardown", "completed"}, 1)
	}
	return status
}
