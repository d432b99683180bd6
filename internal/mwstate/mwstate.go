// Package mwstate implements component H: evaluating cluster readiness to
// receive jobs and stamping the mw-state tag ("ready" or "timeout") on the
// head node accordingly.
package mwstate

import (
	"context"
	"strconv"

	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/cloudport"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/logging"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/schedulerport"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/structs"
)

// CounterTimeout is the highest stored attempt counter that still allows
// another evaluation: once the counter exceeds it (after CounterTimeout+1
// counted attempts), the mw-state tag is stamped "timeout" instead of
// continuing to wait for readiness. At roughly 60s between invocations
// this is about 11 minutes.
const CounterTimeout = 10

// Evaluator runs the mw-state readiness routine.
type Evaluator struct {
	cloud cloudport.Port
	sched schedulerport.Port
	log   *logging.Logger
}

// New builds an Evaluator.
func New(cloud cloudport.Port, sched schedulerport.Port, log *logging.Logger) *Evaluator {
	if log == nil {
		log = logging.Nop()
	}
	return &Evaluator{cloud: cloud, sched: sched, log: log.Component("mwstate")}
}

// UpdateFunc lets the caller (the orchestrator) apply validated state
// updates without mwstate importing statestore directly.
type UpdateFunc func(updates map[string]interface{})

// Run evaluates cluster readiness against the current state and applies
// any resulting state updates via update.
func (e *Evaluator) Run(ctx context.Context, state structs.State, update UpdateFunc) structs.Status {
	if state.MWStateSet {
		e.log.Info("cluster status already set, exiting")
		return structs.StatusOK
	}

	counter, err := strconv.Atoi(state.MWStateCounter)
	if err != nil {
		counter = 0
	}

	if counter > CounterTimeout {
		e.log.Info("timeout reached while determining cluster status")
		if err := e.cloud.SetMWStateTag(ctx, "timeout"); err != nil {
			e.log.Error("failed to set the mw-state tag to 'timeout': %v", err)
			return structs.StatusCloud
		}
		update(map[string]interface{}{structs.KeyMWStateSet: true})
		return structs.StatusOK
	}

	counter++
	update(map[string]interface{}{structs.KeyMWStateCounter: strconv.Itoa(counter)})

	running, err := e.sched.IsJobManagerRunning(ctx)
	if err != nil {
		e.log.Error("unable to determine job manager status: %v", err)
		return structs.StatusCluster
	}
	if !running {
		e.log.Info("job manager is not running, will re-check in next iteration")
		return structs.StatusCluster
	}

	cloudCapacity, err := e.cloud.GetCloudCapacity(ctx)
	if err != nil {
		e.log.Error("unable to retrieve cloud capacity: %v", err)
		return structs.StatusCloud
	}

	if cloudCapacity.DesiredNodes == 0 {
		if err := e.cloud.SetMWStateTag(ctx, "ready"); err != nil {
			e.log.Error("failed to set the mw-state tag to 'ready': %v", err)
			return structs.StatusCloud
		}
		update(map[string]interface{}{structs.KeyMWStateSet: true})
		return structs.StatusOK
	}

	clusterCapacity, err := e.sched.GetClusterCapacity(ctx)
	if err != nil {
		e.log.Error("unable to retrieve cluster capacity: %v", err)
		return structs.StatusCluster
	}

	if clusterCapacity.CurrentWorkers > 0 {
		e.log.Info("found a worker registered with MJS, setting mw-state as ready")
		if err := e.cloud.SetMWStateTag(ctx, "ready"); err != nil {
			e.log.Error("failed to set the mw-state tag to 'ready': %v", err)
			return structs.StatusCloud
		}
		update(map[string]interface{}{structs.KeyMWStateSet: true})
	} else {
		e.log.Info("cloud cluster's desired capacity is %d but MJS has no registered workers, will re-check in next iteration", cloudCapacity.DesiredNodes)
	}

	return structs.StatusOK
}
