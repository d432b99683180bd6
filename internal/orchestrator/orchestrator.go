// Package orchestrator implements component K: the single-shot,
// cron-invoked entry point that sequences every reconciliation component
// against one loaded state document and computes the process's final exit
// code.
package orchestrator

import (
	"context"

	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/autoscaler"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/cloudport"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/clusterteardown"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/logging"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/mwstate"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/schedulerport"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/statestore"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/structs"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/terminator"
)

// Store is the subset of *statestore.Store the orchestrator depends on,
// narrowed to an interface so tests can substitute an in-memory fake.
type Store interface {
	Config() structs.Config
	State() structs.State
	UpdateState(updates map[string]interface{})
	Dirty() bool
	Flush() bool
}

var _ Store = (*statestore.Store)(nil)

// Orchestrator sequences mw-state evaluation, autoscaling, the termination
// routine, the state flush, and cluster teardown within a single
// invocation.
type Orchestrator struct {
	store      Store
	sched      schedulerport.Port
	mwState    *mwstate.Evaluator
	autoscaler *autoscaler.Autoscaler
	terminator *terminator.Terminator
	teardown   *clusterteardown.TearDown
	log        *logging.Logger
}

// New builds an Orchestrator wired to the given ports and state store.
func New(store Store, cloud cloudport.Port, sched schedulerport.Port, log *logging.Logger) *Orchestrator {
	if log == nil {
		log = logging.Nop()
	}
	return &Orchestrator{
		store:      store,
		sched:      sched,
		mwState:    mwstate.New(cloud, sched, log),
		autoscaler: autoscaler.New(cloud, sched, log),
		terminator: terminator.New(cloud, log),
		teardown:   clusterteardown.New(cloud, sched, log),
		log:        log.Component("orchestrator"),
	}
}

// Run executes one invocation of the cluster management program and
// returns the process's final exit status, mirroring cluster_management.py
// main().
func (o *Orchestrator) Run(ctx context.Context) structs.Status {
	o.log.Info("evaluating cluster readiness")
	mwStateStatus := o.mwState.Run(ctx, o.store.State(), o.store.UpdateState)

	config := o.store.Config()
	state := o.store.State()

	autoscalingStatus := structs.StatusOK
	if config.AutoscalingEnabled && !state.ClusterReadyForTermination {
		mjsRunning, err := o.sched.IsMJSRunning(ctx)
		if err != nil {
			o.log.Error("unable to determine if MJS is running: %v", err)
			autoscalingStatus = structs.StatusCluster
		} else if mjsRunning {
			o.log.Debug("starting autoscaling routine")
			autoscalingStatus = o.autoscaler.Run(ctx)
			o.log.Debug("completed autoscaling routine")
		}
	}

	terminationRoutineStatus := structs.StatusOK
	if config.AutoterminationEnabled {
		terminationRoutineStatus = o.terminator.Run(ctx, config, o.store.State(), o.store.UpdateState)
	}

	if o.store.Dirty() {
		if !o.store.Flush() {
			o.log.Error("unable to update cluster management data file, exiting")
			return structs.StatusInternalIO
		}
	}

	clusterTerminationStatus := structs.StatusOK
	if o.store.State().ClusterReadyForTermination {
		o.log.Debug("cluster marked as ready for termination, starting cluster termination")
		clusterTerminationStatus = o.teardown.Run(ctx, config, o.store.State(), o.store.UpdateState)

		if o.store.Dirty() {
			if !o.store.Flush() {
				o.log.Error("unable to update cluster management data file after termination, exiting")
				return structs.StatusInternalIO
			}
		}

		if clusterTerminationStatus == structs.StatusOK {
			o.log.Debug("attempting to deallocate the head node")
			if err := o.sched.ShutdownInstance(ctx); err != nil {
				o.log.Debug("failed to deallocate the head node: %v", err)
			}
		}
	}

	return structs.Max(mwStateStatus, autoscalingStatus, terminationRoutineStatus, clusterTerminationStatus)
}
