// Package schedulerport defines the boundary between the reconciliation
// core and the MATLAB Job Scheduler (MJS), and a CLI-subprocess adapter
// for it. Per-host operations fan out with bounded concurrency: at most
// DefaultConcurrency in flight at once, each capped at
// HostTimeoutSeconds (overridable with WithConcurrency and
// WithHostTimeout).
package schedulerport

import (
	"context"

	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/structs"
)

// Port is implemented by anything that can report and mutate the state of
// the job scheduler and its worker nodes.
type Port interface {
	// GetClusterCapacity reports the job manager's current, desired, and
	// maximum worker counts for the configured worker OS family.
	GetClusterCapacity(ctx context.Context) (structs.ClusterCapacity, error)

	// GetNodesIdleTimeSeconds reports, per host, the minimum idle duration
	// across that host's workers.
	GetNodesIdleTimeSeconds(ctx context.Context) (structs.NodeIdleMap, error)

	// GetSuspendedNodes probes, among the given hosts that are not already
	// known-good, which ones report a Suspended worker group status.
	GetSuspendedNodes(ctx context.Context, candidates, goodNodes structs.HostSet) (structs.HostSet, error)

	// GetWorkerNodes returns the hostnames of every worker currently
	// registered with the job manager.
	GetWorkerNodes(ctx context.Context) (structs.HostSet, error)

	// IsMJSRunning reports whether the MJS service process is running.
	IsMJSRunning(ctx context.Context) (bool, error)

	// IsJobManagerRunning reports whether a job manager is registered and
	// in the Running state.
	IsJobManagerRunning(ctx context.Context) (bool, error)

	// StopMJS stops the MJS service, preserving jobs. A no-op success if
	// MJS was already stopped.
	StopMJS(ctx context.Context) error

	// StopJobManager stops the job manager, preserving jobs.
	StopJobManager(ctx context.Context) error

	// SetClusterCapacity updates the job manager's maximum worker count.
	SetClusterCapacity(ctx context.Context, maximumWorkers int) error

	// StopWorkersOnNodes fans out a stop-on-idle request to each host and
	// returns the subset that were confirmed stopped.
	StopWorkersOnNodes(ctx context.Context, hosts structs.HostSet) (structs.HostSet, error)

	// StopWorkersLocally stops every worker running on the current host.
	StopWorkersLocally(ctx context.Context) error

	// ShutdownInstance gracefully shuts down the current instance's OS.
	ShutdownInstance(ctx context.Context) error
}

// WorkerGroupStatus mirrors the nodestatus command's reported states.
type WorkerGroupStatus string

const (
	WorkerGroupNotRunning WorkerGroupStatus = "Not running"
	WorkerGroupRunning    WorkerGroupStatus = "Running"
	WorkerGroupSuspended  WorkerGroupStatus = "Suspended"
)

// HostTimeoutSeconds is the hard per-host subprocess timeout for any
// remote-host probing or mutating call (§5).
const HostTimeoutSeconds = 15

// DefaultConcurrency is the default width of the bounded-concurrency
// fan-out semaphore (§5).
const DefaultConcurrency = 20
