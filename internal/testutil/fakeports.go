// Package testutil holds test doubles shared across the reconciliation
// component packages, following the teacher's own testutil package for
// shared test scaffolding.
package testutil

import (
	"context"

	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/structs"
)

// FakeCloud is a configurable cloudport.Port double: every method
// returns the matching value and error fields (zero values and a nil
// error unless set), and the setters record their arguments in *Calls.
type FakeCloud struct {
	CloudCapacity               structs.CloudCapacity
	CloudCapacityErr            error
	IdleTimeoutSeconds           int
	IdleTimeoutErr               error
	WorkerNodes                  structs.HostSet
	WorkerNodesErr               error
	SetCloudCapacityErr          error
	SetCloudCapacityCalls        []int
	SetMinNodesErr               error
	SetMinNodesCalls             []int
	SetNodesUnhealthyErr         error
	SetNodesUnhealthyCalls       []structs.HostSet
	TerminationPolicy            string
	TerminationPolicyErr         error
	SetTerminationPolicyErr      error
	SetTerminationPolicyCalls    []string
	SetMWStateTagErr             error
	SetMWStateTagCalls           []string
	SetNodesProtectionResult     structs.HostSet
	SetNodesProtectionErr        error
	SetNodesProtectionCalls      []structs.HostSet
	UnprotectAllNodesErr         error
	UnprotectAllNodesCalls       int
	SpotMarkedForRemoval         bool
	SpotMarkedForRemovalErr      error
}

func (f *FakeCloud) GetCloudCapacity(context.Context) (structs.CloudCapacity, error) {
	return f.CloudCapacity, f.CloudCapacityErr
}

func (f *FakeCloud) GetIdleTimeoutSeconds(context.Context) (int, error) {
	return f.IdleTimeoutSeconds, f.IdleTimeoutErr
}

func (f *FakeCloud) GetWorkerNodes(context.Context) (structs.HostSet, error) {
	if f.WorkerNodes == nil {
		return structs.NewHostSet(), f.WorkerNodesErr
	}
	return f.WorkerNodes, f.WorkerNodesErr
}

func (f *FakeCloud) SetCloudCapacity(ctx context.Context, desiredNodes int) error {
	f.SetCloudCapacityCalls = append(f.SetCloudCapacityCalls, desiredNodes)
	return f.SetCloudCapacityErr
}

func (f *FakeCloud) SetMinNodes(ctx context.Context, nodes int) error {
	f.SetMinNodesCalls = append(f.SetMinNodesCalls, nodes)
	return f.SetMinNodesErr
}

func (f *FakeCloud) SetNodesUnhealthy(ctx context.Context, hosts structs.HostSet) error {
	f.SetNodesUnhealthyCalls = append(f.SetNodesUnhealthyCalls, hosts)
	return f.SetNodesUnhealthyErr
}

func (f *FakeCloud) GetClusterTerminationPolicy(context.Context) (string, error) {
	return f.TerminationPolicy, f.TerminationPolicyErr
}

func (f *FakeCloud) SetClusterTerminationPolicy(ctx context.Context, policy string) error {
	f.SetTerminationPolicyCalls = append(f.SetTerminationPolicyCalls, policy)
	return f.SetTerminationPolicyErr
}

func (f *FakeCloud) SetMWStateTag(ctx context.Context, state string) error {
	f.SetMWStateTagCalls = append(f.SetMWStateTagCalls, state)
	return f.SetMWStateTagErr
}

func (f *FakeCloud) SetNodesProtection(ctx context.Context, hosts structs.HostSet, protect bool) (structs.HostSet, error) {
	f.SetNodesProtectionCalls = append(f.SetNodesProtectionCalls, hosts)
	if f.SetNodesProtectionResult != nil {
		return f.SetNodesProtectionResult, f.SetNodesProtectionErr
	}
	return hosts, f.SetNodesProtectionErr
}

func (f *FakeCloud) UnprotectAllNodes(context.Context) error {
	f.UnprotectAllNodesCalls++
	return f.UnprotectAllNodesErr
}

func (f *FakeCloud) IsSpotInstanceMarkedForRemoval(context.Context) (bool, error) {
	return f.SpotMarkedForRemoval, f.SpotMarkedForRemovalErr
}

// FakeScheduler is a configurable schedulerport.Port double.
type FakeScheduler struct {
	ClusterCapacity          structs.ClusterCapacity
	ClusterCapacityErr       error
	NodesIdleTimeSeconds     structs.NodeIdleMap
	NodesIdleTimeSecondsErr  error
	SuspendedNodes           structs.HostSet
	SuspendedNodesErr        error
	WorkerNodes              structs.HostSet
	WorkerNodesErr           error
	MJSRunning               bool
	MJSRunningErr            error
	JobManagerRunning        bool
	JobManagerRunningErr     error
	StopMJSErr               error
	StopMJSCalls             int
	StopJobManagerErr        error
	SetClusterCapacityErr    error
	SetClusterCapacityCalls  []int
	StopWorkersOnNodesResult structs.HostSet
	StopWorkersOnNodesErr    error
	StopWorkersOnNodesCalls  []structs.HostSet
	StopWorkersLocallyErr    error
	StopWorkersLocallyCalls  int
	ShutdownInstanceErr      error
	ShutdownInstanceCalls    int
}

func (f *FakeScheduler) GetClusterCapacity(context.Context) (structs.ClusterCapacity, error) {
	return f.ClusterCapacity, f.ClusterCapacityErr
}

func (f *FakeScheduler) GetNodesIdleTimeSeconds(context.Context) (structs.NodeIdleMap, error) {
	if f.NodesIdleTimeSeconds == nil {
		return structs.NodeIdleMap{}, f.NodesIdleTimeSecondsErr
	}
	return f.NodesIdleTimeSeconds, f.NodesIdleTimeSecondsErr
}

func (f *FakeScheduler) GetSuspendedNodes(ctx context.Context, candidates, good structs.HostSet) (structs.HostSet, error) {
	if f.SuspendedNodes == nil {
		return structs.NewHostSet(), f.SuspendedNodesErr
	}
	return f.SuspendedNodes, f.SuspendedNodesErr
}

func (f *FakeScheduler) GetWorkerNodes(context.Context) (structs.HostSet, error) {
	if f.WorkerNodes == nil {
		return structs.NewHostSet(), f.WorkerNodesErr
	}
	return f.WorkerNodes, f.WorkerNodesErr
}

func (f *FakeScheduler) IsMJSRunning(context.Context) (bool, error) {
	return f.MJSRunning, f.MJSRunningErr
}

func (f *FakeScheduler) IsJobManagerRunning(context.Context) (bool, error) {
	return f.JobManagerRunning, f.JobManagerRunningErr
}

func (f *FakeScheduler) StopMJS(context.Context) error {
	f.StopMJSCalls++
	return f.StopMJSErr
}

func (f *FakeScheduler) StopJobManager(context.Context) error {
	return f.StopJobManagerErr
}

func (f *FakeScheduler) SetClusterCapacity(ctx context.Context, maximumWorkers int) error {
	f.SetClusterCapacityCalls = append(f.SetClusterCapacityCalls, maximumWorkers)
	return f.SetClusterCapacityErr
}

func (f *FakeScheduler) StopWorkersOnNodes(ctx context.Context, hosts structs.HostSet) (structs.HostSet, error) {
	f.StopWorkersOnNodesCalls = append(f.StopWorkersOnNodesCalls, hosts)
	if f.StopWorkersOnNodesResult != nil {
		return f.StopWorkersOnNodesResult, f.StopWorkersOnNodesErr
	}
	return hosts, f.StopWorkersOnNodesErr
}

func (f *FakeScheduler) StopWorkersLocally(context.Context) error {
	f.StopWorkersLocallyCalls++
	return f.StopWorkersLocallyErr
}

func (f *FakeScheduler) ShutdownInstance(context.Context) error {
	f.ShutdownInstanceCalls++
	return f.ShutdownInstanceErr
}
