package mwstate

import (
	"context"
	"errors"
	"testing"

	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/structs"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func collectUpdates() (UpdateFunc, *map[string]interface{}) {
	captured := map[string]interface{}{}
	return func(updates map[string]interface{}) {
		for k, v := range updates {
			captured[k] = v
		}
	}, &captured
}

func TestRun_alreadySet_noop(t *testing.T) {
	cloud := &testutil.FakeCloud{}
	sched := &testutil.FakeScheduler{}
	update, captured := collectUpdates()

	status := New(cloud, sched, nil).Run(context.Background(), structs.State{MWStateSet: true}, update)

	assert.Equal(t, structs.StatusOK, status)
	assert.Empty(t, *captured)
}

func TestRun_counterExceedsTimeout_setsTimeoutTag(t *testing.T) {
	cloud := &testutil.FakeCloud{}
	sched := &testutil.FakeScheduler{}
	update, captured := collectUpdates()

	status := New(cloud, sched, nil).Run(context.Background(), structs.State{MWStateCounter: "11"}, update)

	assert.Equal(t, structs.StatusOK, status)
	assert.Equal(t, []string{"timeout"}, cloud.SetMWStateTagCalls)
	assert.Equal(t, true, (*captured)[structs.KeyMWStateSet])
}

func TestRun_timeoutTagFailureReturnsStatusCloud(t *testing.T) {
	cloud := &testutil.FakeCloud{SetMWStateTagErr: errors.New("boom")}
	sched := &testutil.FakeScheduler{}
	update, _ := collectUpdates()

	status := New(cloud, sched, nil).Run(context.Background(), structs.State{MWStateCounter: "20"}, update)
	assert.Equal(t, structs.StatusCloud, status)
}

func TestRun_jobManagerNotRunning_incrementsCounterAndReturnsCluster(t *testing.T) {
	cloud := &testutil.FakeCloud{}
	sched := &testutil.FakeScheduler{JobManagerRunning: false}
	update, captured := collectUpdates()

	status := New(cloud, sched, nil).Run(context.Background(), structs.State{MWStateCounter: "2"}, update)

	assert.Equal(t, structs.StatusCluster, status)
	assert.Equal(t, "3", (*captured)[structs.KeyMWStateCounter])
}

func TestRun_jobManagerErrorReturnsStatusCluster(t *testing.T) {
	cloud := &testutil.FakeCloud{}
	sched := &testutil.FakeScheduler{JobManagerRunningErr: errors.New("boom")}
	update, _ := collectUpdates()

	status := New(cloud, sched, nil).Run(context.Background(), structs.State{}, update)
	assert.Equal(t, structs.StatusCluster, status)
}

func TestRun_desiredNodesZero_setsReadyImmediately(t *testing.T) {
	cloud := &testutil.FakeCloud{CloudCapacity: structs.CloudCapacity{DesiredNodes: 0}}
	sched := &testutil.FakeScheduler{JobManagerRunning: true}
	update, captured := collectUpdates()

	status := New(cloud, sched, nil).Run(context.Background(), structs.State{}, update)

	assert.Equal(t, structs.StatusOK, status)
	assert.Equal(t, []string{"ready"}, cloud.SetMWStateTagCalls)
	assert.Equal(t, true, (*captured)[structs.KeyMWStateSet])
}

func TestRun_workerRegistered_setsReady(t *testing.T) {
	cloud := &testutil.FakeCloud{CloudCapacity: structs.CloudCapacity{DesiredNodes: 2}}
	sched := &testutil.FakeScheduler{
		JobManagerRunning: true,
		ClusterCapacity:   structs.ClusterCapacity{CurrentWorkers: 1},
	}
	update, captured := collectUpdates()

	status := New(cloud, sched, nil).Run(context.Background(), structs.State{}, update)

	assert.Equal(t, structs.StatusOK, status)
	assert.Equal(t, []string{"ready"}, cloud.SetMWStateTagCalls)
	assert.Equal(t, true, (*captured)[structs.KeyMWStateSet])
}

func TestRun_noWorkerRegisteredYet_waitsWithoutError(t *testing.T) {
	cloud := &testutil.FakeCloud{CloudCapacity: structs.CloudCapacity{DesiredNodes: 2}}
	sched := &testutil.FakeScheduler{
		JobManagerRunning: true,
		ClusterCapacity:   structs.ClusterCapacity{CurrentWorkers: 0},
	}
	update, captured := collectUpdates()

	status := New(cloud, sched, nil).Run(context.Background(), structs.State{}, update)

	assert.Equal(t, structs.StatusOK, status)
	assert.Empty(t, cloud.SetMWStateTagCalls)
	_, isSet := (*captured)[structs.KeyMWStateSet]
	assert.False(t, isSet)
}

func TestRun_cloudCapacityErrorReturnsStatusCloud(t *testing.T) {
	cloud := &testutil.FakeCloud{CloudCapacityErr: errors.New("boom")}
	sched := &testutil.FakeScheduler{JobManagerRunning: true}
	update, _ := collectUpdates()

	status := New(cloud, sched, nil).Run(context.Background(), structs.State{}, update)
	assert.Equal(t, structs.StatusCloud, status)
}

func TestRun_clusterCapacityErrorReturnsStatusCluster(t *testing.T) {
	cloud := &testutil.FakeCloud{CloudCapacity: structs.CloudCapacity{DesiredNodes: 2}}
	sched := &testutil.FakeScheduler{
		JobManagerRunning:  true,
		ClusterCapacityErr: errors.New("boom"),
	}
	update, _ := collectUpdates()

	status := New(cloud, sched, nil).Run(context.Background(), structs.State{}, update)
	assert.Equal(t, structs.StatusCluster, status)
}
