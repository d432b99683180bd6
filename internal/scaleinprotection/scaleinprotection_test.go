package scaleinprotection

import (
	"context"
	"errors"
	"testing"

	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/structs"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRun_currentMatchesDesired_noop(t *testing.T) {
	cloud := &testutil.FakeCloud{CloudCapacity: structs.CloudCapacity{CurrentNodes: 4, DesiredNodes: 4}}
	sched := &testutil.FakeScheduler{}

	status := New(cloud, sched, nil).Run(context.Background())
	assert.Equal(t, structs.StatusOK, status)
	assert.Empty(t, sched.StopWorkersOnNodesCalls)
}

func TestRun_currentBelowDesired_noop(t *testing.T) {
	cloud := &testutil.FakeCloud{CloudCapacity: structs.CloudCapacity{CurrentNodes: 2, DesiredNodes: 4}}
	sched := &testutil.FakeScheduler{}

	status := New(cloud, sched, nil).Run(context.Background())
	assert.Equal(t, structs.StatusOK, status)
}

func TestRun_selectsIdleNodesAndStopsThem(t *testing.T) {
	cloud := &testutil.FakeCloud{
		CloudCapacity:      structs.CloudCapacity{CurrentNodes: 4, DesiredNodes: 2},
		IdleTimeoutSeconds: 600,
	}
	sched := &testutil.FakeScheduler{
		NodesIdleTimeSeconds: structs.NodeIdleMap{
			"host-1": 1000, // idle, qualifies
			"host-2": 100,  // not idle enough
			"host-3": 900,  // idle, qualifies
			"host-4": 800,  // idle, qualifies, but only 2 needed
		},
	}

	status := New(cloud, sched, nil).Run(context.Background())

	assert.Equal(t, structs.StatusOK, status)
	require := sched.StopWorkersOnNodesCalls
	if assert.Len(t, require, 1) {
		assert.Len(t, require[0], 2, "only nodeDifference nodes are selected")
	}
	assert.Len(t, cloud.SetNodesProtectionCalls, 1)
}

func TestRun_noIdleNodes_noop(t *testing.T) {
	cloud := &testutil.FakeCloud{
		CloudCapacity:      structs.CloudCapacity{CurrentNodes: 4, DesiredNodes: 2},
		IdleTimeoutSeconds: 600,
	}
	sched := &testutil.FakeScheduler{
		NodesIdleTimeSeconds: structs.NodeIdleMap{"host-1": 10, "host-2": 20},
	}

	status := New(cloud, sched, nil).Run(context.Background())
	assert.Equal(t, structs.StatusOK, status)
	assert.Empty(t, sched.StopWorkersOnNodesCalls)
}

func TestRun_stopWorkersFailureReturnsStatusCluster(t *testing.T) {
	cloud := &testutil.FakeCloud{
		CloudCapacity:      structs.CloudCapacity{CurrentNodes: 2, DesiredNodes: 1},
		IdleTimeoutSeconds: 10,
	}
	sched := &testutil.FakeScheduler{
		NodesIdleTimeSeconds: structs.NodeIdleMap{"host-1": 100},
		StopWorkersOnNodesErr: errors.New("boom"),
	}

	status := New(cloud, sched, nil).Run(context.Background())
	assert.Equal(t, structs.StatusCluster, status)
}

func TestRun_partialStopMarksClusterIssue(t *testing.T) {
	cloud := &testutil.FakeCloud{
		CloudCapacity:      structs.CloudCapacity{CurrentNodes: 2, DesiredNodes: 0},
		IdleTimeoutSeconds: 10,
	}
	sched := &testutil.FakeScheduler{
		NodesIdleTimeSeconds:     structs.NodeIdleMap{"host-1": 100, "host-2": 100},
		StopWorkersOnNodesResult: structs.NewHostSet("host-1"),
	}

	status := New(cloud, sched, nil).Run(context.Background())
	assert.Equal(t, structs.StatusCluster, status)
}
