package healthcheck

import (
	"context"
	"errors"
	"testing"

	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/structs"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRun_noSuspendedNodes(t *testing.T) {
	cloud := &testutil.FakeCloud{WorkerNodes: structs.NewHostSet("host-1", "host-2")}
	sched := &testutil.FakeScheduler{WorkerNodes: structs.NewHostSet("host-1", "host-2")}

	status := New(cloud, sched, nil).Run(context.Background())

	assert.Equal(t, structs.StatusOK, status)
	assert.Empty(t, cloud.SetNodesUnhealthyCalls)
}

func TestRun_suspendedNodeMarkedUnhealthy(t *testing.T) {
	cloud := &testutil.FakeCloud{WorkerNodes: structs.NewHostSet("host-1", "host-2")}
	sched := &testutil.FakeScheduler{
		WorkerNodes:    structs.NewHostSet("host-1"),
		SuspendedNodes: structs.NewHostSet("host-2"),
	}

	status := New(cloud, sched, nil).Run(context.Background())

	assert.Equal(t, structs.StatusOK, status)
	assert.Len(t, cloud.SetNodesUnhealthyCalls, 1)
	assert.Equal(t, []string{"host-2"}, cloud.SetNodesUnhealthyCalls[0].Slice())
}

func TestRun_setUnhealthyFailureReturnsStatusCloud(t *testing.T) {
	cloud := &testutil.FakeCloud{
		WorkerNodes:          structs.NewHostSet("host-1"),
		SetNodesUnhealthyErr: errors.New("boom"),
	}
	sched := &testutil.FakeScheduler{SuspendedNodes: structs.NewHostSet("host-2")}

	status := New(cloud, sched, nil).Run(context.Background())
	assert.Equal(t, structs.StatusCloud, status)
}

func TestRun_cloudWorkerNodesErrorReturnsStatusCloud(t *testing.T) {
	cloud := &testutil.FakeCloud{WorkerNodesErr: errors.New("boom")}
	sched := &testutil.FakeScheduler{}

	status := New(cloud, sched, nil).Run(context.Background())
	assert.Equal(t, structs.StatusCloud, status)
}
