// Package healthcheck implements component E: identifying worker nodes
// whose worker group has gone Suspended, and flagging them unhealthy so
// the cloud scaling group replaces them.
package healthcheck

import (
	"context"

	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/cloudport"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/logging"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/schedulerport"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/structs"
)

// Checker runs the health check routine.
type Checker struct {
	cloud cloudport.Port
	sched schedulerport.Port
	log   *logging.Logger
}

// New builds a Checker.
func New(cloud cloudport.Port, sched schedulerport.Port, log *logging.Logger) *Checker {
	if log == nil {
		log = logging.Nop()
	}
	return &Checker{cloud: cloud, sched: sched, log: log.Component("healthcheck")}
}

// Run executes the health check routine.
func (c *Checker) Run(ctx context.Context) structs.Status {
	currentNodes, err := c.cloud.GetWorkerNodes(ctx)
	if err != nil {
		c.log.Error("unable to retrieve worker nodes: %v", err)
		return structs.StatusCloud
	}
	c.log.Debug("current nodes: %v", currentNodes.Slice())

	goodNodes, err := c.sched.GetWorkerNodes(ctx)
	if err != nil {
		c.log.Error("unable to retrieve registered worker nodes: %v", err)
		return structs.StatusCluster
	}

	badNodes, err := c.sched.GetSuspendedNodes(ctx, currentNodes, goodNodes)
	if err != nil {
		c.log.Error("unable to query worker nodes for suspension: %v", err)
		return structs.StatusCluster
	}

	if len(badNodes) == 0 {
		c.log.Info("all nodes are healthy")
		return structs.StatusOK
	}

	c.log.Debug("marking nodes as unhealthy: %v", badNodes.Slice())
	if err := c.cloud.SetNodesUnhealthy(ctx, badNodes); err != nil {
		c.log.Info("failed to set nodes as unhealthy: %v", err)
		return structs.StatusCloud
	}
	c.log.Info("successfully marked nodes as unhealthy")
	return structs.StatusOK
}
