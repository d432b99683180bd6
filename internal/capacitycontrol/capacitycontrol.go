// Package capacitycontrol implements component D: aligning the job
// scheduler's maximum worker count with the cloud scaling group's maximum
// node count, and the cloud scaling group's desired node count with the
// job scheduler's desired worker count.
package capacitycontrol

import (
	"context"
	"math"
	"time"

	metrics "github.com/armon/go-metrics"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/cloudport"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/logging"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/schedulerport"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/structs"
)

// Controller runs the capacity alignment routine.
type Controller struct {
	cloud cloudport.Port
	sched schedulerport.Port
	log   *logging.Logger
}

// New builds a Controller.
func New(cloud cloudport.Port, sched schedulerport.Port, log *logging.Logger) *Controller {
	if log == nil {
		log = logging.Nop()
	}
	return &Controller{cloud: cloud, sched: sched, log: log.Component("capacitycontrol")}
}

// Run executes the capacity control routine and returns the combined
// status from any cloud-side or cluster-side failure.
func (c *Controller) Run(ctx context.Context) structs.Status {
	defer metrics.MeasureSince([]string{"capacitycontrol", "run"}, time.Now())

	cloudCapacity, err := c.cloud.GetCloudCapacity(ctx)
	if err != nil {
		c.log.Error("unable to retrieve cloud capacity: %v", err)
		return structs.StatusCloud
	}
	c.log.Debug("current cloud capacities: %+v", cloudCapacity)

	clusterCapacity, err := c.sched.GetClusterCapacity(ctx)
	if err != nil {
		c.log.Error("unable to retrieve cluster capacity: %v", err)
		return structs.StatusCluster
	}
	c.log.Debug("current cluster capacities: %+v", clusterCapacity)

	clusterIssue := false
	maximumWorkersRequested := workerCountFromNodes(cloudCapacity.MaximumNodes, cloudCapacity.WorkersPerNode)
	c.log.Debug("maximum: %d nodes -> %d workers", cloudCapacity.MaximumNodes, maximumWorkersRequested)
	if maximumWorkersRequested != clusterCapacity.MaximumWorkers {
		if err := c.sched.SetClusterCapacity(ctx, maximumWorkersRequested); err != nil {
			c.log.Info("failed to update the cluster's maximum capacity: %v", err)
			metrics.IncrCounter([]string{"capacitycontrol", "cluster_capacity", "failure"}, 1)
			clusterIssue = true
		} else {
			c.log.Info("updated the cluster's maximum capacity")
			metrics.IncrCounter([]string{"capacitycontrol", "cluster_capacity", "success"}, 1)
		}
	}

	cloudIssue := false
	desiredNodesRequested := nodeCountFromWorkers(
		clusterCapacity.DesiredWorkers,
		cloudCapacity.WorkersPerNode,
		cloudCapacity.MinimumNodes,
		cloudCapacity.MaximumNodes,
	)
	c.log.Debug("desired: %d workers -> %d nodes", clusterCapacity.DesiredWorkers, desiredNodesRequested)
	if desiredNodesRequested != cloudCapacity.DesiredNodes || desiredNodesRequested != cloudCapacity.CurrentNodes {
		if err := c.cloud.SetCloudCapacity(ctx, desiredNodesRequested); err != nil {
			c.log.Info("failed to update the cloud platform's desired capacity: %v", err)
			metrics.IncrCounter([]string{"capacitycontrol", "cloud_capacity", "failure"}, 1)
			cloudIssue = true
		} else {
			c.log.Info("updated the cloud platform's desired capacity")
			metrics.IncrCounter([]string{"capacitycontrol", "cloud_capacity", "success"}, 1)
		}
	}

	return structs.FromIssues(cloudIssue, clusterIssue)
}

func workerCountFromNodes(nodes, workersPerNode int) int {
	return nodes * workersPerNode
}

func nodeCountFromWorkers(workers, workersPerNode, minimumNodes, maximumNodes int) int {
	nodes := int(math.Ceil(float64(workers) / float64(workersPerNode)))
	if nodes > maximumNodes {
		nodes = maximumNodes
	}
	if nodes < minimumNodes {
		nodes = minimumNodes
	}
	return nodes
}
