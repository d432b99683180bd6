// Package scaleinprotection implements component F: when the cloud
// scaling group's current node count exceeds its desired count, select
// enough sufficiently-idle nodes to close the gap, stop their workers,
// and remove their scale-in protection so the cloud provider may reclaim
// them.
package scaleinprotection

import (
	"context"
	"sort"

	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/cloudport"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/logging"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/schedulerport"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/structs"
)

// Protector runs the scale-in protection routine.
type Protector struct {
	cloud cloudport.Port
	sched schedulerport.Port
	log   *logging.Logger
}

// New builds a Protector.
func New(cloud cloudport.Port, sched schedulerport.Port, log *logging.Logger) *Protector {
	if log == nil {
		log = logging.Nop()
	}
	return &Protector{cloud: cloud, sched: sched, log: log.Component("scaleinprotection")}
}

// Run executes the scale-in protection routine.
func (p *Protector) Run(ctx context.Context) structs.Status {
	cloudCapacity, err := p.cloud.GetCloudCapacity(ctx)
	if err != nil {
		p.log.Error("unable to retrieve cloud capacity: %v", err)
		return structs.StatusCloud
	}
	p.log.Debug("current cloud capacities: %+v", cloudCapacity)

	nodeDifference := cloudCapacity.CurrentNodes - cloudCapacity.DesiredNodes

	switch {
	case nodeDifference == 0:
		p.log.Info("the desired capacity matches the current capacity")
		return structs.StatusOK
	case nodeDifference < 0:
		p.log.Info("the desired capacity is higher than the current capacity")
		return structs.StatusOK
	}

	p.log.Info("the desired capacity is lower than the current capacity by %d nodes", nodeDifference)

	idleTimeoutSeconds, err := p.cloud.GetIdleTimeoutSeconds(ctx)
	if err != nil {
		p.log.Error("unable to retrieve idle timeout: %v", err)
		return structs.StatusCloud
	}
	p.log.Debug("idle timeout is %ds", idleTimeoutSeconds)

	nodesSecondsIdle, err := p.sched.GetNodesIdleTimeSeconds(ctx)
	if err != nil {
		p.log.Error("unable to retrieve node idle times: %v", err)
		return structs.StatusCluster
	}

	nodesToStop := selectNodesToStop(nodesSecondsIdle, idleTimeoutSeconds, nodeDifference)
	if len(nodesToStop) == 0 {
		p.log.Info("no nodes to stop")
		return structs.StatusOK
	}

	clusterIssue := false
	cloudIssue := false

	nodesStopped, err := p.sched.StopWorkersOnNodes(ctx, nodesToStop)
	if err != nil {
		p.log.Error("unable to stop workers on nodes: %v", err)
		return structs.StatusCluster
	}
	if len(nodesToStop) != len(nodesStopped) {
		failed := nodesToStop.Difference(nodesStopped)
		p.log.Debug("failed to stop workers on %d nodes: %v", len(failed), failed.Slice())
		clusterIssue = true
	}
	if len(nodesStopped) > 0 {
		p.log.Debug("stopped workers on %d nodes", len(nodesStopped))

		nodesUnprotected, err := p.cloud.SetNodesProtection(ctx, nodesStopped, false)
		if err != nil {
			p.log.Error("unable to unprotect nodes: %v", err)
			cloudIssue = true
		} else if len(nodesStopped) != len(nodesUnprotected) {
			failed := nodesStopped.Difference(nodesUnprotected)
			p.log.Debug("failed to unprotect %d nodes: %v", len(failed), failed.Slice())
			cloudIssue = true
		}
		if len(nodesUnprotected) > 0 {
			p.log.Debug("unprotected %d nodes", len(nodesUnprotected))
		}
	}

	return structs.FromIssues(cloudIssue, clusterIssue)
}

// selectNodesToStop picks nodes whose idle time strictly exceeds
// idleTimeoutSeconds, stopping once nodeDifference have been picked.
// Iteration order is sorted by hostname for determinism; the reference
// implementation iterates an unordered dict, so any idle-qualifying
// subset of the right size is an equally valid selection.
func selectNodesToStop(nodesSecondsIdle structs.NodeIdleMap, idleTimeoutSeconds, nodeDifference int) structs.HostSet {
	hosts := make([]string, 0, len(nodesSecondsIdle))
	for h := range nodesSecondsIdle {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)

	nodesToStop := structs.NewHostSet()
	for _, host := range hosts {
		secondsIdle := nodesSecondsIdle[host]
		if secondsIdle > idleTimeoutSeconds {
			nodesToStop[host] = struct{}{}
			if len(nodesToStop) >= nodeDifference {
				break
			}
		}
	}
	return nodesToStop
}
