// Package cloudport defines the boundary between the reconciliation core
// and the cloud scaling group (component B). The AWS adapter lives in
// this package's aws.go; other adapters could be added the same way the
// teacher registers multiple providers in cloud/cloud_provider.go.
package cloudport

import (
	"context"

	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/structs"
)

// Port is implemented by anything that can report and mutate the cloud
// scaling group's capacity and per-node metadata. All methods are
// idempotent at the call level: a caller retrying a failed call does not
// risk double effects beyond what the underlying cloud API already
// guarantees.
type Port interface {
	// GetCloudCapacity reports the scaling group's current limits and the
	// number of healthy, launching-or-running instances.
	GetCloudCapacity(ctx context.Context) (structs.CloudCapacity, error)

	// GetIdleTimeoutSeconds reads the configured worker idle timeout, in
	// seconds, falling back to the platform default when unset or
	// unparseable.
	GetIdleTimeoutSeconds(ctx context.Context) (int, error)

	// GetWorkerNodes returns the hostnames of instances that are online,
	// healthy, and past their launch grace period.
	GetWorkerNodes(ctx context.Context) (structs.HostSet, error)

	// SetCloudCapacity requests a new desired capacity.
	SetCloudCapacity(ctx context.Context, desiredNodes int) error

	// SetMinNodes requests a new minimum capacity.
	SetMinNodes(ctx context.Context, nodes int) error

	// SetNodesUnhealthy marks the given hosts unhealthy so the scaling
	// group terminates and replaces them.
	SetNodesUnhealthy(ctx context.Context, hosts structs.HostSet) error

	// GetClusterTerminationPolicy reads the validated termination policy
	// tag from the head node, returning "" if absent or invalid.
	GetClusterTerminationPolicy(ctx context.Context) (string, error)

	// SetClusterTerminationPolicy writes the termination policy tag on
	// the head node.
	SetClusterTerminationPolicy(ctx context.Context, policy string) error

	// SetMWStateTag writes the mw-state tag on the head node ("ready" or
	// "timeout").
	SetMWStateTag(ctx context.Context, state string) error

	// SetNodesProtection updates scale-in protection for the given hosts,
	// returning the subset for which the update succeeded.
	SetNodesProtection(ctx context.Context, hosts structs.HostSet, protect bool) (structs.HostSet, error)

	// UnprotectAllNodes removes scale-in protection from every instance
	// currently in the scaling group. Used by cluster teardown.
	UnprotectAllNodes(ctx context.Context) error

	// IsSpotInstanceMarkedForRemoval reports whether AWS has flagged this
	// Spot instance for imminent interruption.
	IsSpotInstanceMarkedForRemoval(ctx context.Context) (bool, error)
}

// Tag names and defaults shared by adapters, matching the reference
// implementation's constants module.
const (
	IdleTimeoutTag           = "mwWorkerIdleTimeoutMinutes"
	IdleTimeoutDefaultMins   = 10
	ClusterTerminationTag    = "mw-autoshutdown"
	MWStateTag               = "mw-state"
	InstanceGracePeriodMins  = 5
	MaxInstanceIDsPerRequest = 50
)
