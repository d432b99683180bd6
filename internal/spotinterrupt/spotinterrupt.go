// Package spotinterrupt implements component L: the independent,
// one-shot handler that checks whether the current Spot Instance has been
// flagged by AWS for removal and, if so, stops workers on it before the
// two-minute interruption notice expires.
package spotinterrupt

import (
	"context"

	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/cloudport"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/logging"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/schedulerport"
)

// Handler runs the Spot interruption check.
type Handler struct {
	cloud cloudport.Port
	sched schedulerport.Port
	log   *logging.Logger
}

// New builds a Handler.
func New(cloud cloudport.Port, sched schedulerport.Port, log *logging.Logger) *Handler {
	if log == nil {
		log = logging.Nop()
	}
	return &Handler{cloud: cloud, sched: sched, log: log.Component("spotinterrupt")}
}

// Run checks the instance metadata for a pending Spot interruption and, if
// one is flagged, stops workers local to this host. It returns nil on
// success (including the no-op case where no interruption is flagged) and
// an error if either the metadata check or the worker stop failed.
func (h *Handler) Run(ctx context.Context) error {
	h.log.Info("retrieving spot instance interruption status")
	marked, err := h.cloud.IsSpotInstanceMarkedForRemoval(ctx)
	if err != nil {
		h.log.Error("unable to determine spot instance interruption status: %v", err)
		return err
	}

	if !marked {
		h.log.Info("no action needed, the instance is not flagged by AWS for removal")
		return nil
	}

	h.log.Info("the instance is flagged by AWS for removal, stopping workers")
	if err := h.sched.StopWorkersLocally(ctx); err != nil {
		h.log.Error("failed to stop workers: %v", err)
		return err
	}

	h.log.Info("stopped workers successfully")
	return nil
}
