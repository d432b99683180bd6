// Package autoscaler implements component G: the three-stage autoscaling
// routine that sequences capacity control, health check, and scale-in
// protection.
package autoscaler

import (
	"context"

	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/capacitycontrol"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/cloudport"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/healthcheck"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/logging"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/scaleinprotection"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/schedulerport"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/structs"
)

// Autoscaler sequences the three autoscaling stages.
type Autoscaler struct {
	capacity   *capacitycontrol.Controller
	health     *healthcheck.Checker
	protection *scaleinprotection.Protector
	log        *logging.Logger
}

// New builds an Autoscaler wired to the given ports.
func New(cloud cloudport.Port, sched schedulerport.Port, log *logging.Logger) *Autoscaler {
	if log == nil {
		log = logging.Nop()
	}
	return &Autoscaler{
		capacity:   capacitycontrol.New(cloud, sched, log),
		health:     healthcheck.New(cloud, sched, log),
		protection: scaleinprotection.New(cloud, sched, log),
		log:        log.Component("autoscaler"),
	}
}

// Run executes capacity control, then health check, then scale-in
// protection, and returns the worst of the three statuses.
func (a *Autoscaler) Run(ctx context.Context) structs.Status {
	a.log.Info("starting capacity control")
	statusCC := a.capacity.Run(ctx)
	a.log.Info("finished capacity control: %s", statusCC)

	a.log.Info("starting health check")
	statusHC := a.health.Run(ctx)
	a.log.Info("finished health check: %s", statusHC)

	a.log.Info("starting scale-in protection")
	statusSP := a.protection.Run(ctx)
	a.log.Info("finished scale-in protection: %s", statusSP)

	return structs.Max(statusCC, statusHC, statusSP)
}
