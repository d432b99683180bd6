// Package terminator implements component I: reinitializing the cluster
// after an auto-termination-triggered reboot, reconciling the
// mw-autoshutdown tag against the last known termination policy, and
// dispatching to the on_idle or on_schedule termination routine.
package terminator

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/cloudport"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/logging"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/structs"
)

// UnusedClusterTimeoutSeconds is the minimum idle timeout applied before
// MJS has ever been busy, giving a freshly deployed cluster time for the
// first job submission (§4.I).
const UnusedClusterTimeoutSeconds = 1800

// UpdateFunc lets the caller apply validated state updates.
type UpdateFunc func(updates map[string]interface{})

// Terminator runs the termination-policy routine.
type Terminator struct {
	cloud    cloudport.Port
	log      *logging.Logger
	readFile func(string) ([]byte, error)
	statFile func(string) (bool, error)
	now      func() time.Time
}

// Option customizes a Terminator, primarily for tests.
type Option func(*Terminator)

// WithClock overrides the default time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Terminator) { t.now = now }
}

// WithFileReader overrides the default os.ReadFile, for tests.
func WithFileReader(f func(string) ([]byte, error)) Option {
	return func(t *Terminator) { t.readFile = f }
}

// WithFileStat overrides the default existence check, for tests.
func WithFileStat(f func(string) (bool, error)) Option {
	return func(t *Terminator) { t.statFile = f }
}

// New builds a Terminator.
func New(cloud cloudport.Port, log *logging.Logger, opts ...Option) *Terminator {
	if log == nil {
		log = logging.Nop()
	}
	t := &Terminator{
		cloud:    cloud,
		log:      log.Component("terminator"),
		now:      time.Now,
		readFile: os.ReadFile,
		statFile: func(path string) (bool, error) {
			_, err := os.Stat(path)
			if err == nil {
				return true, nil
			}
			if os.IsNotExist(err) {
				return false, nil
			}
			return false, err
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run is the entry point: start_termination_routine in the reference
// implementation. It reinitializes the cluster after an auto-termination
// reboot if needed, then reconciles and dispatches the termination policy.
func (t *Terminator) Run(ctx context.Context, config structs.Config, state structs.State, update UpdateFunc) structs.Status {
	if state.ClusterReadyForTermination {
		return structs.StatusOK
	}

	reinitialized, status := t.reinitializeAfterReboot(ctx, config, state, update)
	if !reinitialized {
		return status
	}

	t.log.Info("retrieving mw-autoshutdown tag from the head node")
	policy, err := t.cloud.GetClusterTerminationPolicy(ctx)
	if err != nil {
		t.log.Error("unable to retrieve cluster termination policy: %v", err)
		return structs.StatusCloud
	}

	policy = t.backupPolicy(ctx, policy, config, state, update)
	t.log.Debug("mw-autoshutdown tag value is set to %s", policy)

	if policy == "never" {
		t.log.Info("no termination policy to be implemented")
		return structs.StatusOK
	}

	if policy == "on_idle" {
		t.log.Info("starting termination routine: terminate_on_idle")
		result := t.terminateOnIdle(ctx, config, state, update)
		t.log.Info("completed termination routine: terminate_on_idle")
		return result
	}

	t.log.Info("starting termination routine: terminate_on_schedule")
	result := t.terminateOnSchedule(ctx, policy, update)
	t.log.Info("completed termination routine: terminate_on_schedule")
	return result
}

// reinitializeAfterReboot is initialize_cluster_after_reboot: on the first
// run after an auto-termination reboot it restores MinNodesPreTermination
// and, if autoscaling is disabled, resizes the cluster back to its initial
// desired capacity.
func (t *Terminator) reinitializeAfterReboot(ctx context.Context, config structs.Config, state structs.State, update UpdateFunc) (bool, structs.Status) {
	if !(state.FirstRunAfterReboot && state.ClusterAutoTerminated) {
		return true, structs.StatusOK
	}

	minNodesPreTermination, err := strconv.Atoi(state.MinNodesPreTermination)
	if err != nil {
		minNodesPreTermination = 0
	}
	if minNodesPreTermination > 0 {
		t.log.Debug("resetting minimum nodes to pre-termination value of %d", minNodesPreTermination)
		if err := t.cloud.SetMinNodes(ctx, minNodesPreTermination); err != nil {
			t.log.Error("unable to reset minimum nodes: %v", err)
		}
	}

	if config.AutoscalingEnabled {
		return true, structs.StatusOK
	}

	cloudCapacity, err := t.cloud.GetCloudCapacity(ctx)
	if err != nil {
		t.log.Error("unable to retrieve cloud capacity: %v", err)
		return false, structs.StatusCloud
	}

	if cloudCapacity.CurrentNodes > 0 {
		return true, structs.StatusOK
	}

	t.log.Info("cluster was auto-terminated in the previous run, setting the cloud capacity to initial desired capacity of %d nodes", config.InitialDesiredCapacity)
	if err := t.cloud.SetCloudCapacity(ctx, config.InitialDesiredCapacity); err != nil {
		t.log.Error("failed to set the cloud capacity to %d: %v", config.InitialDesiredCapacity, err)
		return false, structs.StatusCloud
	}
	t.log.Info("successfully set the cloud capacity to %d", config.InitialDesiredCapacity)

	update(map[string]interface{}{structs.KeyClusterAutoTerminated: false})

	return true, structs.StatusOK
}

// backupPolicy is backup_policy: if the tag read back empty/invalid, falls
// back to the last known policy (or the initial policy), and re-asserts it
// on the head node; otherwise backs up a genuinely-changed policy into
// state. It never returns an error; any cloud write failure is logged
// but does not block dispatch (mirroring the reference implementation,
// which only logs here).
func (t *Terminator) backupPolicy(ctx context.Context, policy string, config structs.Config, state structs.State, update UpdateFunc) string {
	if policy == "" {
		t.log.Info("mw-autoshutdown tag value is empty or invalid, resetting it to last known value")
		resolved := state.LastTerminationPolicy
		if resolved == "" {
			resolved = config.EffectiveInitialTerminationPolicy()
		}
		if err := t.cloud.SetClusterTerminationPolicy(ctx, resolved); err != nil {
			t.log.Error("failed to update mw-autoshutdown tag to %s: %v", resolved, err)
		}
		return resolved
	}

	if policy != state.LastTerminationPolicy {
		t.log.Debug("backing up termination policy %s in the cluster management data file", policy)
		update(map[string]interface{}{structs.KeyLastTerminationPolicy: policy})
	}
	return policy
}

// terminateOnIdle implements the terminate_on_idle routine.
func (t *Terminator) terminateOnIdle(ctx context.Context, config structs.Config, state structs.State, update UpdateFunc) structs.Status {
	idleTimeoutSeconds, err := t.cloud.GetIdleTimeoutSeconds(ctx)
	if err != nil {
		t.log.Error("unable to retrieve idle timeout: %v", err)
		return structs.StatusCloud
	}
	if !state.WasMJSBusy && idleTimeoutSeconds < UnusedClusterTimeoutSeconds {
		idleTimeoutSeconds = UnusedClusterTimeoutSeconds
	}

	logPath := config.MJSStatusLogFile
	exists, err := t.statFile(logPath)
	if err != nil || !exists {
		t.log.Debug("failed to find file %s, skipping cluster termination as MJS state is not known", logPath)
		return structs.StatusCluster
	}

	content, err := t.readFile(logPath)
	if err != nil {
		t.log.Debug("failed to read file %s: %v", logPath, err)
		return structs.StatusCluster
	}

	lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
	if len(lines) == 0 || lines[len(lines)-1] == "" {
		t.log.Warn("MJS status log file is empty, unable to determine MJS state")
		return structs.StatusCluster
	}
	lastRecordedState := lines[len(lines)-1]

	if strings.Contains(lastRecordedState, "MJS busy") {
		t.log.Info("MJS is busy, skipping cluster termination")
		return structs.StatusOK
	}

	idleTimestamp, ok := parseIdleSince(lastRecordedState)
	if !ok {
		t.log.Debug("unable to parse idle timestamp from %q", lastRecordedState)
		return structs.StatusCluster
	}

	timeDelta := int(t.now().UTC().Sub(idleTimestamp).Seconds())
	t.log.Info("MJS has been idle for %d seconds, total timeout is %d seconds", timeDelta, idleTimeoutSeconds)

	if timeDelta > idleTimeoutSeconds {
		t.log.Info("MJS has been idle for more than the timeout, marking cluster as ready for termination")
		update(map[string]interface{}{
			structs.KeyClusterReadyForTermination: true,
			structs.KeyClusterAutoTerminated:       true,
		})
	} else {
		t.log.Info("MJS has been idle for less than the timeout, skipping cluster termination")
	}

	return structs.StatusOK
}

const mjsIdleSinceLayout = "2006-01-02 15:04:05"

// parseIdleSince parses a line of the form "MJS idle since: <ts> UTC".
func parseIdleSince(line string) (time.Time, bool) {
	const marker = "since: "
	idx := strings.Index(line, marker)
	if idx == -1 {
		return time.Time{}, false
	}
	rest := line[idx+len(marker):]
	rest = strings.TrimSuffix(strings.TrimSpace(rest), " UTC")
	ts, err := time.Parse(mjsIdleSinceLayout, rest)
	if err != nil {
		return time.Time{}, false
	}
	return ts.UTC(), true
}

const scheduleLayout = "Mon, 02 Jan 2006 15:04:05"

// terminateOnSchedule implements the terminate_on_schedule routine. schedule
// is the current mw-autoshutdown tag value as resolved by backupPolicy, not
// the pre-update state snapshot, since backupPolicy's update() call lands in
// the store and is not reflected back into the caller's state copy.
func (t *Terminator) terminateOnSchedule(ctx context.Context, schedule string, update UpdateFunc) structs.Status {
	currentTime := t.now().UTC()

	var deadline time.Time
	if strings.HasPrefix(schedule, "After") {
		fields := strings.Fields(schedule)
		hours := 0
		if len(fields) >= 2 {
			hours, _ = strconv.Atoi(fields[1])
		}
		deadline = currentTime.Add(time.Duration(hours) * time.Hour)

		if err := t.cloud.SetClusterTerminationPolicy(ctx, deadline.Format(scheduleLayout)+" GMT"); err != nil {
			t.log.Error("failed to update the cluster termination policy tag in the head node: %v", err)
			return structs.StatusCloud
		}
	} else {
		parsed, err := time.Parse(scheduleLayout+" MST", schedule)
		if err != nil {
			t.log.Error("unable to parse termination schedule %q: %v", schedule, err)
			return structs.StatusCloud
		}
		deadline = parsed.UTC()
	}

	if currentTime.After(deadline) {
		t.log.Info("autoshutdown schedule reached, marking cluster as ready for termination")
		update(map[string]interface{}{
			structs.KeyClusterReadyForTermination: true,
			structs.KeyClusterAutoTerminated:       true,
		})
	} else {
		timeLeft := deadline.Sub(currentTime)
		t.log.Info("autoshutdown schedule not reached, time left before termination: %d minute(s)", int(timeLeft.Minutes()))
	}

	return structs.StatusOK
}
