package schedulerport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/logging"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/structs"
)

// Paths locates the MJS admin executables on the head node, following the
// abstract path accessors in the reference OS interface
// (_get_resize_executable, _get_nodestatus_executable, ...).
type Paths struct {
	MJSExecutable            string
	NodeStatusExecutable     string
	ResizeExecutable         string
	StopWorkerExecutable     string
	StopJobManagerExecutable string
	MaxWorkersFlag           string // e.g. "-linux" or "-windows"
	WorkerOS                 string // key into resize status output, e.g. "linux"
}

// CLIAdapter implements Port by shelling out to the MJS admin CLI tools.
// Per-host fan-out operations are bounded by a semaphore of width
// Concurrency, and each per-host subprocess is killed if it runs past
// HostTimeout.
type CLIAdapter struct {
	paths       Paths
	sem         *semaphore.Weighted
	hostTimeout time.Duration
	runner      commandRunner
	log         *logging.Logger
}

// commandRunner abstracts process execution for testability.
type commandRunner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// Option customizes a CLIAdapter, primarily for tests.
type Option func(*CLIAdapter)

// WithConcurrency overrides the default fan-out width.
func WithConcurrency(n int) Option {
	return func(a *CLIAdapter) { a.sem = semaphore.NewWeighted(int64(n)) }
}

// WithHostTimeout overrides the default per-host subprocess timeout.
func WithHostTimeout(d time.Duration) Option {
	return func(a *CLIAdapter) { a.hostTimeout = d }
}

// WithRunner overrides the subprocess runner, for tests.
func WithRunner(r commandRunner) Option {
	return func(a *CLIAdapter) { a.runner = r }
}

// NewCLIAdapter builds a CLIAdapter for the given executable paths.
func NewCLIAdapter(paths Paths, log *logging.Logger, opts ...Option) *CLIAdapter {
	if log == nil {
		log = logging.Nop()
	}
	a := &CLIAdapter{
		paths:       paths,
		sem:         semaphore.NewWeighted(DefaultConcurrency),
		hostTimeout: HostTimeoutSeconds * time.Second,
		runner:      runCommand,
		log:         log.Component("schedulerport.cli"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

type resizeStatusJobManager struct {
	Name           string               `json:"name"`
	Workers        []resizeStatusWorker `json:"workers"`
	DesiredWorkers map[string]int       `json:"desiredWorkers"`
	MaxWorkers     map[string]int       `json:"maxWorkers"`
}

type resizeStatusWorker struct {
	Host        string `json:"host"`
	SecondsIdle int    `json:"secondsIdle"`
}

type resizeStatusOutput struct {
	JobManagers []resizeStatusJobManager `json:"jobManagers"`
}

func (a *CLIAdapter) resizeStatus(ctx context.Context) (*resizeStatusJobManager, error) {
	stdout, stderr, err := a.runner(ctx, a.paths.ResizeExecutable, "status")
	if err != nil {
		a.log.Debug("resize status failed: %v, stderr=%s", err, strings.TrimSpace(string(stderr)))
		return nil, nil
	}

	var out resizeStatusOutput
	if err := json.Unmarshal(stdout, &out); err != nil {
		return nil, fmt.Errorf("schedulerport: unable to parse resize status output: %w", err)
	}
	if len(out.JobManagers) == 0 {
		return nil, nil
	}
	jm := out.JobManagers[len(out.JobManagers)-1]
	return &jm, nil
}

// GetClusterCapacity implements Port.
func (a *CLIAdapter) GetClusterCapacity(ctx context.Context) (structs.ClusterCapacity, error) {
	jm, err := a.resizeStatus(ctx)
	if err != nil {
		return structs.ClusterCapacity{}, err
	}
	if jm == nil {
		return structs.ClusterCapacity{}, fmt.Errorf("schedulerport: no job manager reported by resize status")
	}

	desired, ok := jm.DesiredWorkers[a.paths.WorkerOS]
	if !ok {
		return structs.ClusterCapacity{}, fmt.Errorf("schedulerport: desiredWorkers missing key %q", a.paths.WorkerOS)
	}
	maximum, ok := jm.MaxWorkers[a.paths.WorkerOS]
	if !ok {
		return structs.ClusterCapacity{}, fmt.Errorf("schedulerport: maxWorkers missing key %q", a.paths.WorkerOS)
	}

	return structs.ClusterCapacity{
		CurrentWorkers: len(jm.Workers),
		DesiredWorkers: desired,
		MaximumWorkers: maximum,
	}, nil
}

// GetNodesIdleTimeSeconds implements Port.
func (a *CLIAdapter) GetNodesIdleTimeSeconds(ctx context.Context) (structs.NodeIdleMap, error) {
	idle := make(structs.NodeIdleMap)
	jm, err := a.resizeStatus(ctx)
	if err != nil {
		return nil, err
	}
	if jm == nil {
		return idle, nil
	}
	for _, w := range jm.Workers {
		if existing, ok := idle[w.Host]; !ok || w.SecondsIdle < existing {
			idle[w.Host] = w.SecondsIdle
		}
	}
	return idle, nil
}

// GetWorkerNodes implements Port.
func (a *CLIAdapter) GetWorkerNodes(ctx context.Context) (structs.HostSet, error) {
	jm, err := a.resizeStatus(ctx)
	if err != nil {
		return nil, err
	}
	if jm == nil {
		return structs.NewHostSet(), nil
	}
	hosts := make([]string, 0, len(jm.Workers))
	for _, w := range jm.Workers {
		hosts = append(hosts, w.Host)
	}
	return structs.NewHostSet(hosts...), nil
}

// IsMJSRunning implements Port.
func (a *CLIAdapter) IsMJSRunning(ctx context.Context) (bool, error) {
	stdout, _, err := a.runner(ctx, a.paths.MJSExecutable, "status")
	if err != nil {
		return false, nil
	}
	return strings.Contains(string(stdout), "MATLAB Parallel Server is running"), nil
}

type nodeStatusOutput struct {
	JobManagers []struct {
		Status string `json:"status"`
	} `json:"jobManagers"`
}

// IsJobManagerRunning implements Port.
func (a *CLIAdapter) IsJobManagerRunning(ctx context.Context) (bool, error) {
	stdout, stderr, err := a.runner(ctx, a.paths.NodeStatusExecutable, "-json")
	if err != nil {
		a.log.Debug("nodestatus failed while checking job manager status: %v, stderr=%s", err, strings.TrimSpace(string(stderr)))
		return false, nil
	}

	var out nodeStatusOutput
	if err := json.Unmarshal(stdout, &out); err != nil {
		a.log.Debug("error parsing nodestatus output: %v", err)
		return false, nil
	}
	if len(out.JobManagers) == 0 {
		return false, nil
	}
	return strings.EqualFold(out.JobManagers[0].Status, "running"), nil
}

// StopMJS implements Port.
func (a *CLIAdapter) StopMJS(ctx context.Context) error {
	running, err := a.IsMJSRunning(ctx)
	if err != nil {
		return err
	}
	if !running {
		return nil
	}
	_, stderr, err := a.runner(ctx, a.paths.MJSExecutable, "stop", "-cleanPreserveJobs")
	if err != nil {
		return fmt.Errorf("schedulerport: stop mjs: %w (stderr=%s)", err, strings.TrimSpace(string(stderr)))
	}
	return nil
}

// StopJobManager implements Port.
func (a *CLIAdapter) StopJobManager(ctx context.Context) error {
	running, err := a.IsJobManagerRunning(ctx)
	if err != nil {
		return err
	}
	if !running {
		return nil
	}

	jm, err := a.resizeStatus(ctx)
	if err != nil {
		return err
	}
	if jm == nil {
		return nil
	}

	_, stderr, err := a.runner(ctx, a.paths.StopJobManagerExecutable, "-name", jm.Name, "-cleanPreserveJobs")
	if err != nil {
		return fmt.Errorf("schedulerport: stop job manager: %w (stderr=%s)", err, strings.TrimSpace(string(stderr)))
	}
	return nil
}

// SetClusterCapacity implements Port.
func (a *CLIAdapter) SetClusterCapacity(ctx context.Context, maximumWorkers int) error {
	_, stderr, err := a.runner(ctx, a.paths.ResizeExecutable, "update", a.paths.MaxWorkersFlag, fmt.Sprintf("%d", maximumWorkers))
	if err != nil {
		return fmt.Errorf("schedulerport: resize update: %w (stderr=%s)", err, strings.TrimSpace(string(stderr)))
	}
	return nil
}

// StopWorkersLocally implements Port.
func (a *CLIAdapter) StopWorkersLocally(ctx context.Context) error {
	_, stderr, err := a.runner(ctx, a.paths.StopWorkerExecutable, "-all")
	if err != nil {
		return fmt.Errorf("schedulerport: stopworker -all: %w (stderr=%s)", err, strings.TrimSpace(string(stderr)))
	}
	return nil
}

// ShutdownInstance implements Port.
func (a *CLIAdapter) ShutdownInstance(ctx context.Context) error {
	_, stderr, err := a.runner(ctx, "shutdown", "-h", "now")
	if err != nil {
		return fmt.Errorf("schedulerport: shutdown: %w (stderr=%s)", err, strings.TrimSpace(string(stderr)))
	}
	return nil
}

// withHostTimeout derives a context bounded by the per-host timeout, so a
// single hung subprocess cannot stall the whole fan-out.
func (a *CLIAdapter) withHostTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.hostTimeout)
}

// probeWorkerGroupStatus runs nodestatus against a single remote host,
// bounded by the shared semaphore and the per-host timeout.
func (a *CLIAdapter) probeWorkerGroupStatus(ctx context.Context, host string) (WorkerGroupStatus, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer a.sem.Release(1)

	hostCtx, cancel := a.withHostTimeout(ctx)
	defer cancel()

	stdout, stderr, err := a.runner(hostCtx, a.paths.NodeStatusExecutable, "-json", "-remotehost", host)
	if err != nil {
		a.log.Debug("nodestatus failed for host %s: %v, stderr=%s", host, err, strings.TrimSpace(string(stderr)))
		return "", nil
	}

	var out struct {
		WorkerGroup struct {
			Status string `json:"status"`
		} `json:"workerGroup"`
	}
	if err := json.Unmarshal(stdout, &out); err != nil {
		a.log.Debug("unable to parse nodestatus output for host %s: %v", host, err)
		return "", nil
	}
	return WorkerGroupStatus(out.WorkerGroup.Status), nil
}

// GetSuspendedNodes implements Port.
func (a *CLIAdapter) GetSuspendedNodes(ctx context.Context, candidates, goodNodes structs.HostSet) (structs.HostSet, error) {
	toProbe := candidates.Difference(goodNodes)

	type result struct {
		host   string
		status WorkerGroupStatus
	}
	results := make(chan result, len(toProbe))

	eg, egCtx := errgroup.WithContext(ctx)
	for _, host := range toProbe.Slice() {
		host := host
		eg.Go(func() error {
			status, err := a.probeWorkerGroupStatus(egCtx, host)
			if err != nil {
				return err
			}
			results <- result{host: host, status: status}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("schedulerport: probing worker group statuses: %w", err)
	}
	close(results)

	bad := structs.NewHostSet()
	for r := range results {
		if r.status == WorkerGroupSuspended {
			bad[r.host] = struct{}{}
		}
	}
	return bad, nil
}

// stopWorkersOnNode runs stopworker against a single remote host, bounded
// by the shared semaphore and the per-host timeout.
func (a *CLIAdapter) stopWorkersOnNode(ctx context.Context, host string) (bool, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer a.sem.Release(1)

	hostCtx, cancel := a.withHostTimeout(ctx)
	defer cancel()

	_, stderr, err := a.runner(hostCtx, a.paths.StopWorkerExecutable, "-onidle", "-all", "-remotehost", host)
	if err != nil {
		a.log.Debug("stopworker failed for host %s: %v, stderr=%s", host, err, strings.TrimSpace(string(stderr)))
		return false, nil
	}
	return true, nil
}

// StopWorkersOnNodes implements Port.
func (a *CLIAdapter) StopWorkersOnNodes(ctx context.Context, hosts structs.HostSet) (structs.HostSet, error) {
	type result struct {
		host    string
		stopped bool
	}
	results := make(chan result, len(hosts))

	eg, egCtx := errgroup.WithContext(ctx)
	for _, host := range hosts.Slice() {
		host := host
		eg.Go(func() error {
			stopped, err := a.stopWorkersOnNode(egCtx, host)
			if err != nil {
				return err
			}
			results <- result{host: host, stopped: stopped}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("schedulerport: stopping workers on nodes: %w", err)
	}
	close(results)

	stoppedAttempt := structs.NewHostSet()
	for r := range results {
		if r.stopped {
			stoppedAttempt[r.host] = struct{}{}
		}
	}

	// Confirm: only hosts no longer reporting as registered workers
	// actually stopped (mirrors the reference implementation's
	// re-check against get_worker_nodes after the async fan-out).
	current, err := a.GetWorkerNodes(ctx)
	if err != nil {
		return nil, err
	}

	confirmed := structs.NewHostSet()
	for host := range stoppedAttempt {
		if _, stillPresent := current[host]; !stillPresent {
			confirmed[host] = struct{}{}
		}
	}
	return confirmed, nil
}
