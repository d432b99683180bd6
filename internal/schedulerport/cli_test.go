package schedulerport

import (
	"context"
	"errors"
	"testing"

	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/structs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Port = (*CLIAdapter)(nil)

func testPaths() Paths {
	return Paths{
		MJSExecutable:            "mjs",
		NodeStatusExecutable:     "nodestatus",
		ResizeExecutable:         "resize",
		StopWorkerExecutable:     "stopworker",
		StopJobManagerExecutable: "stopjobmanager",
		MaxWorkersFlag:           "-linux",
		WorkerOS:                 "linux",
	}
}

func stubRunner(responses map[string]func(args ...string) ([]byte, []byte, error)) commandRunner {
	return func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		fn, ok := responses[name]
		if !ok {
			return nil, nil, errors.New("unexpected command: " + name)
		}
		return fn(args...)
	}
}

const resizeStatusJSON = `{"jobManagers":[{"name":"jm1","workers":[{"host":"host-1","secondsIdle":100},{"host":"host-2","secondsIdle":50}],"desiredWorkers":{"linux":2},"maxWorkers":{"linux":10}}]}`

func TestGetClusterCapacity_parsesResizeStatus(t *testing.T) {
	a := NewCLIAdapter(testPaths(), nil, WithRunner(stubRunner(map[string]func(args ...string) ([]byte, []byte, error){
		"resize": func(args ...string) ([]byte, []byte, error) { return []byte(resizeStatusJSON), nil, nil },
	})))

	capacity, err := a.GetClusterCapacity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, capacity.CurrentWorkers)
	assert.Equal(t, 2, capacity.DesiredWorkers)
	assert.Equal(t, 10, capacity.MaximumWorkers)
}

func TestGetClusterCapacity_missingWorkerOSKeyErrors(t *testing.T) {
	a := NewCLIAdapter(Paths{ResizeExecutable: "resize", WorkerOS: "windows"}, nil, WithRunner(stubRunner(map[string]func(args ...string) ([]byte, []byte, error){
		"resize": func(args ...string) ([]byte, []byte, error) { return []byte(resizeStatusJSON), nil, nil },
	})))

	_, err := a.GetClusterCapacity(context.Background())
	require.Error(t, err)
}

func TestGetClusterCapacity_commandFailureReturnsNoJobManagerError(t *testing.T) {
	a := NewCLIAdapter(testPaths(), nil, WithRunner(stubRunner(map[string]func(args ...string) ([]byte, []byte, error){
		"resize": func(args ...string) ([]byte, []byte, error) { return nil, []byte("boom"), errors.New("exit 1") },
	})))

	_, err := a.GetClusterCapacity(context.Background())
	require.Error(t, err)
}

func TestGetNodesIdleTimeSeconds_takesMinimumPerHost(t *testing.T) {
	json := `{"jobManagers":[{"workers":[{"host":"host-1","secondsIdle":100},{"host":"host-1","secondsIdle":30}]}]}`
	a := NewCLIAdapter(testPaths(), nil, WithRunner(stubRunner(map[string]func(args ...string) ([]byte, []byte, error){
		"resize": func(args ...string) ([]byte, []byte, error) { return []byte(json), nil, nil },
	})))

	idle, err := a.GetNodesIdleTimeSeconds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 30, idle["host-1"])
}

func TestIsMJSRunning_parsesOutput(t *testing.T) {
	a := NewCLIAdapter(testPaths(), nil, WithRunner(stubRunner(map[string]func(args ...string) ([]byte, []byte, error){
		"mjs": func(args ...string) ([]byte, []byte, error) { return []byte("MATLAB Parallel Server is running"), nil, nil },
	})))

	running, err := a.IsMJSRunning(context.Background())
	require.NoError(t, err)
	assert.True(t, running)
}

func TestIsMJSRunning_commandFailureMeansNotRunning(t *testing.T) {
	a := NewCLIAdapter(testPaths(), nil, WithRunner(stubRunner(map[string]func(args ...string) ([]byte, []byte, error){
		"mjs": func(args ...string) ([]byte, []byte, error) { return nil, nil, errors.New("boom") },
	})))

	running, err := a.IsMJSRunning(context.Background())
	require.NoError(t, err)
	assert.False(t, running)
}

func TestIsJobManagerRunning_parsesStatus(t *testing.T) {
	json := `{"jobManagers":[{"status":"running"}]}`
	a := NewCLIAdapter(testPaths(), nil, WithRunner(stubRunner(map[string]func(args ...string) ([]byte, []byte, error){
		"nodestatus": func(args ...string) ([]byte, []byte, error) { return []byte(json), nil, nil },
	})))

	running, err := a.IsJobManagerRunning(context.Background())
	require.NoError(t, err)
	assert.True(t, running)
}

func TestStopMJS_skipsWhenAlreadyStopped(t *testing.T) {
	stopCalled := false
	a := NewCLIAdapter(testPaths(), nil, WithRunner(stubRunner(map[string]func(args ...string) ([]byte, []byte, error){
		"mjs": func(args ...string) ([]byte, []byte, error) {
			if len(args) > 0 && args[0] == "stop" {
				stopCalled = true
				return nil, nil, nil
			}
			return []byte("not running"), nil, nil
		},
	})))

	err := a.StopMJS(context.Background())
	require.NoError(t, err)
	assert.False(t, stopCalled)
}

func TestStopMJS_stopsWhenRunning(t *testing.T) {
	stopCalled := false
	a := NewCLIAdapter(testPaths(), nil, WithRunner(stubRunner(map[string]func(args ...string) ([]byte, []byte, error){
		"mjs": func(args ...string) ([]byte, []byte, error) {
			if len(args) > 0 && args[0] == "stop" {
				stopCalled = true
				return nil, nil, nil
			}
			return []byte("MATLAB Parallel Server is running"), nil, nil
		},
	})))

	err := a.StopMJS(context.Background())
	require.NoError(t, err)
	assert.True(t, stopCalled)
}

func TestSetClusterCapacity_propagatesFailure(t *testing.T) {
	a := NewCLIAdapter(testPaths(), nil, WithRunner(stubRunner(map[string]func(args ...string) ([]byte, []byte, error){
		"resize": func(args ...string) ([]byte, []byte, error) { return nil, []byte("nope"), errors.New("exit 1") },
	})))

	err := a.SetClusterCapacity(context.Background(), 5)
	require.Error(t, err)
}

func TestGetSuspendedNodes_skipsAlreadyGoodNodes(t *testing.T) {
	var probed []string
	a := NewCLIAdapter(testPaths(), nil, WithConcurrency(4), WithRunner(stubRunner(map[string]func(args ...string) ([]byte, []byte, error){
		"nodestatus": func(args ...string) ([]byte, []byte, error) {
			host := args[len(args)-1]
			probed = append(probed, host)
			if host == "host-2" {
				return []byte(`{"workerGroup":{"status":"Suspended"}}`), nil, nil
			}
			return []byte(`{"workerGroup":{"status":"Running"}}`), nil, nil
		},
	})))

	candidates := structs.NewHostSet("host-1", "host-2")
	good := structs.NewHostSet("host-1")

	bad, err := a.GetSuspendedNodes(context.Background(), candidates, good)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"host-2"}, bad.Slice())
	assert.ElementsMatch(t, []string{"host-2"}, probed, "host-1 is already known good and is not probed")
}

func TestStopWorkersOnNodes_confirmsAgainstRemainingWorkers(t *testing.T) {
	a := NewCLIAdapter(testPaths(), nil, WithConcurrency(4), WithRunner(stubRunner(map[string]func(args ...string) ([]byte, []byte, error){
		"stopworker": func(args ...string) ([]byte, []byte, error) { return nil, nil, nil },
		"resize": func(args ...string) ([]byte, []byte, error) {
			// host-1 stopped successfully (no longer registered); host-2 still shows up
			return []byte(`{"jobManagers":[{"workers":[{"host":"host-2","secondsIdle":0}]}]}`), nil, nil
		},
	})))

	hosts := structs.NewHostSet("host-1", "host-2")
	confirmed, err := a.StopWorkersOnNodes(context.Background(), hosts)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"host-1"}, confirmed.Slice())
}
