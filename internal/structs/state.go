package structs

import "fmt"

// State variable keys. These are the only keys StateStore.UpdateState will
// accept; anything else is rejected and logged (§4.C, §7).
const (
	KeyClusterReadyForTermination = "cluster_ready_for_termination"
	KeyWasMJSBusy                 = "was_mjs_busy"
	KeyFirstRunAfterReboot        = "first_run_after_reboot"
	KeyLastTerminationPolicy      = "last_termination_policy"
	KeyLastOSBootTime             = "last_os_boot_time"
	KeyClusterAutoTerminated      = "cluster_auto_terminated"
	KeyMinNodesPreTermination     = "min_nodes_pre_termination"
	KeyMWStateSet                 = "mw_state_set"
	KeyMWStateCounter             = "mw_state_counter"
)

// ValueKind enumerates the declared value kind for a state key, used to
// validate proposed updates before they are accepted (§3, §7: "invalid
// proposed state updates are logged and dropped").
type ValueKind int

const (
	KindBool ValueKind = iota
	KindString
)

// StateVariableKinds is the declared schema for every state key. A proposed
// update whose value does not match the declared kind for its key is
// rejected.
var StateVariableKinds = map[string]ValueKind{
	KeyClusterReadyForTermination: KindBool,
	KeyWasMJSBusy:                 KindBool,
	KeyFirstRunAfterReboot:        KindBool,
	KeyLastTerminationPolicy:      KindString,
	KeyLastOSBootTime:             KindString,
	KeyClusterAutoTerminated:      KindBool,
	KeyMinNodesPreTermination:     KindString,
	KeyMWStateSet:                 KindBool,
	KeyMWStateCounter:             KindString,
}

// Config is the read-only section of the state document. Nothing in the
// core ever mutates it; it is config-as-data shipped alongside state
// purely because the reference implementation colocates them in a single
// JSON file (§3).
type Config struct {
	AutoscalingEnabled      bool   `json:"autoscaling_enabled"`
	AutoterminationEnabled  bool   `json:"autotermination_enabled"`
	InitialTerminationPolicy string `json:"initial_termination_policy"`
	InitialDesiredCapacity  int    `json:"initial_desired_capacity"`
	MJSStatusLogFile        string `json:"mjs_status_log_file"`
}

// EffectiveInitialTerminationPolicy returns InitialTerminationPolicy, or
// "never" if it was left blank (the original implementation's
// `initial_termination_policy or "never"` fallback).
func (c Config) EffectiveInitialTerminationPolicy() string {
	if c.InitialTerminationPolicy == "" {
		return "never"
	}
	return c.InitialTerminationPolicy
}

// State is the mutated section of the state document (§3). Every field is
// also reachable via the schema-validated map interface in
// StateStore.UpdateState. The counter fields (MinNodesPreTermination,
// MWStateCounter) are stored as strings, and components parse them with
// strconv where they use them.
type State struct {
	ClusterReadyForTermination bool   `json:"cluster_ready_for_termination"`
	WasMJSBusy                 bool   `json:"was_mjs_busy"`
	FirstRunAfterReboot        bool   `json:"first_run_after_reboot"`
	LastTerminationPolicy      string `json:"last_termination_policy"`
	LastOSBootTime             string `json:"last_os_boot_time"`
	ClusterAutoTerminated      bool   `json:"cluster_auto_terminated"`
	MinNodesPreTermination     string `json:"min_nodes_pre_termination"`
	MWStateSet                 bool   `json:"mw_state_set"`
	MWStateCounter             string `json:"mw_state_counter"`
}

// Document is the full persisted JSON document (§3).
type Document struct {
	Config Config `json:"config"`
	State  State  `json:"state"`
}

// Get returns the current value of a state key as an interface{}, and
// false for a key outside the state schema.
func (d *Document) Get(key string) (interface{}, bool) {
	switch key {
	case KeyClusterReadyForTermination:
		return d.State.ClusterReadyForTermination, true
	case KeyWasMJSBusy:
		return d.State.WasMJSBusy, true
	case KeyFirstRunAfterReboot:
		return d.State.FirstRunAfterReboot, true
	case KeyLastTerminationPolicy:
		return d.State.LastTerminationPolicy, true
	case KeyLastOSBootTime:
		return d.State.LastOSBootTime, true
	case KeyClusterAutoTerminated:
		return d.State.ClusterAutoTerminated, true
	case KeyMinNodesPreTermination:
		return d.State.MinNodesPreTermination, true
	case KeyMWStateSet:
		return d.State.MWStateSet, true
	case KeyMWStateCounter:
		return d.State.MWStateCounter, true
	default:
		return nil, false
	}
}

// set writes a validated value into the matching field. Its caller
// (Apply) type-checks the value beforehand; set panics on an
// unrecognized key or type mismatch since Apply has ruled both out.
func (d *Document) set(key string, value interface{}) {
	switch key {
	case KeyClusterReadyForTermination:
		d.State.ClusterReadyForTermination = value.(bool)
	case KeyWasMJSBusy:
		d.State.WasMJSBusy = value.(bool)
	case KeyFirstRunAfterReboot:
		d.State.FirstRunAfterReboot = value.(bool)
	case KeyLastTerminationPolicy:
		d.State.LastTerminationPolicy = value.(string)
	case KeyLastOSBootTime:
		d.State.LastOSBootTime = value.(string)
	case KeyClusterAutoTerminated:
		d.State.ClusterAutoTerminated = value.(bool)
	case KeyMinNodesPreTermination:
		d.State.MinNodesPreTermination = value.(string)
	case KeyMWStateSet:
		d.State.MWStateSet = value.(bool)
	case KeyMWStateCounter:
		d.State.MWStateCounter = value.(string)
	default:
		panic(fmt.Sprintf("structs: unknown state key %q", key))
	}
}

// Apply validates and applies a single proposed update in place. It
// returns an error describing why the update was rejected; the caller is
// expected to log and discard rejected updates rather than propagate the
// error (§7).
func (d *Document) Apply(key string, value interface{}) error {
	kind, ok := StateVariableKinds[key]
	if !ok {
		return fmt.Errorf("key %q is not part of the state schema", key)
	}

	switch kind {
	case KindBool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("value for %q must be a bool, got %T", key, value)
		}
	case KindString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("value for %q must be a string, got %T", key, value)
		}
	}

	d.set(key, value)
	return nil
}

// ZeroState returns a State with every field at its declared zero value;
// the string-encoded counters are "0".
func ZeroState() State {
	return State{
		ClusterReadyForTermination: false,
		WasMJSBusy:                 false,
		FirstRunAfterReboot:        false,
		LastTerminationPolicy:      "",
		LastOSBootTime:             "",
		ClusterAutoTerminated:      false,
		MinNodesPreTermination:     "0",
		MWStateSet:                 false,
		MWStateCounter:             "0",
	}
}
