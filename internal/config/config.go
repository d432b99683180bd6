// Package config defines the runtime configuration for the cluster
// management program and loads it from an HCL file, following the
// teacher's own configuration layer.
package config

// Notification configures the ambient alerting sinks. All fields are
// optional; a sink with a blank key is simply not used.
type Notification struct {
	ClusterIdentifier   string `hcl:"cluster_identifier"`
	PagerDutyServiceKey string `hcl:"pagerduty_service_key"`
	OpsGenieAPIKey      string `hcl:"opsgenie_api_key"`
}

// RuntimeConfig is the process-level configuration, distinct from the
// state document's read-only "config" section: this controls how the
// program itself runs (AWS region, file paths, concurrency, logging),
// while the state document's config controls autoscaling/autotermination
// policy.
type RuntimeConfig struct {
	AWSRegion        string `hcl:"aws_region"`
	AutoScalingGroup string `hcl:"autoscaling_group"`

	StateFile        string `hcl:"state_file"`
	MJSStatusLogFile string `hcl:"mjs_status_log_file"`

	WorkerOS       string `hcl:"worker_os"`
	WorkersPerNode int    `hcl:"workers_per_node"`

	MJSAdminCLI string `hcl:"mjs_admin_cli"`

	SchedulerConcurrency        int `hcl:"scheduler_concurrency"`
	SchedulerHostTimeoutSeconds int `hcl:"scheduler_host_timeout_seconds"`

	LogLevel  string `hcl:"log_level"`
	LogFormat string `hcl:"log_format"`

	Notification *Notification `hcl:"notification"`
}

// DefaultConfig returns a RuntimeConfig pre-populated with the defaults
// named in SPEC_FULL.md's RuntimeConfig module, mirroring the teacher's
// own DefaultConfig().
func DefaultConfig() *RuntimeConfig {
	return &RuntimeConfig{
		StateFile:                   "data/cluster_management_data.json",
		WorkerOS:                    "linux",
		WorkersPerNode:              1,
		MJSAdminCLI:                 "/usr/local/MATLAB/MATLAB-Parallel-Server/bin/admin",
		SchedulerConcurrency:        20,
		SchedulerHostTimeoutSeconds: 15,
		LogLevel:                    "info",
		LogFormat:                   "console",
		Notification:                &Notification{},
	}
}

// Merge layers other on top of c, returning a new RuntimeConfig where any
// non-zero field of other wins. Used the same way the teacher merges a
// directory of HCL fragments in command/base/config.go.
func (c *RuntimeConfig) Merge(other *RuntimeConfig) *RuntimeConfig {
	if other == nil {
		return c
	}
	result := *c

	if other.AWSRegion != "" {
		result.AWSRegion = other.AWSRegion
	}
	if other.AutoScalingGroup != "" {
		result.AutoScalingGroup = other.AutoScalingGroup
	}
	if other.StateFile != "" {
		result.StateFile = other.StateFile
	}
	if other.MJSStatusLogFile != "" {
		result.MJSStatusLogFile = other.MJSStatusLogFile
	}
	if other.WorkerOS != "" {
		result.WorkerOS = other.WorkerOS
	}
	if other.WorkersPerNode != 0 {
		result.WorkersPerNode = other.WorkersPerNode
	}
	if other.MJSAdminCLI != "" {
		result.MJSAdminCLI = other.MJSAdminCLI
	}
	if other.SchedulerConcurrency != 0 {
		result.SchedulerConcurrency = other.SchedulerConcurrency
	}
	if other.SchedulerHostTimeoutSeconds != 0 {
		result.SchedulerHostTimeoutSeconds = other.SchedulerHostTimeoutSeconds
	}
	if other.LogLevel != "" {
		result.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		result.LogFormat = other.LogFormat
	}
	if other.Notification != nil {
		merged := *result.Notification
		if other.Notification.ClusterIdentifier != "" {
			merged.ClusterIdentifier = other.Notification.ClusterIdentifier
		}
		if other.Notification.PagerDutyServiceKey != "" {
			merged.PagerDutyServiceKey = other.Notification.PagerDutyServiceKey
		}
		if other.Notification.OpsGenieAPIKey != "" {
			merged.OpsGenieAPIKey = other.Notification.OpsGenieAPIKey
		}
		result.Notification = &merged
	}

	return &result
}

// Validate checks that the fields required to run (as opposed to the ones
// that carry sane zero-value defaults) are present.
func (c *RuntimeConfig) Validate() error {
	var missing []string
	if c.AWSRegion == "" {
		missing = append(missing, "aws_region")
	}
	if c.AutoScalingGroup == "" {
		missing = append(missing, "autoscaling_group")
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingFieldsError{Fields: missing}
}

// MissingFieldsError reports required configuration fields left unset.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	msg := "config: missing required field(s):"
	for _, f := range e.Fields {
		msg += " " + f
	}
	return msg
}
