// Package config handles loading, validating, and applying
// configuration for the restarter.  Configuration is read from an optional
// YAML file, then overridden by RESTARTER_* environment variables, then by
// CLI flags.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/terrpan/restarter/internal/controlplane"
	"github.com/terrpan/restarter/internal/controlplane/docker"
	"github.com/terrpan/restarter/internal/controlplane/ec2"
	"github.com/terrpan/restarter/internal/controlplane/gce"
	"github.com/terrpan/restarter/internal/notify"
	"github.com/terrpan/restarter/internal/notify/sns"
	"github.com/terrpan/restarter/internal/restart"
)

// DefaultMessage is the notification text published after a restart.
const DefaultMessage = "Instances have been restarted to resolve the issue"

// ---------------------------------------------------------------------------
// Top-level config
// ---------------------------------------------------------------------------

// Config is the root configuration structure.
type Config struct {
	// Region is the cloud region of the instances and the topic.
	Region string `yaml:"region"`

	// InstanceIDs lists the instances to restart, in order.
	InstanceIDs []string `yaml:"instance_ids"`

	// Wait is the pause between stop and start.  Default: 30s.
	Wait time.Duration `yaml:"wait"`

	ControlPlane ControlPlaneConfig `yaml:"control_plane"`
	Notification NotificationConfig `yaml:"notification"`
	Logging      LoggingConfig      `yaml:"logging"`
	OTel         OTelConfig         `yaml:"otel"`
}

// ---------------------------------------------------------------------------
// Control plane
// ---------------------------------------------------------------------------

// ControlPlaneConfig selects and configures the compute backend.
type ControlPlaneConfig struct {
	// Type selects the backend: "ec2" (default), "gce" or "docker".
	Type string `yaml:"type"`

	// GCE holds Compute Engine settings.  Only read when Type == "gce".
	GCE GCEConfig `yaml:"gce"`

	// Docker holds local Docker settings.  Only read when Type == "docker".
	Docker DockerConfig `yaml:"docker"`
}

// GCEConfig holds Compute Engine settings.
type GCEConfig struct {
	Project string `yaml:"project"`
	Zone    string `yaml:"zone"`
}

// DockerConfig holds Docker settings.
type DockerConfig struct {
	// StopTimeout is seconds to wait before killing a container.
	StopTimeout int `yaml:"stop_timeout"`
}

// ---------------------------------------------------------------------------
// Notification
// ---------------------------------------------------------------------------

// NotificationConfig describes where the restart notice is published.
type NotificationConfig struct {
	// Type selects the notifier: "sns" (default) or "log".
	Type string `yaml:"type"`

	// TopicARN is the full SNS topic ARN.  When empty it is assembled
	// from Region, AccountID and TopicName.
	TopicARN string `yaml:"topic_arn"`

	AccountID string `yaml:"account_id"`
	TopicName string `yaml:"topic_name"`

	// Message is the text published.  Default: DefaultMessage.
	Message string `yaml:"message"`
}

// ---------------------------------------------------------------------------
// Logging
// ---------------------------------------------------------------------------

// LoggingConfig controls structured logging output.
type LoggingConfig struct {
	// Level: debug, info, warn, error.  Default: info.
	Level string `yaml:"level"`
	// Format: text, json.  Default: json (CloudWatch-friendly).
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// OpenTelemetry
// ---------------------------------------------------------------------------

// OTelConfig controls OpenTelemetry tracing and metrics.
type OTelConfig struct {
	// Enabled turns on OTLP push of traces and metrics.  Default: false.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP HTTP endpoint (e.g. "localhost:4318").
	// If empty, falls back to OTEL_EXPORTER_OTLP_ENDPOINT.
	Endpoint string `yaml:"endpoint"`

	// Insecure enables plain HTTP (no TLS) for OTLP export.
	Insecure bool `yaml:"insecure"`

	// StdOut also prints traces and metrics to stdout.
	StdOut bool `yaml:"stdout"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads a YAML config file from path and returns the parsed Config.
// A missing file is not an error: the environment and flags can supply
// everything.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyEnv overrides fields with RESTARTER_* environment variables read
// through lookup (os.LookupEnv in production).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if c.Region == "" {
		str("AWS_REGION", &c.Region)
	}
	str("RESTARTER_REGION", &c.Region)
	if v, ok := lookup("RESTARTER_INSTANCE_IDS"); ok && v != "" {
		c.InstanceIDs = SplitList(v)
	}
	if v, ok := lookup("RESTARTER_WAIT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("RESTARTER_WAIT: %w", err)
		}
		c.Wait = d
	}
	str("RESTARTER_CONTROL_PLANE", &c.ControlPlane.Type)
	str("RESTARTER_GCE_PROJECT", &c.ControlPlane.GCE.Project)
	str("RESTARTER_GCE_ZONE", &c.ControlPlane.GCE.Zone)
	str("RESTARTER_NOTIFIER", &c.Notification.Type)
	str("RESTARTER_TOPIC_ARN", &c.Notification.TopicARN)
	str("RESTARTER_ACCOUNT_ID", &c.Notification.AccountID)
	str("RESTARTER_TOPIC_NAME", &c.Notification.TopicName)
	str("RESTARTER_MESSAGE", &c.Notification.Message)
	str("RESTARTER_LOG_LEVEL", &c.Logging.Level)
	str("RESTARTER_LOG_FORMAT", &c.Logging.Format)

	return nil
}

// SplitList splits a comma-separated list, trimming blanks around items.
// Empty items are kept so that Validate can report them.
func SplitList(s string) []string {
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// ---------------------------------------------------------------------------
// Defaults & validation
// ---------------------------------------------------------------------------

// ApplyDefaults fills in defaults for any unset fields.
func (c *Config) ApplyDefaults() {
	if c.Wait == 0 {
		c.Wait = restart.DefaultWait
	}
	if c.ControlPlane.Type == "" {
		c.ControlPlane.Type = "ec2"
	}
	if c.Notification.Type == "" {
		c.Notification.Type = "sns"
	}
	if c.Notification.Message == "" {
		c.Notification.Message = DefaultMessage
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate checks that all required fields are present and consistent.
func (c *Config) Validate() error {
	c.ApplyDefaults()

	if len(c.InstanceIDs) == 0 {
		return fmt.Errorf("instance_ids is required")
	}
	for i, id := range c.InstanceIDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("instance_ids[%d] is empty", i)
		}
	}
	if c.Wait < 0 {
		return fmt.Errorf("wait must be positive, got %s", c.Wait)
	}

	switch c.ControlPlane.Type {
	case "ec2":
		if c.Region == "" {
			return fmt.Errorf("region is required when control_plane.type is \"ec2\"")
		}
	case "gce":
		if c.ControlPlane.GCE.Project == "" {
			return fmt.Errorf("control_plane.gce.project is required when control_plane.type is \"gce\"")
		}
		if c.ControlPlane.GCE.Zone == "" {
			return fmt.Errorf("control_plane.gce.zone is required when control_plane.type is \"gce\"")
		}
	case "docker":
		// OK
	default:
		return fmt.Errorf("control_plane.type %q is not supported (supported: ec2, gce, docker)", c.ControlPlane.Type)
	}

	switch c.Notification.Type {
	case "sns":
		if c.Region == "" {
			return fmt.Errorf("region is required when notification.type is \"sns\"")
		}
		if c.TopicARN() == "" {
			return fmt.Errorf("notification.topic_arn (or account_id and topic_name) is required when notification.type is \"sns\"")
		}
	case "log":
		// OK
	default:
		return fmt.Errorf("notification.type %q is not supported (supported: sns, log)", c.Notification.Type)
	}

	return nil
}

// TopicARN returns the configured topic ARN, or one assembled as
// arn:aws:sns:<region>:<account_id>:<topic_name> when only the parts are
// given.  It returns "" if neither form is complete.
func (c *Config) TopicARN() string {
	n := c.Notification
	if n.TopicARN != "" {
		return n.TopicARN
	}
	if c.Region == "" || n.AccountID == "" || n.TopicName == "" {
		return ""
	}
	return fmt.Sprintf("arn:aws:sns:%s:%s:%s", c.Region, n.AccountID, n.TopicName)
}

// ---------------------------------------------------------------------------
// Factories
// ---------------------------------------------------------------------------

// NewLogger creates a *slog.Logger from the Logging configuration.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{
		AddSource: true,
		Level:     c.slogLevel(),
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	default:
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
}

func (c *Config) slogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewControlPlane creates the backend selected by control_plane.type.
func (c *Config) NewControlPlane(ctx context.Context, logger *slog.Logger) (controlplane.ControlPlane, error) {
	switch c.ControlPlane.Type {
	case "ec2":
		return ec2.New(nil, ec2.Config{Region: c.Region}, logger.WithGroup("controlplane.ec2"))
	case "gce":
		return gce.New(ctx, gce.Config{
			Project: c.ControlPlane.GCE.Project,
			Zone:    c.ControlPlane.GCE.Zone,
		}, logger.WithGroup("controlplane.gce"))
	case "docker":
		return docker.New(ctx, docker.Config{
			StopTimeout: c.ControlPlane.Docker.StopTimeout,
		}, logger.WithGroup("controlplane.docker"))
	default:
		return nil, fmt.Errorf("unsupported control plane type: %s", c.ControlPlane.Type)
	}
}

// NewNotifier creates the notifier selected by notification.type.
func (c *Config) NewNotifier(logger *slog.Logger) (notify.Notifier, error) {
	switch c.Notification.Type {
	case "sns":
		return sns.New(nil, c.Region, logger.WithGroup("notify.sns"))
	case "log":
		return notify.NewLogNotifier(logger.WithGroup("notify")), nil
	default:
		return nil, fmt.Errorf("unsupported notification type: %s", c.Notification.Type)
	}
}

// NewOrchestrator wires a restart.Orchestrator from the configuration and
// the given backends.
func (c *Config) NewOrchestrator(cp controlplane.ControlPlane, n notify.Notifier, logger *slog.Logger) *restart.Orchestrator {
	return restart.New(restart.Config{
		ControlPlane: cp,
		Notifier:     n,
		InstanceIDs:  c.InstanceIDs,
		Topic:        c.notifyTopic(),
		Message:      c.Notification.Message,
		Wait:         c.Wait,
		Logger:       logger.WithGroup("restart"),
	})
}

// notifyTopic is the topic passed to the notifier: the SNS ARN, or a
// descriptive label for the log notifier.
func (c *Config) notifyTopic() string {
	if arn := c.TopicARN(); arn != "" {
		return arn
	}
	return "log"
}
