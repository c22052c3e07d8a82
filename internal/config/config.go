// Package config holds the settings shared by both roles.
//
// Values are layered: Default, then an optional YAML file, then PINGACK_*
// environment variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/ryandielhenn/pingack/pkg/detector"
	"github.com/ryandielhenn/pingack/pkg/transport/etcdbus"
	"github.com/ryandielhenn/pingack/pkg/transport/mqtt"
)

const (
	RoleCoordinator = "coordinator"
	RoleWorker      = "worker"

	TransportMQTT = "mqtt"
	TransportEtcd = "etcd"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Role    string `json:"role,omitempty"`
	Address int64  `json:"address,omitempty"`

	Transport     string   `json:"transport,omitempty"`
	Broker        string   `json:"broker,omitempty"`
	Topic         string   `json:"topic,omitempty"`
	EtcdEndpoints []string `json:"etcdEndpoints,omitempty"`
	EtcdTopic     string   `json:"etcdTopic,omitempty"`
	LeaseTTL      int64    `json:"leaseTTL,omitempty"`

	ProbeInterval    Duration `json:"probeInterval,omitempty"`
	RetryInterval    Duration `json:"retryInterval,omitempty"`
	FreshnessWindow  Duration `json:"freshnessWindow,omitempty"`
	FailureThreshold int      `json:"failureThreshold,omitempty"`

	HTTPAddr string `json:"httpAddr,omitempty"`
	LogLevel string `json:"logLevel,omitempty"`
	LogDev   bool   `json:"logDev,omitempty"`

	TracingServer   string `json:"tracingServer,omitempty"`
	TracingIdentity string `json:"tracingIdentity,omitempty"`
	TracingSecret   string `json:"tracingSecret,omitempty"`
}

// Duration reads "5s" style strings from YAML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

func Default() Config {
	return Config{
		Transport:        TransportMQTT,
		Broker:           mqtt.DefaultBroker,
		Topic:            mqtt.DefaultTopic,
		EtcdEndpoints:    []string{"http://127.0.0.1:2379"},
		EtcdTopic:        etcdbus.DefaultTopic,
		LeaseTTL:         etcdbus.DefaultLeaseTTL,
		ProbeInterval:    Duration{detector.DefaultProbeInterval},
		RetryInterval:    Duration{detector.DefaultRetryInterval},
		FreshnessWindow:  Duration{detector.DefaultFreshnessWindow},
		FailureThreshold: detector.DefaultFailureThreshold,
		LogLevel:         "info",
	}
}

// LoadFile overlays the YAML file at path onto c.
func (c *Config) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays PINGACK_* variables onto c.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("PINGACK_TRANSPORT"); v != "" {
		c.Transport = v
	}
	if v := os.Getenv("PINGACK_BROKER"); v != "" {
		c.Broker = v
	}
	if v := os.Getenv("PINGACK_TOPIC"); v != "" {
		c.Topic = v
	}
	if v := os.Getenv("PINGACK_ETCD_ENDPOINTS"); v != "" {
		c.EtcdEndpoints = strings.Split(v, ",")
	}
	if v := os.Getenv("PINGACK_HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
}

func (c *Config) Validate() error {
	var problems []string
	switch c.Role {
	case RoleCoordinator, RoleWorker:
	default:
		problems = append(problems, fmt.Sprintf("role %q", c.Role))
	}
	switch c.Transport {
	case TransportMQTT:
		if c.Broker == "" {
			problems = append(problems, "empty broker")
		}
	case TransportEtcd:
		if len(c.EtcdEndpoints) == 0 {
			problems = append(problems, "no etcd endpoints")
		}
	default:
		problems = append(problems, fmt.Sprintf("transport %q", c.Transport))
	}
	if c.Address < 0 {
		problems = append(problems, fmt.Sprintf("address %d", c.Address))
	}
	if c.Role == RoleWorker {
		switch a := detector.Address(c.Address); {
		case a == detector.Broadcast:
			problems = append(problems, "worker address 0 is the broadcast address")
		case a == detector.CoordinatorAddress:
			problems = append(problems, fmt.Sprintf("worker address %d is the coordinator address", a))
		case a >= detector.MaxWorkerAddress:
			problems = append(problems, fmt.Sprintf("worker address %d is outside [1, %d)", a, detector.MaxWorkerAddress))
		}
	}
	if c.ProbeInterval.Duration <= 0 {
		problems = append(problems, "probe interval must be positive")
	}
	if c.RetryInterval.Duration <= 0 {
		problems = append(problems, "retry interval must be positive")
	}
	if c.FreshnessWindow.Duration <= 0 {
		problems = append(problems, "freshness window must be positive")
	}
	if c.FailureThreshold <= 0 {
		problems = append(problems, "failure threshold must be positive")
	}
	if c.TracingServer != "" && c.TracingIdentity == "" {
		problems = append(problems, "tracing server set without identity")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) Policy() detector.Policy {
	return detector.Policy{
		FailureThreshold: c.FailureThreshold,
		FreshnessWindow:  c.FreshnessWindow.Duration,
	}
}
