package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ryandielhenn/pingack/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "pingack",
	Short:         "Centralized ping-ack failure detector",
	Long:          `Runs either the coordinator, which probes registered workers and declares failures, or a worker, which registers with the coordinator and answers its probes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// options holds flag values. Only flags the user actually set are laid
// over the file and environment configuration.
type options struct {
	configFile string

	address          int64
	transport        string
	broker           string
	topic            string
	etcdEndpoints    []string
	etcdTopic        string
	leaseTTL         int64
	probeInterval    time.Duration
	retryInterval    time.Duration
	freshnessWindow  time.Duration
	failureThreshold int
	httpAddr         string
	logLevel         string
	logDev           bool
	tracingServer    string
	tracingIdentity  string
	tracingSecret    string
}

func (o *options) addCommonFlags(fs *pflag.FlagSet) {
	def := config.Default()
	fs.StringVar(&o.configFile, "config", "", "YAML configuration file")
	fs.StringVar(&o.transport, "transport", def.Transport, "transport: mqtt or etcd")
	fs.StringVar(&o.broker, "broker", def.Broker, "MQTT broker URL")
	fs.StringVar(&o.topic, "topic", def.Topic, "MQTT topic")
	fs.StringSliceVar(&o.etcdEndpoints, "etcd-endpoints", def.EtcdEndpoints, "etcd endpoints")
	fs.StringVar(&o.etcdTopic, "etcd-topic", def.EtcdTopic, "etcd key prefix")
	fs.Int64Var(&o.leaseTTL, "lease-ttl", def.LeaseTTL, "etcd session lease TTL in seconds")
	fs.StringVar(&o.httpAddr, "http-addr", def.HTTPAddr, "status/metrics listen address, empty disables")
	fs.StringVar(&o.logLevel, "log-level", def.LogLevel, "log level")
	fs.BoolVar(&o.logDev, "log-dev", def.LogDev, "human-readable development logging")
	fs.StringVar(&o.tracingServer, "tracing-server", "", "DistributedClocks tracing server address")
	fs.StringVar(&o.tracingIdentity, "tracing-identity", "", "tracer identity")
	fs.StringVar(&o.tracingSecret, "tracing-secret", "", "tracing server secret")
}

// load builds the effective configuration for role.
func (o *options) load(fs *pflag.FlagSet, role string) (config.Config, error) {
	cfg := config.Default()
	if o.configFile != "" {
		if err := cfg.LoadFile(o.configFile); err != nil {
			return cfg, err
		}
	}
	cfg.ApplyEnv()

	set := map[string]func(){
		"address":           func() { cfg.Address = o.address },
		"transport":         func() { cfg.Transport = o.transport },
		"broker":            func() { cfg.Broker = o.broker },
		"topic":             func() { cfg.Topic = o.topic },
		"etcd-endpoints":    func() { cfg.EtcdEndpoints = o.etcdEndpoints },
		"etcd-topic":        func() { cfg.EtcdTopic = o.etcdTopic },
		"lease-ttl":         func() { cfg.LeaseTTL = o.leaseTTL },
		"probe-interval":    func() { cfg.ProbeInterval = config.Duration{Duration: o.probeInterval} },
		"retry-interval":    func() { cfg.RetryInterval = config.Duration{Duration: o.retryInterval} },
		"freshness-window":  func() { cfg.FreshnessWindow = config.Duration{Duration: o.freshnessWindow} },
		"failure-threshold": func() { cfg.FailureThreshold = o.failureThreshold },
		"http-addr":         func() { cfg.HTTPAddr = o.httpAddr },
		"log-level":         func() { cfg.LogLevel = o.logLevel },
		"log-dev":           func() { cfg.LogDev = o.logDev },
		"tracing-server":    func() { cfg.TracingServer = o.tracingServer },
		"tracing-identity":  func() { cfg.TracingIdentity = o.tracingIdentity },
		"tracing-secret":    func() { cfg.TracingSecret = o.tracingSecret },
	}
	fs.Visit(func(f *pflag.Flag) {
		if apply, ok := set[f.Name]; ok {
			apply()
		}
	})

	cfg.Role = role
	if role == config.RoleWorker && cfg.Address == 0 {
		// neither flag nor file picked one: use the random default
		cfg.Address = o.address
	}
	return cfg, cfg.Validate()
}
