package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ryandielhenn/pingack/discovery"
	"github.com/ryandielhenn/pingack/internal/config"
	"github.com/ryandielhenn/pingack/internal/telemetry"
	"github.com/ryandielhenn/pingack/internal/tracing"
	"github.com/ryandielhenn/pingack/pkg/detector"
	"github.com/ryandielhenn/pingack/pkg/node"
	"github.com/ryandielhenn/pingack/pkg/transport"
	"github.com/ryandielhenn/pingack/pkg/transport/etcdbus"
	"github.com/ryandielhenn/pingack/pkg/transport/mqtt"
)

const dialTimeout = 15 * time.Second

func newLogger(cfg config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.LogDev {
		zc = zap.NewDevelopmentConfig()
	}
	lvl, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.LogLevel, err)
	}
	zc.Level = lvl
	return zc.Build()
}

// dial opens the configured transport. For etcd it also announces the
// address and flags a collision with another live process.
func dial(ctx context.Context, cfg config.Config, log *zap.Logger) (transport.Transport, error) {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	self := detector.Address(cfg.Address)

	switch cfg.Transport {
	case config.TransportEtcd:
		tr, err := etcdbus.Dial(ctx, etcdbus.Config{
			Endpoints: cfg.EtcdEndpoints,
			Topic:     cfg.EtcdTopic,
			Self:      self,
			LeaseTTL:  cfg.LeaseTTL,
			Logger:    log,
		})
		if err != nil {
			return nil, err
		}
		host, _ := os.Hostname()
		holder := fmt.Sprintf("%s/%d/%s", host, os.Getpid(), cfg.Role)
		collision, err := discovery.Announce(ctx, tr.Session(), cfg.EtcdTopic, cfg.Address, holder)
		if err != nil {
			log.Warn("announce failed", zap.Error(err))
		}
		if collision {
			log.Warn("address already announced by another process; registry accounting for it will be shared",
				zap.Int64("address", cfg.Address))
		}
		if members, err := discovery.Members(ctx, tr.Session().KV(), cfg.EtcdTopic); err == nil {
			log.Info("announced", zap.Int64("address", cfg.Address), zap.Int("members", len(members)))
		}
		return tr, nil
	default:
		return mqtt.Dial(ctx, mqtt.Config{
			Broker: node.NormalizeBrokerURL(cfg.Broker, "tcp", "1883"),
			Topic:  cfg.Topic,
			Self:   self,
			Logger: log,
		})
	}
}

func run(cfg config.Config) (err error) {
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()
	telemetry.SetBuildInfo(version, gitSHA, cfg.Role)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting", zap.String("role", cfg.Role), zap.Int64("address", cfg.Address),
		zap.String("transport", cfg.Transport))

	tr, err := dial(ctx, cfg, log)
	if err != nil {
		log.Error("transport unavailable", zap.Error(err))
		return err
	}
	defer func() { err = multierr.Append(err, tr.Close()) }()

	opts := []node.Option{node.WithLogger(log)}
	if cfg.TracingServer != "" {
		sink := tracing.New(tracing.Config{
			ServerAddress: cfg.TracingServer,
			Identity:      cfg.TracingIdentity,
			Secret:        []byte(cfg.TracingSecret),
		})
		defer sink.Close()
		opts = append(opts, node.WithSinks(sink))
	}

	var n *node.Node
	if cfg.Role == config.RoleCoordinator {
		n = node.NewCoordinator(tr, cfg.Policy(), cfg.ProbeInterval.Duration, opts...)
	} else {
		n = node.NewWorker(tr, detector.Address(cfg.Address), cfg.RetryInterval.Duration, opts...)
	}

	if cfg.HTTPAddr != "" {
		srv := &http.Server{Addr: cfg.HTTPAddr, Handler: n.Mux()}
		go func() {
			log.Info("status server listening", zap.String("addr", cfg.HTTPAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("status server", zap.Error(err))
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = multierr.Append(err, srv.Shutdown(sctx))
		}()
	}

	err = n.Run(ctx)
	log.Info("stopped", zap.Error(err))
	return err
}
