// Command swarm runs many workers in one process against a shared broker,
// optionally killing a fraction of them to watch the coordinator declare
// failures.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ryandielhenn/pingack/pkg/detector"
	"github.com/ryandielhenn/pingack/pkg/node"
	"github.com/ryandielhenn/pingack/pkg/transport"
	"github.com/ryandielhenn/pingack/pkg/transport/etcdbus"
	"github.com/ryandielhenn/pingack/pkg/transport/mqtt"
)

func main() {
	n := flag.Int("n", 20, "workers")
	kind := flag.String("transport", "mqtt", "mqtt or etcd")
	broker := flag.String("broker", mqtt.DefaultBroker, "MQTT broker")
	topic := flag.String("topic", mqtt.DefaultTopic, "MQTT topic")
	endpoints := flag.String("etcd-endpoints", "http://127.0.0.1:2379", "comma-separated etcd endpoints")
	retry := flag.Duration("retry", detector.DefaultRetryInterval, "registration retry interval")
	failAfter := flag.Duration("fail-after", 0, "stop half of the workers after this long (0 keeps them all)")
	runFor := flag.Duration("duration", time.Minute, "how long to run")
	flag.Parse()

	log, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *runFor)
	defer cancel()

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	dial := func(self detector.Address) (transport.Transport, error) {
		dctx, dcancel := context.WithTimeout(ctx, 15*time.Second)
		defer dcancel()
		if *kind == "etcd" {
			return etcdbus.Dial(dctx, etcdbus.Config{Endpoints: strings.Split(*endpoints, ","), Self: self, Logger: log})
		}
		return mqtt.Dial(dctx, mqtt.Config{Broker: node.NormalizeBrokerURL(*broker, "tcp", "1883"), Topic: *topic, Self: self, Logger: log})
	}

	type member struct {
		node   *node.Node
		tr     transport.Transport
		cancel context.CancelFunc
	}
	var (
		wg      sync.WaitGroup
		members []member
	)
	for i := 0; i < *n; i++ {
		addr := node.RandomWorkerAddress(r)
		tr, err := dial(addr)
		if err != nil {
			log.Fatal("transport unavailable", zap.Error(err))
		}
		wctx, wcancel := context.WithCancel(ctx)
		w := node.NewWorker(tr, addr, *retry, node.WithLogger(log))
		members = append(members, member{node: w, tr: tr, cancel: wcancel})

		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(wctx)
		}()
	}
	log.Info("swarm started", zap.Int("workers", *n))

	if *failAfter > 0 {
		select {
		case <-time.After(*failAfter):
			r.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
			for _, m := range members[:len(members)/2] {
				m.cancel()
				log.Info("stopped worker", zap.Int64("addr", int64(m.node.Addr())))
			}
		case <-ctx.Done():
		}
	}

	<-ctx.Done()
	wg.Wait()

	registered := 0
	var errs error
	for _, m := range members {
		if m.node.Registered() {
			registered++
		}
		errs = multierr.Append(errs, m.tr.Close())
	}
	fmt.Printf("%d/%d workers registered\n", registered, len(members))
	if errs != nil {
		log.Warn("closing transports", zap.Error(errs))
	}
}
