// Package mqtt carries detector messages over a single MQTT topic.
//
// Every process publishes and subscribes on the same topic. Envelopes name
// their source and destination; a receiver keeps the ones sent to itself or
// to the broadcast address and discards its own echoes.
package mqtt

import (
	"context"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/ryandielhenn/pingack/internal/telemetry"
	"github.com/ryandielhenn/pingack/pkg/detector"
	"github.com/ryandielhenn/pingack/pkg/transport"
)

const (
	DefaultBroker = "tcp://broker.hivemq.com:1883"
	DefaultTopic  = "pervasive-3/failure-detection"

	defaultConnectTimeout = 10 * time.Second
	// QoS 0: the detector tolerates loss, so don't pay for acknowledgements.
	qos = 0
)

type Config struct {
	Broker         string
	Topic          string
	Self           detector.Address
	ClientID       string
	ConnectTimeout time.Duration
	InboxSize      int
	Logger         *zap.Logger
}

type Transport struct {
	cfg    Config
	client paho.Client
	inbox  *transport.Inbox
	log    *zap.Logger
}

var _ transport.Transport = (*Transport)(nil)

// newClient is swapped out by tests that need a client without a broker.
var newClient = paho.NewClient

// Dial connects to the broker and subscribes to the topic. It fails with
// transport.ErrUnavailable when the broker can't be reached.
func Dial(ctx context.Context, cfg Config) (*Transport, error) {
	if cfg.Broker == "" {
		cfg.Broker = DefaultBroker
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("pingack-%d-%d", cfg.Self, time.Now().UnixNano())
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	t := &Transport{
		cfg:   cfg,
		inbox: transport.NewInbox(cfg.InboxSize),
		log:   cfg.Logger.Named("transport.mqtt").With(zap.Int64("self", int64(cfg.Self))),
	}

	subscribed := make(chan error, 1)
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			t.log.Warn("connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(c paho.Client) {
			// resubscribe on every (re)connect; clean sessions drop subscriptions
			tok := c.Subscribe(cfg.Topic, qos, t.onMessage)
			tok.Wait()
			if err := tok.Error(); err != nil {
				t.log.Error("subscribe failed", zap.String("topic", cfg.Topic), zap.Error(err))
			}
			select {
			case subscribed <- tok.Error():
			default:
			}
		})

	t.client = newClient(opts)
	tok := t.client.Connect()
	select {
	case <-tok.Done():
	case <-ctx.Done():
		// the connect attempt keeps going in the background otherwise
		t.client.Disconnect(0)
		return nil, fmt.Errorf("%w: connect %s: %v", transport.ErrUnavailable, cfg.Broker, ctx.Err())
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("%w: connect %s: %v", transport.ErrUnavailable, cfg.Broker, err)
	}

	select {
	case err := <-subscribed:
		if err != nil {
			t.client.Disconnect(0)
			return nil, fmt.Errorf("%w: subscribe %s: %v", transport.ErrUnavailable, cfg.Topic, err)
		}
	case <-ctx.Done():
		t.client.Disconnect(0)
		return nil, fmt.Errorf("%w: subscribe %s: %v", transport.ErrUnavailable, cfg.Topic, ctx.Err())
	}

	t.log.Info("connected", zap.String("broker", cfg.Broker), zap.String("topic", cfg.Topic))
	return t, nil
}

func (t *Transport) onMessage(_ paho.Client, m paho.Message) {
	env, err := detector.Decode(m.Payload())
	if err != nil {
		telemetry.MessagesDropped.WithLabelValues(telemetry.DropMalformed).Inc()
		t.log.Debug("dropping malformed message", zap.Error(err))
		return
	}
	d, ok := transport.Route(t.cfg.Self, env)
	if !ok {
		return
	}
	if !t.inbox.Deliver(d) && !t.inbox.Closed() {
		telemetry.MessagesDropped.WithLabelValues(telemetry.DropInboxFull).Inc()
	}
}

// Send publishes msg without waiting for the broker.
func (t *Transport) Send(ctx context.Context, to detector.Address, msg detector.Message) error {
	if t.inbox.Closed() {
		return transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := detector.Encode(detector.Envelope{Src: t.cfg.Self, Dst: to, Data: msg})
	if err != nil {
		return err
	}
	tok := t.client.Publish(t.cfg.Topic, qos, false, b)
	// QoS 0 publishes complete as soon as they are written; only surface
	// errors that are already known.
	select {
	case <-tok.Done():
		return tok.Error()
	default:
		return nil
	}
}

func (t *Transport) Inbound() <-chan detector.Delivery { return t.inbox.C() }

func (t *Transport) Close() error {
	if t.inbox.Closed() {
		return nil
	}
	t.inbox.Close()
	if !t.client.IsConnected() {
		return nil
	}
	tok := t.client.Unsubscribe(t.cfg.Topic)
	tok.WaitTimeout(time.Second)
	t.client.Disconnect(250)
	return tok.Error()
}
