package detector

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// Address names a process on the channel.
type Address int64

const (
	// Broadcast reaches every subscriber on the channel.
	Broadcast Address = 0
	// CoordinatorAddress is the well-known address of the coordinator.
	CoordinatorAddress Address = 1000
	// MaxWorkerAddress bounds the pseudo-random worker addresses.
	MaxWorkerAddress Address = 1000
)

type Kind uint8

const (
	KindRegister Kind = iota + 1
	KindRegisterAck
	KindProbe
	KindProbeResponse
	// KindPayload carries free-form data; the detector ignores it.
	KindPayload
)

var kindNames = map[Kind]string{
	KindRegister:      "REGISTER",
	KindRegisterAck:   "REGISTER_ACK",
	KindProbe:         "PROBE",
	KindProbeResponse: "PROBE_RESPONSE",
	KindPayload:       "PAYLOAD",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	s, ok := kindNames[k]
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %d", ErrMalformedMessage, uint8(k))
	}
	return []byte(s), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("%w: unknown kind %q", ErrMalformedMessage, b)
}

// ErrMalformedMessage is returned when bytes don't decode to a known envelope.
var ErrMalformedMessage = errors.New("malformed message")

// Message is the envelope exchanged by both roles. SentAt is the sender's
// wall clock in unix milliseconds.
type Message struct {
	Kind   Kind   `json:"type"`
	SentAt int64  `json:"sentAt,omitempty"`
	Data   string `json:"data,omitempty"`
}

func newMessage(k Kind, now time.Time) Message {
	return Message{Kind: k, SentAt: now.UnixMilli()}
}

func Register(now time.Time) Message      { return newMessage(KindRegister, now) }
func RegisterAck(now time.Time) Message   { return newMessage(KindRegisterAck, now) }
func Probe(now time.Time) Message         { return newMessage(KindProbe, now) }
func ProbeResponse(now time.Time) Message { return newMessage(KindProbeResponse, now) }

// Payload builds a data-carrying message.
func Payload(data string) Message {
	return Message{Kind: KindPayload, Data: data}
}

// AgeMillis returns how many milliseconds ago m was stamped. SentAt comes off
// the wire, so the difference saturates instead of wrapping.
func (m Message) AgeMillis(now time.Time) int64 {
	n := now.UnixMilli()
	d := n - m.SentAt
	switch {
	case m.SentAt < 0 && d < n:
		return math.MaxInt64
	case m.SentAt > 0 && d > n:
		return math.MinInt64
	}
	return d
}

// Age returns how long ago m was stamped, measured against now, clamped to
// the range of time.Duration.
func (m Message) Age(now time.Time) time.Duration {
	const limit = math.MaxInt64 / int64(time.Millisecond)
	ms := m.AgeMillis(now)
	switch {
	case ms > limit:
		return time.Duration(math.MaxInt64)
	case ms < -limit:
		return time.Duration(math.MinInt64)
	}
	return time.Duration(ms) * time.Millisecond
}

// Envelope is the wire form shared by the broker transports.
type Envelope struct {
	Src  Address `json:"src"`
	Dst  Address `json:"dst"`
	Data Message `json:"data"`
}

// Encode marshals an envelope for the wire.
func Encode(e Envelope) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Data.Kind, err)
	}
	return b, nil
}

// Decode parses an envelope. Anything that doesn't carry a known kind is
// reported as ErrMalformedMessage.
func Decode(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		if errors.Is(err, ErrMalformedMessage) {
			return Envelope{}, err
		}
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if e.Data.Kind == 0 {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	return e, nil
}

// Delivery is one inbound message as seen by a role.
type Delivery struct {
	From      Address
	Msg       Message
	Broadcast bool
}

// Send is an outbound message a role wants delivered.
type Send struct {
	To  Address
	Msg Message
}
