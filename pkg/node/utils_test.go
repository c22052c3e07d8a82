package node

import (
	"math/rand"
	"testing"

	"github.com/ryandielhenn/pingack/pkg/detector"
)

func TestNormalizeBrokerURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"broker.hivemq.com", "tcp://broker.hivemq.com:1883"},
		{"broker.hivemq.com:8883", "tcp://broker.hivemq.com:8883"},
		{"ssl://broker.hivemq.com", "ssl://broker.hivemq.com:1883"},
		{"tcp://10.0.0.1:1884", "tcp://10.0.0.1:1884"},
	}
	for _, tt := range tests {
		if got := NormalizeBrokerURL(tt.in, "tcp", "1883"); got != tt.want {
			t.Fatalf("NormalizeBrokerURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRandomWorkerAddressAvoidsReserved(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 10000; i++ {
		a := RandomWorkerAddress(r)
		if a == detector.Broadcast || a >= detector.MaxWorkerAddress {
			t.Fatalf("RandomWorkerAddress = %d", a)
		}
	}
}
