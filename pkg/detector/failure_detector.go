package detector

import "time"

// Defaults for the probe protocol.
const (
	DefaultProbeInterval    = 5 * time.Second
	DefaultRetryInterval    = 5 * time.Second
	DefaultFreshnessWindow  = 5 * time.Second
	DefaultFailureThreshold = 3
)

// Policy turns missed probe responses into failure declarations.
//
// Suspicion grows by one every probe cycle and drops back to zero only on a
// fresh response, so a worker has to answer every probe to stay clean.
type Policy struct {
	// FailureThreshold is the suspicion level at which a worker is declared failed.
	FailureThreshold int
	// FreshnessWindow is the maximum age of a ProbeResponse that still counts.
	FreshnessWindow time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		FailureThreshold: DefaultFailureThreshold,
		FreshnessWindow:  DefaultFreshnessWindow,
	}
}

// Fresh reports whether a response stamped by the worker is recent enough.
// The comparison is done in whole milliseconds, the resolution of SentAt.
func (p Policy) Fresh(resp Message, now time.Time) bool {
	return resp.AgeMillis(now) <= p.FreshnessWindow.Milliseconds()
}

// Failed reports whether suspicion has reached the threshold.
func (p Policy) Failed(suspicion int) bool {
	return suspicion >= p.FailureThreshold
}
