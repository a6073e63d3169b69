package metrics

import (
	"sync/atomic"
	"time"
)

// ID identifies one counter.
type ID uint16

const (
	LoginSuccess ID = iota
	LoginFailure
	LoginLocked
	LoginUnverified
	AccountLocked
	TwoFactorRequired
	TwoFactorSuccess
	TwoFactorFailure
	TwoFactorReplay
	TwoFactorRateLimited
	BackupCodeUsed
	BackupCodeRejected
	TwoFactorEnabled
	TwoFactorDisabled
	BackupCodesRegenerated
	RefreshIssued
	RefreshSuccess
	RefreshFailure
	RefreshReuseDetected
	RefreshRateLimited
	RefreshEvicted
	TokenRevoked
	RevocationRateLimited
	RevocationFailOpen
	AccessRejected
	AccessRevoked
	Logout
	LogoutAll
	RegistrationSuccess
	RegistrationConflict
	PasswordChangeSuccess
	PasswordChangeFailure
	PasswordResetRequest
	PasswordResetSuccess
	PasswordResetFailure
	EmailVerificationSuccess
	EmailVerificationFailure
	CleanupRemoved
	CleanupFailure
	ValidateLatency
	idCount
)

// Count is the number of defined IDs.
const Count = int(idCount)

const (
	// HistogramBuckets is the number of latency buckets.
	HistogramBuckets = 8
	cacheLineSize    = 64
)

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

type histogram struct {
	buckets [HistogramBuckets]uint64
}

// Metrics holds all counters. The zero value is disabled.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [idCount]paddedCounter
	latency       histogram
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	Counters   map[ID]uint64
	Histograms map[ID][]uint64
}

// New returns a collector.
func New(enabled, latency bool) *Metrics {
	return &Metrics{enabled: enabled, enableLatency: enabled && latency}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc adds one to id. Safe on a nil receiver.
func (m *Metrics) Inc(id ID) {
	m.Add(id, 1)
}

// Add adds n to id.
func (m *Metrics) Add(id ID, n uint64) {
	if m == nil || !m.enabled || id >= idCount || n == 0 {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// Observe records a ValidateLatency sample; other IDs are ignored.
func (m *Metrics) Observe(id ID, d time.Duration) {
	if m == nil || !m.enableLatency || id != ValidateLatency {
		return
	}
	atomic.AddUint64(&m.latency.buckets[bucketIndex(d)], 1)
}

// Value returns the current value of id.
func (m *Metrics) Value(id ID) uint64 {
	if m == nil || id >= idCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		Counters:   make(map[ID]uint64, Count),
		Histograms: make(map[ID][]uint64, 1),
	}
	if !m.Enabled() {
		return s
	}

	for id := ID(0); id < idCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	if m.enableLatency {
		buckets := make([]uint64, HistogramBuckets)
		for i := range buckets {
			buckets[i] = atomic.LoadUint64(&m.latency.buckets[i])
		}
		s.Histograms[ValidateLatency] = buckets
	}
	return s
}

// bucket upper bounds: 1ms, 2ms, 5ms, 10ms, 25ms, 50ms, 100ms, +Inf.
func bucketIndex(d time.Duration) int {
	switch {
	case d <= time.Millisecond:
		return 0
	case d <= 2*time.Millisecond:
		return 1
	case d <= 5*time.Millisecond:
		return 2
	case d <= 10*time.Millisecond:
		return 3
	case d <= 25*time.Millisecond:
		return 4
	case d <= 50*time.Millisecond:
		return 5
	case d <= 100*time.Millisecond:
		return 6
	default:
		return 7
	}
}
