// Copyright (C) 2026 Kodiak Systems (dev@kodiakmq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memcontrol

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testMemory lets a test force any memory ratio. The raw limit of
// 1_000_000 gives a working limit of 600_000, so used = ratio*600_000.
type testMemory struct {
	mu   sync.Mutex
	used uint64
}

func (m *testMemory) LimitBytes() (uint64, error) { return 1_000_000, nil }

func (m *testMemory) UsedBytes() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used, nil
}

func (m *testMemory) setRatio(ratio float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used = uint64(ratio * 600_000)
}

// pushRecorder collects targets pushed to one queue.
type pushRecorder struct {
	mu      sync.Mutex
	targets []float64
}

func (r *pushRecorder) push(target float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = append(r.targets, target)
}

func (r *pushRecorder) all() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]float64, len(r.targets))
	copy(out, r.targets)
	return out
}

func newTestController(t *testing.T) (*Controller, *testMemory) {
	t.Helper()
	mem := &testMemory{}
	c, err := NewController(ControllerConfig{Oracle: mem, Used: mem})
	require.NoError(t, err)
	return c, mem
}

// checkInvariants asserts sum/count agree with the table (property:
// sum equals the finite reported total, count the finite entry count).
func checkInvariants(t *testing.T, c *Controller) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	sum := 0.0
	count := 0
	for _, e := range c.entries {
		if !math.IsInf(e.reported, 1) {
			sum += e.reported
			count++
		}
	}
	assert.InDelta(t, sum, c.sum, Epsilon)
	assert.Equal(t, count, c.count)
}

// =============================================================================
// Construction
// =============================================================================

// TestController_LimitScaling verifies the working budget is 0.6 of the
// raw limit, fixed at construction.
func TestController_LimitScaling(t *testing.T) {
	c, _ := newTestController(t)
	assert.Equal(t, uint64(600_000), c.LimitBytes())
}

// TestController_DefaultLimitWithoutOracle verifies the 1 GiB
// fallback budget when no oracle is configured.
func TestController_DefaultLimitWithoutOracle(t *testing.T) {
	c, err := NewController(ControllerConfig{Used: &testMemory{}})
	require.NoError(t, err)
	assert.Equal(t, uint64(math.Floor(float64(DefaultMemoryLimit)*MemScale)), c.LimitBytes())
}

// =============================================================================
// Register / Deregister / Report
// =============================================================================

// TestController_RegisterInitialState verifies a fresh entry carries
// reported and sent both +Inf.
func TestController_RegisterInitialState(t *testing.T) {
	c, _ := newTestController(t)
	rec := &pushRecorder{}
	require.NoError(t, c.Register("q1", rec.push, nil))

	c.mu.Lock()
	e := c.entries["q1"]
	c.mu.Unlock()
	require.NotNil(t, e)
	assert.True(t, math.IsInf(e.reported, 1))
	assert.True(t, math.IsInf(e.sent, 1))
	checkInvariants(t, c)
}

// TestController_ReportTransitions walks all four (prev, new) report
// transitions and checks the sum/count bookkeeping after each.
func TestController_ReportTransitions(t *testing.T) {
	c, _ := newTestController(t)
	rec := &pushRecorder{}
	require.NoError(t, c.Register("q1", rec.push, nil))
	inf := Infinity()

	// (∞, ∞): unchanged.
	c.ReportQueueDuration("q1", inf)
	checkInvariants(t, c)

	// (∞, d): sum += d, count += 1.
	c.ReportQueueDuration("q1", 4.0)
	checkInvariants(t, c)
	assert.Equal(t, 1, c.count)

	// (prev, d): sum += d - prev.
	c.ReportQueueDuration("q1", 6.5)
	checkInvariants(t, c)
	assert.InDelta(t, 6.5, c.sum, Epsilon)

	// (prev, ∞): sum -= prev, count -= 1.
	c.ReportQueueDuration("q1", inf)
	checkInvariants(t, c)
	assert.Equal(t, 0, c.count)
	assert.Zero(t, c.sum)
}

// TestController_SumZeroClamp verifies float residue under Epsilon
// snaps to exactly zero.
func TestController_SumZeroClamp(t *testing.T) {
	c, _ := newTestController(t)
	rec := &pushRecorder{}
	require.NoError(t, c.Register("q1", rec.push, nil))

	c.ReportQueueDuration("q1", 0.1)
	c.ReportQueueDuration("q1", 0.2)
	c.ReportQueueDuration("q1", Infinity())

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Zero(t, c.sum)
}

// TestController_DeregisterSubtractsReported verifies deregistration
// updates the aggregate and is idempotent.
func TestController_DeregisterSubtractsReported(t *testing.T) {
	c, _ := newTestController(t)
	r1, r2 := &pushRecorder{}, &pushRecorder{}
	require.NoError(t, c.Register("q1", r1.push, nil))
	require.NoError(t, c.Register("q2", r2.push, nil))
	c.ReportQueueDuration("q1", 3.0)
	c.ReportQueueDuration("q2", 5.0)

	c.Deregister("q1")
	checkInvariants(t, c)
	assert.InDelta(t, 5.0, c.sum, Epsilon)
	assert.Equal(t, 1, c.count)

	c.Deregister("q1")
	checkInvariants(t, c)
}

// TestController_DeregisterOnDoneClose verifies the liveness channel
// removes a dead queue.
func TestController_DeregisterOnDoneClose(t *testing.T) {
	c, _ := newTestController(t)
	defer c.Stop()
	rec := &pushRecorder{}
	done := make(chan struct{})
	require.NoError(t, c.Register("q1", rec.push, done))
	c.ReportQueueDuration("q1", 2.0)

	close(done)
	assert.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		_, ok := c.entries["q1"]
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
	checkInvariants(t, c)
}

// TestController_ReportUnregisteredQueue verifies an unknown queue gets
// +Inf back and perturbs nothing.
func TestController_ReportUnregisteredQueue(t *testing.T) {
	c, _ := newTestController(t)
	reply := c.ReportQueueDuration("ghost", 3.0)
	assert.True(t, math.IsInf(reply, 1))
	checkInvariants(t, c)
}

// =============================================================================
// Oscillation Guard
// =============================================================================

// TestController_OscillationGuard covers the flap suppression: a queue
// whose sent target is +Inf reporting under the guard keeps hearing
// +Inf, regardless of the current desired duration.
func TestController_OscillationGuard(t *testing.T) {
	c, mem := newTestController(t)
	rec := &pushRecorder{}
	require.NoError(t, c.Register("q2", rec.push, nil))

	// Drive desired to a finite value.
	c.ReportQueueDuration("q2", 6.0)
	mem.setRatio(0.8)
	c.Update()
	require.False(t, math.IsInf(c.DesiredDuration(), 1))

	// A fresh queue (sent still +Inf) reporting under the guard floor
	// hears +Inf, not the finite desired duration.
	require.NoError(t, c.Register("q1", rec.push, nil))
	reply := c.ReportQueueDuration("q1", 0.5)
	assert.True(t, math.IsInf(reply, 1), "reply must be +Inf under the oscillation guard")

	// At or above the guard the real desired comes back.
	reply = c.ReportQueueDuration("q2", 6.0)
	assert.False(t, math.IsInf(reply, 1))
}

// =============================================================================
// Update / Push-Back
// =============================================================================

// TestController_Update_LowMemoryMeansNoPressure covers the property
// that a ratio under 0.5 yields an +Inf target.
func TestController_Update_LowMemoryMeansNoPressure(t *testing.T) {
	c, mem := newTestController(t)
	rec := &pushRecorder{}
	require.NoError(t, c.Register("q1", rec.push, nil))
	c.ReportQueueDuration("q1", 10.0)

	mem.setRatio(0.4)
	c.Update()
	assert.True(t, math.IsInf(c.DesiredDuration(), 1))
	assert.Empty(t, rec.all(), "an +Inf target is never pushed")
}

// TestController_Update_EmptyTableMeansNoPressure verifies count == 0
// forces +Inf whatever the ratio.
func TestController_Update_EmptyTableMeansNoPressure(t *testing.T) {
	c, mem := newTestController(t)
	mem.setRatio(0.9)
	c.Update()
	assert.True(t, math.IsInf(c.DesiredDuration(), 1))
}

// TestController_Update_TargetFormula: three queues at 6.0 under ratio
// 0.8 produce a target of (18+1)/3/0.8. The target sits above every
// reported duration, so nothing is pushed; each queue picks it up as
// the reply to its next report.
func TestController_Update_TargetFormula(t *testing.T) {
	c, mem := newTestController(t)
	recs := map[QueueID]*pushRecorder{}
	for _, id := range []QueueID{"q1", "q2", "q3"} {
		rec := &pushRecorder{}
		recs[id] = rec
		require.NoError(t, c.Register(id, rec.push, nil))
		c.ReportQueueDuration(id, 6.0)
	}

	mem.setRatio(0.8)
	c.Update()

	want := (18.0 + 1.0) / 3.0 / 0.8
	assert.InDelta(t, want, c.DesiredDuration(), 1e-9)
	for _, rec := range recs {
		assert.Empty(t, rec.all(), "target above reported durations is not pushed")
	}
	for _, id := range []QueueID{"q1", "q2", "q3"} {
		assert.InDelta(t, want, c.ReportQueueDuration(id, 6.0), 1e-9)
	}
}

// TestController_Update_NoSumInflationNearLimit verifies the sum
// inflation stops at ratio >= 0.95.
func TestController_Update_NoSumInflationNearLimit(t *testing.T) {
	c, mem := newTestController(t)
	rec := &pushRecorder{}
	require.NoError(t, c.Register("q1", rec.push, nil))
	c.ReportQueueDuration("q1", 8.0)

	mem.setRatio(0.96)
	c.Update()
	assert.InDelta(t, 8.0/0.96, c.DesiredDuration(), 1e-9)
}

// TestController_Update_NoPushOnGrowth verifies a growing finite target
// is stored but not pushed; queues learn on their next report.
func TestController_Update_NoPushOnGrowth(t *testing.T) {
	c, mem := newTestController(t)
	rec := &pushRecorder{}
	require.NoError(t, c.Register("q1", rec.push, nil))
	c.ReportQueueDuration("q1", 6.0)

	mem.setRatio(0.9)
	c.Update()
	first := c.DesiredDuration()
	pushed := len(rec.all())

	// Less pressure: the target grows, nothing is pushed.
	mem.setRatio(0.7)
	c.Update()
	assert.Greater(t, c.DesiredDuration(), first)
	assert.Len(t, rec.all(), pushed)
}

// TestController_Update_MonotoneOnDecrease verifies no queue ever
// receives a target above its previously sent finite target.
func TestController_Update_MonotoneOnDecrease(t *testing.T) {
	c, mem := newTestController(t)
	big, small := &pushRecorder{}, &pushRecorder{}
	require.NoError(t, c.Register("q_big", big.push, nil))
	require.NoError(t, c.Register("q_small", small.push, nil))
	c.ReportQueueDuration("q_big", 100.0)
	c.ReportQueueDuration("q_small", 1.0)

	for _, ratio := range []float64{0.9, 0.95, 0.99} {
		mem.setRatio(ratio)
		c.Update()
	}

	targets := big.all()
	require.NotEmpty(t, targets, "the long-backlog queue must be pushed down")
	for i := 1; i < len(targets); i++ {
		assert.LessOrEqual(t, targets[i], targets[i-1])
	}
	assert.Empty(t, small.all(), "targets above the short queue's duration are not pushed")
}

// TestController_Update_GuardSuppressesSmallReporters verifies a queue
// reporting under the guard with sent=∞ is not woken by push-back.
func TestController_Update_GuardSuppressesSmallReporters(t *testing.T) {
	c, mem := newTestController(t)
	small, big := &pushRecorder{}, &pushRecorder{}
	require.NoError(t, c.Register("q_small", small.push, nil))
	require.NoError(t, c.Register("q_big", big.push, nil))

	// Both sent stay ∞; small reports under the guard (reply ∞ keeps
	// sent at ∞), big reports a large duration.
	c.ReportQueueDuration("q_small", 0.5)
	c.ReportQueueDuration("q_big", 40.0)

	mem.setRatio(0.94)
	c.Update()

	assert.Empty(t, small.all(), "sub-guard reporter must stay hibernated")
	assert.NotEmpty(t, big.all())
}
