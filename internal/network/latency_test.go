package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallLatency_ApproximatesMedianWithinTolerance(t *testing.T) {
	c := newCallLatency(0.50)
	samples := []float64{10, 12, 11, 9, 13, 15, 8, 14, 10, 11, 12, 9, 16, 10, 11}
	for _, s := range samples {
		c.observe(s)
	}
	// true median of the sorted sample set is 11.
	assert.InDelta(t, 11, c.value(), 2)
}

func TestCallLatency_FewerThanFiveSamplesFallsBackToExactSort(t *testing.T) {
	c := newCallLatency(0.50)
	c.observe(30)
	c.observe(10)
	c.observe(20)
	// sorted {10,20,30}, p=0.5 -> idx 1 -> 20
	assert.Equal(t, float64(20), c.value())
}

func TestCallLatency_ZeroSamplesReturnsZero(t *testing.T) {
	c := newCallLatency(0.95)
	assert.Equal(t, float64(0), c.value())
}

func TestCallLatencyStats_TracksMeanAndMax(t *testing.T) {
	s := newCallLatencyStats()
	s.record(5)
	s.record(15)
	s.record(10)
	assert.Equal(t, float64(10), s.sum/float64(s.count))
	assert.Equal(t, float64(15), s.max)
}

func TestNetwork_CallLatencyMSBeforeAnyCallsIsZero(t *testing.T) {
	n := &Network{latency: newCallLatencyStats()}
	p50, p95, p99, mean := n.CallLatencyMS()
	assert.Zero(t, p50)
	assert.Zero(t, p95)
	assert.Zero(t, p99)
	assert.Zero(t, mean)
}
