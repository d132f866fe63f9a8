package network

import "math"

// callLatency is a streaming P² quantile estimator tracking outbound
// call round-trip time, adapted from the teacher's psquare.go (itself
// citing Jain & Chlamtac 1985) into a single-purpose RPC-latency
// tracker: O(1) per-call update, O(1) read, no retained sample history.
// Not safe for concurrent use — Network is single-threaded per spec.md
// §5, so no lock is needed.
type callLatency struct {
	p float64

	q  [5]float64 // marker heights
	n  [5]int     // marker positions
	np [5]float64 // desired marker positions
	dn [5]float64 // increments to desired positions

	count int
	init  [5]float64 // buffered observations before the 5th
}

func newCallLatency(p float64) *callLatency {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return &callLatency{p: p, dn: [5]float64{0, p / 2, p, (1 + p) / 2, 1}}
}

// observe records one call's round-trip time in milliseconds.
func (c *callLatency) observe(ms float64) {
	c.count++
	if c.count <= 5 {
		c.init[c.count-1] = ms
		if c.count == 5 {
			c.seed()
		}
		return
	}

	var k int
	switch {
	case ms < c.q[0]:
		c.q[0] = ms
		k = 0
	case ms >= c.q[4]:
		c.q[4] = ms
		k = 3
	default:
		for k = 0; k < 4; k++ {
			if c.q[k] <= ms && ms < c.q[k+1] {
				break
			}
		}
	}

	for i := k + 1; i < 5; i++ {
		c.n[i]++
	}
	for i := 0; i < 5; i++ {
		c.np[i] += c.dn[i]
	}

	for i := 1; i < 4; i++ {
		d := c.np[i] - float64(c.n[i])
		if (d >= 1 && c.n[i+1]-c.n[i] > 1) || (d <= -1 && c.n[i-1]-c.n[i] < -1) {
			sign := 1
			if d < 0 {
				sign = -1
			}
			qp := c.parabolic(i, sign)
			if c.q[i-1] < qp && qp < c.q[i+1] {
				c.q[i] = qp
			} else {
				c.q[i] = c.linear(i, sign)
			}
			c.n[i] += sign
		}
	}
}

func (c *callLatency) seed() {
	for i := 1; i < 5; i++ {
		key := c.init[i]
		j := i - 1
		for j >= 0 && c.init[j] > key {
			c.init[j+1] = c.init[j]
			j--
		}
		c.init[j+1] = key
	}
	for i := 0; i < 5; i++ {
		c.q[i] = c.init[i]
		c.n[i] = i
	}
	c.np = [5]float64{0, 2 * c.p, 4 * c.p, 2 + 2*c.p, 4}
}

func (c *callLatency) parabolic(i, d int) float64 {
	df := float64(d)
	ni, niPrev, niNext := float64(c.n[i]), float64(c.n[i-1]), float64(c.n[i+1])
	t1 := df / (niNext - niPrev)
	t2 := (ni - niPrev + df) * (c.q[i+1] - c.q[i]) / (niNext - ni)
	t3 := (niNext - ni - df) * (c.q[i] - c.q[i-1]) / (ni - niPrev)
	return c.q[i] + t1*(t2+t3)
}

func (c *callLatency) linear(i, d int) float64 {
	if d == 1 {
		return c.q[i] + (c.q[i+1]-c.q[i])/float64(c.n[i+1]-c.n[i])
	}
	return c.q[i] - (c.q[i]-c.q[i-1])/float64(c.n[i]-c.n[i-1])
}

// value returns the current estimate.
func (c *callLatency) value() float64 {
	if c.count == 0 {
		return 0
	}
	if c.count < 5 {
		sorted := append([]float64(nil), c.init[:c.count]...)
		for i := 1; i < len(sorted); i++ {
			key := sorted[i]
			j := i - 1
			for j >= 0 && sorted[j] > key {
				sorted[j+1] = sorted[j]
				j--
			}
			sorted[j+1] = key
		}
		idx := int(float64(c.count-1) * c.p)
		if idx >= c.count {
			idx = c.count - 1
		}
		return sorted[idx]
	}
	return c.q[2]
}

// callLatencyStats tracks p50/p95/p99 plus mean/max of outbound call
// round-trip time, recorded once per completed Call in dispatch.go.
type callLatencyStats struct {
	p50, p95, p99 *callLatency
	sum, max      float64
	count         int
}

func newCallLatencyStats() *callLatencyStats {
	return &callLatencyStats{
		p50: newCallLatency(0.50), p95: newCallLatency(0.95), p99: newCallLatency(0.99),
		max: -math.MaxFloat64,
	}
}

func (s *callLatencyStats) record(ms float64) {
	s.count++
	s.sum += ms
	if ms > s.max {
		s.max = ms
	}
	s.p50.observe(ms)
	s.p95.observe(ms)
	s.p99.observe(ms)
}

// CallLatencyMS reports (p50, p95, p99, mean) round-trip milliseconds
// observed across all completed Call invocations so far.
func (n *Network) CallLatencyMS() (p50, p95, p99, mean float64) {
	s := n.latency
	if s.count == 0 {
		return 0, 0, 0, 0
	}
	return s.p50.value(), s.p95.value(), s.p99.value(), s.sum / float64(s.count)
}
