package network

import "hash/fnv"

// stableHash is a stable 64-bit integer hash of a target id, grounded
// on network.h's lb_value/hash use (the original hashes via a
// platform-stable integer mix; fnv-1a over the 8 big-endian bytes of
// target_id gives the same stability property — identical input,
// identical output, across processes and runs).
func stableHash(targetID uint64) uint64 {
	h := fnv.New64a()
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(targetID >> (56 - 8*i))
	}
	_, _ = h.Write(b[:])
	return h.Sum64()
}

// servletLB implements spec.md §4.H.3's servlet_lb: the load-balance
// bucket is targetID hashed modulo the number of instances hosting
// servletType, looked up in the Network-wide servlet table.
func (n *Network) servletLB(servletType uint16, targetID uint64) *Instance {
	instances := n.servlets[servletType]
	if len(instances) == 0 {
		return nil
	}
	idx := stableHash(targetID) % uint64(len(instances))
	return instances[idx]
}
