package provider

import (
	"hash/fnv"
	"time"
)

// Picker chooses one of n items with the linear-congruential step
// (69*|seed| + 42) mod n. The same seed always yields the same index.
type Picker struct {
	seed int64
}

// NewPicker seeds a Picker from the last decimal digit of the fetch time
// plus an FNV-1a hash of the payload.
func NewPicker(now time.Time, payload []byte) Picker {
	h := fnv.New64a()
	_, _ = h.Write(payload)
	return Picker{seed: now.Unix()%10 + int64(h.Sum64())}
}

// Pick returns an index in [0, n). n must be positive.
func (p Picker) Pick(n int) int {
	s := uint64(p.seed)
	if p.seed < 0 {
		s = uint64(-p.seed)
	}
	return int((69*s + 42) % uint64(n))
}
