package muxcache

import (
	"github.com/zeebo/xxh3"
)

// ServerSelector returns the index of the server that owns key, given serverCount > 0 servers.
type ServerSelector func(key string, serverCount int) int

// DefaultServerSelector hashes the key with xxh3 and maps it with jump consistent hashing,
// so that adding a server moves only 1/n of the keys.
func DefaultServerSelector(key string, serverCount int) int {
	return jumpHash(xxh3.HashString(key), serverCount)
}

// jumpHash is Lamping and Veach's jump consistent hash (arXiv:1406.2294).
func jumpHash(key uint64, buckets int) int {
	if buckets <= 0 {
		return 0
	}

	b, j := int64(-1), int64(0)
	for j < int64(buckets) {
		b = j
		key = key*2862933555777941757 + 1
		j = int64(float64(b+1) * (float64(int64(1)<<31) / float64((key>>33)+1)))
	}
	return int(b)
}

// staticSelector always picks the same server. Used in tests.
func staticSelector(index int) ServerSelector {
	return func(_ string, serverCount int) int {
		return index % serverCount
	}
}
