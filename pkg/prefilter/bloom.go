package prefilter

import (
	"hash/fnv"
	"math"
	"math/bits"
)

// bloomFilter answers membership probabilistically: absent means
// definitely absent, present may be a false positive.
type bloomFilter struct {
	words []uint64
	k     int
	m     int
}

func newBloomFilter(capacity int, errorRate float64) *bloomFilter {
	m := optimalM(capacity, errorRate)
	k := optimalK(m, capacity)
	return &bloomFilter{
		words: make([]uint64, (m+63)/64),
		k:     k,
		m:     m,
	}
}

func optimalM(n int, p float64) int {
	return int(math.Ceil(-float64(n) * math.Log(p) / (math.Log(2) * math.Log(2))))
}

func optimalK(m, n int) int {
	k := int(math.Ceil(float64(m) / float64(n) * math.Log(2)))
	if k < 1 {
		k = 1
	}
	if k > 10 {
		k = 10
	}
	return k
}

func (b *bloomFilter) Add(s string) {
	for i := 0; i < b.k; i++ {
		idx := b.hash(s, i) % b.m
		b.words[idx/64] |= 1 << (idx % 64)
	}
}

func (b *bloomFilter) MayContain(s string) bool {
	for i := 0; i < b.k; i++ {
		idx := b.hash(s, i) % b.m
		if b.words[idx/64]&(1<<(idx%64)) == 0 {
			return false
		}
	}
	return true
}

// hash derives k hash functions from FNV-1a by appending a seed byte.
func (b *bloomFilter) hash(s string, seed int) int {
	h := fnv.New64a()
	h.Write([]byte(s))
	if seed > 0 {
		h.Write([]byte{byte(seed)})
	}
	return int(h.Sum64() & math.MaxInt64)
}

func (b *bloomFilter) SetBits() int {
	set := 0
	for _, w := range b.words {
		set += bits.OnesCount64(w)
	}
	return set
}
