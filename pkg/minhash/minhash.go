// Package minhash implements MinHash signatures and an LSH index for
// lexical near-duplicate detection — catching edits and synonym swaps
// that embedding cosine similarity alone can miss.
package minhash

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Signature is a MinHash sketch: one minimum hash value per permutation.
type Signature []uint64

// Compute tokenizes text by lowercasing and whitespace-splitting, then
// derives a numPerm-wide MinHash signature. Each permutation is simulated
// by salting the token hash with the permutation index rather than a true
// pairwise-independent hash family, which is accurate enough for the
// Jaccard estimates this index needs.
func Compute(text string, numPerm int) Signature {
	tokens := strings.Fields(strings.ToLower(text))
	sig := make(Signature, numPerm)
	for i := range sig {
		sig[i] = ^uint64(0)
	}
	if len(tokens) == 0 {
		return sig
	}

	salts := make([]uint64, numPerm)
	for i := range salts {
		salts[i] = xxhash.Sum64String("perm:" + strconv.Itoa(i))
	}

	for _, token := range tokens {
		base := xxhash.Sum64String(token)
		for i, salt := range salts {
			h := mix(base, salt)
			if h < sig[i] {
				sig[i] = h
			}
		}
	}
	return sig
}

// mix combines a token hash with a permutation salt. Multiplication by an
// odd constant followed by an xor-shift gives enough avalanche for
// distinct permutations to behave independently in practice.
func mix(h, salt uint64) uint64 {
	h ^= salt
	h *= 0x9E3779B97F4A7C15
	h ^= h >> 29
	return h
}

// EstimatedJaccard returns the fraction of matching signature slots, the
// standard MinHash similarity estimator. Signatures must share the same
// length.
func EstimatedJaccard(a, b Signature) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	matches := 0
	for i := range a {
		if a[i] == b[i] {
			matches++
		}
	}
	return float64(matches) / float64(len(a))
}
