package minhash

import (
	"context"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Item is the minimal (id, content) pair the index needs to (re)compute a
// signature from a source of truth during a rebuild.
type Item struct {
	ID      string
	Content string
}

// Index is a banded LSH index over MinHash signatures. Inserts are
// serialized by a write lock; queries and the rare full rebuild take the
// same lock in read/write mode respectively, so a rebuild never races a
// concurrent insert.
type Index struct {
	mu         sync.RWMutex
	numPerm    int
	bands      int
	rows       int
	threshold  float64
	signatures map[string]Signature
	buckets    []map[uint64][]string
}

// NewIndex builds an empty index. bands must divide evenly enough into
// numPerm to form at least one full band; numPerm/bands rows are hashed
// together per band.
func NewIndex(numPerm, bands int, threshold float64) *Index {
	if bands <= 0 {
		bands = 1
	}
	rows := numPerm / bands
	if rows <= 0 {
		rows = 1
		bands = numPerm
	}
	idx := &Index{
		numPerm:    numPerm,
		bands:      bands,
		rows:       rows,
		threshold:  threshold,
		signatures: make(map[string]Signature),
		buckets:    make([]map[uint64][]string, bands),
	}
	for i := range idx.buckets {
		idx.buckets[i] = make(map[uint64][]string)
	}
	return idx
}

// Insert adds content under id. Re-inserting an id already present is a
// no-op, matching the behavior needed on server restart or re-indexing.
func (idx *Index) Insert(id, content string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, exists := idx.signatures[id]; exists {
		return
	}
	idx.insertLocked(id, Compute(content, idx.numPerm))
}

func (idx *Index) insertLocked(id string, sig Signature) {
	idx.signatures[id] = sig
	for b := 0; b < idx.bands; b++ {
		key := idx.bandKey(sig, b)
		idx.buckets[b][key] = append(idx.buckets[b][key], id)
	}
}

func (idx *Index) bandKey(sig Signature, band int) uint64 {
	start := band * idx.rows
	end := start + idx.rows
	if end > len(sig) {
		end = len(sig)
	}
	h := xxhash.New()
	for _, v := range sig[start:end] {
		var buf [8]byte
		for i := 0; i < 8; i++ {
			buf[i] = byte(v >> (8 * i))
		}
		h.Write(buf[:])
	}
	return h.Sum64()
}

// Query returns item ids whose estimated Jaccard similarity to content is
// at or above the index's configured threshold. It returns an empty slice,
// never an error, if the index is empty — callers degrade to "no
// candidates" rather than fail.
func (idx *Index) Query(content string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	sig := Compute(content, idx.numPerm)
	seen := map[string]bool{}
	var candidates []string
	for b := 0; b < idx.bands; b++ {
		key := idx.bandKey(sig, b)
		for _, id := range idx.buckets[b][key] {
			if seen[id] {
				continue
			}
			seen[id] = true
			candidates = append(candidates, id)
		}
	}

	results := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if EstimatedJaccard(sig, idx.signatures[id]) >= idx.threshold {
			results = append(results, id)
		}
	}
	return results
}

// Rebuild drops and recreates the index in place from fetch, which should
// return every active (non-deleted, non-expired) item. Intended for
// server startup or a configuration change to numPerm/bands/threshold.
func (idx *Index) Rebuild(ctx context.Context, fetch func(context.Context) ([]Item, error)) (int, error) {
	items, err := fetch(ctx)
	if err != nil {
		return 0, fmt.Errorf("minhash: rebuild fetch failed: %w", err)
	}

	fresh := NewIndex(idx.numPerm, idx.bands, idx.threshold)
	for _, item := range items {
		fresh.insertLocked(item.ID, Compute(item.Content, fresh.numPerm))
	}

	idx.mu.Lock()
	idx.signatures = fresh.signatures
	idx.buckets = fresh.buckets
	idx.mu.Unlock()

	return len(items), nil
}

// Len reports how many signatures are currently indexed.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.signatures)
}
