package store

import (
	"sync/atomic"

	"github.com/faceteller/faceteller/pkg/recognition"
)

// Gallery is an immutable snapshot of every enrolled embedding, indexed in
// parallel with Names. Recognition reads it on every frame; it is never
// mutated, only replaced wholesale after an enrollment write, so readers
// can never observe a partially rebuilt cache.
type Gallery struct {
	Names      []string
	Embeddings []recognition.Descriptor
}

// Empty reports whether no identities are enrolled.
func (g *Gallery) Empty() bool {
	return g == nil || len(g.Names) == 0
}

type snapshot struct {
	ptr atomic.Pointer[Gallery]
}

// Gallery returns the current snapshot.
func (s *Store) Gallery() *Gallery {
	if g := s.gallery.ptr.Load(); g != nil {
		return g
	}
	return &Gallery{}
}

// Reload rebuilds the gallery from the identity records and swaps it in
// atomically. Records whose embedding file cannot be read are skipped with
// a warning rather than failing the whole reload.
func (s *Store) Reload() error {
	s.mu.Lock()
	records, err := s.readRecords()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	fresh := &Gallery{}
	for username, id := range records {
		desc, err := s.loadEmbedding(id.EmbeddingPath)
		if err != nil {
			s.log.Warnf("skipping embedding for %s: %v", username, err)
			continue
		}
		fresh.Names = append(fresh.Names, username)
		fresh.Embeddings = append(fresh.Embeddings, desc)
	}

	s.gallery.ptr.Store(fresh)
	s.log.Infof("gallery reloaded: %d enrolled face(s)", len(fresh.Names))
	return nil
}
