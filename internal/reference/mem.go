package reference

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/tilawa/pkg/types"
)

var (
	_ Source = (*MemSource)(nil)
	_ Lister = (*MemSource)(nil)
)

// MemSource is an in-memory [Source]. The zero value is empty and ready to
// use.
type MemSource struct {
	mu     sync.RWMutex
	verses map[types.VerseReference]types.AnnotatedVerse
}

// NewMemSource returns a MemSource pre-populated with verses.
func NewMemSource(verses ...types.AnnotatedVerse) *MemSource {
	m := &MemSource{}
	for _, v := range verses {
		m.Put(v)
	}
	return m
}

// Put adds or replaces a verse.
func (m *MemSource) Put(v types.AnnotatedVerse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.verses == nil {
		m.verses = make(map[types.VerseReference]types.AnnotatedVerse)
	}
	v.Annotations = slices.Clone(v.Annotations)
	m.verses[v.Verse] = v
}

// Verse implements [Source].
func (m *MemSource) Verse(_ context.Context, ref types.VerseReference) (types.AnnotatedVerse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.verses[ref]
	if !ok {
		return types.AnnotatedVerse{}, fmt.Errorf("%w: %s", ErrVerseNotFound, ref)
	}
	v.Annotations = slices.Clone(v.Annotations)
	return v, nil
}

// Verses implements [Lister]. Verses are returned in surah/ayah order.
func (m *MemSource) Verses(_ context.Context) ([]types.AnnotatedVerse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.AnnotatedVerse, 0, len(m.verses))
	for _, v := range m.verses {
		v.Annotations = slices.Clone(v.Annotations)
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b types.AnnotatedVerse) int {
		if a.Verse.Surah != b.Verse.Surah {
			return a.Verse.Surah - b.Verse.Surah
		}
		return a.Verse.Ayah - b.Verse.Ayah
	})
	return out, nil
}
