package reference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/tilawa/pkg/types"
)

// Store caches verses loaded from a [Source] for the lifetime of the process.
// Only successful lookups are cached; missing verses are looked up again on
// every call. All methods are safe for concurrent use.
type Store struct {
	src         Source
	group       singleflight.Group
	loadTimeout time.Duration

	mu    sync.RWMutex
	cache map[types.VerseReference]types.AnnotatedVerse
}

// DefaultLoadTimeout bounds a single source lookup.
const DefaultLoadTimeout = 10 * time.Second

// StoreOption configures a [Store].
type StoreOption func(*Store)

// WithLoadTimeout bounds each source lookup. Non-positive values are ignored.
func WithLoadTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.loadTimeout = d
		}
	}
}

// NewStore returns a Store reading through src.
func NewStore(src Source, opts ...StoreOption) *Store {
	s := &Store{
		src:         src,
		loadTimeout: DefaultLoadTimeout,
		cache:       make(map[types.VerseReference]types.AnnotatedVerse),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Source returns the underlying source.
func (s *Store) Source() Source { return s.src }

// Verse returns the annotated verse for ref. The returned value's
// annotations are shared with the cache and must not be modified.
// Annotations that violate 0 <= start < end <= len(text) are dropped with a
// warning when the verse is first loaded.
func (s *Store) Verse(ctx context.Context, ref types.VerseReference) (types.AnnotatedVerse, error) {
	s.mu.RLock()
	v, ok := s.cache[ref]
	s.mu.RUnlock()
	if ok {
		return v, nil
	}

	// The shared load outlives any single caller: a caller that gives up
	// stops waiting but does not fail the others joined on the same key.
	ch := s.group.DoChan(ref.Key(), func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()

		v, err := s.src.Verse(lctx, ref)
		if err != nil {
			return types.AnnotatedVerse{}, err
		}
		v.Verse = ref
		v.Annotations = sanitizeAnnotations(lctx, v)

		s.mu.Lock()
		s.cache[ref] = v
		s.mu.Unlock()
		return v, nil
	})
	select {
	case <-ctx.Done():
		return types.AnnotatedVerse{}, fmt.Errorf("reference: load %s: %w", ref.Key(), ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return types.AnnotatedVerse{}, res.Err
		}
		return res.Val.(types.AnnotatedVerse), nil
	}
}

// VerseText returns the canonical text for a "surah:ayah" key. ok is false
// when the key is malformed or no verse is stored for it; err is reserved
// for source failures.
func (s *Store) VerseText(ctx context.Context, key string) (text string, ok bool, err error) {
	ref, err := types.ParseVerseKey(key)
	if err != nil {
		return "", false, nil
	}
	v, err := s.Verse(ctx, ref)
	if errors.Is(err, ErrVerseNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v.Text, true, nil
}

// Annotations returns the rule annotations of a verse in stored order. A
// verse without annotations, or one that is not stored, yields an empty
// slice.
func (s *Store) Annotations(ctx context.Context, surah, ayah int) ([]types.RuleAnnotation, error) {
	v, err := s.Verse(ctx, types.VerseReference{Surah: surah, Ayah: ayah})
	if errors.Is(err, ErrVerseNotFound) {
		return []types.RuleAnnotation{}, nil
	}
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.Annotations), nil
}

// Warm loads every verse of a [Lister] source into the cache. Sources that
// cannot enumerate their contents are left to load lazily.
func (s *Store) Warm(ctx context.Context) (int, error) {
	l, ok := s.src.(Lister)
	if !ok {
		return 0, nil
	}
	verses, err := l.Verses(ctx)
	if err != nil {
		return 0, fmt.Errorf("reference: warm cache: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range verses {
		v.Annotations = sanitizeAnnotations(ctx, v)
		s.cache[v.Verse] = v
	}
	return len(verses), nil
}

// Cached returns the number of verses held in the cache.
func (s *Store) Cached() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

func sanitizeAnnotations(ctx context.Context, v types.AnnotatedVerse) []types.RuleAnnotation {
	n := utf8.RuneCountInString(v.Text)
	out := make([]types.RuleAnnotation, 0, len(v.Annotations))
	for _, a := range v.Annotations {
		if !a.Valid(n) {
			slog.WarnContext(ctx, "reference: dropping out-of-range annotation",
				"verse", v.Verse.Key(), "rule", a.Rule, "start", a.Start, "end", a.End, "text_len", n)
			continue
		}
		if !a.Rule.IsValid() {
			slog.WarnContext(ctx, "reference: unknown tajweed rule", "verse", v.Verse.Key(), "rule", a.Rule)
		}
		out = append(out, a)
	}
	return out
}
