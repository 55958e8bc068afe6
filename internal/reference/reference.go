// Package reference provides read-only lookup of canonical verse text and
// tajweed rule annotations.
//
// A [Source] fetches verses from backing storage (a YAML file, PostgreSQL or
// memory). [Store] sits in front of a Source, validates what it loads and
// caches every verse for the lifetime of the process. Concurrent first
// lookups of the same verse share a single Source call.
package reference

import (
	"context"
	"errors"

	"github.com/MrWong99/tilawa/pkg/types"
)

// ErrVerseNotFound is returned when a source holds no data for a verse.
var ErrVerseNotFound = errors.New("reference: verse not found")

// Source loads annotated verses from backing storage.
//
// Implementations must be safe for concurrent use and must return an error
// wrapping [ErrVerseNotFound] when the verse is absent.
type Source interface {
	Verse(ctx context.Context, ref types.VerseReference) (types.AnnotatedVerse, error)
}

// Lister is implemented by sources that can enumerate their contents.
type Lister interface {
	Verses(ctx context.Context) ([]types.AnnotatedVerse, error)
}
