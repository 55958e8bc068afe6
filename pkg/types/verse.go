// Package types defines the shared domain types used across all tilawa
// packages.
//
// These types form the lingua franca between the reference store, the tajweed
// validator, the transcription and analyzer providers, and the pipeline
// orchestrator. Cross-cutting data structures live here to avoid circular
// imports.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidVerse is returned when a surah/ayah pair does not identify a verse
// of the Quran.
var ErrInvalidVerse = errors.New("invalid verse reference")

// SurahCount is the number of surahs in the Quran.
const SurahCount = 114

// ayahCounts holds the number of ayat per surah (Hafs numbering), indexed by
// surah number minus one.
var ayahCounts = [SurahCount]int{
	7, 286, 200, 176, 120, 165, 206, 75, 129, 109,
	123, 111, 43, 52, 99, 128, 111, 110, 98, 135,
	112, 78, 118, 64, 77, 227, 93, 88, 69, 60,
	34, 30, 73, 54, 45, 83, 182, 88, 75, 85,
	54, 53, 89, 59, 37, 35, 38, 29, 18, 45,
	60, 49, 62, 55, 78, 96, 29, 22, 24, 13,
	14, 11, 11, 18, 12, 12, 30, 52, 52, 44,
	28, 28, 20, 56, 40, 31, 50, 40, 46, 42,
	29, 19, 36, 25, 22, 17, 19, 26, 30, 20,
	15, 21, 11, 8, 8, 19, 5, 8, 8, 11,
	11, 8, 3, 9, 5, 4, 7, 3, 6, 3,
	5, 4, 5, 6,
}

// AyahCount returns the number of ayat in surah, or 0 when surah is out of
// range.
func AyahCount(surah int) int {
	if surah < 1 || surah > SurahCount {
		return 0
	}
	return ayahCounts[surah-1]
}

// VerseReference identifies a single verse. It is immutable once constructed.
type VerseReference struct {
	Surah int `json:"surah"`
	Ayah  int `json:"ayah"`
}

// NewVerseReference validates surah and ayah against the verse table.
func NewVerseReference(surah, ayah int) (VerseReference, error) {
	ref := VerseReference{Surah: surah, Ayah: ayah}
	if err := ref.Validate(); err != nil {
		return VerseReference{}, err
	}
	return ref, nil
}

// ParseVerseKey parses a canonical "surah:ayah" key such as "2:255".
func ParseVerseKey(key string) (VerseReference, error) {
	ref, err := splitVerseKey(key)
	if err != nil {
		return VerseReference{}, err
	}
	return NewVerseReference(ref.Surah, ref.Ayah)
}

// splitVerseKey parses key without checking it against the verse table.
func splitVerseKey(key string) (VerseReference, error) {
	s, a, ok := strings.Cut(strings.TrimSpace(key), ":")
	if !ok {
		return VerseReference{}, fmt.Errorf("%w: key %q is not of the form surah:ayah", ErrInvalidVerse, key)
	}
	surah, err := strconv.Atoi(s)
	if err != nil {
		return VerseReference{}, fmt.Errorf("%w: surah %q: %v", ErrInvalidVerse, s, err)
	}
	ayah, err := strconv.Atoi(a)
	if err != nil {
		return VerseReference{}, fmt.Errorf("%w: ayah %q: %v", ErrInvalidVerse, a, err)
	}
	return VerseReference{Surah: surah, Ayah: ayah}, nil
}

// Validate reports whether the reference lies inside the verse table.
func (v VerseReference) Validate() error {
	n := AyahCount(v.Surah)
	if n == 0 {
		return fmt.Errorf("%w: surah %d out of range [1, %d]", ErrInvalidVerse, v.Surah, SurahCount)
	}
	if v.Ayah < 1 || v.Ayah > n {
		return fmt.Errorf("%w: ayah %d out of range [1, %d] for surah %d", ErrInvalidVerse, v.Ayah, n, v.Surah)
	}
	return nil
}

// Key returns the canonical "surah:ayah" verse key.
func (v VerseReference) Key() string {
	return strconv.Itoa(v.Surah) + ":" + strconv.Itoa(v.Ayah)
}

// String implements [fmt.Stringer].
func (v VerseReference) String() string { return v.Key() }

// verseJSON is the wire form of [VerseReference].
type verseJSON struct {
	Surah    int    `json:"surah"`
	Ayah     int    `json:"ayah"`
	VerseKey string `json:"verseKey,omitempty"`
}

// MarshalJSON adds the derived verseKey next to surah and ayah.
func (v VerseReference) MarshalJSON() ([]byte, error) {
	return json.Marshal(verseJSON{Surah: v.Surah, Ayah: v.Ayah, VerseKey: v.Key()})
}

// UnmarshalJSON accepts surah and ayah, a verseKey alone, or all three as
// long as they agree. The reference is not range-checked; call Validate.
func (v *VerseReference) UnmarshalJSON(data []byte) error {
	var in verseJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	ref := VerseReference{Surah: in.Surah, Ayah: in.Ayah}
	if in.VerseKey != "" {
		fromKey, err := splitVerseKey(in.VerseKey)
		if err != nil {
			return err
		}
		switch {
		case ref.Surah == 0 && ref.Ayah == 0:
			ref = fromKey
		case ref != fromKey:
			return fmt.Errorf("%w: verseKey %q disagrees with %s", ErrInvalidVerse, in.VerseKey, ref.Key())
		}
	}
	*v = ref
	return nil
}

// RuleAnnotation tags the codepoint range [Start, End) of a verse's canonical
// text with a tajweed rule.
type RuleAnnotation struct {
	Rule  Rule `json:"rule" yaml:"rule"`
	Start int  `json:"start" yaml:"start"`
	End   int  `json:"end" yaml:"end"`
}

// Valid reports whether the annotation satisfies 0 <= Start < End <= textLen.
func (a RuleAnnotation) Valid(textLen int) bool {
	return a.Start >= 0 && a.Start < a.End && a.End <= textLen
}

// AnnotatedVerse is the canonical text of a verse together with its rule
// annotations. Values returned by the reference store are shared and must be
// treated as read-only.
type AnnotatedVerse struct {
	Verse       VerseReference   `json:"verse"`
	Text        string           `json:"text"`
	Annotations []RuleAnnotation `json:"annotations"`
}
