package reference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/tilawa/pkg/types"
)

var (
	_ Source = (*YAMLSource)(nil)
	_ Lister = (*YAMLSource)(nil)
)

// yamlFile is the on-disk layout of a verse data file:
//
//	verses:
//	  - surah: 1
//	    ayah: 1
//	    text: "بِسْمِ اللَّهِ الرَّحْمَٰنِ الرَّحِيمِ"
//	    annotations:
//	      - {rule: ham_wasl, start: 7, end: 8}
type yamlFile struct {
	Verses []yamlVerse `yaml:"verses"`
}

type yamlVerse struct {
	Surah       int                    `yaml:"surah"`
	Ayah        int                    `yaml:"ayah"`
	Text        string                 `yaml:"text"`
	Annotations []types.RuleAnnotation `yaml:"annotations"`
}

// YAMLSource serves verses parsed from a YAML document.
type YAMLSource struct {
	mem *MemSource
}

// LoadYAMLFile reads and parses the verse data file at path.
func LoadYAMLFile(path string) (*YAMLSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reference: open %q: %w", path, err)
	}
	defer f.Close()

	src, err := LoadYAML(f)
	if err != nil {
		return nil, fmt.Errorf("reference: %q: %w", path, err)
	}
	return src, nil
}

// LoadYAML parses a verse data document from r. Unknown fields, invalid verse
// references and duplicate verses are errors.
func LoadYAML(r io.Reader) (*YAMLSource, error) {
	var doc yamlFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	mem := NewMemSource()
	seen := make(map[types.VerseReference]bool, len(doc.Verses))
	for i, v := range doc.Verses {
		ref, err := types.NewVerseReference(v.Surah, v.Ayah)
		if err != nil {
			return nil, fmt.Errorf("verses[%d]: %w", i, err)
		}
		if seen[ref] {
			return nil, fmt.Errorf("verses[%d]: duplicate verse %s", i, ref)
		}
		seen[ref] = true
		mem.Put(types.AnnotatedVerse{Verse: ref, Text: v.Text, Annotations: v.Annotations})
	}
	return &YAMLSource{mem: mem}, nil
}

// Verse implements [Source].
func (y *YAMLSource) Verse(ctx context.Context, ref types.VerseReference) (types.AnnotatedVerse, error) {
	return y.mem.Verse(ctx, ref)
}

// Verses implements [Lister].
func (y *YAMLSource) Verses(ctx context.Context) ([]types.AnnotatedVerse, error) {
	return y.mem.Verses(ctx)
}
