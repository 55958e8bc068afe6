package types

import (
	"fmt"
	"slices"
)

// Reciter identifies a qari whose recordings serve as the pronunciation
// reference, using the everyayah/alquran.cloud edition identifiers.
type Reciter string

const (
	ReciterAlafasy    Reciter = "ar.alafasy"
	ReciterHusary     Reciter = "ar.husary"
	ReciterMinshawi   Reciter = "ar.minshawi"
	ReciterAbdulBasit Reciter = "ar.abdulbasit"
	ReciterSudais     Reciter = "ar.sudais"
)

// DefaultReciter is used when a request does not name one.
const DefaultReciter = ReciterHusary

var reciterNames = map[Reciter]string{
	ReciterAlafasy:    "Mishary Rashid Alafasy",
	ReciterHusary:     "Mahmoud Khalil Al-Husary",
	ReciterMinshawi:   "Mohamed Siddiq El-Minshawi",
	ReciterAbdulBasit: "Abdul Basit Abdul Samad",
	ReciterSudais:     "Abdurrahman As-Sudais",
}

// Reciters returns every known reciter identifier in sorted order.
func Reciters() []Reciter {
	out := make([]Reciter, 0, len(reciterNames))
	for r := range reciterNames {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}

// Valid reports whether r is a known reciter.
func (r Reciter) Valid() bool {
	_, ok := reciterNames[r]
	return ok
}

// Name returns the reciter's display name, or the identifier when unknown.
func (r Reciter) Name() string {
	if n, ok := reciterNames[r]; ok {
		return n
	}
	return string(r)
}

// ParseReciter resolves id to a known reciter. The empty string selects
// [DefaultReciter].
func ParseReciter(id string) (Reciter, error) {
	if id == "" {
		return DefaultReciter, nil
	}
	r := Reciter(id)
	if !r.Valid() {
		return "", fmt.Errorf("unknown reciter %q", id)
	}
	return r, nil
}
