// Package dna is a small payload domain for the lineage store: strands of
// DNA evolved by deterministic point mutations and crossovers.
package dna

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/spf13/cast"

	"popgraph/dag"
)

// Alphabet holds the letters a mutation may write.
const Alphabet = "ACGT"

// Strand is a DNA string.
type Strand string

var (
	ErrBadParams   = errors.New("invalid mutation parameters")
	ErrNoPartner   = errors.New("crossover requires a contributor")
	ErrLengthDrift = errors.New("strand lengths differ")
)

// RequiredParams are the keys Mutate cannot run without.
var RequiredParams = []string{"spot", "letter"}

// Mutate is a dag.TransitionFunc. It reads "spot" (index) and "letter"
// from params and writes the letter at that spot. When "crossover" is set,
// the parent's prefix up to that index is first joined with the first
// contributor's suffix.
func Mutate(parent Strand, params dag.Params, contributors []Strand) (Strand, error) {
	b := []byte(parent)

	if raw, ok := params["crossover"]; ok {
		at, err := cast.ToIntE(raw)
		if err != nil {
			return "", fmt.Errorf("%w: crossover: %v", ErrBadParams, err)
		}
		if len(contributors) == 0 {
			return "", ErrNoPartner
		}
		partner := contributors[0]
		if len(partner) != len(b) {
			return "", fmt.Errorf("%w: %d and %d", ErrLengthDrift, len(b), len(partner))
		}
		if at < 0 || at > len(b) {
			return "", fmt.Errorf("%w: crossover %d out of range", ErrBadParams, at)
		}
		copy(b[at:], partner[at:])
	}

	raw, ok := params["spot"]
	if !ok {
		return "", fmt.Errorf("%w: spot is required", ErrBadParams)
	}
	spot, err := cast.ToIntE(raw)
	if err != nil {
		return "", fmt.Errorf("%w: spot: %v", ErrBadParams, err)
	}
	if spot < 0 || spot >= len(b) {
		return "", fmt.Errorf("%w: spot %d out of range", ErrBadParams, spot)
	}
	letter, err := cast.ToStringE(params["letter"])
	if err != nil || len(letter) != 1 || !strings.Contains(Alphabet, letter) {
		return "", fmt.Errorf("%w: letter %v", ErrBadParams, params["letter"])
	}

	b[spot] = letter[0]
	return Strand(b), nil
}

// RandomParams draws mutation parameters for a strand of the given length.
func RandomParams(r *rand.Rand, length int) dag.Params {
	return dag.Params{
		"spot":   r.Intn(length),
		"letter": string(Alphabet[r.Intn(len(Alphabet))]),
	}
}
