// Package rng provides the random sources threaded through every stochastic
// step of the simulation (move decisions, class draws, shuffles and migration
// destination draws).
package rng

import (
	"math/rand/v2"
)

// Source is the minimal random interface the simulation consumes.
// Implementations are not required to be safe for concurrent use.
type Source interface {
	// Float64 returns a uniform value in [0,1).
	Float64() float64
	// IntN returns a uniform value in [0,n). It panics if n <= 0.
	IntN(n int) int
}

// PCG is a seeded source whose position in the stream can be saved and
// restored, so a resumed engine draws the same values it would have drawn.
type PCG struct {
	*rand.Rand
	pcg *rand.PCG
}

// NewSeeded returns a PCG-backed source. Two sources built from the same seed
// produce identical sequences.
func NewSeeded(seed int64) *PCG {
	p := rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15)
	return &PCG{Rand: rand.New(p), pcg: p}
}

func (p *PCG) MarshalBinary() ([]byte, error) { return p.pcg.MarshalBinary() }

func (p *PCG) UnmarshalBinary(b []byte) error { return p.pcg.UnmarshalBinary(b) }

// Scripted replays a fixed list of values in a loop. IntN maps the next value
// v onto int(v*n), so a script of zeros always selects index 0 and always
// passes "r < p" checks for p > 0.
type Scripted struct {
	Values []float64
	pos    int
}

// NewScripted returns a Scripted source over vals.
func NewScripted(vals ...float64) *Scripted {
	return &Scripted{Values: vals}
}

func (s *Scripted) next() float64 {
	if len(s.Values) == 0 {
		return 0
	}
	v := s.Values[s.pos%len(s.Values)]
	s.pos++
	return v
}

func (s *Scripted) Float64() float64 { return s.next() }

func (s *Scripted) IntN(n int) int {
	if n <= 0 {
		panic("rng: IntN with n <= 0")
	}
	i := int(s.next() * float64(n))
	if i >= n {
		i = n - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}

// Draws reports how many values have been consumed.
func (s *Scripted) Draws() int { return s.pos }
