package world

import "math"

// Summary is the population-level view a host charts every tick.
type Summary struct {
	Occupied  int             `json:"occupied"`
	MeanTrust float64         `json:"mean_trust"`
	MinTrust  float64         `json:"min_trust"`
	MaxTrust  float64         `json:"max_trust"`
	GoodCount int             `json:"good"` // trust >= 0
	EvilCount int             `json:"evil"` // trust < 0
	Classes   [NumClasses]int `json:"classes"`
	Defecting int             `json:"defecting"` // last move -1
}

// Summarize aggregates over occupied cells only. An empty world reports zeros.
func Summarize(w *World) Summary {
	var s Summary
	sum := 0.0
	s.MinTrust = math.Inf(1)
	s.MaxTrust = math.Inf(-1)
	for i, occ := range w.Occupied {
		if !occ {
			continue
		}
		t := w.Trust[i]
		s.Occupied++
		sum += t
		if t < s.MinTrust {
			s.MinTrust = t
		}
		if t > s.MaxTrust {
			s.MaxTrust = t
		}
		if t >= 0 {
			s.GoodCount++
		} else {
			s.EvilCount++
		}
		if c := w.Class[i]; int(c) < NumClasses {
			s.Classes[c]++
		}
		if w.LastMove[i] < 0 {
			s.Defecting++
		}
	}
	if s.Occupied == 0 {
		s.MinTrust, s.MaxTrust = 0, 0
		return s
	}
	s.MeanTrust = sum / float64(s.Occupied)
	return s
}

// HistogramSpec describes a fixed-width binning of trust values.
type HistogramSpec struct {
	Min  float64 `json:"min" yaml:"min"`
	Max  float64 `json:"max" yaml:"max"`
	Bins int     `json:"bins" yaml:"bins"`
}

// DefaultHistogram covers the range a collapsing population usually spans.
func DefaultHistogram() HistogramSpec {
	return HistogramSpec{Min: -30, Max: 10, Bins: 40}
}

func (h HistogramSpec) valid() bool {
	return h.Bins > 0 && h.Max > h.Min && !math.IsNaN(h.Min) && !math.IsInf(h.Max-h.Min, 0)
}

// Bin is one histogram bucket.
type Bin struct {
	Center float64 `json:"center"`
	Count  int     `json:"count"`
}

// Histogram bins the trust of occupied cells. Values below Min land in the
// first bin and values at or above Max in the last. An invalid spec falls back
// to DefaultHistogram.
func Histogram(w *World, spec HistogramSpec) []Bin {
	if !spec.valid() {
		spec = DefaultHistogram()
	}
	width := (spec.Max - spec.Min) / float64(spec.Bins)
	out := make([]Bin, spec.Bins)
	for i := range out {
		out[i].Center = spec.Min + (float64(i)+0.5)*width
	}
	for i, occ := range w.Occupied {
		if !occ {
			continue
		}
		out[binIndex(w.Trust[i], spec, width)].Count++
	}
	return out
}

func binIndex(t float64, spec HistogramSpec, width float64) int {
	switch {
	case t < spec.Min:
		return 0
	case t >= spec.Max:
		return spec.Bins - 1
	}
	idx := int(math.Floor((t - spec.Min) / width))
	if idx < 0 {
		idx = 0
	}
	if idx >= spec.Bins {
		idx = spec.Bins - 1
	}
	return idx
}
