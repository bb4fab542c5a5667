package heap

import (
	"fmt"
	"sort"
)

// TypeStat is one row of a collection profile: how many live objects of a
// given Go type survived the copy, and how many pads they occupy.
type TypeStat struct {
	Type  string
	Count int
	Pads  int
}

// Profile aggregates per-type statistics for one collection. Gathered when
// ProfileLevel >= 1; ranked and reported when ProfileLevel >= 2.
type Profile struct {
	stats        map[string]*TypeStat
	TotalObjects int
	TotalPads    int
}

func newProfile() *Profile {
	return &Profile{stats: map[string]*TypeStat{}}
}

func (p *Profile) record(obj Object) {
	name := fmt.Sprintf("%T", obj)
	st := p.stats[name]
	if st == nil {
		st = &TypeStat{Type: name}
		p.stats[name] = st
	}
	pads := obj.Pads()
	st.Count++
	st.Pads += pads
	p.TotalObjects++
	p.TotalPads += pads
}

// Ranked returns the profile's rows largest-footprint first, ties broken by
// type name so reports are stable across runs.
func (p *Profile) Ranked() []TypeStat {
	out := make([]TypeStat, 0, len(p.stats))
	for _, st := range p.stats {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pads != out[j].Pads {
			return out[i].Pads > out[j].Pads
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// LastProfile returns the profile gathered by the most recent collection,
// or nil if profiling was off.
func (h *Heap) LastProfile() *Profile { return h.lastProfile }

// PeakProfile returns the largest-live-set profile observed across the
// whole run, retained even after later, smaller collections.
func (h *Heap) PeakProfile() *Profile { return h.peakProfile }

// report emits the ranked per-type report for one collection through the
// heap's Report hook.
func (h *Heap) report(p *Profile) {
	if h.Report == nil {
		return
	}
	h.Report("gc %d: %d live objects, %d pads", h.gcCount, p.TotalObjects, p.TotalPads)
	for _, st := range p.Ranked() {
		h.Report("  %-24s %6d objects %8d pads", st.Type, st.Count, st.Pads)
	}
}
