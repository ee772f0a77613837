package analysis

// Filter narrows a list of cross-references
type Filter interface {
	// Filter returns the references to keep, in their original order
	Filter(xrefs []CrossReference) []CrossReference
}

// FilterChain runs multiple filters in sequence
type FilterChain struct {
	filters []Filter
}

// NewFilterChain creates a new filter chain
func NewFilterChain(filters ...Filter) *FilterChain {
	return &FilterChain{
		filters: filters,
	}
}

// Add appends a filter to the chain
func (fc *FilterChain) Add(f Filter) {
	fc.filters = append(fc.filters, f)
}

// Filter runs all filters in sequence
func (fc *FilterChain) Filter(xrefs []CrossReference) []CrossReference {
	result := xrefs
	for _, f := range fc.filters {
		result = f.Filter(result)
	}
	return result
}

// KindFilter keeps references of the listed kinds
type KindFilter struct {
	Kinds []XrefKind
}

func (kf KindFilter) Filter(xrefs []CrossReference) []CrossReference {
	want := make(map[XrefKind]bool, len(kf.Kinds))
	for _, k := range kf.Kinds {
		want[k] = true
	}
	var out []CrossReference
	for _, x := range xrefs {
		if want[x.Kind] {
			out = append(out, x)
		}
	}
	return out
}

// FunctionFilter keeps references with either endpoint inside the function span
type FunctionFilter struct {
	Function SymbolInfo
}

func (ff FunctionFilter) Filter(xrefs []CrossReference) []CrossReference {
	var out []CrossReference
	for _, x := range xrefs {
		if ff.Function.Contains(x.From) || ff.Function.Contains(x.To) {
			out = append(out, x)
		}
	}
	return out
}

// RangeFilter keeps references whose target lies in [Start, End)
type RangeFilter struct {
	Start, End uint64
}

func (rf RangeFilter) Filter(xrefs []CrossReference) []CrossReference {
	var out []CrossReference
	for _, x := range xrefs {
		if x.To >= rf.Start && x.To < rf.End {
			out = append(out, x)
		}
	}
	return out
}
