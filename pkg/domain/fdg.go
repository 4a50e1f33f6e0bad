package domain

// ActionRef points at edge EdgeIndex of PTG page PageIndex.
type ActionRef struct {
	PageIndex int
	EdgeIndex int
}

// FunctionalUnit groups PTG edges that serve one user goal.
// DataDependencies lists producer unit indices and never contains Index itself.
type FunctionalUnit struct {
	Index               int
	FunctionDescription string
	ActionRefs          []ActionRef
	DataIn              []string
	DataOut             []string
	DataDependencies    []int
	CoreLogic           map[string]any
	ToTest              bool
}

// HasData reports whether the unit consumes or produces any data entity.
func (u *FunctionalUnit) HasData() bool {
	return len(u.DataIn) > 0 || len(u.DataOut) > 0
}

// FDG is the Functional Dependency Graph.
type FDG struct {
	Units []*FunctionalUnit
}

// Unit returns the unit at index i, or nil.
func (f *FDG) Unit(i int) *FunctionalUnit {
	if i < 0 || i >= len(f.Units) {
		return nil
	}
	return f.Units[i]
}

// AppendUnique appends the values missing from dst, keeping first-seen order.
func AppendUnique(dst []string, values ...string) []string {
	seen := make(map[string]bool, len(dst)+len(values))
	for _, v := range dst {
		seen[v] = true
	}
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		dst = append(dst, v)
	}
	return dst
}
