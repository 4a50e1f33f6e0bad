package dto

import "github.com/aretw0/droidscout/pkg/domain"

// FDGDocument is the persisted form of a Functional Dependency Graph.
type FDGDocument struct {
	Units []Unit `json:"units"`
}

type Unit struct {
	Index               int            `json:"index"`
	FunctionDescription string         `json:"functionDescription"`
	ActionRefs          [][2]int       `json:"actionRefs"`
	DataIn              []string       `json:"dataIn"`
	DataOut             []string       `json:"dataOut"`
	DataDependencies    []int          `json:"dataDependencies"`
	ToTest              bool           `json:"toTest"`
	CoreLogic           map[string]any `json:"coreLogic"`
}

// EncodeFDG converts f into its persisted document. Empty lists are written as [] rather than null.
func EncodeFDG(f *domain.FDG) *FDGDocument {
	doc := &FDGDocument{Units: make([]Unit, 0, len(f.Units))}
	for _, u := range f.Units {
		out := Unit{
			Index:               u.Index,
			FunctionDescription: u.FunctionDescription,
			ActionRefs:          make([][2]int, 0, len(u.ActionRefs)),
			DataIn:              append([]string{}, u.DataIn...),
			DataOut:             append([]string{}, u.DataOut...),
			DataDependencies:    append([]int{}, u.DataDependencies...),
			ToTest:              u.ToTest,
			CoreLogic:           u.CoreLogic,
		}
		for _, r := range u.ActionRefs {
			out.ActionRefs = append(out.ActionRefs, [2]int{r.PageIndex, r.EdgeIndex})
		}
		doc.Units = append(doc.Units, out)
	}
	return doc
}

// DecodeFDG rebuilds an FDG from its document.
func DecodeFDG(doc *FDGDocument) *domain.FDG {
	f := &domain.FDG{Units: make([]*domain.FunctionalUnit, 0, len(doc.Units))}
	for _, u := range doc.Units {
		unit := &domain.FunctionalUnit{
			Index:               u.Index,
			FunctionDescription: u.FunctionDescription,
			DataIn:              u.DataIn,
			DataOut:             u.DataOut,
			DataDependencies:    u.DataDependencies,
			ToTest:              u.ToTest,
			CoreLogic:           u.CoreLogic,
		}
		for _, r := range u.ActionRefs {
			unit.ActionRefs = append(unit.ActionRefs, domain.ActionRef{PageIndex: r[0], EdgeIndex: r[1]})
		}
		f.Units = append(f.Units, unit)
	}
	return f
}
