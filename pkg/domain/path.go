package domain

// Step is one entry of an ExplorationPath: the edge taken out of a page.
type Step struct {
	PageIndex int
	EdgeIndex int
}

// ExplorationPath is the active navigation path from the launch page.
// Entry k records which edge of page PageIndex was taken to reach the page of entry k+1.
type ExplorationPath struct {
	steps []Step
}

// Push appends a step.
func (p *ExplorationPath) Push(s Step) {
	p.steps = append(p.steps, s)
}

// Pop removes and returns the last step. ok is false when the path is empty.
func (p *ExplorationPath) Pop() (s Step, ok bool) {
	if len(p.steps) == 0 {
		return Step{}, false
	}
	s = p.steps[len(p.steps)-1]
	p.steps = p.steps[:len(p.steps)-1]
	return s, true
}

// Len returns the number of steps.
func (p *ExplorationPath) Len() int {
	return len(p.steps)
}

// At returns the step at position i.
func (p *ExplorationPath) At(i int) Step {
	return p.steps[i]
}

// IndexOf returns the first position whose source page is page, or -1.
func (p *ExplorationPath) IndexOf(page int) int {
	for i, s := range p.steps {
		if s.PageIndex == page {
			return i
		}
	}
	return -1
}

// Suffix returns a copy of the steps from position from to the end.
func (p *ExplorationPath) Suffix(from int) []Step {
	if from < 0 || from >= len(p.steps) {
		return nil
	}
	return append([]Step(nil), p.steps[from:]...)
}

// Steps returns a copy of every step.
func (p *ExplorationPath) Steps() []Step {
	return append([]Step(nil), p.steps...)
}
