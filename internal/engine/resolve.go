package engine

import "fmt"

// plan is a resolved declaration: its definition and resolved requirements.
type plan struct {
	id       string
	def      Definition
	requires []*plan
	// seq is the position of the plan in declaration (preorder) order.
	seq int
}

// planner resolves the whole declaration graph before any action runs.
type planner struct {
	plans    map[string]*plan
	order    []*plan
	recStack map[string]bool
	path     []*plan
}

func newPlanner() *planner {
	return &planner{
		plans:    make(map[string]*plan),
		recStack: make(map[string]bool),
	}
}

// resolveGraph evaluates every declaration reachable from root, memoizing
// by identity and rejecting cycles, undeclared requirements and failing
// declarations.
func resolveGraph(root Ref) (*plan, []*plan, error) {
	pl := newPlanner()
	p, err := pl.resolve(root, "", 0)
	if err != nil {
		return nil, nil, err
	}
	return p, pl.order, nil
}

// resolve performs a depth-first walk. recStack holds the identities on the
// current path; meeting one of them again closes a cycle.
func (pl *planner) resolve(ref Ref, parent string, index int) (*plan, error) {
	if ref.IsZero() {
		return nil, &MissingRequirementError{Task: parent, Index: index}
	}

	if p, ok := pl.plans[ref.id]; ok {
		if pl.recStack[ref.id] {
			return nil, &CycleError{Path: pl.buildCyclePath(ref.id)}
		}
		return p, nil
	}

	def, err := ref.define()
	if err != nil {
		return nil, &DefinitionError{Ref: ref.id, Parent: parent, Err: err}
	}
	if def.Name == "" {
		return nil, &DefinitionError{Ref: ref.id, Parent: parent, Err: fmt.Errorf("task has no name")}
	}
	if err := checkDefinition(def); err != nil {
		return nil, &DefinitionError{Ref: ref.id, Parent: parent, Err: err}
	}

	p := &plan{id: ref.id, def: def, seq: len(pl.order)}
	pl.plans[ref.id] = p
	pl.order = append(pl.order, p)

	pl.recStack[ref.id] = true
	pl.path = append(pl.path, p)

	if def.Kind != KindExternal && def.Requires != nil {
		for i, req := range def.Requires() {
			child, err := pl.resolve(req, def.Name, i)
			if err != nil {
				return nil, err
			}
			p.requires = append(p.requires, child)
		}
	}

	pl.path = pl.path[:len(pl.path)-1]
	pl.recStack[ref.id] = false
	return p, nil
}

// buildCyclePath constructs the cycle from the current DFS path.
func (pl *planner) buildCyclePath(cycleStart string) []string {
	startIdx := 0
	for i, p := range pl.path {
		if p.id == cycleStart {
			startIdx = i
			break
		}
	}
	names := make([]string, 0, len(pl.path)-startIdx+1)
	for _, p := range pl.path[startIdx:] {
		names = append(names, p.def.Name)
	}
	return append(names, pl.plans[cycleStart].def.Name)
}

// checkDefinition enforces the shape of each kind.
func checkDefinition(def Definition) error {
	switch def.Kind {
	case KindExternal:
		if def.Action != nil {
			return fmt.Errorf("external %q cannot have an action", def.Name)
		}
	case KindTask:
		if len(def.Assets) == 0 {
			return fmt.Errorf("task %q declares no assets", def.Name)
		}
		if def.Action == nil {
			return fmt.Errorf("task %q has no action", def.Name)
		}
	case KindTasks:
		if len(def.Assets) > 0 || def.Action != nil {
			return fmt.Errorf("aggregator %q cannot declare assets or an action", def.Name)
		}
	default:
		return fmt.Errorf("task %q has unknown kind %s", def.Name, def.Kind)
	}
	return nil
}
