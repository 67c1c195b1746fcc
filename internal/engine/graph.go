package engine

import (
	"fmt"
	"strings"
)

// stateColors maps node states to Graphviz fill colours.
var stateColors = map[State]string{
	StatePending:  "lightgrey",
	StateRunning:  "lightblue",
	StateReady:    "palegreen",
	StateNotReady: "orange",
	StateFailed:   "tomato",
}

const maxErrorLabel = 60

// Graph renders the evaluated graph in Graphviz DOT format. Nodes are
// numbered n0..nk in trace order and edges point from a task to each of
// its requirements.
func (r *Result) Graph() string {
	ids := make(map[*Node]string, len(r.nodes))
	for i, n := range r.nodes {
		ids[n] = fmt.Sprintf("n%d", i)
	}

	var sb strings.Builder
	sb.WriteString("digraph wxflow {\n")
	sb.WriteString("  node [shape=box, style=filled];\n")

	for _, n := range r.nodes {
		fmt.Fprintf(&sb, "  %s [label=\"%s\", fillcolor=%s];\n", ids[n], dotLabel(n), stateColors[n.State])
	}
	for _, n := range r.nodes {
		for _, req := range n.Requirements {
			if id, ok := ids[req]; ok {
				fmt.Fprintf(&sb, "  %s -> %s;\n", ids[n], id)
			}
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func dotLabel(n *Node) string {
	parts := []string{n.Name, n.State.String()}
	if n.State == StateFailed && n.Err != nil {
		msg := n.Err.Error()
		if ae, ok := n.Err.(*ActionError); ok && ae.Err != nil {
			msg = ae.Err.Error()
		}
		if len(msg) > maxErrorLabel {
			msg = msg[:maxErrorLabel-3] + "..."
		}
		parts = append(parts, msg)
	}
	for i, p := range parts {
		parts[i] = escapeDOT(p)
	}
	return strings.Join(parts, `\n`)
}

func escapeDOT(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}
