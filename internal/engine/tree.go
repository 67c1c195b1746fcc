package engine

import (
	"fmt"
	"strings"
)

// Tree renders the evaluated graph as an indented ASCII tree. Nodes reached
// through more than one parent are expanded once and marked on repeat.
// Uses portable ASCII characters only.
func (r *Result) Tree() string {
	if r.Root == nil {
		return "No tasks were evaluated."
	}

	var sb strings.Builder
	seen := make(map[*Node]bool)
	sb.WriteString(renderNodeLine("", r.Root, false))
	seen[r.Root] = true
	renderChildren(&sb, r.Root, "", seen)

	sb.WriteString("\n")
	sb.WriteString(renderSummary(r.nodes))
	return sb.String()
}

// renderChildren renders the requirements of n below it.
func renderChildren(sb *strings.Builder, n *Node, indent string, seen map[*Node]bool) {
	for i, child := range n.Requirements {
		last := i == len(n.Requirements)-1
		prefix := indent + "|- "
		nextIndent := indent + "|  "
		if last {
			prefix = indent + "+- "
			nextIndent = indent + "   "
		}

		repeat := seen[child]
		sb.WriteString(renderNodeLine(prefix, child, repeat))
		if repeat {
			continue
		}
		seen[child] = true
		renderChildren(sb, child, nextIndent, seen)
	}
}

// renderNodeLine renders a single task line.
func renderNodeLine(prefix string, n *Node, repeat bool) string {
	line := fmt.Sprintf("%s%s [%s]", prefix, n.Name, n.State)
	if n.Kind != KindTask {
		line += " (" + n.Kind.String() + ")"
	}
	if repeat {
		line += " *"
	}
	if n.State == StateFailed && n.Err != nil {
		line += ": " + n.Err.Error()
	}
	return line + "\n"
}

// renderSummary counts nodes per final state.
func renderSummary(nodes []*Node) string {
	counts := make(map[State]int)
	for _, n := range nodes {
		counts[n.State]++
	}
	return fmt.Sprintf("Tasks: %d  |  ready: %d  not-ready: %d  failed: %d\n",
		len(nodes), counts[StateReady], counts[StateNotReady], counts[StateFailed])
}
