package screenflow

import (
	"fmt"
	"strings"
)

// Mermaid renders the graph as a Mermaid flowchart.
// The start stage is drawn as a circle and the decision stage as a rhombus;
// the retry edge is dotted and labelled with the retry ceiling.
func (g *Graph) Mermaid() string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, name := range g.order {
		id := mermaidID(name)
		opener, closer := "[", "]"
		switch {
		case name == g.start:
			opener, closer = "((", "))"
		case g.decision != nil && g.decision.Stage == name:
			opener, closer = "{", "}"
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", id, opener, name, closer)

		if to, ok := g.edges[name]; ok {
			fmt.Fprintf(&sb, "    %s --> %s\n", id, mermaidID(to))
			continue
		}
		if g.decision != nil && g.decision.Stage == name {
			d := g.decision
			fmt.Fprintf(&sb, "    %s -. \"%s (max %d)\" .-> %s\n", id, Retry, d.Ceiling, mermaidID(d.Outcomes.Retry))
			fmt.Fprintf(&sb, "    %s -- \"%s\" --> %s\n", id, Proceed, mermaidID(d.Outcomes.Proceed))
		}
	}
	fmt.Fprintf(&sb, "    %s((\"end\"))\n", mermaidID(End))
	return sb.String()
}

func mermaidID(name string) string {
	if name == End {
		return "end_"
	}
	r := strings.NewReplacer("-", "_", ".", "_", " ", "_", "/", "_")
	return r.Replace(name)
}
