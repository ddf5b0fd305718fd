package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// statusTag returns a short ASCII indicator for a status string.
func statusTag(status string) string {
	switch status {
	case "completed":
		return "[OK]"
	case "failed":
		return "[FAIL]"
	case "running":
		return "[RUN]"
	case "waiting":
		return "[WAIT]"
	case "skipped":
		return "[SKIP]"
	case "pending":
		return "[PEND]"
	default:
		return ""
	}
}

// RenderASCII renders a DiagramModel as a text-based ASCII diagram: one row
// of boxes per level, followed by the edge list, since routes may loop back.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}

	byID := make(map[string]*Node, len(model.Nodes))
	for _, n := range model.Nodes {
		byID[n.ID] = n
	}
	for i, level := range model.Levels {
		var row []textBox
		for _, id := range level {
			if n, ok := byID[id]; ok {
				row = append(row, boxFor(n))
			}
		}
		if len(row) == 0 {
			continue
		}
		writeRow(&b, row)
		if i < len(model.Levels)-1 {
			b.WriteString("       \u2502\n       \u25bc\n")
		}
	}

	b.WriteString("\nEdges:\n")
	for _, edge := range model.Edges {
		arrow := "\u2500\u2192"
		if edge.Kind != EdgeRoute {
			arrow = "\u2504\u2192"
		}
		label := ""
		if edge.Label != "" {
			label = " [" + edge.Label + "]"
		}
		fmt.Fprintf(&b, "  %s %s %s%s\n", displayID(edge.From), arrow, displayID(edge.To), label)
	}

	return b.String()
}

func displayID(id string) string {
	switch id {
	case startID:
		return "Start"
	case endID:
		return "End"
	}
	return id
}

// textBox is a framed block of lines, all of the same display width.
type textBox struct {
	lines []string
	width int
}

func boxFor(node *Node) textBox {
	content := strings.Split(node.Label, "\n")
	if st := node.Status; st != nil {
		if tag := statusTag(st.Status); tag != "" {
			content = append(content, tag)
		}
		if st.DurationMs > 0 {
			content = append(content, fmt.Sprintf("%dms", st.DurationMs))
		}
		if st.Executions > 1 {
			content = append(content, fmt.Sprintf("x%d", st.Executions))
		}
	}

	inner := 0
	for _, line := range content {
		inner = max(inner, utf8.RuneCountInString(line))
	}
	rule := strings.Repeat("\u2500", inner+2)

	lines := make([]string, 0, len(content)+2)
	lines = append(lines, "\u250c"+rule+"\u2510")
	for _, line := range content {
		pad := strings.Repeat(" ", inner-utf8.RuneCountInString(line))
		lines = append(lines, "\u2502 "+line+pad+" \u2502")
	}
	lines = append(lines, "\u2514"+rule+"\u2518")
	return textBox{lines: lines, width: inner + 4}
}

// writeRow prints boxes side by side, top aligned.
func writeRow(b *strings.Builder, row []textBox) {
	height := 0
	for _, box := range row {
		height = max(height, len(box.lines))
	}
	for line := 0; line < height; line++ {
		for i, box := range row {
			if i > 0 {
				b.WriteString("  ")
			}
			if line < len(box.lines) {
				b.WriteString(box.lines[line])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}

func firstLine(s string) string {
	head, _, _ := strings.Cut(s, "\n")
	return head
}
