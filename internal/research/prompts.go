package research

import (
	"fmt"
	"regexp"
	"strings"
)

var listMarker = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s+`)

const systemPrompt = "You are a careful research assistant. Cite sources by their number."

func planPrompt(query string, maxQueries int) string {
	return fmt.Sprintf(`Plan web searches for the research question below.
Reply with at most %d search queries, one per line, and nothing else.

Question: %s`, maxQueries, query)
}

func reflectPrompt(query string, sources []Source, maxQueries int) string {
	return fmt.Sprintf(`Question: %s

Sources gathered so far:
%s
If these sources answer the question, reply with DONE.
Otherwise reply with at most %d follow-up search queries, one per line.`, query, formatSources(sources, false), maxQueries)
}

func analyzePrompt(query string, sources []Source) string {
	return fmt.Sprintf(`Question: %s

Sources:
%s
List the key findings, points of agreement and contradictions across the sources.`, query, formatSources(sources, true))
}

func writePrompt(query, analysis string, sources []Source) string {
	return fmt.Sprintf(`Question: %s

Analysis:
%s

Sources:
%s
Write a well-structured markdown report answering the question. Cite sources as [n].`,
		query, analysis, formatSources(sources, false))
}

func formatSources(sources []Source, withContent bool) string {
	if len(sources) == 0 {
		return "(none)\n"
	}
	var b strings.Builder
	for i, s := range sources {
		fmt.Fprintf(&b, "[%d] %s (%s)\n", i+1, s.Title, s.Link)
		body := s.Snippet
		if withContent && s.Content != "" {
			body = s.Content
		}
		if body != "" {
			fmt.Fprintf(&b, "%s\n", body)
		}
	}
	return b.String()
}

// parseQueries reads one query per line, dropping list markers, blanks
// and duplicates.
func parseQueries(text string, limit int) []string {
	var out []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(text, "\n") {
		q := listMarker.ReplaceAllString(strings.TrimSpace(line), "")
		q = strings.Trim(q, `"`)
		q = strings.TrimSpace(q)
		if q == "" || seen[strings.ToLower(q)] {
			continue
		}
		seen[strings.ToLower(q)] = true
		out = append(out, q)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
