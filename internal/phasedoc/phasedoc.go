// Package phasedoc is the codec for phase documents: the markdown artifacts
// the pipeline persists in the document store and re-reads in later phases.
//
// The format is a versioned, human-editable schema. Encode always produces
// canonical schema v1 output; Decode accepts canonical documents, documents a
// human has partially rewritten, and the legacy inline form that predates
// dedicated documents. Decoding never fails: missing fields come back as
// empty values and the miss is counted on the parse-coverage metrics, so a
// drifting format shows up on a dashboard instead of as a broken run.
//
// Conformance fixtures for each schema version live under testdata/.
package phasedoc

import (
	"regexp"
	"strconv"
	"strings"
)

// SchemaVersion is the document schema emitted by the Encode functions.
const SchemaVersion = 1

// DocumentKind names one phase artifact stored in the document store.
type DocumentKind string

const (
	KindCodebaseContext      DocumentKind = "codebase_context"
	KindDocumentationContext DocumentKind = "documentation_context"
	KindRefinement           DocumentKind = "refinement"
	KindUserStory            DocumentKind = "user_story"
	KindBestPractices        DocumentKind = "best_practices"
	KindTechnicalPlan        DocumentKind = "technical_plan"
	KindCodeGeneration       DocumentKind = "code_generation"
)

// Valid reports whether k names a known document kind.
func (k DocumentKind) Valid() bool {
	switch k {
	case KindCodebaseContext, KindDocumentationContext, KindRefinement,
		KindUserStory, KindBestPractices, KindTechnicalPlan, KindCodeGeneration:
		return true
	}
	return false
}

// Title returns the human-facing document title for k.
func (k DocumentKind) Title() string {
	switch k {
	case KindCodebaseContext:
		return "Codebase Context"
	case KindDocumentationContext:
		return "Documentation Context"
	case KindRefinement:
		return "Refinement"
	case KindUserStory:
		return "User Story"
	case KindBestPractices:
		return "Best Practices"
	case KindTechnicalPlan:
		return "Technical Plan"
	case KindCodeGeneration:
		return "Code Generation"
	}
	return string(k)
}

var markerRe = regexp.MustCompile(`<!--\s*specd/phasedoc\s+v(\d+)\s+([a-z_]+)\s*-->`)

// marker returns the schema marker comment placed at the top of every
// encoded document.
func marker(kind DocumentKind) string {
	return "<!-- specd/phasedoc v" + strconv.Itoa(SchemaVersion) + " " + string(kind) + " -->"
}

// Detect extracts the schema version and document kind from a document's
// marker comment. Documents without a marker (hand-written or legacy) report
// version 1 and an empty kind.
func Detect(text string) (version int, kind DocumentKind) {
	m := markerRe.FindStringSubmatch(text)
	if m == nil {
		return 1, ""
	}
	v, err := strconv.Atoi(m[1])
	if err != nil || v < 1 {
		v = 1
	}
	return v, DocumentKind(m[2])
}

var (
	h2Re = regexp.MustCompile(`(?m)^##\s+(.+?)\s*$`)
	h3Re = regexp.MustCompile(`(?m)^###\s+(.+?)\s*$`)

	numberedItemRe = regexp.MustCompile(`(?m)^\s*\d+[.)]\s+(.+?)\s*$`)
	bulletItemRe   = regexp.MustCompile(`(?m)^\s*[-*]\s+(.+?)\s*$`)
)

// splitSections breaks a document into its H2 sections. Keys are lowercased
// titles; bodies are trimmed. Text before the first heading is dropped.
func splitSections(text string) map[string]string {
	sections := map[string]string{}
	locs := h2Re.FindAllStringSubmatchIndex(text, -1)
	for i, loc := range locs {
		title := strings.ToLower(strings.TrimSpace(text[loc[2]:loc[3]]))
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		sections[title] = strings.TrimSpace(text[loc[1]:end])
	}
	return sections
}

// Section returns the body of the named H2 section, or "" when the document
// has none. Titles match case-insensitively.
func Section(text, title string) string {
	return splitSections(text)[strings.ToLower(title)]
}

// subsection is one H3-titled block inside a section body, in document order.
type subsection struct {
	title string
	body  string
}

func splitSubsections(body string) []subsection {
	locs := h3Re.FindAllStringSubmatchIndex(body, -1)
	subs := make([]subsection, 0, len(locs))
	for i, loc := range locs {
		end := len(body)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		subs = append(subs, subsection{
			title: strings.TrimSpace(body[loc[2]:loc[3]]),
			body:  strings.TrimSpace(body[loc[1]:end]),
		})
	}
	return subs
}

// parseNumberedList extracts "1. item" lines from a section body.
func parseNumberedList(body string) []string {
	items := []string{}
	for _, m := range numberedItemRe.FindAllStringSubmatch(body, -1) {
		items = append(items, m[1])
	}
	return items
}

// parseBulletList extracts "- item" lines from a section body.
func parseBulletList(body string) []string {
	items := []string{}
	for _, m := range bulletItemRe.FindAllStringSubmatch(body, -1) {
		items = append(items, m[1])
	}
	return items
}

// parseList accepts either list style, preferring numbered when both appear.
func parseList(body string) []string {
	if items := parseNumberedList(body); len(items) > 0 {
		return items
	}
	return parseBulletList(body)
}

// stripFieldLines returns the body with field-marker lines (for example
// "**Story Points:** 5") removed, leaving only prose.
func stripFieldLines(body string) string {
	lines := strings.Split(body, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "**") && strings.Contains(line, ":**") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// writeListSection appends an H2 section containing a list to b. Numbered
// when ordered is true, bulleted otherwise. Empty lists still emit the
// heading so a human editor sees where items belong.
func writeListSection(b *strings.Builder, title string, items []string, ordered bool) {
	b.WriteString("## " + title + "\n\n")
	for i, item := range items {
		if ordered {
			b.WriteString(strconv.Itoa(i+1) + ". " + item + "\n")
		} else {
			b.WriteString("- " + item + "\n")
		}
	}
	if len(items) > 0 {
		b.WriteString("\n")
	}
}

func writeTextSection(b *strings.Builder, title, body string) {
	b.WriteString("## " + title + "\n\n")
	if body != "" {
		b.WriteString(strings.TrimSpace(body) + "\n\n")
	}
}
