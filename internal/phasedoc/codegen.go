package phasedoc

import (
	"fmt"
	"regexp"
	"strings"
)

// FileAction describes what the code generation phase proposes for one file.
type FileAction string

const (
	ActionCreate FileAction = "create"
	ActionModify FileAction = "modify"
	ActionDelete FileAction = "delete"
)

// PlannedFile is one file change proposed by the code generation phase. The
// pipeline records intent only; applying changes to a repository is outside
// its responsibility.
type PlannedFile struct {
	Path        string     `json:"path"`
	Action      FileAction `json:"action"`
	Description string     `json:"description"`
}

// CodeGenerationOutput is the structured result of the code generation phase.
type CodeGenerationOutput struct {
	Summary   string        `json:"summary"`
	Files     []PlannedFile `json:"files"`
	TestNotes string        `json:"testNotes"`
	FollowUps []string      `json:"followUps"`
}

var actionRe = regexp.MustCompile(`(?i)\*\*action:?\*\*:?\s*([a-z]+)`)

// EncodeCodeGeneration renders a code generation result as a schema v1
// document.
func EncodeCodeGeneration(g *CodeGenerationOutput) string {
	var b strings.Builder
	b.WriteString(marker(KindCodeGeneration) + "\n\n")

	writeTextSection(&b, "Summary", g.Summary)

	b.WriteString("## Files\n\n")
	for i, f := range g.Files {
		fmt.Fprintf(&b, "### %d. `%s`\n\n", i+1, f.Path)
		fmt.Fprintf(&b, "**Action:** %s\n\n", f.Action)
		if f.Description != "" {
			b.WriteString(strings.TrimSpace(f.Description) + "\n\n")
		}
	}

	writeTextSection(&b, "Test Notes", g.TestNotes)
	writeListSection(&b, "Follow Ups", g.FollowUps, false)

	return strings.TrimRight(b.String(), "\n") + "\n"
}

// DecodeCodeGeneration extracts a code generation result from document text.
// Missing sections decode to empty values; decoding never fails.
func DecodeCodeGeneration(text string) *CodeGenerationOutput {
	out := &CodeGenerationOutput{
		Files:     []PlannedFile{},
		FollowUps: []string{},
	}

	cov := newCoverage(KindCodeGeneration)
	sections := splitSections(text)

	if body, ok := sections["summary"]; ok {
		out.Summary = stripFieldLines(body)
	}
	cov.field("summary", out.Summary != "")

	if body, ok := sections["files"]; ok {
		for _, sub := range splitSubsections(body) {
			f := PlannedFile{Path: chunkPath(sub.title)}
			if m := actionRe.FindStringSubmatch(sub.body); m != nil {
				f.Action = FileAction(strings.ToLower(m[1]))
			}
			f.Description = stripFieldLines(sub.body)
			out.Files = append(out.Files, f)
		}
	}
	cov.field("files", len(out.Files) > 0)

	if body, ok := sections["test notes"]; ok {
		out.TestNotes = stripFieldLines(body)
	}
	cov.field("test_notes", out.TestNotes != "")

	if body, ok := sections["follow ups"]; ok {
		out.FollowUps = parseList(body)
	}
	cov.field("follow_ups", len(out.FollowUps) > 0)

	cov.record()
	return out
}
