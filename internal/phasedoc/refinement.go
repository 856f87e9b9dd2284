package phasedoc

import "strings"

// RefinementOutput is the structured result of the refinement phase: the raw
// issue description sharpened into a problem statement with explicit scope.
type RefinementOutput struct {
	ProblemStatement   string   `json:"problemStatement"`
	Objectives         []string `json:"objectives"`
	InScope            []string `json:"inScope"`
	OutOfScope         []string `json:"outOfScope"`
	OpenQuestions      []string `json:"openQuestions"`
	RefinedDescription string   `json:"refinedDescription"`
}

// EncodeRefinement renders a refinement result as a schema v1 document.
func EncodeRefinement(r *RefinementOutput) string {
	var b strings.Builder
	b.WriteString(marker(KindRefinement) + "\n\n")

	writeTextSection(&b, "Problem Statement", r.ProblemStatement)
	writeListSection(&b, "Objectives", r.Objectives, true)
	writeListSection(&b, "In Scope", r.InScope, false)
	writeListSection(&b, "Out of Scope", r.OutOfScope, false)
	writeListSection(&b, "Open Questions", r.OpenQuestions, false)
	writeTextSection(&b, "Refined Description", r.RefinedDescription)

	return strings.TrimRight(b.String(), "\n") + "\n"
}

// DecodeRefinement extracts a refinement result from document text. Missing
// sections decode to empty values; decoding never fails.
func DecodeRefinement(text string) *RefinementOutput {
	out := &RefinementOutput{
		Objectives:    []string{},
		InScope:       []string{},
		OutOfScope:    []string{},
		OpenQuestions: []string{},
	}

	cov := newCoverage(KindRefinement)
	sections := splitSections(text)

	if body, ok := sections["problem statement"]; ok {
		out.ProblemStatement = stripFieldLines(body)
	}
	cov.field("problem_statement", out.ProblemStatement != "")

	if body, ok := sections["objectives"]; ok {
		out.Objectives = parseList(body)
	}
	cov.field("objectives", len(out.Objectives) > 0)

	if body, ok := sections["in scope"]; ok {
		out.InScope = parseList(body)
	}
	cov.field("in_scope", len(out.InScope) > 0)

	if body, ok := sections["out of scope"]; ok {
		out.OutOfScope = parseList(body)
	}
	cov.field("out_of_scope", len(out.OutOfScope) > 0)

	if body, ok := sections["open questions"]; ok {
		out.OpenQuestions = parseList(body)
	}
	cov.field("open_questions", len(out.OpenQuestions) > 0)

	if body, ok := sections["refined description"]; ok {
		out.RefinedDescription = stripFieldLines(body)
	}
	cov.field("refined_description", out.RefinedDescription != "")

	cov.record()
	return out
}
