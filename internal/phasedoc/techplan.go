package phasedoc

import "strings"

// TechnicalPlanOutput is the structured result of the technical plan phase.
type TechnicalPlanOutput struct {
	Architecture        []string `json:"architecture"`
	ImplementationSteps []string `json:"implementationSteps"`
	TestingStrategy     string   `json:"testingStrategy"`
	Risks               []string `json:"risks"`
	Dependencies        []string `json:"dependencies"`
	TechnicalDecisions  []string `json:"technicalDecisions"`
}

// EncodeTechnicalPlan renders a technical plan as a schema v1 document.
func EncodeTechnicalPlan(p *TechnicalPlanOutput) string {
	var b strings.Builder
	b.WriteString(marker(KindTechnicalPlan) + "\n\n")

	writeListSection(&b, "Architecture", p.Architecture, false)
	writeListSection(&b, "Implementation Steps", p.ImplementationSteps, true)
	writeTextSection(&b, "Testing Strategy", p.TestingStrategy)
	writeListSection(&b, "Risks", p.Risks, false)
	writeListSection(&b, "Dependencies", p.Dependencies, false)
	writeListSection(&b, "Technical Decisions", p.TechnicalDecisions, false)

	return strings.TrimRight(b.String(), "\n") + "\n"
}

// DecodeTechnicalPlan extracts a technical plan from document text. Missing
// sections decode to empty values; decoding never fails.
func DecodeTechnicalPlan(text string) *TechnicalPlanOutput {
	out := &TechnicalPlanOutput{
		Architecture:        []string{},
		ImplementationSteps: []string{},
		Risks:               []string{},
		Dependencies:        []string{},
		TechnicalDecisions:  []string{},
	}

	cov := newCoverage(KindTechnicalPlan)
	sections := splitSections(text)

	if body, ok := sections["architecture"]; ok {
		out.Architecture = parseList(body)
	}
	cov.field("architecture", len(out.Architecture) > 0)

	if body, ok := sections["implementation steps"]; ok {
		out.ImplementationSteps = parseList(body)
	}
	cov.field("implementation_steps", len(out.ImplementationSteps) > 0)

	if body, ok := sections["testing strategy"]; ok {
		out.TestingStrategy = stripFieldLines(body)
	}
	cov.field("testing_strategy", out.TestingStrategy != "")

	if body, ok := sections["risks"]; ok {
		out.Risks = parseList(body)
	}
	cov.field("risks", len(out.Risks) > 0)

	if body, ok := sections["dependencies"]; ok {
		out.Dependencies = parseList(body)
	}
	cov.field("dependencies", len(out.Dependencies) > 0)

	if body, ok := sections["technical decisions"]; ok {
		out.TechnicalDecisions = parseList(body)
	}
	cov.field("technical_decisions", len(out.TechnicalDecisions) > 0)

	cov.record()
	return out
}
