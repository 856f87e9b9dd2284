package phasedoc

import (
	"regexp"
	"strconv"
	"strings"
)

// DefaultStoryPoints is assumed when a story carries no point estimate.
const DefaultStoryPoints = 5

// UserStoryOutput is the structured result of the user story phase.
type UserStoryOutput struct {
	Actor              string   `json:"actor"`
	Goal               string   `json:"goal"`
	Benefit            string   `json:"benefit"`
	AcceptanceCriteria []string `json:"acceptanceCriteria"`
	DefinitionOfDone   []string `json:"definitionOfDone"`
	BusinessValue      string   `json:"businessValue"`
	StoryPoints        int      `json:"storyPoints"`
}

// Complete reports whether the story core (actor, goal, benefit) was found.
// Callers use this to decide whether a legacy fallback source is needed.
func (s *UserStoryOutput) Complete() bool {
	return s.Actor != "" && s.Goal != "" && s.Benefit != ""
}

// The story fields match both the canonical line-per-field layout and the
// legacy inline form "**As a** X, **I want** Y, **So that** Z" that older
// issues carry in their description.
var (
	actorRe   = regexp.MustCompile(`(?mi)\*\*as an?:?\*\*:?\s*(.+?)(?:\s*,\s*\*\*i want:?\*\*.*)?\s*$`)
	goalRe    = regexp.MustCompile(`(?mi)\*\*i want:?\*\*:?\s*(.+?)(?:\s*,\s*\*\*so that:?\*\*.*)?\s*$`)
	benefitRe = regexp.MustCompile(`(?mi)\*\*so that:?\*\*:?\s*(.+?)\s*$`)
	pointsRe  = regexp.MustCompile(`(?mi)\*\*story points:?\*\*:?\s*(\d+)`)
)

// EncodeUserStory renders a user story as a canonical schema v1 document.
func EncodeUserStory(s *UserStoryOutput) string {
	var b strings.Builder
	b.WriteString(marker(KindUserStory) + "\n\n")

	b.WriteString("## Story\n\n")
	b.WriteString("**As a** " + s.Actor + "\n")
	b.WriteString("**I want** " + s.Goal + "\n")
	b.WriteString("**So that** " + s.Benefit + "\n\n")

	writeListSection(&b, "Acceptance Criteria", s.AcceptanceCriteria, true)
	writeListSection(&b, "Definition of Done", s.DefinitionOfDone, false)
	writeTextSection(&b, "Business Value", s.BusinessValue)

	points := s.StoryPoints
	if points <= 0 {
		points = DefaultStoryPoints
	}
	b.WriteString("**Story Points:** " + strconv.Itoa(points) + "\n")

	return b.String()
}

// DecodeUserStory extracts a user story from document text. It accepts
// canonical documents, hand-edited variants, and the legacy inline story
// line found in issue descriptions.
//
// Decoding never fails: fields that cannot be found come back empty (lists
// empty but non-nil, story points defaulted) and the miss is recorded on the
// parse-coverage metrics.
func DecodeUserStory(text string) *UserStoryOutput {
	out := &UserStoryOutput{
		AcceptanceCriteria: []string{},
		DefinitionOfDone:   []string{},
		StoryPoints:        DefaultStoryPoints,
	}

	cov := newCoverage(KindUserStory)

	if m := actorRe.FindStringSubmatch(text); m != nil {
		out.Actor = strings.TrimSpace(m[1])
	}
	cov.field("actor", out.Actor != "")

	if m := goalRe.FindStringSubmatch(text); m != nil {
		out.Goal = strings.TrimSpace(m[1])
	}
	cov.field("goal", out.Goal != "")

	if m := benefitRe.FindStringSubmatch(text); m != nil {
		out.Benefit = strings.TrimSpace(m[1])
	}
	cov.field("benefit", out.Benefit != "")

	sections := splitSections(text)

	if body, ok := sections["acceptance criteria"]; ok {
		out.AcceptanceCriteria = parseList(body)
	}
	cov.field("acceptance_criteria", len(out.AcceptanceCriteria) > 0)

	if body, ok := sections["definition of done"]; ok {
		out.DefinitionOfDone = parseList(body)
	}
	cov.field("definition_of_done", len(out.DefinitionOfDone) > 0)

	if body, ok := sections["business value"]; ok {
		out.BusinessValue = stripFieldLines(body)
	}
	cov.field("business_value", out.BusinessValue != "")

	pointsFound := false
	if m := pointsRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			out.StoryPoints = n
			pointsFound = true
		}
	}
	cov.field("story_points", pointsFound)

	cov.record()
	return out
}
