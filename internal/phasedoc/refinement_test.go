package phasedoc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRefinementRoundTrip(t *testing.T) {
	doc := readFixture(t, "refinement_v1.md")
	assert.Equal(t, doc, EncodeRefinement(DecodeRefinement(doc)))
}

func TestDecodeRefinementFixture(t *testing.T) {
	got := DecodeRefinement(readFixture(t, "refinement_v1.md"))

	assert.Contains(t, got.ProblemStatement, "single unstructured paragraph")
	assert.Len(t, got.Objectives, 2)
	assert.Equal(t, []string{
		"Parsing the existing issue description",
		"Recording open questions for the reporter",
	}, got.InScope)
	assert.Len(t, got.OutOfScope, 2)
	assert.Len(t, got.OpenQuestions, 1)
	assert.Contains(t, got.RefinedDescription, "explicit problem statement")
}

func TestDecodeRefinementNeverFails(t *testing.T) {
	got := DecodeRefinement("an issue with no structure whatsoever")

	assert.NotNil(t, got)
	assert.Empty(t, got.ProblemStatement)
	assert.NotNil(t, got.Objectives)
	assert.NotNil(t, got.OpenQuestions)
}
