package phasedoc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeGenerationRoundTrip(t *testing.T) {
	doc := readFixture(t, "code_generation_v1.md")
	assert.Equal(t, doc, EncodeCodeGeneration(DecodeCodeGeneration(doc)))
}

func TestDecodeCodeGenerationFixture(t *testing.T) {
	got := DecodeCodeGeneration(readFixture(t, "code_generation_v1.md"))

	assert.Contains(t, got.Summary, "bounded retry budget")
	require.Len(t, got.Files, 2)

	assert.Equal(t, PlannedFile{
		Path:        "internal/runner/retry.go",
		Action:      ActionCreate,
		Description: "Backoff calculation and transient error classification.",
	}, got.Files[0])
	assert.Equal(t, ActionModify, got.Files[1].Action)

	assert.Contains(t, got.TestNotes, "503")
	assert.Len(t, got.FollowUps, 1)
}

func TestDecodeCodeGenerationUnknownAction(t *testing.T) {
	doc := "## Files\n\n### 1. `a.go`\n\n**Action:** rename\n\nmoved elsewhere\n"
	got := DecodeCodeGeneration(doc)

	require.Len(t, got.Files, 1)
	assert.Equal(t, FileAction("rename"), got.Files[0].Action,
		"unknown actions pass through for the human record")
}

func TestDecodeCodeGenerationNeverFails(t *testing.T) {
	got := DecodeCodeGeneration("")

	assert.NotNil(t, got)
	assert.NotNil(t, got.Files)
	assert.NotNil(t, got.FollowUps)
	assert.Empty(t, got.Summary)
}
