package phasedoc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		wantVersion int
		wantKind    DocumentKind
	}{
		{
			name:        "canonical marker",
			text:        "<!-- specd/phasedoc v1 user_story -->\n\n## Story\n",
			wantVersion: 1,
			wantKind:    KindUserStory,
		},
		{
			name:        "future version",
			text:        "<!-- specd/phasedoc v3 technical_plan -->",
			wantVersion: 3,
			wantKind:    KindTechnicalPlan,
		},
		{
			name:        "no marker assumes v1",
			text:        "## Story\n\n**As a** someone\n",
			wantVersion: 1,
			wantKind:    "",
		},
		{
			name:        "marker with extra whitespace",
			text:        "<!--   specd/phasedoc   v2   refinement   -->",
			wantVersion: 2,
			wantKind:    KindRefinement,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, kind := Detect(tt.text)
			assert.Equal(t, tt.wantVersion, version)
			assert.Equal(t, tt.wantKind, kind)
		})
	}
}

func TestFixturesCarryMarkers(t *testing.T) {
	fixtures := map[string]DocumentKind{
		"user_story_v1.md":      KindUserStory,
		"code_context_v1.md":    KindCodebaseContext,
		"refinement_v1.md":      KindRefinement,
		"technical_plan_v1.md":  KindTechnicalPlan,
		"code_generation_v1.md": KindCodeGeneration,
	}

	for name, kind := range fixtures {
		t.Run(name, func(t *testing.T) {
			version, got := Detect(readFixture(t, name))
			assert.Equal(t, SchemaVersion, version)
			assert.Equal(t, kind, got)
		})
	}
}

func TestDocumentKindValid(t *testing.T) {
	for _, k := range []DocumentKind{
		KindCodebaseContext, KindDocumentationContext, KindRefinement,
		KindUserStory, KindBestPractices, KindTechnicalPlan, KindCodeGeneration,
	} {
		assert.True(t, k.Valid(), "%s", k)
		assert.NotEqual(t, string(k), k.Title(), "titles are human-cased")
	}
	assert.False(t, DocumentKind("retrospective").Valid())
}

func TestSplitSections(t *testing.T) {
	text := "intro ignored\n\n## First\n\nbody one\n\n## Second\n\nbody two\n\n### Sub\n\nsub body\n"
	sections := splitSections(text)

	assert.Equal(t, "body one", sections["first"])
	assert.Contains(t, sections["second"], "body two")
	assert.Contains(t, sections["second"], "### Sub", "H3 blocks stay inside their H2 section")
	assert.NotContains(t, sections, "sub")
}

func TestParseListPrefersNumbered(t *testing.T) {
	body := "1. one\n2. two\n\n- stray bullet\n"
	assert.Equal(t, []string{"one", "two"}, parseList(body))

	assert.Equal(t, []string{"only bullets"}, parseList("- only bullets\n"))
	assert.Empty(t, parseList("no list at all"))
}

func TestStripFieldLines(t *testing.T) {
	body := "Real prose.\n\n**Story Points:** 5\nMore prose."
	assert.Equal(t, "Real prose.\n\nMore prose.", stripFieldLines(body))
}
