// Package prompts holds the generation prompts as embedded templates, one
// per pipeline phase plus the council chairman and the best practices
// enrichment. Keeping them as files makes prompt review a normal code
// review instead of string-literal archaeology.
package prompts

import (
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

// Prompt names, matching the template files.
const (
	Refinement     = "refinement"
	UserStory      = "user_story"
	TechnicalPlan  = "technical_plan"
	Chairman       = "chairman"
	CodeGeneration = "code_generation"
	BestPractices  = "best_practices"
)

// Candidate is one council member's proposal, passed to the chairman prompt.
type Candidate struct {
	Model   string
	Content string
}

// Vars carries everything a phase prompt can reference. Fields a template
// does not mention are ignored; empty fields suppress their block.
type Vars struct {
	Title                string
	Identifier           string
	Description          string
	Refinement           string
	UserStory            string
	TechnicalPlan        string
	CodebaseContext      string
	DocumentationContext string
	BestPractices        string
	Candidates           []Candidate
}

// Render executes the named prompt template.
func Render(name string, vars Vars) (string, error) {
	var b strings.Builder
	if err := templates.ExecuteTemplate(&b, name+".tmpl", vars); err != nil {
		return "", fmt.Errorf("render prompt %q: %w", name, err)
	}
	return strings.TrimSpace(b.String()) + "\n", nil
}

// Names returns every available prompt name.
func Names() []string {
	var names []string
	for _, t := range templates.Templates() {
		name := strings.TrimSuffix(t.Name(), ".tmpl")
		if name != t.Name() {
			names = append(names, name)
		}
	}
	return names
}
