// Package automation defines per-project automation settings for the
// specification pipeline: which phases run, which AI model each phase uses,
// and the feature toggles that gate optional behavior inside a phase.
//
// A Config is resolved once when a run is triggered and is immutable for the
// lifetime of that run. Changing a project's automation settings affects the
// next run only.
package automation

import (
	"fmt"
)

// Phase identifies one step of the specification pipeline.
type Phase string

const (
	PhaseRefinement     Phase = "refinement"
	PhaseUserStory      Phase = "user_story"
	PhaseTechnicalPlan  Phase = "technical_plan"
	PhaseCodeGeneration Phase = "code_generation"
)

// Phases returns all pipeline phases in execution order.
func Phases() []Phase {
	return []Phase{PhaseRefinement, PhaseUserStory, PhaseTechnicalPlan, PhaseCodeGeneration}
}

// Valid reports whether p names a known pipeline phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseRefinement, PhaseUserStory, PhaseTechnicalPlan, PhaseCodeGeneration:
		return true
	}
	return false
}

// Title returns the human-readable phase name used in tracker updates and
// logs.
func (p Phase) Title() string {
	switch p {
	case PhaseRefinement:
		return "Refinement"
	case PhaseUserStory:
		return "User Story"
	case PhaseTechnicalPlan:
		return "Technical Plan"
	case PhaseCodeGeneration:
		return "Code Generation"
	}
	return string(p)
}

// ParsePhase converts a string into a Phase, rejecting unknown names.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase: %q", s)
	}
	return p, nil
}

// Feature toggle keys recognized by the pipeline. Unknown keys are preserved
// on the config but have no effect, so projects can stage flags ahead of a
// worker rollout.
const (
	FeatureReuseCodebaseContext = "reuseCodebaseContext"
	FeatureReuseDocumentContext = "reuseDocumentationContext"
	FeatureReuseUserStory       = "reuseUserStory"
	FeatureBestPracticesQuery   = "enableBestPracticesQuery"
	FeatureCouncil              = "enableCouncilAI"
	FeatureAutoStatusUpdate     = "enableAutoStatusUpdate"
)

// PhaseConfig holds the automation settings for a single phase.
type PhaseConfig struct {
	// Enabled controls whether the pipeline executes this phase at all.
	Enabled bool `json:"enabled" koanf:"enabled"`

	// AIModel is the model identifier used for this phase's generation
	// activity. Empty means the pipeline default.
	AIModel string `json:"aiModel" koanf:"ai_model"`

	// Features maps toggle keys to on/off. Missing keys read as false.
	Features map[string]bool `json:"features,omitempty" koanf:"features"`

	// CouncilModels lists the candidate models consulted when the council
	// feature is enabled. Only meaningful for the technical plan phase.
	CouncilModels []string `json:"councilModels,omitempty" koanf:"council_models"`

	// CouncilChairmanModel synthesizes the candidates' outputs into the
	// authoritative result. Empty falls back to AIModel.
	CouncilChairmanModel string `json:"councilChairmanModel,omitempty" koanf:"council_chairman_model"`
}

// Feature reports whether the named toggle is enabled for this phase.
func (pc PhaseConfig) Feature(name string) bool {
	if pc.Features == nil {
		return false
	}
	return pc.Features[name]
}

// Chairman returns the council chairman model, falling back to the phase
// model when no dedicated chairman is configured.
func (pc PhaseConfig) Chairman() string {
	if pc.CouncilChairmanModel != "" {
		return pc.CouncilChairmanModel
	}
	return pc.AIModel
}

// Config is the full automation configuration for one project.
type Config struct {
	// Version tracks the settings schema, for forward migration.
	Version int `json:"version" koanf:"version"`

	Phases map[Phase]PhaseConfig `json:"phases" koanf:"phases"`
}

// DefaultModel is used for any phase that does not name its own model.
const DefaultModel = "claude-3-5-sonnet-20241022"

// DefaultConfig returns the automation settings applied when a project has
// none of its own: every phase enabled, context reuse on for the phases that
// consume earlier output, council off.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Phases: map[Phase]PhaseConfig{
			PhaseRefinement: {
				Enabled: true,
				AIModel: DefaultModel,
				Features: map[string]bool{
					FeatureAutoStatusUpdate: true,
				},
			},
			PhaseUserStory: {
				Enabled: true,
				AIModel: DefaultModel,
				Features: map[string]bool{
					FeatureReuseCodebaseContext: true,
					FeatureReuseDocumentContext: true,
					FeatureAutoStatusUpdate:     true,
				},
			},
			PhaseTechnicalPlan: {
				Enabled: true,
				AIModel: DefaultModel,
				Features: map[string]bool{
					FeatureReuseUserStory:       true,
					FeatureReuseCodebaseContext: true,
					FeatureBestPracticesQuery:   true,
					FeatureAutoStatusUpdate:     true,
				},
			},
			PhaseCodeGeneration: {
				Enabled: true,
				AIModel: DefaultModel,
				Features: map[string]bool{
					FeatureReuseUserStory:       true,
					FeatureReuseCodebaseContext: true,
					FeatureAutoStatusUpdate:     true,
				},
			},
		},
	}
}

// Phase returns the settings for p, substituting a disabled zero config for
// phases the project never mentions.
func (c *Config) Phase(p Phase) PhaseConfig {
	if c == nil || c.Phases == nil {
		return PhaseConfig{}
	}
	return c.Phases[p]
}

// EnabledPhases returns the enabled phases in execution order.
func (c *Config) EnabledPhases() []Phase {
	var out []Phase
	for _, p := range Phases() {
		if c.Phase(p).Enabled {
			out = append(out, p)
		}
	}
	return out
}

// Normalize fills defaulted fields in place: nil feature maps become empty
// maps and phases without a model get DefaultModel.
func (c *Config) Normalize() {
	if c.Phases == nil {
		c.Phases = map[Phase]PhaseConfig{}
	}
	for p, pc := range c.Phases {
		if pc.Features == nil {
			pc.Features = map[string]bool{}
		}
		if pc.AIModel == "" {
			pc.AIModel = DefaultModel
		}
		c.Phases[p] = pc
	}
	if c.Version == 0 {
		c.Version = 1
	}
}

// Validate checks the configuration for contradictions. Unknown feature keys
// are allowed; unknown phase names and an enabled council without candidate
// models are not.
func (c *Config) Validate() error {
	for p, pc := range c.Phases {
		if !p.Valid() {
			return fmt.Errorf("unknown phase: %q", p)
		}
		if pc.Feature(FeatureCouncil) && len(pc.CouncilModels) == 0 {
			return fmt.Errorf("phase %s: council enabled with no council models", p)
		}
	}
	return nil
}
