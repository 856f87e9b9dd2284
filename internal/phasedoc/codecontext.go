package phasedoc

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// CodeChunk is one retrieved source excerpt inside a codebase context
// document. Score is the retrieval relevance, normalized to [0, 1].
type CodeChunk struct {
	Path      string  `json:"path"`
	Language  string  `json:"language,omitempty"`
	StartLine int     `json:"startLine,omitempty"`
	EndLine   int     `json:"endLine,omitempty"`
	ChunkType string  `json:"chunkType,omitempty"`
	Score     float64 `json:"score"`
	Content   string  `json:"content"`
}

var (
	relevanceRe = regexp.MustCompile(`(?i)\*\*relevance:?\*\*:?\s*(\d+(?:\.\d+)?)\s*%`)
	languageRe  = regexp.MustCompile(`(?i)\*\*language:?\*\*:?\s*([A-Za-z0-9_+#.-]+)`)
	linesRe     = regexp.MustCompile(`(?i)\*\*lines:?\*\*:?\s*(\d+)\s*-\s*(\d+)`)
	chunkTypeRe = regexp.MustCompile(`(?i)\*\*type:?\*\*:?\s*([A-Za-z_-]+)`)

	fencedRe   = regexp.MustCompile("(?s)```[A-Za-z0-9_+#.-]*\n(.*?)```")
	backtickRe = regexp.MustCompile("`([^`]+)`")
)

// EncodeCodeContext renders retrieved code chunks as a schema v1 document.
func EncodeCodeContext(chunks []CodeChunk) string {
	var b strings.Builder
	b.WriteString(marker(KindCodebaseContext) + "\n\n")
	b.WriteString("## Codebase Context\n\n")

	for i, c := range chunks {
		fmt.Fprintf(&b, "### %d. `%s`\n\n", i+1, c.Path)

		meta := []string{fmt.Sprintf("**Relevance:** %d%%", int(c.Score*100+0.5))}
		if c.Language != "" {
			meta = append(meta, "**Language:** "+c.Language)
		}
		if c.StartLine > 0 && c.EndLine >= c.StartLine {
			meta = append(meta, fmt.Sprintf("**Lines:** %d-%d", c.StartLine, c.EndLine))
		}
		if c.ChunkType != "" {
			meta = append(meta, "**Type:** "+c.ChunkType)
		}
		b.WriteString(strings.Join(meta, " | ") + "\n\n")

		fence := "```" + c.Language
		b.WriteString(fence + "\n" + strings.TrimRight(c.Content, "\n") + "\n```\n\n")
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

// DecodeCodeContext extracts code chunks from a codebase context document.
//
// Returns nil when the text contains no chunk sections at all: "no context
// was retrieved" and "a context document with zero usable chunks" are
// different signals to the prompt builder. Malformed metadata degrades to
// zero values rather than dropping the chunk.
func DecodeCodeContext(text string) []CodeChunk {
	cov := newCoverage(KindCodebaseContext)
	defer cov.record()

	subs := splitSubsections(text)
	cov.field("chunks", len(subs) > 0)
	if len(subs) == 0 {
		return nil
	}

	chunks := make([]CodeChunk, 0, len(subs))
	for _, sub := range subs {
		c := CodeChunk{Path: chunkPath(sub.title)}

		if m := relevanceRe.FindStringSubmatch(sub.body); m != nil {
			if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
				c.Score = clamp01(pct / 100)
			}
		}
		if m := languageRe.FindStringSubmatch(sub.body); m != nil {
			c.Language = m[1]
		}
		if m := linesRe.FindStringSubmatch(sub.body); m != nil {
			c.StartLine, _ = strconv.Atoi(m[1])
			c.EndLine, _ = strconv.Atoi(m[2])
		}
		if m := chunkTypeRe.FindStringSubmatch(sub.body); m != nil {
			c.ChunkType = m[1]
		}
		if m := fencedRe.FindStringSubmatch(sub.body); m != nil {
			c.Content = strings.TrimRight(m[1], "\n")
		}

		chunks = append(chunks, c)
	}
	return chunks
}

// chunkPath strips the "N." prefix and backticks from a chunk heading.
func chunkPath(title string) string {
	title = strings.TrimSpace(title)
	if i := strings.IndexAny(title, ".)"); i > 0 {
		if _, err := strconv.Atoi(strings.TrimSpace(title[:i])); err == nil {
			title = strings.TrimSpace(title[i+1:])
		}
	}
	if m := backtickRe.FindStringSubmatch(title); m != nil {
		return m[1]
	}
	return title
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
