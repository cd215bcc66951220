package extract

import (
	"errors"
	"regexp"
	"strings"
	"sync"
)

// ErrNotFound is returned by Outcome.Err when a response holds no code block.
var ErrNotFound = errors.New("no code block found")

// DefaultLanguage is the fence tag Extract looks for.
const DefaultLanguage = "python"

// Extractor scans responses for fenced code blocks.
type Extractor struct {
	// Language is the fence tag.
	// Default: python
	Language string

	// MaxFragments keeps at most this many blocks. Zero means unlimited.
	MaxFragments int

	once    sync.Once
	pattern *regexp.Regexp
}

// Outcome is the result of scanning one response.
type Outcome struct {
	// Code is the merged program text. Empty when nothing was found.
	Code string

	// Fragments are the dedented, non-empty blocks in order of appearance.
	Fragments []string

	// Truncated reports that blocks beyond MaxFragments were dropped.
	Truncated bool
}

var defaultExtractor = &Extractor{}

// Extract scans text for ```python blocks.
func Extract(text string) Outcome {
	return defaultExtractor.Extract(text)
}

// Extract scans text for blocks tagged with the extractor's language.
func (e *Extractor) Extract(text string) Outcome {
	e.once.Do(e.compile)

	var out Outcome
	for _, m := range e.pattern.FindAllStringSubmatch(text, -1) {
		fragment := dedent(m[1])
		if fragment == "" {
			continue
		}
		if e.MaxFragments > 0 && len(out.Fragments) == e.MaxFragments {
			out.Truncated = true
			break
		}
		out.Fragments = append(out.Fragments, fragment)
	}
	out.Code = strings.Join(out.Fragments, "\n\n")
	return out
}

// dedent drops the blank lines around a block and the leading whitespace
// its non-blank lines share. Relative indentation is kept.
func dedent(block string) string {
	lines := strings.Split(strings.ReplaceAll(block, "\r\n", "\n"), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return ""
	}

	prefix := ""
	first := true
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		if first {
			prefix, first = indent, false
			continue
		}
		for !strings.HasPrefix(indent, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			lines[i] = ""
			continue
		}
		lines[i] = strings.TrimRight(strings.TrimPrefix(line, prefix), " \t")
	}
	return strings.Join(lines, "\n")
}

func (e *Extractor) compile() {
	lang := e.Language
	if lang == "" {
		lang = DefaultLanguage
	}
	e.pattern = regexp.MustCompile("(?s)```" + regexp.QuoteMeta(lang) + `\b(.*?)` + "```")
}

// Found reports whether any code was extracted.
func (o Outcome) Found() bool {
	return o.Code != ""
}

// Err returns ErrNotFound when nothing was extracted, nil otherwise.
func (o Outcome) Err() error {
	if !o.Found() {
		return ErrNotFound
	}
	return nil
}

// Rebinds counts the fragments that assign name at the start of a line.
// Augmented assignments and tuple targets are not counted.
func (o Outcome) Rebinds(name string) int {
	if name == "" {
		return 0
	}
	assign := regexp.MustCompile(`(?m)^\s*` + regexp.QuoteMeta(name) + `\s*(?::[^=\n]+)?=[^=]`)
	n := 0
	for _, f := range o.Fragments {
		if assign.MatchString(f) {
			n++
		}
	}
	return n
}
