// Package termparse turns raw scroll-back text into a status candidate with
// a confidence score. It is a pure function over the pattern registry; it
// never fails and never touches tmux.
package termparse

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/whoabuddy/claude-rpg/internal/patterns"
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusWorking Status = "working"
	StatusWaiting Status = "waiting"
	StatusError   Status = "error"
	StatusUnknown Status = "unknown"
)

type Option struct {
	Label string `json:"label"`
	Key   string `json:"key"`
}

type Prompt struct {
	Kind        patterns.PromptKind `json:"kind"`
	Question    string              `json:"question"`
	Options     []Option            `json:"options"`
	MultiSelect bool                `json:"multiSelect"`
	Hash        string              `json:"hash"`
}

type Detection struct {
	Status     Status
	Confidence float64
	MatchedTag string
	Prompt     *Prompt
	ErrorText  string
}

const (
	tailLines = 50
	// Each extra match past the first adds a small boost so several weak
	// signals can outweigh one lone strong signal of a lower class.
	perMatchBoost = 0.1
	maxBoost      = 0.3
	// Confidence reported when content is present but nothing matched.
	unmatchedConfidence = 0.3
)

type Parser struct {
	registry *patterns.Registry
}

func NewParser(registry *patterns.Registry) *Parser {
	if registry == nil {
		registry = patterns.Default
	}
	return &Parser{registry: registry}
}

func (p *Parser) Detect(content string) Detection {
	if strings.TrimSpace(content) == "" {
		return Detection{Status: StatusUnknown, Confidence: 0}
	}

	version := p.registry.Current()
	tail := lastLines(content, tailLines)
	text := strings.Join(tail, "\n")

	for _, class := range patterns.DetectionOrder {
		confidence, tag, matched := aggregateClass(version.PatternsFor(class), text)
		if !matched || confidence <= version.ThresholdFor(class) {
			continue
		}
		det := Detection{
			Status:     statusForClass(class),
			Confidence: confidence,
			MatchedTag: tag,
		}
		switch class {
		case patterns.ClassWaiting:
			det.Prompt = extractPrompt(version, tail, text, tag)
		case patterns.ClassError:
			det.ErrorText = extractError(version, tail)
		}
		return det
	}

	return Detection{Status: StatusUnknown, Confidence: unmatchedConfidence}
}

func aggregateClass(list []patterns.Pattern, text string) (float64, string, bool) {
	sum := 0.0
	count := 0
	bestTag := ""
	bestBase := -1.0
	for _, pat := range list {
		if !pat.Regex.MatchString(text) {
			continue
		}
		sum += pat.Confidence
		count++
		if pat.Confidence > bestBase {
			bestBase = pat.Confidence
			bestTag = pat.Tag
		}
	}
	if count == 0 {
		return 0, "", false
	}
	boost := perMatchBoost * float64(count)
	if boost > maxBoost {
		boost = maxBoost
	}
	confidence := sum/float64(count) + boost
	if confidence > 1 {
		confidence = 1
	}
	return confidence, bestTag, true
}

func statusForClass(class patterns.StateClass) Status {
	switch class {
	case patterns.ClassWaiting:
		return StatusWaiting
	case patterns.ClassWorking:
		return StatusWorking
	case patterns.ClassIdle:
		return StatusIdle
	case patterns.ClassError:
		return StatusError
	default:
		return StatusUnknown
	}
}

func extractPrompt(version *patterns.Version, tail []string, text, tag string) *Prompt {
	question := findQuestionLine(version, tail)
	options, multi := extractOptions(version, text)
	prompt := &Prompt{
		Kind:        version.PromptKindForTag(tag),
		Question:    question,
		Options:     options,
		MultiSelect: multi,
	}
	prompt.Hash = promptHash(prompt)
	return prompt
}

// findQuestionLine picks the last non-empty line containing a question mark,
// falling back to the last line matching a waiting pattern. Option rows sit
// below the question, so the question-mark pass runs first.
func findQuestionLine(version *patterns.Version, tail []string) string {
	for i := len(tail) - 1; i >= 0; i-- {
		line := strings.TrimSpace(tail[i])
		if line != "" && strings.Contains(line, "?") {
			return line
		}
	}
	waiting := version.PatternsFor(patterns.ClassWaiting)
	for i := len(tail) - 1; i >= 0; i-- {
		line := strings.TrimSpace(tail[i])
		if line == "" {
			continue
		}
		for _, pat := range waiting {
			if pat.Regex.MatchString(line) {
				return line
			}
		}
	}
	return ""
}

func extractOptions(version *patterns.Version, text string) ([]Option, bool) {
	ex := version.Options()
	if opts := numberedOptions(ex, text); len(opts) > 0 {
		return opts, multiSelectHinted(text)
	}
	if opts := indexedOptions(ex.Bulleted.FindAllStringSubmatch(text, -1)); len(opts) > 0 {
		return opts, multiSelectHinted(text)
	}
	if opts := indexedOptions(ex.Arrowed.FindAllStringSubmatch(text, -1)); len(opts) > 0 {
		return opts, multiSelectHinted(text)
	}
	return nil, false
}

// indexedOptions keys bulleted and arrowed lists by position. A single match
// is ignored: one bullet line is far more likely prose than a choice list.
func indexedOptions(matches [][]string) []Option {
	if len(matches) < 2 {
		return nil
	}
	opts := make([]Option, 0, len(matches))
	for i, m := range matches {
		opts = append(opts, Option{Label: m[1], Key: strconv.Itoa(i + 1)})
	}
	return opts
}

func numberedOptions(ex patterns.OptionExtractors, text string) []Option {
	matches := ex.Numbered.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	opts := make([]Option, 0, len(matches))
	for _, m := range matches {
		opts = append(opts, Option{Label: m[2], Key: m[1]})
	}
	return opts
}

func multiSelectHinted(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "select all") || strings.Contains(lower, "multi-select")
}

// extractError scans bottom-up for the first line matching an error pattern,
// which for stack traces yields the closest-to-failure line.
func extractError(version *patterns.Version, tail []string) string {
	errPatterns := version.PatternsFor(patterns.ClassError)
	for i := len(tail) - 1; i >= 0; i-- {
		line := strings.TrimSpace(tail[i])
		if line == "" {
			continue
		}
		for _, pat := range errPatterns {
			if pat.Regex.MatchString(line) {
				return line
			}
		}
	}
	return ""
}

func promptHash(p *Prompt) string {
	h := xxhash.New()
	_, _ = h.WriteString(string(p.Kind))
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(p.Question)
	for _, opt := range p.Options {
		_, _ = h.WriteString("\x00")
		_, _ = h.WriteString(opt.Key)
		_, _ = h.WriteString("=")
		_, _ = h.WriteString(opt.Label)
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

func lastLines(text string, n int) []string {
	lines := strings.Split(text, "\n")
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
