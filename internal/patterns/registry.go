// Package patterns holds the versioned regex sets used to classify terminal
// scroll-back. The AI tool's terminal UI drifts between releases, so each
// pattern set is immutable and tagged with the upstream release it was
// calibrated against; switching versions needs no code edits.
package patterns

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

type StateClass string

const (
	ClassWaiting StateClass = "waiting"
	ClassWorking StateClass = "working"
	ClassIdle    StateClass = "idle"
	ClassError   StateClass = "error"
)

// DetectionOrder is the strict priority in which classes are considered.
var DetectionOrder = []StateClass{ClassError, ClassWaiting, ClassWorking, ClassIdle}

type Pattern struct {
	Tag        string
	Regex      *regexp.Regexp
	Confidence float64
}

type PromptKind string

const (
	KindPermission PromptKind = "permission"
	KindQuestion   PromptKind = "question"
	KindPlan       PromptKind = "plan"
	KindFeedback   PromptKind = "feedback"
)

// OptionExtractors are tried in order when pulling choices out of a waiting
// prompt: numbered lists first, then bullets, then arrowed selections.
type OptionExtractors struct {
	Numbered *regexp.Regexp
	Bulleted *regexp.Regexp
	Arrowed  *regexp.Regexp
}

type Version struct {
	Name              string
	CalibratedAgainst string
	patterns          map[StateClass][]Pattern
	thresholds        map[StateClass]float64
	options           OptionExtractors
	promptKinds       map[string]PromptKind
}

func (v *Version) PatternsFor(class StateClass) []Pattern {
	out := make([]Pattern, len(v.patterns[class]))
	copy(out, v.patterns[class])
	return out
}

func (v *Version) ThresholdFor(class StateClass) float64 {
	return v.thresholds[class]
}

func (v *Version) Options() OptionExtractors {
	return v.options
}

// PromptKindForTag maps a matched waiting tag to a prompt kind. Explicit
// table entries win; unknown tags fall back to substring matching, and then
// to feedback.
func (v *Version) PromptKindForTag(tag string) PromptKind {
	if kind, ok := v.promptKinds[tag]; ok {
		return kind
	}
	switch {
	case strings.Contains(tag, "permission"):
		return KindPermission
	case strings.Contains(tag, "plan"):
		return KindPlan
	case strings.Contains(tag, "question"):
		return KindQuestion
	default:
		return KindFeedback
	}
}

type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*Version
	order   []string
	current string
}

func NewRegistry() *Registry {
	return &Registry{byName: map[string]*Version{}}
}

func (r *Registry) Register(v *Version) error {
	if v == nil {
		return errors.New("version is nil")
	}
	name := strings.TrimSpace(v.Name)
	if name == "" {
		return errors.New("version name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("pattern version %q already registered", name)
	}
	r.byName[name] = v
	r.order = append(r.order, name)
	if r.current == "" {
		r.current = name
	}
	return nil
}

func (r *Registry) MustRegister(v *Version) {
	if err := r.Register(v); err != nil {
		panic(err)
	}
}

// Use selects the active version. Unknown versions fail loudly rather than
// silently falling back, so a bad PATTERN_VERSION is caught at startup.
func (r *Registry) Use(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; !ok {
		return fmt.Errorf("unknown pattern version %q (have %s)", name, strings.Join(r.order, ", "))
	}
	r.current = name
	return nil
}

func (r *Registry) Current() *Version {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[r.current]
}

func (r *Registry) Versions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
