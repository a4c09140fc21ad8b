package rules

import (
	"strings"

	"signalbridge/internal/event"
)

// Engine matches events against the static rule set. Evaluation is a pure
// function of the rule set and one event.
type Engine struct {
	rules []Rule
}

func NewEngine(rules []Rule) *Engine {
	return &Engine{rules: rules}
}

func (e *Engine) Rules() []Rule { return e.rules }

// Evaluate returns every rule whose trigger type equals the event type and
// whose filter (if any) appears, case-insensitively, in the canonical
// serialization of the event. Matches are returned in load order.
func (e *Engine) Evaluate(ev event.Event) []Rule {
	var matches []Rule
	var haystack string
	for _, r := range e.rules {
		if r.Trigger.Type != ev.Type {
			continue
		}
		if r.Trigger.Filter == "" {
			matches = append(matches, r)
			continue
		}
		if haystack == "" {
			haystack = strings.ToLower(event.CanonicalJSON(ev))
		}
		if strings.Contains(haystack, strings.ToLower(r.Trigger.Filter)) {
			matches = append(matches, r)
		}
	}
	return matches
}
