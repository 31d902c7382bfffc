package reader

import (
	"regexp"
	"strings"

	"github.com/cuemby/eventstore/pkg/types"
)

// Predicate reports whether an event matches a compiled filter. It is
// built once at subscribe/read time so no per-event regex compilation
// happens on the hot path.
type Predicate func(streamID, eventType string) bool

// CompilePredicate turns a FilterSpec into a closure that short-
// circuits across the disjunction of stream-id and event-type clauses.
// A zero-value FilterSpec compiles to a predicate that matches
// everything.
func CompilePredicate(spec types.FilterSpec) Predicate {
	if len(spec.StreamIDPredicates) == 0 && len(spec.EventTypePredicates) == 0 {
		return func(string, string) bool { return true }
	}

	streamChecks := compileClauses(spec.StreamIDPredicates)
	typeChecks := compileClauses(spec.EventTypePredicates)

	return func(streamID, eventType string) bool {
		for _, check := range streamChecks {
			if check(streamID) {
				return true
			}
		}
		for _, check := range typeChecks {
			if check(eventType) {
				return true
			}
		}
		return false
	}
}

func compileClauses(specs []types.PredicateSpec) []func(string) bool {
	checks := make([]func(string) bool, 0, len(specs))
	for _, p := range specs {
		p := p
		switch p.Kind {
		case types.PredicatePrefix:
			checks = append(checks, func(s string) bool { return strings.HasPrefix(s, p.Value) })
		case types.PredicateSuffix:
			checks = append(checks, func(s string) bool { return strings.HasSuffix(s, p.Value) })
		case types.PredicateRegex:
			re, err := regexp.Compile(p.Value)
			if err != nil {
				// An unparsable regex matches nothing rather than panicking
				// or silently matching everything; the caller supplied it
				// at subscribe time and should see zero matches, not a crash.
				checks = append(checks, func(string) bool { return false })
				continue
			}
			checks = append(checks, re.MatchString)
		}
	}
	return checks
}
