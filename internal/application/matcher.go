package application

import "github.com/davarch/ci-runner/internal/domain"

// Matches reports whether an event activates a trigger rule. An empty kind
// set or an empty branch set never matches (fail closed).
func Matches(ev domain.Event, rule domain.TriggerRule) bool {
	kindOK := false
	for _, k := range rule.Kinds {
		if k == ev.Kind {
			kindOK = true
			break
		}
	}
	if !kindOK {
		return false
	}

	for _, b := range rule.Branches {
		if b == ev.Branch {
			return true
		}
	}
	return false
}
