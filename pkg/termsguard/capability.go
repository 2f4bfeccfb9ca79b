package termsguard

// Capability describes what a module processes and what services it requires.
type Capability struct {
	Name             string
	Description      string
	Interest         InterestSet
	RequiredServices []string
}

// InterestSet describes event selection criteria.
type InterestSet struct {
	Kinds []EventKind
	// RequireTab limits delivery to events carrying a tab id.
	RequireTab bool
}

// Matches reports whether an event satisfies the declared interest set.
func (i InterestSet) Matches(event *Event) bool {
	if event == nil {
		return false
	}
	if len(i.Kinds) > 0 && !containsKind(i.Kinds, event.Kind) {
		return false
	}
	if i.RequireTab && event.TabID == "" {
		return false
	}

	return true
}

// Allows reports whether this interest set covers another filter.
func (i InterestSet) Allows(filter InterestSet) bool {
	if len(i.Kinds) > 0 {
		if len(filter.Kinds) == 0 {
			return false
		}
		for _, kind := range filter.Kinds {
			if !containsKind(i.Kinds, kind) {
				return false
			}
		}
	}
	if i.RequireTab && !filter.RequireTab {
		return false
	}

	return true
}

func containsKind(kinds []EventKind, target EventKind) bool {
	for _, candidate := range kinds {
		if candidate == target {
			return true
		}
	}

	return false
}
