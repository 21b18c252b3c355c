package togglekit

// StrategyConstraint references a registered strategy by name together with
// the parameters the server attached to it. An unknown name is a runtime
// condition resolved during evaluation, not at load time.
type StrategyConstraint struct {
	Name       string            `json:"name"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// Toggle is a named, boolean-gated feature definition. Toggles are immutable
// once constructed; a refresh replaces the whole snapshot rather than
// mutating toggles in place.
type Toggle struct {
	Name       string               `json:"name"`
	Enabled    bool                 `json:"enabled"`
	Strategies []StrategyConstraint `json:"strategies,omitempty"`
}

// featureResponse is the wire shape of the feature endpoint response body.
// The backup snapshot file uses the identical shape so a restored snapshot
// is indistinguishable from a fresh server response.
type featureResponse struct {
	Features []Toggle `json:"features"`
}

// cloneToggles returns a deep copy so snapshot readers can never observe
// writer-side mutation.
func cloneToggles(toggles []Toggle) []Toggle {
	if toggles == nil {
		return nil
	}
	out := make([]Toggle, len(toggles))
	for i, t := range toggles {
		out[i] = cloneToggle(t)
	}
	return out
}

func cloneToggle(t Toggle) Toggle {
	if t.Strategies == nil {
		return t
	}
	strategies := make([]StrategyConstraint, len(t.Strategies))
	for i, s := range t.Strategies {
		cp := s
		if s.Parameters != nil {
			cp.Parameters = make(map[string]string, len(s.Parameters))
			for k, v := range s.Parameters {
				cp.Parameters[k] = v
			}
		}
		strategies[i] = cp
	}
	t.Strategies = strategies
	return t
}
