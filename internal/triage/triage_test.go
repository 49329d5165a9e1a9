package triage

import "testing"

func TestClassifyCategories(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		category string
	}{
		{
			name:     "missing selector",
			message:  `timed out waiting for selector "#submit-btn"`,
			category: CategorySelectorBroken,
		},
		{
			name:     "zero matches",
			message:  "locator resolved to zero matches for #checkout",
			category: CategorySelectorBroken,
		},
		{
			name:     "generic wait timeout",
			message:  "timed out waiting for navigation to settle",
			category: CategoryTimingFlaky,
		},
		{
			name:     "network error",
			message:  "net::ERR_CONNECTION_REFUSED at https://api.example.com",
			category: CategoryNetworkFlaky,
		},
		{
			name:     "assertion mismatch",
			message:  `expected value "Alice" to be "Bob"`,
			category: CategoryRealBug,
		},
		{
			name:     "detached element",
			message:  "element is not attached to the DOM",
			category: CategoryTimingFlaky,
		},
		{
			name:     "outside viewport",
			message:  "element is outside viewport",
			category: CategoryTestBug,
		},
		{
			name:     "unrecognized",
			message:  "something inexplicable happened",
			category: CategoryUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.message)
			if c.Category != tt.category {
				t.Errorf("Classify(%q).Category = %s, want %s", tt.message, c.Category, tt.category)
			}
			if c.RecommendedAction == "" {
				t.Error("every classification needs a recommended action")
			}
			if len(c.Evidence) == 0 {
				t.Error("every classification needs evidence")
			}
		})
	}
}

func TestClassifyRuleOrderFirstMatchWins(t *testing.T) {
	// Contains both a selector quote and network text; the selector rule
	// is checked first and must win.
	c := Classify(`timed out waiting for selector "#net-status" after network settled`)
	if c.Category != CategorySelectorBroken {
		t.Errorf("category = %s, want selector_broken (rule order)", c.Category)
	}
}

func TestClassifyBatchAggregates(t *testing.T) {
	res := ClassifyBatch([]string{
		`timed out waiting for selector "#a"`,
		"net::ERR_TIMED_OUT",
		`expected count to be 3, got 4`,
		"???",
	})
	if res.TotalClassified != 4 {
		t.Errorf("total = %d, want 4", res.TotalClassified)
	}
	if res.RealBugs != 1 {
		t.Errorf("realBugs = %d, want 1", res.RealBugs)
	}
	if res.Flaky != 1 {
		t.Errorf("flaky = %d, want 1", res.Flaky)
	}
	if res.Uncertain != 1 {
		t.Errorf("uncertain = %d, want 1", res.Uncertain)
	}
	if res.Summary[CategorySelectorBroken] != 1 {
		t.Errorf("summary[selector_broken] = %d, want 1", res.Summary[CategorySelectorBroken])
	}
}
