package repair

import "testing"

func TestGenerate_DynamicLinkExactTrue(t *testing.T) {
	value := `getByRole('link', { name: 'Schiphol vluchten winterweer update 12:30', exact: true })`
	candidates, ok := Generate(value)
	if !ok {
		t.Fatalf("expected Generate to succeed on a supported shape")
	}
	if len(candidates) != 3 {
		t.Fatalf("expected 3 repair variants (remove-exact, regex, regex+hasText), got %d", len(candidates))
	}
	if candidates[0].ReasonCode != ReasonRemoveExact {
		t.Errorf("variant 0 reason = %q, want %q", candidates[0].ReasonCode, ReasonRemoveExact)
	}
	if candidates[1].ReasonCode != ReasonRegexName {
		t.Errorf("variant 1 reason = %q, want %q", candidates[1].ReasonCode, ReasonRegexName)
	}
	if candidates[2].ReasonCode != ReasonRegexHasText {
		t.Errorf("variant 2 reason = %q, want %q", candidates[2].ReasonCode, ReasonRegexHasText)
	}
	for i, c := range candidates {
		if c.Target.Value == value {
			t.Errorf("variant %d did not change the locator value", i)
		}
		if containsExactTrue(c.Target.Value) {
			t.Errorf("variant %d still contains exact:true: %s", i, c.Target.Value)
		}
	}
}

func TestGenerate_StaticTargetNoRepair(t *testing.T) {
	value := `getByRole('button', { name: 'Submit' })`
	_, ok := Generate(value)
	if ok {
		t.Fatalf("expected no repair for a static, non-dynamic locator")
	}
}

func TestGenerate_UnsupportedShape(t *testing.T) {
	_, ok := Generate(`getByText('hello')`)
	if ok {
		t.Fatalf("expected unsupported shape to yield ok=false")
	}
}

func TestParse_ExtractsRoleNameExact(t *testing.T) {
	p, ok := Parse(`getByRole('link', { name: 'Breaking news 12:30', exact: true })`)
	if !ok {
		t.Fatalf("expected parse to succeed")
	}
	if p.Role != "link" || p.Name != "Breaking news 12:30" || !p.Exact {
		t.Errorf("parsed = %+v", p)
	}
}

func containsExactTrue(s string) bool {
	for i := 0; i+len("exact: true") <= len(s); i++ {
		if s[i:i+len("exact: true")] == "exact: true" {
			return true
		}
	}
	return false
}
