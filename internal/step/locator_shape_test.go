package step

import "testing"

func TestValidateLocatorExpressionShapeAccepts(t *testing.T) {
	ok := []string{
		`getByRole('link', { name: 'Submit' })`,
		`getByRole('button').first()`,
		`locator('.item').filter({ hasText: 'Active' }).nth(0)`,
		`getByTestId('submit-btn')`,
	}
	for _, expr := range ok {
		if err := ValidateLocatorExpressionShape(expr); err != nil {
			t.Errorf("expected %q to be accepted, got %v", expr, err)
		}
	}
}

func TestValidateLocatorExpressionShapeRejects(t *testing.T) {
	bad := []string{
		``,
		`process.exit(1)`,
		`getByRole('link')[0]`,
		`getByRole('link').then(x => x)`,
		`window.eval('danger')`,
		`getByRole('link').unknownMethod()`,
		`getByRole(`,
	}
	for _, expr := range bad {
		if err := ValidateLocatorExpressionShape(expr); err == nil {
			t.Errorf("expected %q to be rejected", expr)
		}
	}
}
