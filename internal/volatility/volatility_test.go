package volatility

import "testing"

func TestDetect(t *testing.T) {
	cases := []struct {
		name string
		text string
		want []string
	}{
		{"plain label", "Submit order", nil},
		{"numeric fragment", "Item #48213", []string{FlagNumericFragment}},
		{"time fragment", "Update at 12:30", []string{FlagNumericFragment, FlagDateTimeFragment, FlagDynamicKeyword}},
		{"long text", "Schiphol vluchten winterweer update voor de ochtendspits van vandaag", []string{FlagLongText, FlagDynamicKeyword}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Detect(tc.text)
			if len(got) != len(tc.want) {
				t.Fatalf("Detect(%q) = %v, want %v", tc.text, got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("Detect(%q) = %v, want %v", tc.text, got, tc.want)
				}
			}
		})
	}
}

func TestIsLongText(t *testing.T) {
	if IsLongText("short", LongTextThreshold) {
		t.Error("expected short text to not trigger the long-text flag")
	}
	long := "this sentence is deliberately padded out past the forty eight character threshold"
	if !IsLongText(long, LongTextThreshold) {
		t.Error("expected padded sentence to trigger the long-text flag")
	}
}
