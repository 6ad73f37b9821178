package tokenizer

import "testing"

func TestApproximate(t *testing.T) {
	tok := Approximate{}

	tests := []struct {
		name  string
		text  string
		max   int
		count int
		want  string
	}{
		{"fits", "eGFR below 60", 10, 3, "eGFR below 60"},
		{"punctuation counts", "fever, chills.", 10, 4, "fever, chills."},
		{"truncates at token boundary", "take one tablet daily with food", 3, 6, "take one tablet"},
		{"zero budget", "anything", 0, 1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tok.CountTokens(tt.text); got != tt.count {
				t.Errorf("CountTokens() = %d, want %d", got, tt.count)
			}
			if got := tok.Truncate(tt.text, tt.max); got != tt.want {
				t.Errorf("Truncate() = %q, want %q", got, tt.want)
			}
		})
	}
}
