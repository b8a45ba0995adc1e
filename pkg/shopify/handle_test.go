package shopify

import "testing"

func TestHandle(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Summer Sale", "summer-sale"},
		{"Hello, World!", "hello-world"},
		{"Rock & Roll 2024", "rock-roll-2024"},
		{"It's (almost) [new]", "its-almost-new"},
		{`Say "cheese"`, "say-cheese"},
		{"tabs\tand\nnewlines", "tabs-and-newlines"},
		{"multiple---dashes   and spaces", "multiple-dashes-and-spaces"},
		{"trailing punctuation...", "trailing-punctuation"},
		{"a/b:c;d", "a-b-c-d"},
		{"Ünïcode Stays", "ünïcode-stays"},
		{"already-a-handle", "already-a-handle"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Handle(tt.input); got != tt.expected {
				t.Errorf("Handle(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
