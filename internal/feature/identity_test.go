package feature

import "testing"

func TestNormalizeIdentity(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"photo.jpg", "photo.jpg"},
		{"/data/img/a.png", "/data/img/a.png"},
		{"caf\u00e9.jpg", "caf\u00e9.jpg"},
		{"cafe\u0301.jpg", "caf\u00e9.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := NormalizeIdentity(tt.input)
			if err != nil {
				t.Fatalf("NormalizeIdentity(%q): %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("NormalizeIdentity(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
