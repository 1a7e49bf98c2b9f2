package validation

import (
	"errors"
	"testing"
)

func TestValidateCity(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		minLen  int
		maxLen  int
		want    string
		wantErr error
	}{
		{"simple", "Durham", 1, 100, "Durham", nil},
		{"trims whitespace", "  Durham  ", 1, 100, "Durham", nil},
		{"preserves case", "dUrHaM", 1, 100, "dUrHaM", nil},
		{"multi word", "New York", 1, 100, "New York", nil},
		{"punctuation", "Winston-Salem, N.C.", 1, 100, "Winston-Salem, N.C.", nil},
		{"apostrophe", "L'Aquila", 1, 100, "L'Aquila", nil},
		{"unicode letters", "Zürich", 1, 100, "Zürich", nil},
		{"empty", "", 1, 100, "", ErrCityEmpty},
		{"whitespace only", "   ", 1, 100, "", ErrCityEmpty},
		{"below minimum", "Ab", 3, 100, "", ErrCityTooShort},
		{"above maximum", "Llanfairpwllgwyngyll", 1, 10, "", ErrCityTooLong},
		{"injection characters", "Durham;drop", 1, 100, "", ErrCityInvalidChars},
		{"path traversal", "../etc", 1, 100, "", ErrCityInvalidChars},
		{"zero bounds disable length checks", "A", 0, 0, "A", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateCity(tt.input, tt.minLen, tt.maxLen)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidateCity() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ValidateCity() = %q, want %q", got, tt.want)
			}
		})
	}
}
