package validation

import "testing"

func TestIsValidAddress(t *testing.T) {
	tests := []struct {
		name  string
		addr  string
		valid bool
	}{
		{
			name:  "valid lowercase",
			addr:  "0x62b8b11039fcfe5ab0c56e502b1c372a3d2a9c7a",
			valid: true,
		},
		{
			name:  "valid mixed case",
			addr:  "0x62B8B11039FcfE5aB0C56E502b1C372A3d2a9c7A",
			valid: true,
		},
		{
			name:  "too short",
			addr:  "0x62b8b11039fcfe5ab0c56e502b1c372a3d2a9c7",
			valid: false,
		},
		{
			name:  "too long",
			addr:  "0x62b8b11039fcfe5ab0c56e502b1c372a3d2a9c7aa",
			valid: false,
		},
		{
			name:  "missing prefix",
			addr:  "62b8b11039fcfe5ab0c56e502b1c372a3d2a9c7a12",
			valid: false,
		},
		{
			name:  "non-hex characters",
			addr:  "0x62b8b11039fcfe5ab0c56e502b1c372a3d2a9g7a",
			valid: false,
		},
		{
			name:  "empty string",
			addr:  "",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidAddress(tt.addr)
			if got != tt.valid {
				t.Fatalf("IsValidAddress(%q) = %v, want %v", tt.addr, got, tt.valid)
			}
		})
	}
}
