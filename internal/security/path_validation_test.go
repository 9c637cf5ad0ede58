package security

import "testing"

func TestValidateSessionID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"generated id", "session_1718000000000_ab12cd34e", false},
		{"plain word", "demo", false},
		{"empty", "", true},
		{"parent traversal", "../etc/passwd", true},
		{"absolute path", "/etc/passwd", true},
		{"windows separator", "a\\b", true},
		{"dot in name", "session.json", true},
		{"space", "my session", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSessionID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSessionID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}
