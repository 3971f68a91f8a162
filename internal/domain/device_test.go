package domain

import "testing"

func TestAttestationLevelHardwareBacked(t *testing.T) {
	tests := []struct {
		level AttestationLevel
		want  bool
	}{
		{AttestationLevelSecureEnclave, true},
		{AttestationLevelStrongbox, true},
		{AttestationLevelTEE, true},
		{AttestationLevelUnverified, false},
		{AttestationLevel(""), false},
		{AttestationLevel("full"), false},
	}
	for _, tt := range tests {
		if got := tt.level.HardwareBacked(); got != tt.want {
			t.Errorf("HardwareBacked(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestNormalizeAttestationLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want AttestationLevel
	}{
		{"full", AttestationLevelSecureEnclave},
		{"secure_enclave", AttestationLevelSecureEnclave},
		{"strongbox", AttestationLevelStrongbox},
		{"tee", AttestationLevelTEE},
		{"unverified", AttestationLevelUnverified},
		{"", AttestationLevelUnverified},
		{"software", AttestationLevelUnverified},
	}
	for _, tt := range tests {
		if got := NormalizeAttestationLevel(tt.raw); got != tt.want {
			t.Errorf("NormalizeAttestationLevel(%q) = %s, want %s", tt.raw, got, tt.want)
		}
	}
}
