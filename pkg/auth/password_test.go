package auth

import (
	"testing"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name       string
		password   string
		shouldFail bool
	}{
		{
			name:       "valid strong password",
			password:   "Str0ng!Pass",
			shouldFail: false,
		},
		{
			name:       "too short",
			password:   "Pa5s!",
			shouldFail: true,
		},
		{
			name:       "missing uppercase",
			password:   "str0ng!pass",
			shouldFail: true,
		},
		{
			name:       "missing lowercase",
			password:   "STR0NG!PASS",
			shouldFail: true,
		},
		{
			name:       "missing digit",
			password:   "Strong!Pass",
			shouldFail: true,
		},
		{
			name:       "missing special character",
			password:   "Str0ngPass1",
			shouldFail: true,
		},
		{
			name:       "common password rejected",
			password:   "password123",
			shouldFail: true,
		},
		{
			name:       "valid with symbols",
			password:   "MyP@ssw0rd!",
			shouldFail: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if tt.shouldFail && err == nil {
				t.Errorf("expected password %q to be rejected", tt.password)
			}
			if !tt.shouldFail && err != nil {
				t.Errorf("expected password %q to be accepted, got %v", tt.password, err)
			}
		})
	}
}

func TestHashAndComparePassword(t *testing.T) {
	hash, err := HashPassword("Str0ng!Pass")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if hash == "Str0ng!Pass" {
		t.Fatal("hash must not equal plaintext")
	}

	if err := ComparePassword(hash, "Str0ng!Pass"); err != nil {
		t.Errorf("correct password rejected: %v", err)
	}
	if err := ComparePassword(hash, "Wr0ng!Pass"); err == nil {
		t.Error("wrong password accepted")
	}
}

func TestHashPassword_EmptyRejected(t *testing.T) {
	if _, err := HashPassword(""); err == nil {
		t.Error("empty password must be rejected")
	}
}
