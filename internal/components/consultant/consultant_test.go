package consultant_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/MahdiBaghbani/userservice-go/internal/components/consultant"
)

func TestEncodeUsername(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"asdf", "enc.mfzwizq."},
		{"max", "enc.nvqxq..."},
		{"enc.mfzwizq.", "enc.mfzwizq."},
	}
	for _, tt := range tests {
		if got := consultant.EncodeUsername(tt.in); got != tt.want {
			t.Errorf("EncodeUsername(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDecodeUsername(t *testing.T) {
	for _, name := range []string{"asdf", "max", "Mia Müller", "u.ser-01"} {
		got, err := consultant.DecodeUsername(consultant.EncodeUsername(name))
		if err != nil || got != name {
			t.Errorf("DecodeUsername(EncodeUsername(%q)) = %q, %v", name, got, err)
		}
	}
	if got, _ := consultant.DecodeUsername("plain"); got != "plain" {
		t.Errorf("expected plain name unchanged, got %q", got)
	}
	if got, err := consultant.DecodeUsername("enc.MFZWIZQ."); err != nil || got != "asdf" {
		t.Errorf("expected upper case encoding to decode, got %q, %v", got, err)
	}
	if _, err := consultant.DecodeUsername("enc.!!!"); err == nil {
		t.Error("expected error for malformed encoding")
	}
}

func TestUsernamesMatch(t *testing.T) {
	if !consultant.UsernamesMatch("asdf", "enc.MFZWIZQ.") {
		t.Error("expected plain and encoded names to match")
	}
	if consultant.UsernamesMatch("asdf", "asdg") {
		t.Error("expected different names not to match")
	}
}

func TestGeneratePassword(t *testing.T) {
	seen := make(map[string]bool)
	for range 200 {
		pw, err := consultant.GeneratePassword()
		if err != nil {
			t.Fatalf("GeneratePassword failed: %v", err)
		}
		if len(pw) != consultant.PasswordLength {
			t.Fatalf("expected length %d, got %q", consultant.PasswordLength, pw)
		}
		for _, class := range []string{"ABCDEFGHIJKLMNOPQRSTUVWXYZ", "abcdefghijklmnopqrstuvwxyz", "0123456789", "!()$%&"} {
			if !strings.ContainsAny(pw, class) {
				t.Fatalf("password %q lacks a character from %q", pw, class)
			}
		}
		seen[pw] = true
	}
	if len(seen) < 190 {
		t.Errorf("expected mostly distinct passwords, got %d of 200", len(seen))
	}
}

func TestValidationError(t *testing.T) {
	cause := errors.New("seats")
	ve := consultant.Invalid(consultant.ReasonSeatLimitExceeded, "tenant %s is full", "7")
	ve.Err = cause
	err := fmt.Errorf("create: %w", ve)

	got, ok := consultant.AsValidationError(err)
	if !ok || got.ReasonCode != consultant.ReasonSeatLimitExceeded {
		t.Fatalf("expected seat limit validation error, got %v", err)
	}
	if got.Error() != "seat_limit_exceeded: tenant 7 is full" {
		t.Errorf("unexpected message %q", got.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable")
	}
}
