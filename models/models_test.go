package models

import (
	"math/big"
	"testing"
)

func TestNormalizeAddress(t *testing.T) {
	got := NormalizeAddress("  0xAB00000000000000000000000000000000000012 ")
	want := "0xab00000000000000000000000000000000000012"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestIsValidAddress(t *testing.T) {
	valid := []string{
		"0xab00000000000000000000000000000000000012",
		"0xAB00000000000000000000000000000000000012",
		" 0xab00000000000000000000000000000000000012 ",
	}
	for _, addr := range valid {
		if !IsValidAddress(addr) {
			t.Errorf("expected %q to be valid", addr)
		}
	}

	invalid := []string{
		"",
		"0x",
		"ab00000000000000000000000000000000000012",
		"0xab000000000000000000000000000000000000",     // too short
		"0xab0000000000000000000000000000000000001234", // too long
		"0xgb00000000000000000000000000000000000012",   // non-hex
	}
	for _, addr := range invalid {
		if IsValidAddress(addr) {
			t.Errorf("expected %q to be invalid", addr)
		}
	}
}

func TestIsValidRole(t *testing.T) {
	for _, role := range []string{RoleAdmin, RoleVictim, RoleMerchant, RoleResponder} {
		if !IsValidRole(role) {
			t.Errorf("expected role %q to be valid", role)
		}
	}
	if IsValidRole("donor") || IsValidRole("") || IsValidRole("Admin") {
		t.Error("unknown roles accepted")
	}
}

func TestFormatUnits(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0", "0"},
		{"1000000000000000000", "1"},
		{"1500000000000000000", "1.5"},
		{"1", "0.000000000000000001"},
		{"-2500000000000000000", "-2.5"},
		{"123456000000000000000000", "123456"},
	}
	for _, c := range cases {
		v, ok := new(big.Int).SetString(c.in, 10)
		if !ok {
			t.Fatalf("bad test input %q", c.in)
		}
		if got := FormatUnits(v); got != c.want {
			t.Errorf("FormatUnits(%s) = %q, want %q", c.in, got, c.want)
		}
	}
	if got := FormatUnits(nil); got != "0" {
		t.Errorf("FormatUnits(nil) = %q, want 0", got)
	}
}

func TestParseUnitsRoundTrip(t *testing.T) {
	for _, s := range []string{"1", "1.5", "0.000000000000000001", "-2.5", "123456"} {
		v, err := ParseUnits(s)
		if err != nil {
			t.Fatalf("ParseUnits(%q): %v", s, err)
		}
		if got := FormatUnits(v); got != s {
			t.Errorf("round trip %q -> %q", s, got)
		}
	}
}

func TestParseUnitsRejectsBadInput(t *testing.T) {
	for _, s := range []string{"", "abc", "1.2.3", "1.0000000000000000001"} {
		if _, err := ParseUnits(s); err == nil {
			t.Errorf("expected error for %q", s)
		}
	}
}

func TestTokenKey(t *testing.T) {
	if got := TokenKey(3); got != "token3" {
		t.Errorf("TokenKey(3) = %q", got)
	}
	if len(TrackedTokenIDs) != 5 {
		t.Errorf("expected 5 tracked tokens, got %d", len(TrackedTokenIDs))
	}
}
