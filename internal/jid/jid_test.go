package jid

import "testing"

func TestFormatPhoneNumber(t *testing.T) {
	tests := []struct {
		name    string
		number  string
		country string
		suffix  bool
		want    string
	}{
		{"plain", "+1 (555) 123-4567", "", true, "15551234567@s.whatsapp.net"},
		{"no_suffix", "15551234567", "", false, "15551234567"},
		{"iso_country", "5551234567", "US", false, "15551234567"},
		{"numeric_country", "7911123456", "44", true, "447911123456@s.whatsapp.net"},
		{"long_number_ignores_country", "447911123456", "US", false, "447911123456"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatPhoneNumber(tt.number, tt.country, tt.suffix); got != tt.want {
				t.Errorf("FormatPhoneNumber(%q, %q) = %q, want %q", tt.number, tt.country, got, tt.want)
			}
		})
	}
}

func TestIsUserJID(t *testing.T) {
	tests := []struct {
		jid  string
		want bool
	}{
		{"15551234567@s.whatsapp.net", true},
		{"1234567@s.whatsapp.net", false},
		{"1234567890123456@s.whatsapp.net", false},
		{"12345678@g.us", false},
		{"abc@s.whatsapp.net", false},
		{"15551234567", false},
	}
	for _, tt := range tests {
		if got := IsUserJID(tt.jid); got != tt.want {
			t.Errorf("IsUserJID(%q) = %v, want %v", tt.jid, got, tt.want)
		}
	}
}

func TestIsAddressable(t *testing.T) {
	if !IsAddressable("120363@g.us") {
		t.Error("group JID should be addressable")
	}
	if !IsAddressable("15551234567@s.whatsapp.net") {
		t.Error("user JID should be addressable")
	}
	if IsAddressable("@s.whatsapp.net") || IsAddressable("user@example.com") || IsAddressable("nope") {
		t.Error("malformed JIDs should not be addressable")
	}
}

func TestExtractNumber(t *testing.T) {
	if got := ExtractNumber("15551234567@s.whatsapp.net"); got != "15551234567" {
		t.Errorf("ExtractNumber = %q", got)
	}
	if got := ExtractNumber("1203630@g.us"); got != "" {
		t.Errorf("group JID should not yield a number, got %q", got)
	}
}

func TestMaskPhoneNumber(t *testing.T) {
	if got := MaskPhoneNumber("+1 555 123 4567"); got != "*******4567" {
		t.Errorf("MaskPhoneNumber = %q", got)
	}
	if got := MaskPhoneNumber("123"); got != "***" {
		t.Errorf("short number = %q", got)
	}
}
