package wpa

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPassphrasePSK(t *testing.T) {
	// IEEE Std 802.11-2016, J.4.2.
	tests := []struct {
		name       string
		passphrase string
		ssid       string
		psk        string
		ok         bool
	}{
		{
			name:       "test case 1",
			passphrase: "password",
			ssid:       "IEEE",
			psk:        "f42c6fc52df0ebef9ebb4b90b38a5f902e83fe1b135a70e23aed762e9710a12e",
			ok:         true,
		},
		{
			name:       "test case 2",
			passphrase: "ThisIsAPassword",
			ssid:       "ThisIsASSID",
			psk:        "0dc0d6eb90555ed6419756b9a15ec3e3209b63df707dd508d14581f8982721af",
			ok:         true,
		},
		{
			name:       "test case 3",
			passphrase: strings.Repeat("a", 32),
			ssid:       strings.Repeat("Z", 32),
			psk:        "becb93866bb8c3832cb777c2f559807c8c59afcb6eae734885001300a981cc62",
			ok:         true,
		},
		{
			name:       "too short",
			passphrase: "short",
			ssid:       "An SSID",
		},
		{
			name:       "too long",
			passphrase: strings.Repeat("1", 64),
			ssid:       "An SSID",
		},
		{
			name:       "not printable",
			passphrase: "pass\tword",
			ssid:       "An SSID",
		},
		{
			name:       "empty SSID",
			passphrase: "password",
		},
		{
			name:       "SSID too long",
			passphrase: "password",
			ssid:       strings.Repeat("Z", 33),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			psk, err := PassphrasePSK(tt.passphrase, []byte(tt.ssid))
			if tt.ok && err != nil {
				t.Fatalf("failed to derive PSK: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatal("expected an error, but none occurred")
			}
			if err != nil {
				return
			}

			if diff := cmp.Diff(tt.psk, hex.EncodeToString(psk)); diff != "" {
				t.Fatalf("unexpected PSK (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParsePSK(t *testing.T) {
	const key = "0dc0d6eb90555ed6419756b9a15ec3e3209b63df707dd508d14581f8982721af"

	psk, err := ParsePSK(key, []byte("ignored"))
	if err != nil {
		t.Fatalf("failed to parse hex PSK: %v", err)
	}
	if diff := cmp.Diff(key, hex.EncodeToString(psk)); diff != "" {
		t.Fatalf("unexpected hex PSK (-want +got):\n%s", diff)
	}

	psk, err = ParsePSK("ThisIsAPassword", []byte("ThisIsASSID"))
	if err != nil {
		t.Fatalf("failed to parse passphrase: %v", err)
	}
	if diff := cmp.Diff(key, hex.EncodeToString(psk)); diff != "" {
		t.Fatalf("unexpected passphrase PSK (-want +got):\n%s", diff)
	}

	// 64 characters which are not hex are too long for a passphrase.
	if _, err := ParsePSK(strings.Repeat("x", 64), []byte("ssid")); err == nil {
		t.Fatal("expected an error, but none occurred")
	}
}
