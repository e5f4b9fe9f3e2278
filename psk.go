package wpa

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

var errPassphrase = errors.New("wpa: passphrase must be 8 to 63 printable ASCII characters")

// PassphrasePSK derives the 32 byte pre-shared key for ssid from an ASCII
// passphrase as described in IEEE 802.11i, Annex H.4.
func PassphrasePSK(passphrase string, ssid []byte) ([]byte, error) {
	// Byte length equals character count for ASCII.
	if len(passphrase) < 8 || len(passphrase) > 63 {
		return nil, errPassphrase
	}
	for _, c := range []byte(passphrase) {
		if c < 32 || c > 126 {
			return nil, errPassphrase
		}
	}
	if len(ssid) == 0 || len(ssid) > MaxSSIDLen {
		return nil, fmt.Errorf("wpa: invalid SSID length %d", len(ssid))
	}

	return pbkdf2.Key([]byte(passphrase), ssid, 4096, PMKLen, sha1.New), nil
}

// ParsePSK parses a pre-shared key given either as 64 hexadecimal digits or
// as a passphrase for ssid.
func ParsePSK(s string, ssid []byte) ([]byte, error) {
	if len(s) == 2*PMKLen {
		if b, err := hex.DecodeString(s); err == nil {
			return b, nil
		}
	}

	return PassphrasePSK(s, ssid)
}
