// Package wpa implements the client side of WPA and IEEE 802.11i (RSN)
// security negotiation: information element handling, cipher and key
// management suite selection, PMKSA caching, and the association state
// machine which drives a wireless driver through scan, associate and
// disassociate transitions.
package wpa

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"strings"
)

// errInvalidIE is returned when one or more IEs are malformed.
var errInvalidIE = errors.New("invalid 802.11 information element")

// A Protocol is a bitmask of WPA protocol versions.
type Protocol uint8

const (
	// ProtocolWPA is the original WPA protocol (IEEE 802.11i/D3.0), advertised
	// in a vendor specific information element.
	ProtocolWPA Protocol = 1 << iota

	// ProtocolRSN is IEEE 802.11i RSN, also known as WPA2.
	ProtocolRSN
)

// String returns the string representation of a Protocol.
func (p Protocol) String() string {
	return bitString(uint8(p), []string{"WPA", "RSN"})
}

// A Cipher is a bitmask of pairwise or group cipher suites.
type Cipher uint8

const (
	// CipherNone indicates that the group cipher is used for pairwise traffic.
	CipherNone Cipher = 1 << iota
	CipherWEP40
	CipherWEP104
	CipherTKIP
	CipherCCMP

	// CipherUnknown is set when a suite selector this package does not
	// recognize was advertised.
	CipherUnknown Cipher = 1 << 7
)

// String returns the string representation of a Cipher.
func (c Cipher) String() string {
	return bitString(uint8(c), []string{"NONE", "WEP40", "WEP104", "TKIP", "CCMP", "", "", "unknown"})
}

// A KeyMgmt is a bitmask of authenticated key management suites.
type KeyMgmt uint8

const (
	// KeyMgmtIEEE8021X derives the PMK from an IEEE 802.1X/EAP exchange.
	KeyMgmtIEEE8021X KeyMgmt = 1 << iota

	// KeyMgmtPSK uses a pre-shared key as the PMK.
	KeyMgmtPSK

	// KeyMgmtNone associates without any key management.
	KeyMgmtNone

	// KeyMgmtIEEE8021XNoWPA uses IEEE 802.1X with dynamic WEP keys, without
	// WPA.
	KeyMgmtIEEE8021XNoWPA

	// KeyMgmtUnknown is set when a suite selector this package does not
	// recognize was advertised.
	KeyMgmtUnknown KeyMgmt = 1 << 7
)

// String returns the string representation of a KeyMgmt.
func (k KeyMgmt) String() string {
	return bitString(uint8(k), []string{"WPA-EAP", "WPA-PSK", "NONE", "IEEE8021X", "", "", "", "unknown"})
}

// bitString names each set bit of v using names, in bit order.
func bitString(v uint8, names []string) string {
	if v == 0 {
		return "none"
	}

	var ss []string
	for i := 0; i < 8; i++ {
		if v&(1<<i) == 0 {
			continue
		}
		if i < len(names) && names[i] != "" {
			ss = append(ss, names[i])
		} else {
			ss = append(ss, fmt.Sprintf("unknown(%#x)", 1<<i))
		}
	}

	return strings.Join(ss, " ")
}

// ParseProtocol parses a protocol name as used in configuration files.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToUpper(s) {
	case "WPA":
		return ProtocolWPA, nil
	case "RSN", "WPA2":
		return ProtocolRSN, nil
	default:
		return 0, fmt.Errorf("wpa: unknown protocol %q", s)
	}
}

// ParseCipher parses a cipher name as used in configuration files.
func ParseCipher(s string) (Cipher, error) {
	switch strings.ToUpper(s) {
	case "NONE":
		return CipherNone, nil
	case "WEP40":
		return CipherWEP40, nil
	case "WEP104":
		return CipherWEP104, nil
	case "TKIP":
		return CipherTKIP, nil
	case "CCMP":
		return CipherCCMP, nil
	default:
		return 0, fmt.Errorf("wpa: unknown cipher %q", s)
	}
}

// ParseKeyMgmt parses a key management name as used in configuration files.
func ParseKeyMgmt(s string) (KeyMgmt, error) {
	switch strings.ToUpper(s) {
	case "WPA-EAP":
		return KeyMgmtIEEE8021X, nil
	case "WPA-PSK":
		return KeyMgmtPSK, nil
	case "NONE":
		return KeyMgmtNone, nil
	case "IEEE8021X":
		return KeyMgmtIEEE8021XNoWPA, nil
	default:
		return 0, fmt.Errorf("wpa: unknown key management %q", s)
	}
}

// A LinkState is the association state of a Session.
type LinkState int

const (
	StateDisconnected LinkState = iota
	StateScanning
	StateAssociating
	StateAssociated
)

// String returns the string representation of a LinkState.
func (s LinkState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateScanning:
		return "scanning"
	case StateAssociating:
		return "associating"
	case StateAssociated:
		return "associated"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// A ReasonCode is an IEEE 802.11 reason code sent with disassociation and
// deauthentication frames.
type ReasonCode uint16

// Reason codes used by a Session.
const (
	ReasonUnspecified       ReasonCode = 1
	ReasonDeauthLeaving     ReasonCode = 3
	ReasonDisassocLeaving   ReasonCode = 8
	ReasonMichaelMICFailure ReasonCode = 14
)

// An Interface is a WiFi network interface managed by a Driver.
type Interface struct {
	// The index of the interface.
	Index int

	// The name of the interface.
	Name string

	// The hardware address of the interface.
	HardwareAddr net.HardwareAddr

	// The physical device that this interface belongs to.
	PHY int

	// The interface's wireless frequency in MHz.
	Frequency int
}

// A ScanResult is one access point observed during a scan.
type ScanResult struct {
	// BSSID is the hardware address of the access point.
	BSSID net.HardwareAddr

	// SSID is the raw service set identifier, at most 32 bytes.
	SSID []byte

	// Frequency is the frequency used by the BSS, in MHz.
	Frequency int

	// WPAIE and RSNIE are the complete WPA vendor specific and RSN
	// information elements, including the element header. Either may be
	// empty.
	WPAIE []byte
	RSNIE []byte
}

// MaxSSIDLen is the maximum length of an SSID in bytes.
const MaxSSIDLen = 32

// A NetworkProfile is a configured network. Profiles are searched in
// configuration order.
type NetworkProfile struct {
	// SSID of the network.
	SSID []byte

	// BSSID, if set, pins the profile to a single access point.
	BSSID net.HardwareAddr

	// ScanSSID requests directed probes for this SSID, which is needed to
	// find access points that hide their SSID.
	ScanSSID bool

	// Allowed protocols, ciphers and key management suites.
	Protocols Protocol
	Pairwise  Cipher
	Group     Cipher
	KeyMgmt   KeyMgmt

	// PSK is the 32 byte pre-shared key. It is set if and only if KeyMgmt
	// allows KeyMgmtPSK.
	PSK []byte
}

// matches reports whether p is a candidate for the access point r.
func (p *NetworkProfile) matches(r *ScanResult) bool {
	if !bytes.Equal(p.SSID, r.SSID) {
		return false
	}

	return len(p.BSSID) == 0 || bytes.Equal(p.BSSID, r.BSSID)
}

// SSIDText returns a printable form of an SSID: bytes outside of printable
// ASCII are replaced with '_' and the result is truncated to MaxSSIDLen.
func SSIDText(ssid []byte) string {
	if len(ssid) > MaxSSIDLen {
		ssid = ssid[:MaxSSIDLen]
	}

	b := make([]byte, len(ssid))
	for i, c := range ssid {
		if c < 32 || c >= 127 {
			c = '_'
		}
		b[i] = c
	}

	return string(b)
}

// List of 802.11 Information Element types.
const (
	ieSSID   = 0
	ieRSN    = 48
	ieVendor = 221
)

// An ie is an 802.11 information element.
type ie struct {
	ID uint8
	// Length field implied by length of data
	Data []byte
}

// parseIEs parses zero or more ies from a byte slice.
// Reference:
//
//	https://www.safaribooksonline.com/library/view/80211-wireless-networks/0596100523/ch04.html#wireless802dot112-CHP-4-FIG-31
func parseIEs(b []byte) ([]ie, error) {
	var ies []ie
	var i int
	for {
		if len(b[i:]) == 0 {
			break
		}
		if len(b[i:]) < 2 {
			return nil, errInvalidIE
		}

		id := b[i]
		i++
		l := int(b[i])
		i++

		if len(b[i:]) < l {
			return nil, errInvalidIE
		}

		ies = append(ies, ie{
			ID:   id,
			Data: b[i : i+l],
		})

		i += l
	}

	return ies, nil
}

// bytes returns the complete element, header included.
func (e ie) bytes() []byte {
	b := make([]byte, 0, 2+len(e.Data))
	b = append(b, e.ID, uint8(len(e.Data)))
	return append(b, e.Data...)
}
