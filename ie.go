package wpa

import (
	"bytes"
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

var (
	errTruncatedIE   = errors.New("information element truncated")
	errUnknownIE     = errors.New("not a WPA or RSN information element")
	errIEVersion     = errors.New("unsupported information element version")
	errEncodeSuite   = errors.New("suite set cannot be encoded")
	errEncodeProto   = errors.New("protocol must be exactly one of WPA or RSN")
	errEncodePMKID   = errors.New("PMKID must be 16 bytes")
	errEncodeTooLong = errors.New("information element too long")
)

// A DecodeError is returned when a WPA or RSN information element is
// malformed.
type DecodeError struct {
	// Field is the element field which could not be decoded.
	Field string
	Err   error
}

// Error implements error.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("wpa: decode %s: %v", e.Field, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error { return e.Err }

// Suite selector OUIs, stored big-endian with the suite type in the low
// octet as they appear on the wire.
const (
	wpaOUI uint32 = 0x0050f2
	rsnOUI uint32 = 0x000fac

	// wpaIEType is the vendor specific type following the WPA OUI.
	wpaIEType = 1

	ieVersion = 1

	suiteLen = 4
	pmkidLen = 16
)

// Suite types shared by the WPA and RSN selector spaces.
const (
	suiteCipherNone   = 0
	suiteCipherWEP40  = 1
	suiteCipherTKIP   = 2
	suiteCipherCCMP   = 4
	suiteCipherWEP104 = 5

	suiteAKM8021X = 1
	suiteAKMPSK   = 2
)

// CapabilityPreauth is the RSN capability bit advertising support for
// pre-authentication.
const CapabilityPreauth uint16 = 1 << 0

// A SuiteSet is the decoded content of a WPA or RSN information element.
type SuiteSet struct {
	Protocol     Protocol
	Group        Cipher
	Pairwise     Cipher
	KeyMgmt      KeyMgmt
	Capabilities uint16
}

// Preauth reports whether the peer advertised pre-authentication support.
func (s SuiteSet) Preauth() bool { return s.Capabilities&CapabilityPreauth != 0 }

// DecodeIE decodes a complete WPA vendor specific or RSN information
// element, header included.
//
// Fields after the version are optional: omitted trailing fields take the
// defaults of the protocol, but a partially present field is an error. Any
// PMKID list or data following the capabilities is ignored.
func DecodeIE(b []byte) (*SuiteSet, error) {
	s := cryptobyte.String(b)

	var (
		id   uint8
		body cryptobyte.String
	)
	if !s.ReadUint8(&id) || !s.ReadUint8LengthPrefixed(&body) {
		return nil, &DecodeError{Field: "header", Err: errTruncatedIE}
	}

	var (
		ss  SuiteSet
		oui uint32
	)
	switch id {
	case ieVendor:
		var sel uint32
		if !body.ReadUint32(&sel) {
			return nil, &DecodeError{Field: "vendor OUI", Err: errTruncatedIE}
		}
		if sel != wpaOUI<<8|wpaIEType {
			return nil, &DecodeError{Field: "vendor OUI", Err: errUnknownIE}
		}

		oui = wpaOUI
		ss = SuiteSet{
			Protocol: ProtocolWPA,
			Group:    CipherTKIP,
			Pairwise: CipherTKIP,
			KeyMgmt:  KeyMgmtIEEE8021X,
		}
	case ieRSN:
		oui = rsnOUI
		ss = SuiteSet{
			Protocol: ProtocolRSN,
			Group:    CipherCCMP,
			Pairwise: CipherCCMP,
			KeyMgmt:  KeyMgmtIEEE8021X,
		}
	default:
		return nil, &DecodeError{Field: "element ID", Err: errUnknownIE}
	}

	var v uint16
	if !readUint16LE(&body, &v) {
		return nil, &DecodeError{Field: "version", Err: errTruncatedIE}
	}
	if v != ieVersion {
		return nil, &DecodeError{Field: "version", Err: errIEVersion}
	}

	if body.Empty() {
		return &ss, nil
	}

	var sel uint32
	if !body.ReadUint32(&sel) {
		return nil, &DecodeError{Field: "group cipher", Err: errTruncatedIE}
	}
	ss.Group = cipherSuite(oui, sel)

	if body.Empty() {
		return &ss, nil
	}

	sels, ok := readSuiteList(&body)
	if !ok {
		return nil, &DecodeError{Field: "pairwise ciphers", Err: errTruncatedIE}
	}
	ss.Pairwise = 0
	for _, sel := range sels {
		ss.Pairwise |= cipherSuite(oui, sel)
	}

	if body.Empty() {
		return &ss, nil
	}

	sels, ok = readSuiteList(&body)
	if !ok {
		return nil, &DecodeError{Field: "key management suites", Err: errTruncatedIE}
	}
	ss.KeyMgmt = 0
	for _, sel := range sels {
		ss.KeyMgmt |= akmSuite(oui, sel)
	}

	if body.Empty() {
		return &ss, nil
	}

	if !readUint16LE(&body, &ss.Capabilities) {
		return nil, &DecodeError{Field: "capabilities", Err: errTruncatedIE}
	}

	return &ss, nil
}

// readSuiteList reads a little-endian count followed by that many suite
// selectors.
func readSuiteList(s *cryptobyte.String) ([]uint32, bool) {
	var n uint16
	if !readUint16LE(s, &n) {
		return nil, false
	}
	if len(*s) < int(n)*suiteLen {
		return nil, false
	}

	sels := make([]uint32, 0, n)
	for i := 0; i < int(n); i++ {
		var sel uint32
		if !s.ReadUint32(&sel) {
			return nil, false
		}
		sels = append(sels, sel)
	}

	return sels, true
}

// readUint16LE reads a little-endian uint16. Counts, versions and
// capabilities are little-endian while suite selectors are read in wire
// order.
func readUint16LE(s *cryptobyte.String, out *uint16) bool {
	var b []byte
	if !s.ReadBytes(&b, 2) {
		return false
	}
	*out = uint16(b[0]) | uint16(b[1])<<8
	return true
}

func addUint16LE(b *cryptobyte.Builder, v uint16) {
	b.AddBytes([]byte{byte(v), byte(v >> 8)})
}

func cipherSuite(oui, sel uint32) Cipher {
	if sel>>8 != oui {
		return CipherUnknown
	}

	switch sel & 0xff {
	case suiteCipherNone:
		return CipherNone
	case suiteCipherWEP40:
		return CipherWEP40
	case suiteCipherTKIP:
		return CipherTKIP
	case suiteCipherCCMP:
		return CipherCCMP
	case suiteCipherWEP104:
		return CipherWEP104
	default:
		return CipherUnknown
	}
}

func akmSuite(oui, sel uint32) KeyMgmt {
	if sel>>8 != oui {
		return KeyMgmtUnknown
	}

	switch sel & 0xff {
	case suiteAKM8021X:
		return KeyMgmtIEEE8021X
	case suiteAKMPSK:
		return KeyMgmtPSK
	default:
		return KeyMgmtUnknown
	}
}

// Encoding order for cipher and key management lists.
var (
	cipherOrder = []struct {
		c   Cipher
		typ uint32
	}{
		{CipherCCMP, suiteCipherCCMP},
		{CipherTKIP, suiteCipherTKIP},
		{CipherWEP104, suiteCipherWEP104},
		{CipherWEP40, suiteCipherWEP40},
		{CipherNone, suiteCipherNone},
	}

	akmOrder = []struct {
		k   KeyMgmt
		typ uint32
	}{
		{KeyMgmtIEEE8021X, suiteAKM8021X},
		{KeyMgmtPSK, suiteAKMPSK},
	}
)

// EncodeIE encodes s as a complete WPA vendor specific or RSN information
// element. The group cipher must be a single known cipher; unknown bits in
// the pairwise and key management sets are not encoded.
func EncodeIE(s SuiteSet) ([]byte, error) {
	return encodeIE(s, nil)
}

// encodeIE encodes s, appending pmkid to an RSN element when set.
func encodeIE(s SuiteSet, pmkid []byte) ([]byte, error) {
	var (
		id  uint8
		oui uint32
	)
	switch s.Protocol {
	case ProtocolWPA:
		id, oui = ieVendor, wpaOUI
	case ProtocolRSN:
		id, oui = ieRSN, rsnOUI
	default:
		return nil, errEncodeProto
	}
	if pmkid != nil && (s.Protocol != ProtocolRSN || len(pmkid) != pmkidLen) {
		return nil, errEncodePMKID
	}

	var group uint32
	found := false
	for _, c := range cipherOrder {
		if s.Group&^CipherUnknown == c.c {
			group, found = c.typ, true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: group cipher %s", errEncodeSuite, s.Group)
	}

	var b cryptobyte.Builder
	b.AddUint8(id)
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		if s.Protocol == ProtocolWPA {
			b.AddUint32(wpaOUI<<8 | wpaIEType)
		}
		addUint16LE(b, ieVersion)
		b.AddUint32(oui<<8 | group)

		var pairwise []uint32
		for _, c := range cipherOrder {
			if s.Pairwise&c.c != 0 {
				pairwise = append(pairwise, c.typ)
			}
		}
		addUint16LE(b, uint16(len(pairwise)))
		for _, typ := range pairwise {
			b.AddUint32(oui<<8 | typ)
		}

		var akms []uint32
		for _, k := range akmOrder {
			if s.KeyMgmt&k.k != 0 {
				akms = append(akms, k.typ)
			}
		}
		addUint16LE(b, uint16(len(akms)))
		for _, typ := range akms {
			b.AddUint32(oui<<8 | typ)
		}

		addUint16LE(b, s.Capabilities)

		if pmkid != nil {
			addUint16LE(b, 1)
			b.AddBytes(pmkid)
		}
	})

	out, err := b.Bytes()
	if err != nil {
		return nil, errors.Join(errEncodeTooLong, err)
	}

	return out, nil
}

// wpaIEPrefix identifies a version 1 WPA vendor specific element body.
var wpaIEPrefix = []byte{0x00, 0x50, 0xf2, wpaIEType, ieVersion, 0x00}

// findWPAIE returns a copy of the first WPA vendor specific element found
// in a stream of elements. Unlike parseIEs it does not fail on malformed
// input: the walk stops at the first element that does not fit.
func findWPAIE(b []byte) []byte {
	s := cryptobyte.String(b)
	for !s.Empty() {
		var (
			id   uint8
			body cryptobyte.String
		)
		if !s.ReadUint8(&id) || !s.ReadUint8LengthPrefixed(&body) {
			return nil
		}

		if id == ieVendor && len(body) > len(wpaIEPrefix) && bytes.HasPrefix(body, wpaIEPrefix) {
			return ie{ID: id, Data: body}.bytes()
		}
	}

	return nil
}
