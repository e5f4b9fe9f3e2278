package wpa

import (
	"errors"
	"fmt"
)

// ErrNoCommonSuite is returned when an access point and a NetworkProfile
// share no protocol, cipher or key management suite.
var ErrNoCommonSuite = errors.New("wpa: no common security suite")

// errNoSecurityIE is returned when a BSS offers no security information
// element usable with a profile.
var errNoSecurityIE = errors.New("wpa: no usable WPA or RSN information element")

// Key material sizes.
const (
	PMKLen           = 32
	PMKIDLen         = pmkidLen
	ReplayCounterLen = 8
)

// Selection order for negotiated suites, highest priority first.
var (
	groupPriority    = []Cipher{CipherCCMP, CipherTKIP, CipherWEP104, CipherWEP40}
	pairwisePriority = []Cipher{CipherCCMP, CipherTKIP, CipherNone}
	keyMgmtPriority  = []KeyMgmt{KeyMgmtIEEE8021X, KeyMgmtPSK}
)

// SecurityState is the negotiated security configuration of a link.
type SecurityState struct {
	// The selected protocol and suites. Each holds exactly one bit once
	// negotiated.
	Protocol Protocol
	Pairwise Cipher
	Group    Cipher
	KeyMgmt  KeyMgmt

	// PMK is the pairwise master key; all zero until one is established.
	PMK [PMKLen]byte

	// ExternalPMK is set when the PMK must be supplied by an IEEE 802.1X
	// exchange, and PMKReceived once it has been.
	ExternalPMK bool
	PMKReceived bool

	// PMKSA is the cache entry used for this association, if any.
	PMKSA *PMKSAEntry

	// APIE is the access point's security element and OwnIE the element
	// sent in the association request.
	APIE  []byte
	OwnIE []byte

	// ReplayCounter holds the last EAPOL-Key replay counter seen from the
	// access point, valid only when ReplayCounterSet is true.
	ReplayCounter    [ReplayCounterLen]byte
	ReplayCounterSet bool

	// Preauth reports whether the access point supports RSN
	// pre-authentication.
	Preauth bool
}

// Negotiate selects the protocol, ciphers and key management suite to use
// with the access point described by bss under profile p. The PMK is the
// profile PSK when PSK key management is selected, else the PMK of a PMKSA
// cache entry for the BSSID. Otherwise it is left zero to be supplied
// externally.
//
// cache may be nil. On failure no state is returned.
func Negotiate(bss *ScanResult, p *NetworkProfile, cache *PMKSACache) (*SecurityState, error) {
	apIE, ss, err := selectIE(bss, p)
	if err != nil {
		return nil, err
	}

	if ss.Protocol&p.Protocols == 0 {
		return nil, fmt.Errorf("%w: protocol %s", ErrNoCommonSuite, ss.Protocol)
	}

	group, ok := selectCipher(ss.Group&p.Group, groupPriority)
	if !ok {
		return nil, fmt.Errorf("%w: group cipher %s", ErrNoCommonSuite, ss.Group)
	}

	pairwise, ok := selectCipher(ss.Pairwise&p.Pairwise, pairwisePriority)
	if !ok {
		return nil, fmt.Errorf("%w: pairwise cipher %s", ErrNoCommonSuite, ss.Pairwise)
	}

	keyMgmt, ok := selectKeyMgmt(ss.KeyMgmt & p.KeyMgmt)
	if !ok {
		return nil, fmt.Errorf("%w: key management %s", ErrNoCommonSuite, ss.KeyMgmt)
	}

	st := &SecurityState{
		Protocol: ss.Protocol,
		Pairwise: pairwise,
		Group:    group,
		KeyMgmt:  keyMgmt,
		APIE:     append([]byte(nil), apIE...),
		Preauth:  ss.Preauth(),
	}

	if cache != nil {
		if e, ok := cache.Lookup(bss.BSSID, nil); ok {
			st.PMKSA = &e
		}
	}

	switch {
	case keyMgmt == KeyMgmtPSK:
		copy(st.PMK[:], p.PSK)
	case st.PMKSA != nil:
		st.PMK = st.PMKSA.PMK
	default:
		st.ExternalPMK = true
	}

	var pmkid []byte
	if st.PMKSA != nil && st.Protocol == ProtocolRSN {
		pmkid = st.PMKSA.PMKID[:]
	}

	own, err := encodeIE(SuiteSet{
		Protocol: st.Protocol,
		Group:    group,
		Pairwise: pairwise,
		KeyMgmt:  keyMgmt,
	}, pmkid)
	if err != nil {
		return nil, err
	}
	st.OwnIE = own

	return st, nil
}

// selectIE picks the element to negotiate with. RSN is preferred when the
// BSS advertises it and the profile allows it; the WPA element is used when
// RSN is not allowed, absent, or fails to decode.
func selectIE(bss *ScanResult, p *NetworkProfile) ([]byte, *SuiteSet, error) {
	var rsnErr error
	if len(bss.RSNIE) > 0 && p.Protocols&ProtocolRSN != 0 {
		ss, err := DecodeIE(bss.RSNIE)
		if err == nil {
			return bss.RSNIE, ss, nil
		}
		rsnErr = err
	}

	if len(bss.WPAIE) > 0 && p.Protocols&ProtocolWPA != 0 {
		ss, err := DecodeIE(bss.WPAIE)
		if err != nil {
			return nil, nil, errors.Join(rsnErr, err)
		}
		return bss.WPAIE, ss, nil
	}

	if rsnErr != nil {
		return nil, nil, rsnErr
	}

	return nil, nil, errNoSecurityIE
}

func selectCipher(c Cipher, priority []Cipher) (Cipher, bool) {
	for _, p := range priority {
		if c&p != 0 {
			return p, true
		}
	}

	return 0, false
}

func selectKeyMgmt(k KeyMgmt) (KeyMgmt, bool) {
	for _, p := range keyMgmtPriority {
		if k&p != 0 {
			return p, true
		}
	}

	return 0, false
}
