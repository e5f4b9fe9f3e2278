package wpa

import (
	"bytes"
	"errors"
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var (
	testBSSID  = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	testBSSID2 = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	testOwn    = net.HardwareAddr{0x02, 0xaa, 0x00, 0x00, 0x00, 0x01}
)

// wpaEAPTKIP is a WPA element advertising TKIP/TKIP/802.1X.
var wpaEAPTKIP = []byte{
	0xdd, 0x18,
	0x00, 0x50, 0xf2, 0x01,
	0x01, 0x00,
	0x00, 0x50, 0xf2, 0x02,
	0x01, 0x00, 0x00, 0x50, 0xf2, 0x02,
	0x01, 0x00, 0x00, 0x50, 0xf2, 0x01,
	0x00, 0x00,
}

// rsnEAPPreauth is an RSN element advertising CCMP/CCMP/802.1X with
// pre-authentication support.
var rsnEAPPreauth = []byte{
	0x30, 0x14,
	0x01, 0x00,
	0x00, 0x0f, 0xac, 0x04,
	0x01, 0x00, 0x00, 0x0f, 0xac, 0x04,
	0x01, 0x00, 0x00, 0x0f, 0xac, 0x01,
	0x01, 0x00,
}

func testPSK() []byte { return bytes.Repeat([]byte{0x4b}, PMKLen) }

func pskProfile(ssid string) NetworkProfile {
	return NetworkProfile{
		SSID:      []byte(ssid),
		Protocols: ProtocolWPA | ProtocolRSN,
		Pairwise:  CipherCCMP | CipherTKIP,
		Group:     CipherCCMP | CipherTKIP | CipherWEP104 | CipherWEP40,
		KeyMgmt:   KeyMgmtPSK,
		PSK:       testPSK(),
	}
}

func eapProfile(ssid string) NetworkProfile {
	p := pskProfile(ssid)
	p.KeyMgmt = KeyMgmtIEEE8021X
	p.PSK = nil
	return p
}

func TestNegotiateRSNPSK(t *testing.T) {
	p := pskProfile("home")
	bss := &ScanResult{
		BSSID: testBSSID,
		SSID:  []byte("home"),
		RSNIE: rsnPSKCCMP,
		WPAIE: wpaPSKTKIP,
	}

	st, err := Negotiate(bss, &p, nil)
	if err != nil {
		t.Fatalf("failed to negotiate: %v", err)
	}

	var pmk [PMKLen]byte
	copy(pmk[:], testPSK())

	want := &SecurityState{
		Protocol: ProtocolRSN,
		Pairwise: CipherCCMP,
		Group:    CipherCCMP,
		KeyMgmt:  KeyMgmtPSK,
		PMK:      pmk,
		APIE:     rsnPSKCCMP,
		OwnIE:    rsnPSKCCMP,
	}

	if diff := cmp.Diff(want, st); diff != "" {
		t.Fatalf("unexpected security state (-want +got):\n%s", diff)
	}
}

func TestNegotiateWPAEAP(t *testing.T) {
	p := eapProfile("corp")
	p.Protocols = ProtocolWPA
	p.Pairwise = CipherTKIP
	p.Group = CipherTKIP

	bss := &ScanResult{
		BSSID: testBSSID,
		SSID:  []byte("corp"),
		WPAIE: wpaEAPTKIP,
	}

	st, err := Negotiate(bss, &p, NewPMKSACache(0))
	if err != nil {
		t.Fatalf("failed to negotiate: %v", err)
	}

	want := &SecurityState{
		Protocol:    ProtocolWPA,
		Pairwise:    CipherTKIP,
		Group:       CipherTKIP,
		KeyMgmt:     KeyMgmtIEEE8021X,
		ExternalPMK: true,
		APIE:        wpaEAPTKIP,
		OwnIE:       wpaEAPTKIP,
	}

	if diff := cmp.Diff(want, st); diff != "" {
		t.Fatalf("unexpected security state (-want +got):\n%s", diff)
	}
}

func TestNegotiatePMKSA(t *testing.T) {
	p := eapProfile("corp")
	bss := &ScanResult{
		BSSID: testBSSID,
		SSID:  []byte("corp"),
		RSNIE: rsnEAPPreauth,
	}

	var (
		pmkid [PMKIDLen]byte
		pmk   [PMKLen]byte
	)
	copy(pmkid[:], bytes.Repeat([]byte{0x11}, PMKIDLen))
	copy(pmk[:], bytes.Repeat([]byte{0x22}, PMKLen))

	c := NewPMKSACache(0)
	c.Insert(testBSSID2, [PMKIDLen]byte{}, [PMKLen]byte{})
	c.Insert(testBSSID, pmkid, pmk)

	st, err := Negotiate(bss, &p, c)
	if err != nil {
		t.Fatalf("failed to negotiate: %v", err)
	}

	if st.ExternalPMK {
		t.Fatal("PMK should come from the PMKSA cache")
	}
	if st.PMK != pmk {
		t.Fatalf("unexpected PMK: %x", st.PMK)
	}
	if st.PMKSA == nil || st.PMKSA.PMKID != pmkid {
		t.Fatalf("unexpected PMKSA entry: %+v", st.PMKSA)
	}
	if !st.Preauth {
		t.Fatal("access point advertised pre-authentication")
	}

	// The association element carries a single PMKID after the capabilities.
	if want, got := len(rsnEAPPreauth)+2+PMKIDLen, len(st.OwnIE); want != got {
		t.Fatalf("unexpected own element length:\n- want: %v\n-  got: %v",
			want, got)
	}
	if !bytes.HasSuffix(st.OwnIE, pmkid[:]) {
		t.Fatalf("own element does not carry the PMKID: %x", st.OwnIE)
	}

	ss, err := DecodeIE(st.OwnIE)
	if err != nil {
		t.Fatalf("failed to decode own element: %v", err)
	}
	if want, got := KeyMgmtIEEE8021X, ss.KeyMgmt; want != got {
		t.Fatalf("unexpected key management:\n- want: %v\n-  got: %v",
			want, got)
	}
}

func TestNegotiatePSKOverridesPMKSA(t *testing.T) {
	p := pskProfile("home")
	bss := &ScanResult{
		BSSID: testBSSID,
		SSID:  []byte("home"),
		RSNIE: rsnPSKCCMP,
	}

	var pmk [PMKLen]byte
	copy(pmk[:], bytes.Repeat([]byte{0x22}, PMKLen))

	c := NewPMKSACache(0)
	c.Insert(testBSSID, [PMKIDLen]byte{1}, pmk)

	st, err := Negotiate(bss, &p, c)
	if err != nil {
		t.Fatalf("failed to negotiate: %v", err)
	}

	if !bytes.Equal(st.PMK[:], testPSK()) {
		t.Fatalf("PMK should be the PSK: %x", st.PMK)
	}
}

func TestNegotiateEAPPreferredOverPSK(t *testing.T) {
	p := pskProfile("both")
	p.KeyMgmt = KeyMgmtPSK | KeyMgmtIEEE8021X

	bss := &ScanResult{
		BSSID: testBSSID,
		SSID:  []byte("both"),
		RSNIE: []byte{
			0x30, 0x18,
			0x01, 0x00,
			0x00, 0x0f, 0xac, 0x04,
			0x01, 0x00, 0x00, 0x0f, 0xac, 0x04,
			0x02, 0x00, 0x00, 0x0f, 0xac, 0x02, 0x00, 0x0f, 0xac, 0x01,
			0x00, 0x00,
		},
	}

	st, err := Negotiate(bss, &p, nil)
	if err != nil {
		t.Fatalf("failed to negotiate: %v", err)
	}

	if want, got := KeyMgmtIEEE8021X, st.KeyMgmt; want != got {
		t.Fatalf("unexpected key management:\n- want: %v\n-  got: %v", want, got)
	}
	if !st.ExternalPMK || st.PMK != [PMKLen]byte{} {
		t.Fatalf("PSK used for IEEE 802.1X: %+v", st)
	}
}

func TestNegotiateErrors(t *testing.T) {
	tests := []struct {
		name string
		p    func() NetworkProfile
		bss  ScanResult
		err  error
	}{
		{
			name: "no elements",
			p:    func() NetworkProfile { return pskProfile("x") },
			bss:  ScanResult{SSID: []byte("x")},
			err:  errNoSecurityIE,
		},
		{
			name: "RSN not allowed",
			p: func() NetworkProfile {
				p := pskProfile("x")
				p.Protocols = ProtocolWPA
				return p
			},
			bss: ScanResult{SSID: []byte("x"), RSNIE: rsnPSKCCMP},
			err: errNoSecurityIE,
		},
		{
			name: "pairwise",
			p: func() NetworkProfile {
				p := pskProfile("x")
				p.Pairwise = CipherCCMP
				return p
			},
			bss: ScanResult{SSID: []byte("x"), WPAIE: wpaPSKTKIP},
			err: ErrNoCommonSuite,
		},
		{
			name: "group",
			p: func() NetworkProfile {
				p := pskProfile("x")
				p.Group = CipherCCMP
				return p
			},
			bss: ScanResult{SSID: []byte("x"), WPAIE: wpaPSKTKIP},
			err: ErrNoCommonSuite,
		},
		{
			name: "key management",
			p:    func() NetworkProfile { return pskProfile("x") },
			bss:  ScanResult{SSID: []byte("x"), RSNIE: rsnEAPPreauth},
			err:  ErrNoCommonSuite,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.p()
			st, err := Negotiate(&tt.bss, &p, nil)
			if !errors.Is(err, tt.err) {
				t.Fatalf("unexpected error:\n- want: %v\n-  got: %v",
					tt.err, err)
			}
			if st != nil {
				t.Fatalf("expected no state on failure, but got: %+v", st)
			}
		})
	}
}

func TestNegotiateRSNDecodeFallback(t *testing.T) {
	p := pskProfile("home")
	bss := &ScanResult{
		BSSID: testBSSID,
		SSID:  []byte("home"),
		// Unsupported version.
		RSNIE: []byte{0x30, 0x02, 0x02, 0x00},
		WPAIE: wpaPSKTKIP,
	}

	st, err := Negotiate(bss, &p, nil)
	if err != nil {
		t.Fatalf("failed to negotiate: %v", err)
	}

	if want, got := ProtocolWPA, st.Protocol; want != got {
		t.Fatalf("unexpected protocol:\n- want: %v\n-  got: %v", want, got)
	}

	bss.WPAIE = nil
	if _, err := Negotiate(bss, &p, nil); !errors.Is(err, errIEVersion) {
		t.Fatalf("expected version error, but got: %v", err)
	}
}
