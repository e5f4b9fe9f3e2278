package wpa

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// rsnPSKCCMP is an RSN element advertising CCMP/CCMP/PSK with no
// capabilities set.
var rsnPSKCCMP = []byte{
	0x30, 0x14,
	0x01, 0x00,
	0x00, 0x0f, 0xac, 0x04,
	0x01, 0x00, 0x00, 0x0f, 0xac, 0x04,
	0x01, 0x00, 0x00, 0x0f, 0xac, 0x02,
	0x00, 0x00,
}

// wpaPSKTKIP is a WPA element advertising TKIP/TKIP/PSK.
var wpaPSKTKIP = []byte{
	0xdd, 0x18,
	0x00, 0x50, 0xf2, 0x01,
	0x01, 0x00,
	0x00, 0x50, 0xf2, 0x02,
	0x01, 0x00, 0x00, 0x50, 0xf2, 0x02,
	0x01, 0x00, 0x00, 0x50, 0xf2, 0x02,
	0x00, 0x00,
}

func TestEncodeIE(t *testing.T) {
	tests := []struct {
		name string
		s    SuiteSet
		b    []byte
		ok   bool
	}{
		{
			name: "bad protocol",
			s: SuiteSet{
				Protocol: ProtocolWPA | ProtocolRSN,
				Group:    CipherCCMP,
			},
		},
		{
			name: "multiple group ciphers",
			s: SuiteSet{
				Protocol: ProtocolRSN,
				Group:    CipherCCMP | CipherTKIP,
			},
		},
		{
			name: "RSN",
			s: SuiteSet{
				Protocol: ProtocolRSN,
				Group:    CipherCCMP,
				Pairwise: CipherCCMP,
				KeyMgmt:  KeyMgmtPSK,
			},
			b:  rsnPSKCCMP,
			ok: true,
		},
		{
			name: "WPA",
			s: SuiteSet{
				Protocol: ProtocolWPA,
				Group:    CipherTKIP,
				Pairwise: CipherTKIP,
				KeyMgmt:  KeyMgmtPSK,
			},
			b:  wpaPSKTKIP,
			ok: true,
		},
		{
			name: "unknown bits dropped",
			s: SuiteSet{
				Protocol: ProtocolRSN,
				Group:    CipherCCMP,
				Pairwise: CipherCCMP | CipherUnknown,
				KeyMgmt:  KeyMgmtPSK | KeyMgmtUnknown,
			},
			b:  rsnPSKCCMP,
			ok: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := EncodeIE(tt.s)
			if tt.ok && err != nil {
				t.Fatalf("failed to encode: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatal("expected an error, but none occurred")
			}
			if err != nil {
				t.Logf("err: %v", err)
				return
			}

			if diff := cmp.Diff(tt.b, b); diff != "" {
				t.Fatalf("unexpected element bytes (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodeIERoundTrip(t *testing.T) {
	sets := []SuiteSet{
		{
			Protocol:     ProtocolRSN,
			Group:        CipherTKIP,
			Pairwise:     CipherCCMP | CipherTKIP,
			KeyMgmt:      KeyMgmtIEEE8021X | KeyMgmtPSK,
			Capabilities: CapabilityPreauth,
		},
		{
			Protocol: ProtocolWPA,
			Group:    CipherWEP104,
			Pairwise: CipherNone,
			KeyMgmt:  KeyMgmtIEEE8021X,
		},
	}

	for _, s := range sets {
		t.Run(s.Protocol.String(), func(t *testing.T) {
			b, err := EncodeIE(s)
			if err != nil {
				t.Fatalf("failed to encode: %v", err)
			}

			got, err := DecodeIE(b)
			if err != nil {
				t.Fatalf("failed to decode: %v", err)
			}

			if diff := cmp.Diff(s, *got); diff != "" {
				t.Fatalf("unexpected suite set (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeIE(t *testing.T) {
	tests := []struct {
		name  string
		b     []byte
		s     *SuiteSet
		field string
		err   error
	}{
		{
			name:  "empty",
			field: "header",
			err:   errTruncatedIE,
		},
		{
			name:  "length exceeds buffer",
			b:     []byte{0x30, 0x04, 0x01, 0x00},
			field: "header",
			err:   errTruncatedIE,
		},
		{
			name:  "not security element",
			b:     []byte{0x00, 0x02, 0x01, 0x00},
			field: "element ID",
			err:   errUnknownIE,
		},
		{
			name:  "vendor element, not WPA",
			b:     []byte{0xdd, 0x06, 0x00, 0x50, 0xf2, 0x04, 0x01, 0x00},
			field: "vendor OUI",
			err:   errUnknownIE,
		},
		{
			name:  "bad version",
			b:     []byte{0x30, 0x02, 0x02, 0x00},
			field: "version",
			err:   errIEVersion,
		},
		{
			name:  "truncated group cipher",
			b:     []byte{0x30, 0x04, 0x01, 0x00, 0x00, 0x0f},
			field: "group cipher",
			err:   errTruncatedIE,
		},
		{
			name: "truncated pairwise list",
			b: []byte{
				0x30, 0x0c,
				0x01, 0x00,
				0x00, 0x0f, 0xac, 0x04,
				0x02, 0x00, 0x00, 0x0f, 0xac, 0x04,
			},
			field: "pairwise ciphers",
			err:   errTruncatedIE,
		},
		{
			name: "truncated capabilities",
			b: []byte{
				0x30, 0x13,
				0x01, 0x00,
				0x00, 0x0f, 0xac, 0x04,
				0x01, 0x00, 0x00, 0x0f, 0xac, 0x04,
				0x01, 0x00, 0x00, 0x0f, 0xac, 0x02,
				0x00,
			},
			field: "capabilities",
			err:   errTruncatedIE,
		},
		{
			name: "RSN version only",
			b:    []byte{0x30, 0x02, 0x01, 0x00},
			s: &SuiteSet{
				Protocol: ProtocolRSN,
				Group:    CipherCCMP,
				Pairwise: CipherCCMP,
				KeyMgmt:  KeyMgmtIEEE8021X,
			},
		},
		{
			name: "WPA version only",
			b:    []byte{0xdd, 0x06, 0x00, 0x50, 0xf2, 0x01, 0x01, 0x00},
			s: &SuiteSet{
				Protocol: ProtocolWPA,
				Group:    CipherTKIP,
				Pairwise: CipherTKIP,
				KeyMgmt:  KeyMgmtIEEE8021X,
			},
		},
		{
			name: "RSN group only",
			b:    []byte{0x30, 0x06, 0x01, 0x00, 0x00, 0x0f, 0xac, 0x02},
			s: &SuiteSet{
				Protocol: ProtocolRSN,
				Group:    CipherTKIP,
				Pairwise: CipherCCMP,
				KeyMgmt:  KeyMgmtIEEE8021X,
			},
		},
		{
			name: "RSN PSK",
			b:    rsnPSKCCMP,
			s: &SuiteSet{
				Protocol: ProtocolRSN,
				Group:    CipherCCMP,
				Pairwise: CipherCCMP,
				KeyMgmt:  KeyMgmtPSK,
			},
		},
		{
			name: "WPA PSK",
			b:    wpaPSKTKIP,
			s: &SuiteSet{
				Protocol: ProtocolWPA,
				Group:    CipherTKIP,
				Pairwise: CipherTKIP,
				KeyMgmt:  KeyMgmtPSK,
			},
		},
		{
			name: "unknown and foreign suites",
			b: []byte{
				0x30, 0x18,
				0x01, 0x00,
				0x00, 0x0f, 0xac, 0x04,
				0x02, 0x00, 0x00, 0x0f, 0xac, 0x09, 0x00, 0x50, 0xf2, 0x02,
				0x01, 0x00, 0x00, 0x0f, 0xac, 0x08,
				0x01, 0x00,
			},
			s: &SuiteSet{
				Protocol:     ProtocolRSN,
				Group:        CipherCCMP,
				Pairwise:     CipherUnknown,
				KeyMgmt:      KeyMgmtUnknown,
				Capabilities: CapabilityPreauth,
			},
		},
		{
			name: "PMKID list ignored",
			b: append([]byte{
				0x30, 0x26,
				0x01, 0x00,
				0x00, 0x0f, 0xac, 0x04,
				0x01, 0x00, 0x00, 0x0f, 0xac, 0x04,
				0x01, 0x00, 0x00, 0x0f, 0xac, 0x01,
				0x00, 0x00,
				0x01, 0x00,
			}, bytes.Repeat([]byte{0xaa}, 16)...),
			s: &SuiteSet{
				Protocol: ProtocolRSN,
				Group:    CipherCCMP,
				Pairwise: CipherCCMP,
				KeyMgmt:  KeyMgmtIEEE8021X,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := DecodeIE(tt.b)

			if tt.err != nil {
				var derr *DecodeError
				if !errors.As(err, &derr) {
					t.Fatalf("expected *DecodeError, but got: %#v", err)
				}

				if want, got := tt.field, derr.Field; want != got {
					t.Fatalf("unexpected error field:\n- want: %q\n-  got: %q",
						want, got)
				}
				if !errors.Is(err, tt.err) {
					t.Fatalf("unexpected error:\n- want: %v\n-  got: %v",
						tt.err, err)
				}

				return
			}
			if err != nil {
				t.Fatalf("failed to decode: %v", err)
			}

			if diff := cmp.Diff(tt.s, s); diff != "" {
				t.Fatalf("unexpected suite set (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodeIEPMKID(t *testing.T) {
	pmkid := bytes.Repeat([]byte{0x5a}, pmkidLen)

	b, err := encodeIE(SuiteSet{
		Protocol: ProtocolRSN,
		Group:    CipherCCMP,
		Pairwise: CipherCCMP,
		KeyMgmt:  KeyMgmtIEEE8021X,
	}, pmkid)
	if err != nil {
		t.Fatalf("failed to encode: %v", err)
	}

	if want, got := len(rsnPSKCCMP)+2+pmkidLen, len(b); want != got {
		t.Fatalf("unexpected element length:\n- want: %v\n-  got: %v",
			want, got)
	}
	if !bytes.HasSuffix(b, pmkid) {
		t.Fatalf("element does not end with PMKID: %x", b)
	}

	if _, err := encodeIE(SuiteSet{
		Protocol: ProtocolWPA,
		Group:    CipherTKIP,
	}, pmkid); !errors.Is(err, errEncodePMKID) {
		t.Fatalf("expected PMKID error for WPA, but got: %v", err)
	}
}

func Test_findWPAIE(t *testing.T) {
	tests := []struct {
		name string
		b    []byte
		ie   []byte
	}{
		{
			name: "empty",
		},
		{
			name: "no WPA",
			b:    append([]byte{0x00, 0x03, 'f', 'o', 'o'}, rsnPSKCCMP...),
		},
		{
			name: "other vendor first",
			b: append([]byte{
				0xdd, 0x07, 0x00, 0x50, 0xf2, 0x02, 0x01, 0x01, 0x00,
			}, wpaPSKTKIP...),
			ie: wpaPSKTKIP,
		},
		{
			name: "malformed tail",
			b:    append(append([]byte{}, wpaPSKTKIP...), 0xdd, 0xff),
			ie:   wpaPSKTKIP,
		},
		{
			name: "malformed before",
			b:    append([]byte{0x00, 0xff}, wpaPSKTKIP...),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.ie, findWPAIE(tt.b)); diff != "" {
				t.Fatalf("unexpected WPA element (-want +got):\n%s", diff)
			}
		})
	}
}
