package wpa

import (
	"errors"
	"fmt"
	"net"
)

// ErrCountermeasures is returned by a Driver which refuses to associate
// while TKIP countermeasures are active.
var ErrCountermeasures = errors.New("TKIP countermeasures active")

// A Driver performs wireless operations on a single network interface.
type Driver interface {
	// Scan requests a scan. If ssid is not empty, a directed probe is sent
	// for it. Completion is reported with EventScanResults.
	Scan(ssid []byte) error

	// Associate requests association with an access point. Completion is
	// reported with EventAssociation.
	Associate(p AssociateParams) error

	// Disassociate leaves the BSS identified by bssid.
	Disassociate(bssid net.HardwareAddr, reason ReasonCode) error

	// SetKey installs or, with KeyAlgNone, removes a key.
	SetKey(k KeyParams) error

	// SetCountermeasures enables or disables TKIP countermeasures.
	SetCountermeasures(enabled bool) error

	// ScanResults returns the results of the most recent scan.
	ScanResults() ([]ScanResult, error)

	// BSSID returns the BSSID the interface is associated with.
	BSSID() (net.HardwareAddr, error)
}

// AssociateParams are the parameters of an association request.
type AssociateParams struct {
	BSSID     net.HardwareAddr
	SSID      []byte
	Frequency int

	// IE is the WPA or RSN element to include in the request, if any.
	IE []byte

	Pairwise Cipher
	Group    Cipher
	KeyMgmt  KeyMgmt

	// PMK is the pairwise master key for PSK key management. A driver
	// which offloads the 4-way handshake uses it; others ignore it.
	PMK []byte
}

// A KeyAlg is a key algorithm.
type KeyAlg int

// Possible KeyAlg values.
const (
	KeyAlgNone KeyAlg = iota
	KeyAlgWEP
	KeyAlgTKIP
	KeyAlgCCMP
)

// String returns the string representation of a KeyAlg.
func (a KeyAlg) String() string {
	switch a {
	case KeyAlgNone:
		return "none"
	case KeyAlgWEP:
		return "WEP"
	case KeyAlgTKIP:
		return "TKIP"
	case KeyAlgCCMP:
		return "CCMP"
	default:
		return fmt.Sprintf("unknown(%d)", int(a))
	}
}

// KeyParams describe a key to install or remove.
type KeyParams struct {
	Alg KeyAlg

	// Addr is the peer address for a pairwise key, or the broadcast
	// address for a group key.
	Addr net.HardwareAddr

	// Index is the key slot, 0 through 3.
	Index int

	// Unicast marks the key as the default transmit key.
	Unicast bool

	// Seq is the receive sequence counter.
	Seq []byte

	Key []byte
}

// broadcastAddr addresses group keys.
var broadcastAddr = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// numKeySlots is the number of default key slots.
const numKeySlots = 4
