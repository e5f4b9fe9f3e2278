//go:build linux
// +build linux

package wpa

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	"golang.org/x/sys/unix"

	"github.com/mdlayher/wpa/internal/nl80211"
)

var _ Driver = &NL80211{}

var (
	// ErrEventGroupNotFound is returned when nl80211 does not offer a
	// multicast group needed to receive events.
	ErrEventGroupNotFound = errors.New("nl80211 multicast group unavailable")

	errNoInterface = errors.New("no such WiFi interface")
)

// An NL80211 is a Driver which manages one interface using netlink,
// generic netlink and nl80211.
type NL80211 struct {
	c             *genetlink.Conn
	family        genetlink.Family
	familyID      uint16
	familyVersion uint8
	ifi           Interface

	// nl80211 leaves TKIP countermeasures to the station: while active,
	// Associate refuses to connect.
	mu              sync.Mutex
	countermeasures bool
}

// DialNL80211 dials a generic netlink connection, verifies that nl80211 is
// available and looks up the named interface.
func DialNL80211(name string) (*NL80211, error) {
	c, err := genetlink.Dial(nil)
	if err != nil {
		return nil, err
	}

	// Best effort: older kernels may not support these options.
	for _, o := range []netlink.ConnOption{
		netlink.ExtendedAcknowledge,
		netlink.GetStrictCheck,
	} {
		_ = c.SetOption(o, true)
	}

	return initNL80211(c, name)
}

func initNL80211(c *genetlink.Conn, name string) (*NL80211, error) {
	family, err := c.GetFamily(unix.NL80211_GENL_NAME)
	if err != nil {
		// Ensure the genl socket is closed on error to avoid leaking file
		// descriptors.
		_ = c.Close()
		return nil, err
	}

	d := &NL80211{
		c:             c,
		family:        family,
		familyID:      family.ID,
		familyVersion: family.Version,
	}

	ifis, err := d.Interfaces()
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	for _, ifi := range ifis {
		if ifi.Name == name {
			d.ifi = *ifi
			return d, nil
		}
	}

	_ = c.Close()
	return nil, fmt.Errorf("%w: %q", errNoInterface, name)
}

// Close closes the driver's generic netlink connection.
func (d *NL80211) Close() error { return d.c.Close() }

// Interface returns the interface managed by d.
func (d *NL80211) Interface() Interface { return d.ifi }

// Interfaces requests that nl80211 return a list of all WiFi interfaces
// present on this system.
func (d *NL80211) Interfaces() ([]*Interface, error) {
	msgs, err := d.execute(
		unix.NL80211_CMD_GET_INTERFACE,
		netlink.Dump,
		netlink.NewAttributeEncoder(),
	)
	if err != nil {
		return nil, err
	}

	return parseInterfaces(msgs)
}

// Scan implements Driver. The scan runs asynchronously; its completion is
// reported by Events.
func (d *NL80211) Scan(ssid []byte) error {
	_, err := d.get(
		unix.NL80211_CMD_TRIGGER_SCAN,
		netlink.Acknowledge,
		func(ae *netlink.AttributeEncoder) {
			ae.Nested(unix.NL80211_ATTR_SCAN_SSIDS, func(nae *netlink.AttributeEncoder) error {
				// An empty SSID requests a wildcard probe.
				nae.Bytes(1, ssid)
				return nil
			})
		},
	)
	return err
}

// ScanResults implements Driver.
func (d *NL80211) ScanResults() ([]ScanResult, error) {
	msgs, err := d.get(unix.NL80211_CMD_GET_SCAN, netlink.Dump, nil)
	if err != nil {
		return nil, err
	}

	bsss, err := parseScanResults(msgs)
	if err != nil {
		return nil, err
	}

	results := make([]ScanResult, 0, len(bsss))
	for _, b := range bsss {
		results = append(results, b.ScanResult)
	}

	return results, nil
}

// BSSID implements Driver. It returns an error satisfying os.IsNotExist if
// the interface is not associated.
func (d *NL80211) BSSID() (net.HardwareAddr, error) {
	msgs, err := d.get(unix.NL80211_CMD_GET_SCAN, netlink.Dump, nil)
	if err != nil {
		return nil, err
	}

	bsss, err := parseScanResults(msgs)
	if err != nil {
		return nil, err
	}

	for _, b := range bsss {
		// The BSS which is associated with an interface will have a status
		// attribute.
		if b.associated {
			return b.BSSID, nil
		}
	}

	return nil, os.ErrNotExist
}

// Associate implements Driver. It fails with ErrCountermeasures while TKIP
// countermeasures are active. For PSK key management, the 4-way handshake is
// offloaded to the device when it supports doing so.
func (d *NL80211) Associate(p AssociateParams) error {
	d.mu.Lock()
	cm := d.countermeasures
	d.mu.Unlock()
	if cm {
		return ErrCountermeasures
	}

	var offload bool
	if p.KeyMgmt == KeyMgmtPSK && len(p.PMK) == PMKLen {
		var err error
		offload, err = d.checkExtFeature(unix.NL80211_EXT_FEATURE_4WAY_HANDSHAKE_STA_PSK)
		if err != nil {
			return err
		}
	}

	_, err := d.get(
		unix.NL80211_CMD_CONNECT,
		netlink.Acknowledge,
		func(ae *netlink.AttributeEncoder) {
			encodeAssociate(ae, p, offload)
		},
	)
	return err
}

// encodeAssociate encodes the attributes of an NL80211_CMD_CONNECT request.
// If offload is set, p.PMK is handed to the device for the 4-way handshake.
func encodeAssociate(ae *netlink.AttributeEncoder, p AssociateParams, offload bool) {
	if len(p.BSSID) > 0 {
		ae.Bytes(unix.NL80211_ATTR_MAC, p.BSSID)
	}
	ae.Bytes(unix.NL80211_ATTR_SSID, p.SSID)
	if p.Frequency > 0 {
		ae.Uint32(unix.NL80211_ATTR_WIPHY_FREQ, uint32(p.Frequency))
	}
	ae.Uint32(unix.NL80211_ATTR_AUTH_TYPE, unix.NL80211_AUTHTYPE_OPEN_SYSTEM)

	if len(p.IE) > 0 {
		ae.Bytes(unix.NL80211_ATTR_IE, p.IE)

		version := uint32(unix.NL80211_WPA_VERSION_1)
		if p.IE[0] == ieRSN {
			version = unix.NL80211_WPA_VERSION_2
		}
		ae.Uint32(unix.NL80211_ATTR_WPA_VERSIONS, version)
	}

	if s, ok := cipherSuiteNL80211(p.Pairwise); ok {
		ae.Uint32(unix.NL80211_ATTR_CIPHER_SUITES_PAIRWISE, s)
	}
	if s, ok := cipherSuiteNL80211(p.Group); ok {
		ae.Uint32(unix.NL80211_ATTR_CIPHER_SUITE_GROUP, s)
	}

	switch p.KeyMgmt {
	case KeyMgmtIEEE8021X:
		ae.Uint32(unix.NL80211_ATTR_AKM_SUITES, nl80211.AKMSuite8021X)
	case KeyMgmtPSK:
		ae.Uint32(unix.NL80211_ATTR_AKM_SUITES, nl80211.AKMSuitePSK)
	}

	if p.KeyMgmt != KeyMgmtNone || p.Group&(CipherWEP40|CipherWEP104) != 0 {
		ae.Flag(unix.NL80211_ATTR_PRIVACY, true)
	}
	if p.KeyMgmt&(KeyMgmtIEEE8021X|KeyMgmtPSK|KeyMgmtIEEE8021XNoWPA) != 0 {
		// EAPOL frames are exchanged before the port is authorized.
		ae.Flag(unix.NL80211_ATTR_CONTROL_PORT, true)
	}
	if offload {
		ae.Flag(unix.NL80211_ATTR_WANT_1X_4WAY_HS, true)
		ae.Bytes(unix.NL80211_ATTR_PMK, p.PMK)
	}
}

// Disassociate implements Driver.
func (d *NL80211) Disassociate(_ net.HardwareAddr, reason ReasonCode) error {
	_, err := d.get(
		unix.NL80211_CMD_DISCONNECT,
		netlink.Acknowledge,
		func(ae *netlink.AttributeEncoder) {
			ae.Uint16(unix.NL80211_ATTR_REASON_CODE, uint16(reason))
		},
	)
	return err
}

// SetKey implements Driver. Removing a key which does not exist is not an
// error.
func (d *NL80211) SetKey(k KeyParams) error {
	if k.Alg == KeyAlgNone {
		_, err := d.get(
			unix.NL80211_CMD_DEL_KEY,
			netlink.Acknowledge,
			func(ae *netlink.AttributeEncoder) {
				ae.Uint8(unix.NL80211_ATTR_KEY_IDX, uint8(k.Index))
				if len(k.Addr) > 0 && !bytes.Equal(k.Addr, broadcastAddr) {
					ae.Bytes(unix.NL80211_ATTR_MAC, k.Addr)
				}
			},
		)
		if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.ENOLINK) {
			return nil
		}
		return err
	}

	cipher, err := keyCipherNL80211(k)
	if err != nil {
		return err
	}

	pairwise := len(k.Addr) > 0 && !bytes.Equal(k.Addr, broadcastAddr)
	_, err = d.get(
		unix.NL80211_CMD_NEW_KEY,
		netlink.Acknowledge,
		func(ae *netlink.AttributeEncoder) {
			ae.Bytes(unix.NL80211_ATTR_KEY_DATA, k.Key)
			ae.Uint32(unix.NL80211_ATTR_KEY_CIPHER, cipher)
			ae.Uint8(unix.NL80211_ATTR_KEY_IDX, uint8(k.Index))
			if len(k.Seq) > 0 {
				ae.Bytes(unix.NL80211_ATTR_KEY_SEQ, k.Seq)
			}
			if pairwise {
				ae.Bytes(unix.NL80211_ATTR_MAC, k.Addr)
			}
		},
	)
	if err != nil || pairwise || !k.Unicast {
		return err
	}

	// A group key used for transmission becomes the default key.
	_, err = d.get(
		unix.NL80211_CMD_SET_KEY,
		netlink.Acknowledge,
		func(ae *netlink.AttributeEncoder) {
			ae.Uint8(unix.NL80211_ATTR_KEY_IDX, uint8(k.Index))
			ae.Flag(unix.NL80211_ATTR_KEY_DEFAULT, true)
		},
	)
	return err
}

// SetCountermeasures implements Driver.
func (d *NL80211) SetCountermeasures(enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.countermeasures = enabled
	return nil
}

// Events joins the nl80211 scan and MLME multicast groups on a separate
// connection and calls fn with each event for the managed interface until
// ctx is canceled.
func (d *NL80211) Events(ctx context.Context, fn func(Event)) error {
	conn, err := genetlink.Dial(&netlink.Config{Strict: true})
	if err != nil {
		return err
	}
	defer conn.Close()

	family, err := conn.GetFamily(unix.NL80211_GENL_NAME)
	if err != nil {
		return err
	}

	for _, name := range nl80211.EventGroups {
		var id uint32
		for _, g := range family.Groups {
			if g.Name == name {
				id = g.ID
				break
			}
		}
		if id == 0 {
			return fmt.Errorf("%w: %q", ErrEventGroupNotFound, name)
		}

		if err := conn.JoinGroup(id); err != nil {
			return err
		}
	}

	// Unblock Receive on cancellation.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.SetReadDeadline(time.Unix(1, 0))
		case <-stop:
		}
	}()

	for {
		msgs, _, err := conn.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		for _, m := range msgs {
			if m.Header.Version != family.Version {
				continue
			}

			evs, err := parseEvent(m, d.ifi.Index)
			if err != nil {
				continue
			}
			for _, ev := range evs {
				fn(ev)
			}
		}
	}
}

// parseEvent converts an nl80211 multicast message for ifindex into
// Session events. Messages for other interfaces yield no events.
func parseEvent(m genetlink.Message, ifindex int) ([]Event, error) {
	attrs, err := netlink.UnmarshalAttributes(m.Data)
	if err != nil {
		return nil, err
	}

	var ifi Interface
	if err := (&ifi).parseAttributes(attrs); err != nil {
		return nil, err
	}
	if ifi.Index != ifindex {
		return nil, nil
	}

	switch m.Header.Command {
	case unix.NL80211_CMD_NEW_SCAN_RESULTS:
		return []Event{EventScanResults{}}, nil
	case unix.NL80211_CMD_CONNECT:
		var (
			status uint16
			reqIE  []byte
		)
		for _, a := range attrs {
			switch a.Type {
			case unix.NL80211_ATTR_STATUS_CODE:
				status = nlenc.Uint16(a.Data)
			case unix.NL80211_ATTR_REQ_IE:
				reqIE = a.Data
			}
		}

		if status != 0 {
			return []Event{EventDisassociation{}}, nil
		}

		var evs []Event
		if len(reqIE) > 0 {
			evs = append(evs, EventAssociationInfo{RequestIEs: reqIE})
		}
		return append(evs, EventAssociation{}), nil
	case unix.NL80211_CMD_DISCONNECT:
		return []Event{EventDisassociation{}}, nil
	case unix.NL80211_CMD_PORT_AUTHORIZED:
		return []Event{EventPortAuthorized{}}, nil
	case unix.NL80211_CMD_MICHAEL_MIC_FAILURE:
		var unicast bool
		for _, a := range attrs {
			if a.Type == unix.NL80211_ATTR_KEY_TYPE {
				unicast = nlenc.Uint32(a.Data) == unix.NL80211_KEYTYPE_PAIRWISE
			}
		}
		return []Event{EventMichaelMICFailure{Unicast: unicast}}, nil
	default:
		return nil, nil
	}
}

// get performs a request/response interaction with nl80211 for the managed
// interface.
func (d *NL80211) get(
	cmd uint8,
	flags netlink.HeaderFlags,
	// May be nil; used to apply optional parameters.
	params func(ae *netlink.AttributeEncoder),
) ([]genetlink.Message, error) {
	ae := netlink.NewAttributeEncoder()
	d.ifi.encode(ae)
	if params != nil {
		params(ae)
	}

	return d.execute(cmd, flags, ae)
}

// checkExtFeature reports whether the managed interface's wiphy advertises
// an nl80211 extended feature.
func (d *NL80211) checkExtFeature(feature uint) (bool, error) {
	msgs, err := d.get(
		unix.NL80211_CMD_GET_WIPHY,
		netlink.Dump,
		func(ae *netlink.AttributeEncoder) {
			ae.Flag(unix.NL80211_ATTR_SPLIT_WIPHY_DUMP, true)
		},
	)
	if err != nil {
		return false, err
	}

	var features []byte
found:
	for i := range msgs {
		attrs, err := netlink.UnmarshalAttributes(msgs[i].Data)
		if err != nil {
			return false, err
		}
		for _, a := range attrs {
			if a.Type == unix.NL80211_ATTR_EXT_FEATURES {
				features = a.Data
				break found
			}
		}
	}

	if feature/8 >= uint(len(features)) {
		return false, nil
	}

	return features[feature/8]&(1<<(feature%8)) != 0, nil
}

// execute executes the specified command with additional header flags and
// input netlink request attributes. The netlink.Request header flag is
// automatically set.
func (d *NL80211) execute(
	cmd uint8,
	flags netlink.HeaderFlags,
	ae *netlink.AttributeEncoder,
) ([]genetlink.Message, error) {
	b, err := ae.Encode()
	if err != nil {
		return nil, err
	}

	return d.c.Execute(
		genetlink.Message{
			Header: genetlink.Header{
				Command: cmd,
				Version: d.familyVersion,
			},
			Data: b,
		},
		// Always pass the genetlink family ID and request flag.
		d.familyID,
		netlink.Request|flags,
	)
}

// A bss is a ScanResult with nl80211 status.
type bss struct {
	ScanResult
	associated bool
}

// parseScanResults parses all BSS from nl80211 CMD_GET_SCAN response
// messages. Malformed information elements are skipped.
func parseScanResults(msgs []genetlink.Message) ([]bss, error) {
	bsss := make([]bss, 0, len(msgs))
	for _, m := range msgs {
		attrs, err := netlink.UnmarshalAttributes(m.Data)
		if err != nil {
			return nil, err
		}

		for _, a := range attrs {
			if a.Type != unix.NL80211_ATTR_BSS {
				continue
			}

			nattrs, err := netlink.UnmarshalAttributes(a.Data)
			if err != nil {
				return nil, err
			}

			var b bss
			(&b).parseAttributes(nattrs)
			bsss = append(bsss, b)
		}
	}

	return bsss, nil
}

// parseAttributes parses netlink attributes into a bss's fields.
func (b *bss) parseAttributes(attrs []netlink.Attribute) {
	for _, a := range attrs {
		switch a.Type {
		case unix.NL80211_BSS_BSSID:
			b.BSSID = append(net.HardwareAddr(nil), a.Data...)
		case unix.NL80211_BSS_FREQUENCY:
			b.Frequency = int(nlenc.Uint32(a.Data))
		case unix.NL80211_BSS_STATUS:
			b.associated = true
		case unix.NL80211_BSS_INFORMATION_ELEMENTS:
			ies, err := parseIEs(a.Data)
			if err != nil {
				continue
			}

			for _, ie := range ies {
				switch ie.ID {
				case ieSSID:
					b.SSID = append([]byte(nil), ie.Data...)
				case ieRSN:
					b.RSNIE = ie.bytes()
				case ieVendor:
					if b.WPAIE == nil && bytes.HasPrefix(ie.Data, wpaIEPrefix[:4]) {
						b.WPAIE = ie.bytes()
					}
				}
			}
		}
	}
}

// parseInterfaces parses zero or more Interfaces from nl80211 interface
// messages.
func parseInterfaces(msgs []genetlink.Message) ([]*Interface, error) {
	ifis := make([]*Interface, 0, len(msgs))
	for _, m := range msgs {
		attrs, err := netlink.UnmarshalAttributes(m.Data)
		if err != nil {
			return nil, err
		}

		var ifi Interface
		if err := (&ifi).parseAttributes(attrs); err != nil {
			return nil, err
		}

		ifis = append(ifis, &ifi)
	}

	return ifis, nil
}

// encode provides an encoding function for ifi's attributes.
func (ifi *Interface) encode(ae *netlink.AttributeEncoder) {
	// Mandatory.
	ae.Uint32(unix.NL80211_ATTR_IFINDEX, uint32(ifi.Index))
}

// parseAttributes parses netlink attributes into an Interface's fields.
func (ifi *Interface) parseAttributes(attrs []netlink.Attribute) error {
	for _, a := range attrs {
		switch a.Type {
		case unix.NL80211_ATTR_IFINDEX:
			ifi.Index = int(nlenc.Uint32(a.Data))
		case unix.NL80211_ATTR_IFNAME:
			ifi.Name = nlenc.String(a.Data)
		case unix.NL80211_ATTR_MAC:
			ifi.HardwareAddr = append(net.HardwareAddr(nil), a.Data...)
		case unix.NL80211_ATTR_WIPHY:
			ifi.PHY = int(nlenc.Uint32(a.Data))
		case unix.NL80211_ATTR_WIPHY_FREQ:
			ifi.Frequency = int(nlenc.Uint32(a.Data))
		}
	}

	return nil
}

func cipherSuiteNL80211(c Cipher) (uint32, bool) {
	switch c {
	case CipherWEP40:
		return nl80211.CipherSuiteWEP40, true
	case CipherWEP104:
		return nl80211.CipherSuiteWEP104, true
	case CipherTKIP:
		return nl80211.CipherSuiteTKIP, true
	case CipherCCMP:
		return nl80211.CipherSuiteCCMP, true
	default:
		return 0, false
	}
}

func keyCipherNL80211(k KeyParams) (uint32, error) {
	switch k.Alg {
	case KeyAlgWEP:
		switch len(k.Key) {
		case 5:
			return nl80211.CipherSuiteWEP40, nil
		case 13:
			return nl80211.CipherSuiteWEP104, nil
		}
	case KeyAlgTKIP:
		return nl80211.CipherSuiteTKIP, nil
	case KeyAlgCCMP:
		return nl80211.CipherSuiteCCMP, nil
	}

	return 0, fmt.Errorf("wpa: unsupported %s key of %d bytes", k.Alg, len(k.Key))
}
