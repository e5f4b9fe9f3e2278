package wpa

import (
	"bytes"
	"errors"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"go.uber.org/zap"
)

// EthernetTypeRSNPreauth is the ethertype of RSN pre-authentication frames.
const EthernetTypeRSNPreauth layers.EthernetType = 0x88c7

var (
	// ErrNoPreauthTransport is returned when a pre-authentication frame is
	// sent without a pre-authentication transport.
	ErrNoPreauthTransport = errors.New("wpa: no pre-authentication transport")

	// ErrPolicyDrop is returned when a frame is intentionally not sent in
	// the current security mode.
	ErrPolicyDrop = errors.New("wpa: EAPOL frame dropped by policy")
)

// A Transport sends link-layer frames.
type Transport interface {
	SendRawFrame(dst, src net.HardwareAddr, ethertype layers.EthernetType, payload []byte) error
}

// SendEAPOL sends an 802.1X frame of type typ to the current BSS, or to the
// pre-authentication target when preauth is set.
//
// Frames other than pre-authentication are dropped with ErrPolicyDrop while
// using PSK key management, and EAPOL-Start is dropped while a cached PMKSA
// is in use.
func (s *Session) SendEAPOL(typ layers.EAPOLType, payload []byte, preauth bool) error {
	if preauth && s.preauthTx == nil {
		return ErrNoPreauthTransport
	}

	if !preauth && s.sec.KeyMgmt == KeyMgmtPSK {
		s.log.Debug("dropping EAPOL frame in WPA-PSK mode",
			zap.Stringer("type", typ), zap.Int("len", len(payload)))
		return ErrPolicyDrop
	}

	if !preauth && s.sec.PMKSA != nil && typ == layers.EAPOLTypeStart {
		s.log.Debug("PMKSA caching, not sending EAPOL-Start")
		return ErrPolicyDrop
	}

	frame, err := marshalEAPOL(s.eapolVersion, typ, payload)
	if err != nil {
		return err
	}

	var (
		tx  = s.tx
		dst = s.bssid
		et  = layers.EthernetTypeEAPOL
	)
	if preauth {
		tx, dst, et = s.preauthTx, s.preauthBSSID, EthernetTypeRSNPreauth
	}

	s.log.Debug("TX EAPOL", zap.Stringer("dst", dst), zap.Binary("frame", frame))
	return tx.SendRawFrame(dst, s.ownAddr, et, frame)
}

// marshalEAPOL prepends the 802.1X header to payload.
func marshalEAPOL(version uint8, typ layers.EAPOLType, payload []byte) ([]byte, error) {
	if len(payload) > 0xffff {
		return nil, errors.New("wpa: EAPOL payload too long")
	}

	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{},
		&layers.EAPOL{
			Version: version,
			Type:    typ,
			Length:  uint16(len(payload)),
		},
		gopacket.Payload(payload),
	)
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// eapolHeaderLen is the length of the 802.1X header.
const eapolHeaderLen = 4

// receiveEAPOL forwards a frame from the current BSS or the
// pre-authentication target to the 802.1X port.
func (s *Session) receiveEAPOL(ev EventEAPOL) {
	want := s.bssid
	if ev.Preauth {
		want = s.preauthBSSID
	}
	if len(want) == 0 || !bytes.Equal(ev.Source, want) {
		s.log.Debug("dropping EAPOL frame from unexpected source",
			zap.Stringer("src", ev.Source), zap.Bool("preauth", ev.Preauth))
		return
	}

	if len(ev.Frame) < eapolHeaderLen {
		s.log.Debug("dropping short EAPOL frame", zap.Int("len", len(ev.Frame)))
		return
	}

	var eapol layers.EAPOL
	if err := eapol.DecodeFromBytes(ev.Frame, gopacket.NilDecodeFeedback); err != nil {
		s.log.Debug("dropping malformed EAPOL frame", zap.Error(err))
		return
	}

	s.log.Debug("RX EAPOL",
		zap.Stringer("src", ev.Source),
		zap.Stringer("type", eapol.Type),
		zap.Binary("frame", ev.Frame))
	s.port.ReceiveEAPOL(ev.Source, ev.Frame, ev.Preauth)
}
