//go:build linux
// +build linux

package wpa

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/josharian/native"
	"github.com/mdlayher/socket"
	"golang.org/x/sys/unix"
)

var _ Transport = &PacketConn{}

// A PacketConn sends and receives Ethernet frames of one ethertype on a
// network interface using an AF_PACKET socket.
type PacketConn struct {
	c       *socket.Conn
	ifindex int
	proto   layers.EthernetType
}

// ListenPacket opens a PacketConn for frames of ethertype proto on the
// interface with index ifindex.
func ListenPacket(ifindex int, proto layers.EthernetType) (*PacketConn, error) {
	c, err := socket.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(uint16(proto))), "packet", nil)
	if err != nil {
		return nil, err
	}

	if err := c.Bind(&unix.SockaddrLinklayer{
		Protocol: htons(uint16(proto)),
		Ifindex:  ifindex,
	}); err != nil {
		_ = c.Close()
		return nil, err
	}

	return &PacketConn{
		c:       c,
		ifindex: ifindex,
		proto:   proto,
	}, nil
}

// Close closes the underlying socket.
func (p *PacketConn) Close() error { return p.c.Close() }

// SendRawFrame implements Transport.
func (p *PacketConn) SendRawFrame(dst, src net.HardwareAddr, ethertype layers.EthernetType, payload []byte) error {
	if len(dst) != 6 {
		return fmt.Errorf("wpa: invalid destination address %q", dst)
	}

	frame, err := marshalEthernet(dst, src, ethertype, payload)
	if err != nil {
		return err
	}

	sa := &unix.SockaddrLinklayer{
		Protocol: htons(uint16(ethertype)),
		Ifindex:  p.ifindex,
		Halen:    6,
	}
	copy(sa.Addr[:], dst)

	return p.c.Sendto(context.Background(), frame, 0, sa)
}

// ReadFrame reads the next frame, returning its source address and its
// payload following the Ethernet header.
func (p *PacketConn) ReadFrame(ctx context.Context) (net.HardwareAddr, []byte, error) {
	b := make([]byte, 2048)
	for {
		n, _, err := p.c.Recvfrom(ctx, b, 0)
		if err != nil {
			return nil, nil, err
		}

		src, payload, err := unmarshalEthernet(b[:n], p.proto)
		if err != nil {
			// Not for us or malformed.
			continue
		}

		return src, payload, nil
	}
}

// Receive calls fn for each received frame until ctx is canceled.
func (p *PacketConn) Receive(ctx context.Context, fn func(src net.HardwareAddr, payload []byte)) error {
	for {
		src, payload, err := p.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		fn(src, payload)
	}
}

var errEthernetType = errors.New("unexpected ethertype")

func marshalEthernet(dst, src net.HardwareAddr, ethertype layers.EthernetType, payload []byte) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{},
		&layers.Ethernet{
			DstMAC:       dst,
			SrcMAC:       src,
			EthernetType: ethertype,
		},
		gopacket.Payload(payload),
	)
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func unmarshalEthernet(b []byte, proto layers.EthernetType) (net.HardwareAddr, []byte, error) {
	var eth layers.Ethernet
	if err := eth.DecodeFromBytes(b, gopacket.NilDecodeFeedback); err != nil {
		return nil, nil, err
	}
	if eth.EthernetType != proto {
		return nil, nil, errEthernetType
	}

	src := append(net.HardwareAddr(nil), eth.SrcMAC...)
	payload := append([]byte(nil), eth.Payload...)
	return src, payload, nil
}

// htons converts v to network byte order as stored in host memory.
func htons(v uint16) uint16 {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return native.Endian.Uint16(b[:])
}
