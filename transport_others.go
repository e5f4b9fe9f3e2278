//go:build !linux
// +build !linux

package wpa

import (
	"context"
	"net"

	"github.com/google/gopacket/layers"
)

var _ Transport = &PacketConn{}

// A PacketConn is the no-op Transport for platforms without AF_PACKET.
type PacketConn struct{}

// ListenPacket always returns an error on this platform.
func ListenPacket(_ int, _ layers.EthernetType) (*PacketConn, error) {
	return nil, errUnimplemented
}

func (*PacketConn) Close() error { return errUnimplemented }

func (*PacketConn) SendRawFrame(_, _ net.HardwareAddr, _ layers.EthernetType, _ []byte) error {
	return errUnimplemented
}

func (*PacketConn) ReadFrame(_ context.Context) (net.HardwareAddr, []byte, error) {
	return nil, nil, errUnimplemented
}

func (*PacketConn) Receive(_ context.Context, _ func(net.HardwareAddr, []byte)) error {
	return errUnimplemented
}
