//go:build !linux
// +build !linux

package wpa

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
)

var _ Driver = &NL80211{}

// errUnimplemented is returned by all functions on platforms that
// do not have package wpa implemented.
var errUnimplemented = fmt.Errorf("wpa: not implemented on %s", runtime.GOOS)

// ErrEventGroupNotFound is returned when nl80211 does not offer a multicast
// group needed to receive events.
var ErrEventGroupNotFound = errors.New("nl80211 multicast group unavailable")

// An NL80211 is the no-op Driver for platforms without nl80211.
type NL80211 struct{}

// DialNL80211 always returns an error on this platform.
func DialNL80211(_ string) (*NL80211, error) { return nil, errUnimplemented }

func (*NL80211) Close() error                                        { return errUnimplemented }
func (*NL80211) Interface() Interface                                { return Interface{} }
func (*NL80211) Interfaces() ([]*Interface, error)                   { return nil, errUnimplemented }
func (*NL80211) Scan(_ []byte) error                                 { return errUnimplemented }
func (*NL80211) ScanResults() ([]ScanResult, error)                  { return nil, errUnimplemented }
func (*NL80211) BSSID() (net.HardwareAddr, error)                    { return nil, errUnimplemented }
func (*NL80211) Associate(_ AssociateParams) error                   { return errUnimplemented }
func (*NL80211) Disassociate(_ net.HardwareAddr, _ ReasonCode) error { return errUnimplemented }
func (*NL80211) SetKey(_ KeyParams) error                            { return errUnimplemented }
func (*NL80211) SetCountermeasures(_ bool) error                     { return errUnimplemented }
func (*NL80211) Events(_ context.Context, _ func(Event)) error       { return errUnimplemented }
