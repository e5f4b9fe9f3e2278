package main

import (
	"net"

	"go.uber.org/zap"

	"github.com/mdlayher/wpa"
)

// A logPort is a wpa.PortControl which records port transitions. It stands
// in for an IEEE 802.1X supplicant: open networks work, and PSK networks work
// on devices which offload the 4-way handshake. Other networks never complete
// authentication and are retried after each authentication timeout.
type logPort struct {
	log *zap.SugaredLogger
}

var _ wpa.PortControl = &logPort{}

func newLogPort(log *zap.Logger) *logPort {
	return &logPort{log: log.Named("eapol").Sugar()}
}

func (p *logPort) PortEnabled(enabled bool) { p.log.Debugf("portEnabled=%v", enabled) }
func (p *logPort) PortValid(valid bool)     { p.log.Debugf("portValid=%v", valid) }
func (p *logPort) EAPSuccess(success bool)  { p.log.Debugf("eapSuccess=%v", success) }
func (p *logPort) EAPFail(fail bool)        { p.log.Debugf("eapFail=%v", fail) }

func (p *logPort) Config(n *wpa.NetworkProfile, noWPA bool) {
	if n == nil {
		p.log.Debug("configuration cleared")
		return
	}

	p.log.Debugf("configured for %q (noWPA=%v)", wpa.SSIDText(n.SSID), noWPA)
}

func (p *logPort) RequestKey(pairwise bool) {
	p.log.Infof("key request after MIC failure (pairwise=%v)", pairwise)
}

func (p *logPort) ReceiveEAPOL(src net.HardwareAddr, frame []byte, preauth bool) {
	p.log.Debugf("received %d byte EAPOL frame from %s (preauth=%v)", len(frame), src, preauth)
}
