package wpa

import (
	"bytes"

	"github.com/google/gopacket/layers"
	"go.uber.org/zap"
)

// scan requests a scan and schedules the next one. Profiles with ScanSSID
// set are probed in turn, alternating with broadcast scans.
func (s *Session) scan() {
	if s.state == StateDisconnected {
		s.state = StateScanning
	}

	var ssid []byte
	if p := s.nextScanProfile(); p != nil {
		ssid = p.SSID
		s.log.Debug("starting AP scan", zap.String("ssid", SSIDText(ssid)))
	} else {
		s.log.Debug("starting broadcast AP scan")
	}

	if err := s.driver.Scan(ssid); err != nil {
		s.log.Warn("failed to initiate AP scan", zap.Error(err))
	}

	s.sched.Schedule(TimerScan, scanInterval)
}

// nextScanProfile returns the next profile after the previous directed scan
// which requests directed probes, or nil for a broadcast scan.
func (s *Session) nextScanProfile() *NetworkProfile {
	for i := s.prevScan + 1; i < len(s.profiles); i++ {
		if s.profiles[i].ScanSSID {
			s.prevScan = i
			return &s.profiles[i]
		}
	}

	s.prevScan = -1
	return nil
}

func (s *Session) handleScanResults() {
	results, err := s.driver.ScanResults()
	if err != nil {
		s.log.Warn("failed to get scan results", zap.Error(err))
		return
	}

	s.log.Debug("scan results", zap.Int("count", len(results)))
	if len(results) > MaxScanResults {
		s.log.Warn("too many scan results, ignoring the rest",
			zap.Int("count", len(results)),
			zap.Int("max", MaxScanResults))
		results = results[:MaxScanResults]
	}

	if s.countermeasures {
		// Association resumes with the scan requested when countermeasures
		// stop.
		s.log.Debug("TKIP countermeasures active, not associating")
		if s.state == StateScanning {
			s.state = StateDisconnected
		}
		return
	}

	bss, p, sec := s.selectCandidate(results)
	if bss == nil {
		s.log.Debug("no suitable AP found")
		if s.state == StateScanning {
			s.state = StateDisconnected
		}
		return
	}

	if s.reassociate || !bytes.Equal(bss.BSSID, s.bssid) {
		s.associate(bss, p, sec)
		return
	}

	s.log.Debug("already associated with the selected AP")
	s.preauthCandidates(results, p)
}

// selectCandidate returns the first scan result and profile which can be
// used together. BSSs advertising WPA or RSN are tried first, then open
// networks. sec is nil for an open network.
func (s *Session) selectCandidate(results []ScanResult) (*ScanResult, *NetworkProfile, *SecurityState) {
	for i := range results {
		bss := &results[i]
		s.log.Debug("scan result",
			zap.Int("index", i),
			zap.Stringer("bssid", bss.BSSID),
			zap.String("ssid", SSIDText(bss.SSID)),
			zap.Int("wpa_ie_len", len(bss.WPAIE)),
			zap.Int("rsn_ie_len", len(bss.RSNIE)))

		if len(bss.WPAIE) == 0 && len(bss.RSNIE) == 0 {
			continue
		}

		for j := range s.profiles {
			p := &s.profiles[j]
			if !p.matches(bss) {
				continue
			}

			sec, err := Negotiate(bss, p, s.cache)
			if err != nil {
				s.log.Debug("negotiation failed",
					zap.Stringer("bssid", bss.BSSID), zap.Error(err))
				continue
			}

			return bss, p, sec
		}
	}

	for i := range results {
		bss := &results[i]
		for j := range s.profiles {
			p := &s.profiles[j]
			if p.matches(bss) && p.KeyMgmt&(KeyMgmtNone|KeyMgmtIEEE8021XNoWPA) != 0 {
				return bss, p, nil
			}
		}
	}

	return nil, nil, nil
}

// preauthCandidates starts RSN pre-authentication with another access
// point of the current network.
func (s *Session) preauthCandidates(results []ScanResult, p *NetworkProfile) {
	if s.preauthTx == nil || s.preauthBSSID != nil {
		return
	}
	if s.sec.Protocol != ProtocolRSN || s.sec.KeyMgmt != KeyMgmtIEEE8021X {
		return
	}

	for i := range results {
		bss := &results[i]
		if bytes.Equal(bss.BSSID, s.bssid) || !p.matches(bss) || len(bss.RSNIE) == 0 {
			continue
		}

		ss, err := DecodeIE(bss.RSNIE)
		if err != nil || !ss.Preauth() {
			continue
		}
		if _, ok := s.cache.Lookup(bss.BSSID, nil); ok {
			continue
		}

		s.log.Debug("starting pre-authentication", zap.Stringer("bssid", bss.BSSID))
		s.preauthBSSID = append(bss.BSSID[:0:0], bss.BSSID...)
		if err := s.SendEAPOL(layers.EAPOLTypeStart, nil, true); err != nil {
			s.log.Warn("failed to start pre-authentication",
				zap.Stringer("bssid", bss.BSSID), zap.Error(err))
			s.preauthBSSID = nil
		}
		return
	}
}
