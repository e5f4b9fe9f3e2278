package wpa

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

// Timeouts and intervals used by a Session.
const (
	authTimeout8021X        = 70 * time.Second
	authTimeout             = 10 * time.Second
	scanInterval            = 5 * time.Second
	disassocScanDelay       = 3 * time.Second
	startScanDelay          = 100 * time.Millisecond
	micFailureWindow        = 60 * time.Second
	countermeasuresDuration = 60 * time.Second
)

// MaxScanResults is the number of scan results considered per scan.
const MaxScanResults = 50

// A Timer identifies one of the timers a Session schedules. At most one
// instance of each Timer is pending at a time.
type Timer int

// Possible Timer values.
const (
	TimerAuth Timer = iota
	TimerScan
	TimerCountermeasures
)

// String returns the string representation of a Timer.
func (t Timer) String() string {
	switch t {
	case TimerAuth:
		return "auth"
	case TimerScan:
		return "scan"
	case TimerCountermeasures:
		return "countermeasures"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// A Scheduler runs timers for a Session. An expired timer is delivered to
// the Session as EventTimeout.
type Scheduler interface {
	// Schedule arms t to fire after d, replacing a pending t.
	Schedule(t Timer, d time.Duration)

	// Cancel stops t if it is pending.
	Cancel(t Timer)
}

// PortControl is the IEEE 802.1X supplicant state machine a Session drives.
type PortControl interface {
	PortEnabled(enabled bool)
	PortValid(valid bool)

	// Config binds the port to a profile, or unbinds it when p is nil.
	// noWPA is set for IEEE 802.1X with dynamic WEP keys.
	Config(p *NetworkProfile, noWPA bool)

	EAPSuccess(success bool)
	EAPFail(fail bool)

	// RequestKey asks for new keys after a Michael MIC failure.
	RequestKey(pairwise bool)

	// ReceiveEAPOL delivers an EAPOL frame received from src.
	ReceiveEAPOL(src net.HardwareAddr, frame []byte, preauth bool)
}

// An Event is delivered to Session.HandleEvent.
type Event interface {
	event()
}

// EventAssociation reports that the driver completed an association.
type EventAssociation struct{}

// EventDisassociation reports that the link was lost.
type EventDisassociation struct{}

// EventMichaelMICFailure reports a TKIP Michael MIC failure.
type EventMichaelMICFailure struct {
	Unicast bool
}

// EventScanResults reports that scan results are available.
type EventScanResults struct{}

// EventAssociationInfo carries the elements of the association request
// sent by the driver.
type EventAssociationInfo struct {
	RequestIEs []byte
}

// EventPortAuthorized reports that the driver completed an offloaded 4-way
// handshake.
type EventPortAuthorized struct{}

// EventTimeout reports that a scheduled Timer fired.
type EventTimeout struct {
	Timer Timer
}

// EventEAPOL carries a received EAPOL frame, starting at the 802.1X header.
type EventEAPOL struct {
	Source  net.HardwareAddr
	Frame   []byte
	Preauth bool
}

func (EventAssociation) event()       {}
func (EventDisassociation) event()    {}
func (EventMichaelMICFailure) event() {}
func (EventScanResults) event()       {}
func (EventAssociationInfo) event()   {}
func (EventPortAuthorized) event()    {}
func (EventTimeout) event()           {}
func (EventEAPOL) event()             {}

// Config configures a Session.
type Config struct {
	// Profiles are the configured networks in priority order.
	Profiles []NetworkProfile

	// OwnAddr is the hardware address of the managed interface.
	OwnAddr net.HardwareAddr

	// EAPOLVersion is the 802.1X protocol version of sent frames. Zero
	// means 1.
	EAPOLVersion uint8

	Driver    Driver
	Transport Transport
	Scheduler Scheduler

	// PreauthTransport sends RSN pre-authentication frames. If nil,
	// pre-authentication is disabled.
	PreauthTransport Transport

	// Port is the 802.1X port. If nil, port notifications are discarded.
	Port PortControl

	// Cache holds PMKSA entries. If nil, a cache of DefaultPMKSACacheSize
	// entries is created.
	Cache *PMKSACache

	// Logger receives diagnostics. If nil, nothing is logged.
	Logger *zap.Logger

	// Now returns the current time. If nil, time.Now is used.
	Now func() time.Time
}

// A Session is the WPA supplicant state for one network interface.
//
// A Session is not safe for concurrent use: all methods, including
// HandleEvent, must be called from a single goroutine. Loop provides one.
type Session struct {
	driver    Driver
	tx        Transport
	preauthTx Transport
	sched     Scheduler
	port      PortControl
	cache     *PMKSACache
	log       *zap.Logger
	now       func() time.Time

	ownAddr      net.HardwareAddr
	eapolVersion uint8
	profiles     []NetworkProfile

	state   LinkState
	bssid   net.HardwareAddr
	current *NetworkProfile
	sec     SecurityState
	assocIE []byte
	closed  bool

	// reassociate forces association even with the current BSS.
	reassociate bool

	// prevScan is the index of the profile probed by the last directed
	// scan, or -1 after a broadcast scan.
	prevScan int

	countermeasures bool
	lastMICFailure  time.Time

	preauthBSSID net.HardwareAddr
}

// NewSession creates a Session. Call Start to begin scanning.
func NewSession(cfg Config) (*Session, error) {
	var errs []error
	if cfg.Driver == nil {
		errs = append(errs, errors.New("wpa: Config.Driver must be set"))
	}
	if cfg.Transport == nil {
		errs = append(errs, errors.New("wpa: Config.Transport must be set"))
	}
	if cfg.Scheduler == nil {
		errs = append(errs, errors.New("wpa: Config.Scheduler must be set"))
	}
	if len(cfg.OwnAddr) != 6 {
		errs = append(errs, fmt.Errorf("wpa: invalid Config.OwnAddr %q", cfg.OwnAddr))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	s := &Session{
		driver:       cfg.Driver,
		tx:           cfg.Transport,
		preauthTx:    cfg.PreauthTransport,
		sched:        cfg.Scheduler,
		port:         cfg.Port,
		cache:        cfg.Cache,
		log:          cfg.Logger,
		now:          cfg.Now,
		ownAddr:      append(net.HardwareAddr(nil), cfg.OwnAddr...),
		eapolVersion: cfg.EAPOLVersion,
		profiles:     cloneProfiles(cfg.Profiles),
		prevScan:     -1,
	}

	if s.port == nil {
		s.port = nopPort{}
	}
	if s.cache == nil {
		s.cache = NewPMKSACache(DefaultPMKSACacheSize)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.eapolVersion == 0 {
		s.eapolVersion = 1
	}

	return s, nil
}

// Start clears all keys, disables countermeasures and schedules the first
// scan.
func (s *Session) Start() {
	s.clearKeys(nil)
	if err := s.driver.SetCountermeasures(false); err != nil {
		s.log.Warn("failed to disable countermeasures", zap.Error(err))
	}

	s.RequestScan(startScanDelay)
}

// Shutdown deauthenticates from the current BSS and releases key material.
// Events handled after Shutdown are ignored.
func (s *Session) Shutdown() {
	if s.closed {
		return
	}

	s.log.Debug("shutting down")
	s.Disassociate(ReasonDeauthLeaving)

	if err := s.driver.SetCountermeasures(false); err != nil {
		s.log.Warn("failed to disable countermeasures", zap.Error(err))
	}
	s.countermeasures = false

	for _, t := range []Timer{TimerAuth, TimerScan, TimerCountermeasures} {
		s.sched.Cancel(t)
	}

	s.cache.Flush()
	s.sec = SecurityState{}
	s.assocIE = nil
	s.preauthBSSID = nil
	s.closed = true
}

// Reconfigure replaces the configured networks and requests a scan.
func (s *Session) Reconfigure(profiles []NetworkProfile) {
	s.profiles = cloneProfiles(profiles)
	s.current = nil
	s.prevScan = -1
	s.preauthBSSID = nil
	s.port.Config(nil, false)

	s.log.Debug("reconfigured", zap.Int("networks", len(s.profiles)))
	s.RequestScan(0)
}

// RequestScan schedules a scan after d, replacing a pending scan.
func (s *Session) RequestScan(d time.Duration) {
	s.sched.Schedule(TimerScan, d)
}

// Reassociate scans and associates with the best candidate even if it is
// the current BSS.
func (s *Session) Reassociate() {
	s.reassociate = true
	s.RequestScan(0)
}

// NotifyEAPOLDone is called once the EAPOL key exchange completed.
func (s *Session) NotifyEAPOLDone() {
	s.log.Debug("EAPOL processing complete")
	s.sched.Cancel(TimerScan)
	s.sched.Cancel(TimerAuth)
}

// SetExternalPMK installs a PMK from an external IEEE 802.1X
// implementation. It is ignored unless the link uses IEEE 802.1X key
// management.
func (s *Session) SetExternalPMK(pmk []byte) error {
	if len(pmk) != PMKLen {
		return fmt.Errorf("wpa: invalid PMK length %d", len(pmk))
	}

	if s.sec.KeyMgmt != KeyMgmtIEEE8021X {
		s.log.Debug("ignoring external PMK", zap.Stringer("key_mgmt", s.sec.KeyMgmt))
		return nil
	}

	copy(s.sec.PMK[:], pmk)
	s.sec.PMKReceived = true
	return nil
}

// CachePMKSA records a PMKSA established by a full authentication with
// bssid. It also completes a pre-authentication with bssid.
func (s *Session) CachePMKSA(bssid net.HardwareAddr, pmkid, pmk []byte) error {
	if len(pmkid) != PMKIDLen || len(pmk) != PMKLen {
		return fmt.Errorf("wpa: invalid PMKSA lengths %d/%d", len(pmkid), len(pmk))
	}

	var (
		id  [PMKIDLen]byte
		key [PMKLen]byte
	)
	copy(id[:], pmkid)
	copy(key[:], pmk)
	s.cache.Insert(bssid, id, key)

	if bytes.Equal(bssid, s.preauthBSSID) {
		s.log.Debug("pre-authentication complete", zap.Stringer("bssid", bssid))
		s.preauthBSSID = nil
	}

	return nil
}

// State returns the current link state.
func (s *Session) State() LinkState { return s.state }

// BSSID returns the current BSSID, or nil when not associated.
func (s *Session) BSSID() net.HardwareAddr {
	return append(net.HardwareAddr(nil), s.bssid...)
}

// Security returns a copy of the current security state.
func (s *Session) Security() SecurityState {
	sec := s.sec
	sec.APIE = append([]byte(nil), s.sec.APIE...)
	sec.OwnIE = append([]byte(nil), s.sec.OwnIE...)
	if s.sec.PMKSA != nil {
		e := s.sec.PMKSA.clone()
		sec.PMKSA = &e
	}
	return sec
}

// AssociationIE returns the WPA element found in the last association
// request, if any.
func (s *Session) AssociationIE() []byte {
	return append([]byte(nil), s.assocIE...)
}

// Countermeasures reports whether TKIP countermeasures are active.
func (s *Session) Countermeasures() bool { return s.countermeasures }

// HandleEvent processes one event. Failures are logged and never returned.
func (s *Session) HandleEvent(ev Event) {
	if s.closed {
		return
	}

	switch ev := ev.(type) {
	case EventAssociation:
		s.handleAssociation()
	case EventDisassociation:
		s.handleDisassociation()
	case EventMichaelMICFailure:
		s.handleMICFailure(ev.Unicast)
	case EventScanResults:
		s.handleScanResults()
	case EventAssociationInfo:
		s.handleAssociationInfo(ev.RequestIEs)
	case EventPortAuthorized:
		s.log.Info("port authorized by driver", zap.Stringer("bssid", s.bssid))
		s.NotifyEAPOLDone()
	case EventTimeout:
		s.handleTimeout(ev.Timer)
	case EventEAPOL:
		s.receiveEAPOL(ev)
	default:
		s.log.Info("unknown event", zap.String("type", fmt.Sprintf("%T", ev)))
	}
}

func (s *Session) handleAssociation() {
	s.state = StateAssociated
	s.log.Debug("association event, clearing replay counter")
	s.sec.ReplayCounter = [ReplayCounterLen]byte{}
	s.sec.ReplayCounterSet = false

	bssid, err := s.driver.BSSID()
	switch {
	case err != nil:
		s.log.Warn("failed to get BSSID", zap.Error(err))
	case !bytes.Equal(bssid, s.bssid):
		s.log.Debug("associated to a new BSS", zap.Stringer("bssid", bssid))
		s.bssid = append(net.HardwareAddr(nil), bssid...)
		s.clearKeys(s.bssid)
	}

	s.port.PortValid(false)
	s.port.PortEnabled(true)
	s.armAuthTimeout()
}

func (s *Session) handleDisassociation() {
	s.state = StateDisconnected
	s.log.Debug("disconnect event, removing keys")
	s.clearKeys(s.bssid)
	s.RequestScan(disassocScanDelay)
	s.bssid = nil
	s.sec = SecurityState{}
	s.preauthBSSID = nil
	s.port.PortEnabled(false)
	s.port.PortValid(false)
}

func (s *Session) handleAssociationInfo(reqIEs []byte) {
	s.log.Debug("association info event", zap.Binary("req_ies", reqIEs))

	s.assocIE = findWPAIE(reqIEs)
	if s.assocIE != nil {
		s.log.Debug("association WPA IE", zap.Binary("ie", s.assocIE))
	}
}

func (s *Session) handleTimeout(t Timer) {
	switch t {
	case TimerAuth:
		s.log.Info("authentication timed out", zap.Stringer("bssid", s.bssid))
		s.reassociate = true
		s.RequestScan(0)
	case TimerScan:
		s.scan()
	case TimerCountermeasures:
		s.stopCountermeasures()
	default:
		s.log.Info("unknown timer", zap.Stringer("timer", t))
	}
}

func (s *Session) armAuthTimeout() {
	d := authTimeout
	if s.sec.KeyMgmt == KeyMgmtIEEE8021X {
		d = authTimeout8021X
	}

	s.sched.Schedule(TimerAuth, d)
}

// associate requests association with bss using profile p. sec is the
// negotiated state, or nil for an open or dynamic WEP network.
func (s *Session) associate(bss *ScanResult, p *NetworkProfile, sec *SecurityState) {
	s.reassociate = false
	s.log.Info("trying to associate",
		zap.Stringer("bssid", bss.BSSID),
		zap.String("ssid", SSIDText(p.SSID)),
		zap.Int("freq", bss.Frequency))

	if sec == nil {
		sec = &SecurityState{
			KeyMgmt:  KeyMgmtNone,
			Pairwise: CipherNone,
			Group:    CipherNone,
		}
		if p.KeyMgmt&KeyMgmtIEEE8021XNoWPA != 0 {
			sec.KeyMgmt = KeyMgmtIEEE8021XNoWPA
		}
	} else {
		s.log.Debug("selected suites",
			zap.Stringer("proto", sec.Protocol),
			zap.Stringer("pairwise", sec.Pairwise),
			zap.Stringer("group", sec.Group),
			zap.Stringer("key_mgmt", sec.KeyMgmt),
			zap.Binary("own_ie", sec.OwnIE))
	}

	s.clearKeys(bss.BSSID)

	params := AssociateParams{
		BSSID:     bss.BSSID,
		SSID:      bss.SSID,
		Frequency: bss.Frequency,
		IE:        sec.OwnIE,
		Pairwise:  sec.Pairwise,
		Group:     sec.Group,
		KeyMgmt:   sec.KeyMgmt,
	}
	if sec.KeyMgmt == KeyMgmtPSK {
		params.PMK = append([]byte(nil), sec.PMK[:]...)
	}

	if err := s.driver.Associate(params); err != nil {
		s.log.Warn("failed to request association",
			zap.Stringer("bssid", bss.BSSID), zap.Error(err))
		return
	}

	s.state = StateAssociating
	s.sec = *sec
	s.assocIE = nil
	s.armAuthTimeout()

	if s.sec.KeyMgmt == KeyMgmtPSK {
		s.port.EAPSuccess(false)
		s.port.EAPFail(false)
	}

	s.current = p
	s.port.Config(p, s.sec.KeyMgmt == KeyMgmtIEEE8021XNoWPA)
}

// Disassociate leaves the current BSS with reason and clears all keys.
func (s *Session) Disassociate(reason ReasonCode) {
	s.state = StateDisconnected

	var addr net.HardwareAddr
	if len(s.bssid) > 0 && !isZeroAddr(s.bssid) {
		if err := s.driver.Disassociate(s.bssid, reason); err != nil {
			s.log.Warn("failed to disassociate",
				zap.Stringer("bssid", s.bssid), zap.Error(err))
		}
		addr = s.bssid
	}

	s.clearKeys(addr)
	s.current = nil
	s.sec = SecurityState{}
	s.port.Config(nil, false)
	s.port.PortEnabled(false)
	s.port.PortValid(false)
}

// clearKeys removes the four default keys and, if addr is set, the
// pairwise key for addr.
func (s *Session) clearKeys(addr net.HardwareAddr) {
	var errs []error
	for i := 0; i < numKeySlots; i++ {
		errs = append(errs, s.driver.SetKey(KeyParams{
			Alg:   KeyAlgNone,
			Addr:  broadcastAddr,
			Index: i,
		}))
	}

	if len(addr) > 0 {
		errs = append(errs, s.driver.SetKey(KeyParams{
			Alg:  KeyAlgNone,
			Addr: addr,
		}))
	}

	if err := errors.Join(errs...); err != nil {
		s.log.Warn("failed to clear keys", zap.Error(err))
	}
}

func isZeroAddr(addr net.HardwareAddr) bool {
	for _, b := range addr {
		if b != 0 {
			return false
		}
	}

	return true
}

func cloneProfiles(ps []NetworkProfile) []NetworkProfile {
	out := make([]NetworkProfile, len(ps))
	for i, p := range ps {
		out[i] = p
		out[i].SSID = append([]byte(nil), p.SSID...)
		out[i].BSSID = append(net.HardwareAddr(nil), p.BSSID...)
		out[i].PSK = append([]byte(nil), p.PSK...)
	}

	return out
}

type nopPort struct{}

func (nopPort) PortEnabled(bool)                            {}
func (nopPort) PortValid(bool)                              {}
func (nopPort) Config(*NetworkProfile, bool)                {}
func (nopPort) EAPSuccess(bool)                             {}
func (nopPort) EAPFail(bool)                                {}
func (nopPort) RequestKey(bool)                             {}
func (nopPort) ReceiveEAPOL(net.HardwareAddr, []byte, bool) {}
