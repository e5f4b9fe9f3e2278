// Package config loads wpa_supplicant configuration files.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/mdlayher/wpa"
)

// A File is a parsed configuration file.
type File struct {
	EAPOLVersion uint8     `yaml:"eapol_version"`
	Networks     []Network `yaml:"networks"`

	// Converted on first use; passphrase derivation is expensive.
	profiles []wpa.NetworkProfile
}

// A Network is one configured network. Empty lists take the defaults.
type Network struct {
	SSID     string   `yaml:"ssid"`
	BSSID    string   `yaml:"bssid"`
	ScanSSID bool     `yaml:"scan_ssid"`
	Proto    []string `yaml:"proto"`
	KeyMgmt  []string `yaml:"key_mgmt"`
	Pairwise []string `yaml:"pairwise"`
	Group    []string `yaml:"group"`
	PSK      string   `yaml:"psk"`
}

// Defaults for omitted fields.
const (
	DefaultEAPOLVersion = 1

	DefaultProtocols = wpa.ProtocolWPA | wpa.ProtocolRSN
	DefaultKeyMgmt   = wpa.KeyMgmtPSK | wpa.KeyMgmtIEEE8021X
	DefaultPairwise  = wpa.CipherCCMP | wpa.CipherTKIP
	DefaultGroup     = wpa.CipherCCMP | wpa.CipherTKIP | wpa.CipherWEP104 | wpa.CipherWEP40
)

// Load reads and validates the configuration file at path. log may be nil.
func Load(path string, log *zap.Logger) (*File, error) {
	if log == nil {
		log = zap.NewNop()
	}

	// The file holds pre-shared keys.
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		log.Warn("configuration file is accessible by other users",
			zap.String("path", path),
			zap.String("perm", fmt.Sprintf("%04o", perm)))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Parse(data)
}

// Parse parses and validates configuration file contents.
func Parse(data []byte) (*File, error) {
	f := &File{EAPOLVersion: DefaultEAPOLVersion}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if f.EAPOLVersion < 1 || f.EAPOLVersion > 2 {
		return nil, fmt.Errorf("config: invalid eapol_version %d", f.EAPOLVersion)
	}

	if _, err := f.Profiles(); err != nil {
		return nil, err
	}

	return f, nil
}

// Profiles converts the configured networks into profiles, in file order.
// The conversion happens once; later calls return the same profiles.
func (f *File) Profiles() ([]wpa.NetworkProfile, error) {
	if f.profiles != nil {
		return append([]wpa.NetworkProfile(nil), f.profiles...), nil
	}

	if len(f.Networks) == 0 {
		return nil, errors.New("config: no networks configured")
	}

	var errs []error
	ps := make([]wpa.NetworkProfile, 0, len(f.Networks))
	for i, n := range f.Networks {
		p, err := n.profile()
		if err != nil {
			errs = append(errs, fmt.Errorf("config: network %d: %w", i, err))
			continue
		}

		ps = append(ps, *p)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	f.profiles = ps
	return append([]wpa.NetworkProfile(nil), ps...), nil
}

func (n *Network) profile() (*wpa.NetworkProfile, error) {
	if len(n.SSID) == 0 || len(n.SSID) > wpa.MaxSSIDLen {
		return nil, fmt.Errorf("invalid SSID length %d", len(n.SSID))
	}

	p := &wpa.NetworkProfile{
		SSID:      []byte(n.SSID),
		ScanSSID:  n.ScanSSID,
		Protocols: DefaultProtocols,
		KeyMgmt:   DefaultKeyMgmt,
		Pairwise:  DefaultPairwise,
		Group:     DefaultGroup,
	}

	if n.BSSID != "" {
		mac, err := net.ParseMAC(n.BSSID)
		if err != nil || len(mac) != 6 {
			return nil, fmt.Errorf("invalid BSSID %q", n.BSSID)
		}
		p.BSSID = mac
	}

	var err error
	if p.Protocols, err = parseList(n.Proto, p.Protocols, wpa.ParseProtocol); err != nil {
		return nil, err
	}
	if p.KeyMgmt, err = parseList(n.KeyMgmt, p.KeyMgmt, wpa.ParseKeyMgmt); err != nil {
		return nil, err
	}
	if p.Pairwise, err = parseList(n.Pairwise, p.Pairwise, wpa.ParseCipher); err != nil {
		return nil, err
	}
	if p.Group, err = parseList(n.Group, p.Group, wpa.ParseCipher); err != nil {
		return nil, err
	}

	switch {
	case p.KeyMgmt&wpa.KeyMgmtPSK != 0 && n.PSK == "":
		return nil, errors.New("WPA-PSK requires psk")
	case p.KeyMgmt&wpa.KeyMgmtPSK == 0 && n.PSK != "":
		return nil, errors.New("psk set without WPA-PSK")
	case n.PSK != "":
		if p.PSK, err = wpa.ParsePSK(n.PSK, p.SSID); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// parseList ORs together the parsed values of ss, or returns def if ss is
// empty.
func parseList[T ~uint8](ss []string, def T, parse func(string) (T, error)) (T, error) {
	if len(ss) == 0 {
		return def, nil
	}

	var v T
	for _, s := range ss {
		x, err := parse(s)
		if err != nil {
			return 0, err
		}
		v |= x
	}

	return v, nil
}
