// Package nl80211 contains nl80211 values which are not provided by
// golang.org/x/sys/unix.
package nl80211

import "golang.org/x/sys/unix"

// Cipher suite selectors carried in NL80211_ATTR_CIPHER_SUITE_GROUP,
// NL80211_ATTR_CIPHER_SUITES_PAIRWISE and NL80211_ATTR_KEY_CIPHER.
// cfg80211 uses the RSN OUI for both WPA and RSN.
const (
	CipherSuiteWEP40  uint32 = 0x000fac01
	CipherSuiteTKIP   uint32 = 0x000fac02
	CipherSuiteCCMP   uint32 = 0x000fac04
	CipherSuiteWEP104 uint32 = 0x000fac05
)

// AKM suite selectors carried in NL80211_ATTR_AKM_SUITES.
const (
	AKMSuite8021X uint32 = 0x000fac01
	AKMSuitePSK   uint32 = 0x000fac02
)

// Multicast group indices, following nl80211_mcgrp_ids in nl80211.c.
const (
	McgrpConfig = iota
	McgrpScan
	McgrpRegulatory
	McgrpMlme
	McgrpVendor
	McgrpNan
	McgrpTestmode
)

// EventGroups are the multicast groups a station joins to follow scans,
// connections and MIC failures, indexed by their Mcgrp value.
var EventGroups = map[int]string{
	McgrpScan: unix.NL80211_MULTICAST_GROUP_SCAN,
	McgrpMlme: unix.NL80211_MULTICAST_GROUP_MLME,
}
