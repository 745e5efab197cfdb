// Package identify locks onto the game server's TCP flow by inspecting
// early payloads for one of two fixed signatures (C3).
package identify

import "bytes"

// signatureA is matched at offset 15 when payload[4] == 0x00 and
// len(payload) >= 21.
var signatureA = []byte{0x00, 0x63, 0x33, 0x53, 0x42, 0x00}

// signatureB's two fixed windows.
var (
	signatureBPrefix = []byte{0x00, 0x00, 0x00, 0x62, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01}
	signatureBTail   = []byte{0x00, 0x00, 0x00, 0x00, 0x0a, 0x4e}
)

const signatureBLen = 0x62

// Matches reports whether payload carries signature A or signature B, the
// two fixed fingerprints of the game server's first bytes on a freshly
// selected flow.
func Matches(payload []byte) bool {
	return matchesA(payload) || matchesB(payload)
}

func matchesA(payload []byte) bool {
	if len(payload) < 21 {
		return false
	}
	if payload[4] != 0x00 {
		return false
	}
	return bytes.Equal(payload[15:21], signatureA)
}

func matchesB(payload []byte) bool {
	if len(payload) != signatureBLen {
		return false
	}
	if !bytes.Equal(payload[0:10], signatureBPrefix) {
		return false
	}
	if len(payload) < 20 {
		return false
	}
	return bytes.Equal(payload[14:20], signatureBTail)
}
