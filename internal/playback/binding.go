// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package playback

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
)

// HKDF info labels. Changing one invalidates every outstanding token.
const (
	signingKeyInfo = "reelguard/playback-token/v1"
	bindingKeyInfo = "reelguard/binding-hash/v1"
)

// minSecretLength is the minimum accepted server secret length.
const minSecretLength = 32

// Keys holds the subkeys derived from the server secret.
type Keys struct {
	signing []byte
	binding []byte
}

// DeriveKeys derives independent signing and binding keys from secret.
func DeriveKeys(secret string) (*Keys, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("playback secret must be at least %d characters", minSecretLength)
	}
	signing, err := deriveKey(secret, signingKeyInfo)
	if err != nil {
		return nil, err
	}
	binding, err := deriveKey(secret, bindingKeyInfo)
	if err != nil {
		return nil, err
	}
	return &Keys{signing: signing, binding: binding}, nil
}

func deriveKey(secret, info string) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", info, err)
	}
	return key, nil
}

// BindingPolicy selects which request attributes a token is bound to.
// The user binding is always on: it is carried in the signed claims.
type BindingPolicy struct {
	IP        bool
	UserAgent bool
	Device    bool
}

// Hasher computes keyed BLAKE2b-256 binding hashes.
type Hasher struct {
	key []byte
}

// NewHasher creates a hasher using the derived binding key.
func NewHasher(keys *Keys) *Hasher {
	return &Hasher{key: keys.binding}
}

// Device hashes a client-supplied device identifier.
func (h *Hasher) Device(deviceID string) string {
	return h.sum("device", deviceID)
}

// IP hashes the coarse network prefix of addr.
func (h *Hasher) IP(addr string) string {
	return h.sum("ip", NormalizeIP(addr))
}

// UserAgent hashes a User-Agent header value.
func (h *Hasher) UserAgent(ua string) string {
	return h.sum("ua", strings.TrimSpace(ua))
}

func (h *Hasher) sum(domain, value string) string {
	// New256 only fails for keys longer than 64 bytes.
	mac, err := blake2b.New256(h.key)
	if err != nil {
		panic(err)
	}
	mac.Write([]byte(domain))
	mac.Write([]byte{0})
	mac.Write([]byte(value))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// hashEqual compares two binding hashes in constant time.
func hashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// NormalizeIP reduces an address to a coarse prefix: the first three octets
// of an IPv4 address or the first four groups of an IPv6 address. A port, if
// present, is dropped. Unparseable input is returned trimmed and lowercased.
func NormalizeIP(raw string) string {
	s := strings.TrimSpace(raw)
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.Trim(s, "[]")

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return strings.ToLower(s)
	}
	addr = addr.Unmap()

	if addr.Is4() {
		b := addr.As4()
		return fmt.Sprintf("%d.%d.%d", b[0], b[1], b[2])
	}
	b := addr.As16()
	return fmt.Sprintf("%x:%x:%x:%x",
		uint16(b[0])<<8|uint16(b[1]),
		uint16(b[2])<<8|uint16(b[3]),
		uint16(b[4])<<8|uint16(b[5]),
		uint16(b[6])<<8|uint16(b[7]),
	)
}
