package main

import (
	"crypto/sha256"
	"crypto/subtle"
)

// wipeBytes zeroes password material once a prompt or keystore call is done
// with it. The runtime may still hold copies.
func wipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// passwordsMatch compares two passwords in constant time.
func passwordsMatch(a, b []byte) bool {
	ha := sha256.Sum256(a)
	hb := sha256.Sum256(b)
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}
