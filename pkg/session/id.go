// Package session generates run and session identifiers. Both are
// timestamp-prefixed correlation tokens, not credentials.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"
)

const timeLayout = "20060102150405"

var sessionIDRe = regexp.MustCompile(`^\d{14}_[0-9a-f]{6}$`)

// NewSessionID returns an identifier of the form YYYYMMDDhhmmss_<6-hex>.
func NewSessionID() string {
	return fmt.Sprintf("%s_%s", time.Now().UTC().Format(timeLayout), hexSuffix())
}

// NewRunID returns a run identifier: run_YYYYMMDDhhmmss_<6-hex>. The hex
// suffix keeps runs within the same second distinct.
func NewRunID() string {
	return "run_" + NewSessionID()
}

// Valid reports whether s is a well-formed session identifier.
func Valid(s string) bool {
	return sessionIDRe.MatchString(s)
}

func hexSuffix() string {
	var b [3]byte
	// rand.Read on the crypto source never fails on supported platforms.
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
