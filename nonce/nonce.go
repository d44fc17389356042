// Package nonce parses and window-checks OpenID 2.0 response nonces.
// Replay bookkeeping itself lives behind ports.NonceStore; this package
// only deals with the value format.
package nonce

import (
	"fmt"
	"time"

	"github.com/relier-id/relier/core"
)

// Layout of the timestamp prefix, per the protocol: UTC, second
// precision, Zulu designator, always 20 characters.
const tsLayout = "2006-01-02T15:04:05Z"

const (
	tsLen  = len(tsLayout)
	maxLen = 256
)

// Parse splits a response nonce into its timestamp prefix and the
// uniquifying suffix. Anything not parseable is ErrInvalidNonce.
func Parse(raw string) (time.Time, string, error) {
	if len(raw) < tsLen || len(raw) > maxLen {
		return time.Time{}, "", fmt.Errorf("%w: length %d", core.ErrInvalidNonce, len(raw))
	}
	ts, err := time.Parse(tsLayout, raw[:tsLen])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", core.ErrInvalidNonce, err)
	}
	return ts, raw[tsLen:], nil
}

// Check validates the nonce timestamp against the replay window: older
// than now-window or further in the future than the allowed skew is a
// rejection. The window bounds how long consumed nonces must be kept.
func Check(raw string, now time.Time, window, skew time.Duration) error {
	ts, _, err := Parse(raw)
	if err != nil {
		return err
	}
	if ts.Before(now.Add(-window)) {
		return fmt.Errorf("%w: issued %s, outside replay window", core.ErrInvalidNonce, ts.Format(tsLayout))
	}
	if ts.After(now.Add(skew)) {
		return fmt.Errorf("%w: issued in the future", core.ErrInvalidNonce)
	}
	return nil
}
