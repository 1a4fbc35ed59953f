// Package hexutil parses the hex-encoded byte fields and ids that cross the API boundary.
//
// It lives in internal/pkg so adapters, the SDK and the CLI share one lenient
// decoder (with or without "0x") while output is always 0x-prefixed.
package hexutil

import (
	"fmt"
	"strconv"
	"strings"

	gethhexutil "github.com/ethereum/go-ethereum/common/hexutil"
)

// DecodeBytes decodes a hex string, with or without "0x" prefix.
func DecodeBytes(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := gethhexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", truncate(s), err)
	}
	return b, nil
}

// EncodeBytes returns the 0x-prefixed hex form of b. Empty input encodes as "".
func EncodeBytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return gethhexutil.Encode(b)
}

// ParseUint64 parses a decimal or 0x-prefixed hex id.
func ParseUint64(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

func truncate(s string) string {
	if len(s) > 18 {
		return s[:18] + "..."
	}
	return s
}
