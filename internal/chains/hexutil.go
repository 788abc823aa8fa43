package chains

import (
	"encoding/hex"
	"strings"
)

// decodeHexString decodes s, tolerating an optional "0x" prefix.
func decodeHexString(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
