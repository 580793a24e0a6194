package common

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// EncodeToString returns the UPPERCASE string representation of hexBytes with
// the 0X prefix
func EncodeToString(hexBytes []byte) string {
	return fmt.Sprintf("0X%X", hexBytes)
}

// DecodeFromString converts a hex string, with or without the 0X prefix, to a
// byte slice
func DecodeFromString(hexString string) ([]byte, error) {
	s := hexString
	if strings.HasPrefix(s, "0X") || strings.HasPrefix(s, "0x") {
		s = s[2:]
	}
	return hex.DecodeString(s)
}

// ShortHex returns the first n hex characters of a hash, for logging.
func ShortHex(hash []byte, n int) string {
	s := fmt.Sprintf("%X", hash)
	if len(s) > n {
		return s[:n]
	}
	return s
}
