package helpers

import (
	"encoding/hex"
	"strings"
)

// MustHex accepts whitespace between groups, as in frame dumps.
func MustHex(s string) []byte {
	b, err := hex.DecodeString(strings.Join(strings.Fields(s), ""))
	if err != nil {
		panic(err)
	}
	return b
}
