// Package testrand produces insecure random values for isolating test resources, such as
// key prefixes, database names and bucket names.
package testrand

import (
	"encoding/hex"
	"math/rand"
	"strings"
)

// Hex returns n random characters from the hex alphabet. For odd n the result is not
// decodable hex.
func Hex(n int) string {
	b := make([]byte, n/2+1)
	//#nosec:G404 // this is just for test IDs
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)[:n]
}

// Name joins a short random prefix to name, replacing the slashes of subtest names with
// sep and keeping the result within max characters when max is positive.
func Name(name, sep string, max int) string {
	s := Hex(6) + sep + strings.ReplaceAll(name, "/", sep)
	if max > 0 && len(s) > max {
		s = s[:max]
	}
	return s
}
