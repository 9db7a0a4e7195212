// Package colourise adorns terminal output with ANSI 256 colour escapes.
package colourise

import (
	"fmt"
	"hash/crc32"
)

// Codes 17 to 230 are the colour cube without the darkest and greyscale entries, they all
// read well on a dark background.
const (
	firstCode = 17
	codeCount = 214
)

// Apply colours value by a hash of its content, so the same value gets the same colour
// across lines and runs.
func Apply(value string) string {
	code := firstCode + crc32.ChecksumIEEE([]byte(value))%codeCount
	return fmt.Sprintf("\033[1;38;5;%dm%s\033[0m", code, value)
}

// Highlight renders s as white on red.
func Highlight(s string) string {
	return fmt.Sprintf("\033[1;37;41m%s\033[0m", s)
}
