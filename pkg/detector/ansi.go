package detector

import "regexp"

// csiPattern matches the CSI family of escape sequences: ESC [ followed by
// parameter bytes and a final byte from the standard terminator set.
var csiPattern = regexp.MustCompile("\x1b\\[[0-9;?]*[0-9A-ORZcf-nqry=><]")

// oscPattern matches OSC sequences (window titles, hyperlinks), terminated
// by BEL or ST.
var oscPattern = regexp.MustCompile("\x1b\\][^\x1b\x07]*(?:\x07|\x1b\\\\)")

// bareEscPattern matches remaining two-byte escape sequences (charset
// selection, keypad modes) left over after CSI/OSC removal.
var bareEscPattern = regexp.MustCompile("\x1b[@-Z\\\\^_\\]=><]?")

// StripANSI removes ANSI CSI and OSC escape sequences from s. Classification
// and emission always operate on stripped text, so stripping twice is a no-op.
func StripANSI(s string) string {
	s = oscPattern.ReplaceAllString(s, "")
	s = csiPattern.ReplaceAllString(s, "")
	s = bareEscPattern.ReplaceAllString(s, "")
	return s
}
