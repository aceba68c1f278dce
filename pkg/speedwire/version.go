package speedwire

import "fmt"

var versionAppendixes = []string{"N", "E", "A", "B", "R", "S"}

// VersionToString renders a packed firmware version, most significant byte
// first: major and minor in hex, build in decimal, then the release type.
func VersionToString(v uint32) string {
	if v == 0 {
		return ""
	}
	b := [4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	appendix := ""
	if int(b[3]) < len(versionAppendixes) {
		appendix = versionAppendixes[b[3]]
	}
	return fmt.Sprintf("%x.%x.%d.%s", b[0], b[1], b[2], appendix)
}
