package services

import (
	"bytes"
	"encoding/binary"
	"errors"
	"regexp"
	"strconv"
)

// ESP-IDF application image layout: the esp_app_desc_t structure sits at a
// fixed offset past the image and segment headers, starting with a magic
// word. The firmware's version string lives inside that structure.
const (
	espAppDescOffset     = 32
	espAppDescMagic      = 0xABCD5432
	espVersionFieldStart = 16
	espVersionFieldLen   = 32
)

var errNoAppDesc = errors.New("no esp_app_desc_t found in binary")

// ESPAppDesc holds the fields extracted from an ESP-IDF firmware binary.
type ESPAppDesc struct {
	Version     string // raw version string from the descriptor
	SemVer      string // parsed major.minor.patch, empty if not present
	BuildNumber int
}

var (
	espSemVerRe = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)
	espBuildRe  = regexp.MustCompile(`(?:\+|\bbuild[ .]?)(\d+)`)
)

// ParseESPAppDesc extracts the version descriptor from an ESP-IDF
// application binary. Build numbers may be encoded as a "+N" suffix or a
// "build N" fragment in the version string.
func ParseESPAppDesc(data []byte) (*ESPAppDesc, error) {
	descEnd := espAppDescOffset + espVersionFieldStart + espVersionFieldLen
	if len(data) < descEnd {
		return nil, errNoAppDesc
	}

	magic := binary.LittleEndian.Uint32(data[espAppDescOffset:])
	if magic != espAppDescMagic {
		return nil, errNoAppDesc
	}

	raw := data[espAppDescOffset+espVersionFieldStart : descEnd]
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	version := string(raw)
	if version == "" {
		return nil, errNoAppDesc
	}

	desc := &ESPAppDesc{Version: version}
	if m := espSemVerRe.FindStringSubmatch(version); m != nil {
		desc.SemVer = m[1] + "." + m[2] + "." + m[3]
	}
	if m := espBuildRe.FindStringSubmatch(version); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			desc.BuildNumber = n
		}
	}
	return desc, nil
}
