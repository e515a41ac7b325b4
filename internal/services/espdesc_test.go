package services

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildESPImage fabricates the minimal prefix of an ESP-IDF application
// image: padding up to the descriptor, the magic word, then the version
// string in its fixed-size field.
func buildESPImage(version string) []byte {
	data := make([]byte, espAppDescOffset+espVersionFieldStart+espVersionFieldLen)
	binary.LittleEndian.PutUint32(data[espAppDescOffset:], espAppDescMagic)
	copy(data[espAppDescOffset+espVersionFieldStart:], version)
	return data
}

func TestParseESPAppDesc(t *testing.T) {
	t.Run("plus suffix build number", func(t *testing.T) {
		desc, err := ParseESPAppDesc(buildESPImage("1.3.0+42"))
		require.NoError(t, err)
		assert.Equal(t, "1.3.0+42", desc.Version)
		assert.Equal(t, "1.3.0", desc.SemVer)
		assert.Equal(t, 42, desc.BuildNumber)
	})

	t.Run("build word form", func(t *testing.T) {
		desc, err := ParseESPAppDesc(buildESPImage("v2.1.0 build 7"))
		require.NoError(t, err)
		assert.Equal(t, "2.1.0", desc.SemVer)
		assert.Equal(t, 7, desc.BuildNumber)
	})

	t.Run("version without build number", func(t *testing.T) {
		desc, err := ParseESPAppDesc(buildESPImage("1.0.0"))
		require.NoError(t, err)
		assert.Equal(t, "1.0.0", desc.SemVer)
		assert.Equal(t, 0, desc.BuildNumber)
	})

	t.Run("non-semver version string", func(t *testing.T) {
		desc, err := ParseESPAppDesc(buildESPImage("nightly"))
		require.NoError(t, err)
		assert.Equal(t, "nightly", desc.Version)
		assert.Equal(t, "", desc.SemVer)
	})

	t.Run("wrong magic", func(t *testing.T) {
		data := buildESPImage("1.0.0")
		binary.LittleEndian.PutUint32(data[espAppDescOffset:], 0x11223344)
		_, err := ParseESPAppDesc(data)
		assert.ErrorIs(t, err, errNoAppDesc)
	})

	t.Run("truncated binary", func(t *testing.T) {
		_, err := ParseESPAppDesc([]byte{0x01, 0x02})
		assert.ErrorIs(t, err, errNoAppDesc)
	})

	t.Run("empty version field", func(t *testing.T) {
		_, err := ParseESPAppDesc(buildESPImage(""))
		assert.ErrorIs(t, err, errNoAppDesc)
	})
}
