package engine

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height))))
	return buf.Bytes()
}

func TestInspectPNG(t *testing.T) {
	data := encodePNG(t, 640, 480)

	info, err := InspectPNG(data)
	require.NoError(t, err)
	assert.Equal(t, 640, info.Width)
	assert.Equal(t, 480, info.Height)
	assert.Equal(t, len(data), info.Bytes)
}

func TestInspectPNGRejectsOtherData(t *testing.T) {
	_, err := InspectPNG([]byte("short"))
	assert.Error(t, err)

	notPNG := bytes.Repeat([]byte{0x42}, 64)
	_, err = InspectPNG(notPNG)
	assert.Error(t, err)

	corrupted := encodePNG(t, 4, 4)
	copy(corrupted[12:16], "tEXt")
	_, err = InspectPNG(corrupted)
	assert.Error(t, err)
}

func TestDataURL(t *testing.T) {
	data := encodePNG(t, 2, 2)

	url := DataURL(data)
	assert.Contains(t, url, "data:image/png;base64,")

	decoded, err := DecodeDataURL(url)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)

	assert.Equal(t, "", DataURL(nil))
	_, err = DecodeDataURL("data:text/plain;base64,AAAA")
	assert.Error(t, err)
}
