package engine

import (
	"encoding/base64"
	"fmt"

	"github.com/funvibe/funbit/pkg/funbit"
)

// PNG signature and IHDR chunk type as big-endian words
const (
	pngSignatureHigh = 0x89504E47
	pngSignatureLow  = 0x0D0A1A0A
	pngChunkIHDR     = 0x49484452
	pngHeaderLength  = 13
)

// PlotInfo describes a captured image
type PlotInfo struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
	Bytes  int `json:"bytes" yaml:"bytes"`
}

// InspectPNG checks that data starts with a PNG signature followed by an
// IHDR chunk and returns the image dimensions
func InspectPNG(data []byte) (PlotInfo, error) {
	if len(data) < 8+8+pngHeaderLength {
		return PlotInfo{}, fmt.Errorf("plot is too short to be a PNG (%d bytes)", len(data))
	}

	var sigHigh, sigLow, chunkLength, chunkType, width, height uint
	var rest []byte

	matcher := funbit.NewMatcher()
	funbit.Integer(matcher, &sigHigh, funbit.WithSize(32))
	funbit.Integer(matcher, &sigLow, funbit.WithSize(32))
	funbit.Integer(matcher, &chunkLength, funbit.WithSize(32))
	funbit.Integer(matcher, &chunkType, funbit.WithSize(32))
	funbit.Integer(matcher, &width, funbit.WithSize(32))
	funbit.Integer(matcher, &height, funbit.WithSize(32))
	funbit.RestBinary(matcher, &rest)

	if _, err := funbit.Match(matcher, funbit.NewBitStringFromBytes(data)); err != nil {
		return PlotInfo{}, fmt.Errorf("failed to parse PNG header: %w", err)
	}
	if sigHigh != pngSignatureHigh || sigLow != pngSignatureLow {
		return PlotInfo{}, fmt.Errorf("plot does not carry a PNG signature")
	}
	if chunkType != pngChunkIHDR || chunkLength != pngHeaderLength {
		return PlotInfo{}, fmt.Errorf("PNG does not start with an IHDR chunk")
	}
	if width == 0 || height == 0 {
		return PlotInfo{}, fmt.Errorf("PNG has empty dimensions %dx%d", width, height)
	}
	return PlotInfo{Width: int(width), Height: int(height), Bytes: len(data)}, nil
}

// DataURL encodes a PNG as a data URL
func DataURL(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL reverses DataURL
func DecodeDataURL(url string) ([]byte, error) {
	const prefix = "data:image/png;base64,"
	if len(url) < len(prefix) || url[:len(prefix)] != prefix {
		return nil, fmt.Errorf("not a PNG data URL")
	}
	return base64.StdEncoding.DecodeString(url[len(prefix):])
}
