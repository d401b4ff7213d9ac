package render

import (
	"image/color"
	"strings"

	"github.com/rotisserie/eris"
)

// Sequential light-to-dark ramps (ColorBrewer 9-class anchors). Class colors
// are sampled evenly from the ramp, so smaller class counts keep the full
// light-to-dark span.
var palettes = map[string][]color.RGBA{
	"oranges": {
		{0xff, 0xf5, 0xeb, 0xff}, {0xfe, 0xe6, 0xce, 0xff}, {0xfd, 0xd0, 0xa2, 0xff},
		{0xfd, 0xae, 0x6b, 0xff}, {0xfd, 0x8d, 0x3c, 0xff}, {0xf1, 0x69, 0x13, 0xff},
		{0xd9, 0x48, 0x01, 0xff}, {0xa6, 0x36, 0x03, 0xff}, {0x7f, 0x27, 0x04, 0xff},
	},
	"blues": {
		{0xf7, 0xfb, 0xff, 0xff}, {0xde, 0xeb, 0xf7, 0xff}, {0xc6, 0xdb, 0xef, 0xff},
		{0x9e, 0xca, 0xe1, 0xff}, {0x6b, 0xae, 0xd6, 0xff}, {0x42, 0x92, 0xc6, 0xff},
		{0x21, 0x71, 0xb5, 0xff}, {0x08, 0x51, 0x9c, 0xff}, {0x08, 0x30, 0x6b, 0xff},
	},
	"greens": {
		{0xf7, 0xfc, 0xf5, 0xff}, {0xe5, 0xf5, 0xe0, 0xff}, {0xc7, 0xe9, 0xc0, 0xff},
		{0xa1, 0xd9, 0x9b, 0xff}, {0x74, 0xc4, 0x76, 0xff}, {0x41, 0xab, 0x5d, 0xff},
		{0x23, 0x8b, 0x45, 0xff}, {0x00, 0x6d, 0x2c, 0xff}, {0x00, 0x44, 0x1b, 0xff},
	},
	"purples": {
		{0xfc, 0xfb, 0xfd, 0xff}, {0xef, 0xed, 0xf5, 0xff}, {0xda, 0xda, 0xeb, 0xff},
		{0xbc, 0xbd, 0xdc, 0xff}, {0x9e, 0x9a, 0xc8, 0xff}, {0x80, 0x7d, 0xba, 0xff},
		{0x6a, 0x51, 0xa3, 0xff}, {0x54, 0x27, 0x8f, 0xff}, {0x3f, 0x00, 0x7d, 0xff},
	},
	"greys": {
		{0xff, 0xff, 0xff, 0xff}, {0xf0, 0xf0, 0xf0, 0xff}, {0xd9, 0xd9, 0xd9, 0xff},
		{0xbd, 0xbd, 0xbd, 0xff}, {0x96, 0x96, 0x96, 0xff}, {0x73, 0x73, 0x73, 0xff},
		{0x52, 0x52, 0x52, 0xff}, {0x25, 0x25, 0x25, 0xff}, {0x00, 0x00, 0x00, 0xff},
	},
}

var (
	noDataColor  = color.RGBA{0xe0, 0xe0, 0xe0, 0xff}
	outlineColor = color.RGBA{0xff, 0xff, 0xff, 0xff}
	pointColor   = color.RGBA{0xb2, 0x18, 0x2b, 0xff}
)

// Palettes lists the available palette names.
func Palettes() []string {
	names := make([]string, 0, len(palettes))
	for name := range palettes {
		names = append(names, name)
	}
	return names
}

// Colors returns k class colors sampled from the named ramp, lightest first.
func Colors(name string, k int) ([]color.Color, error) {
	ramp, ok := palettes[strings.ToLower(name)]
	if !ok {
		return nil, eris.Errorf("render: unknown palette %q", name)
	}
	if k < 2 || k > len(ramp) {
		return nil, eris.Errorf("render: class count %d outside 2..%d", k, len(ramp))
	}

	out := make([]color.Color, k)
	for i := 0; i < k; i++ {
		out[i] = ramp[i*(len(ramp)-1)/(k-1)]
	}
	return out, nil
}
