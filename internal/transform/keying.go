package transform

import (
	"bytes"
	"context"
	"image"
	"image/color"
	_ "image/gif" // register decoder
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/webp"
)

// DefaultTolerance is the per-channel distance, in 8-bit units, within which
// a pixel counts as background.
const DefaultTolerance = 48

// Keyer removes a uniform background by colour keying. The background
// colour is the mean of the image border; pixels within Tolerance of it
// become transparent and pixels up to twice that distance are faded.
type Keyer struct {
	Tolerance int
}

var _ Transformer = (*Keyer)(nil)

// NewKeyer creates a Keyer with the given tolerance. Values outside 0..255
// are clamped.
func NewKeyer(tolerance int) *Keyer {
	if tolerance < 0 {
		tolerance = 0
	}
	if tolerance > 255 {
		tolerance = 255
	}
	return &Keyer{Tolerance: tolerance}
}

// Transform implements Transformer.
func (k *Keyer) Transform(ctx context.Context, input []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(input))
	if err != nil {
		return nil, Errorf(KindInvalidImage, "decode: %v", err)
	}

	bounds := src.Bounds()
	if bounds.Empty() {
		return nil, Errorf(KindInvalidImage, "image has no pixels")
	}

	bg := borderColor(src)
	out := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			c.A = k.alpha(c, bg)
			out.SetNRGBA(x-bounds.Min.X, y-bounds.Min.Y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, Errorf(KindEncode, "encode png: %v", err)
	}
	return buf.Bytes(), nil
}

func (k *Keyer) alpha(c, bg color.NRGBA) uint8 {
	d := distance(c, bg)
	switch {
	case d <= k.Tolerance:
		return 0
	case k.Tolerance == 0 || d >= 2*k.Tolerance:
		return c.A
	default:
		// Linear fade between tolerance and twice the tolerance.
		return uint8(int(c.A) * (d - k.Tolerance) / k.Tolerance)
	}
}

// borderColor averages the outermost row and column of pixels on each side.
func borderColor(img image.Image) color.NRGBA {
	b := img.Bounds()
	var r, g, bl, n int

	add := func(x, y int) {
		c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
		r += int(c.R)
		g += int(c.G)
		bl += int(c.B)
		n++
	}

	for x := b.Min.X; x < b.Max.X; x++ {
		add(x, b.Min.Y)
		if b.Dy() > 1 {
			add(x, b.Max.Y-1)
		}
	}
	for y := b.Min.Y + 1; y < b.Max.Y-1; y++ {
		add(b.Min.X, y)
		if b.Dx() > 1 {
			add(b.Max.X-1, y)
		}
	}

	return color.NRGBA{R: uint8(r / n), G: uint8(g / n), B: uint8(bl / n), A: 0xff}
}

// distance is the largest per-channel difference between two colours.
func distance(a, b color.NRGBA) int {
	d := absDiff(a.R, b.R)
	if g := absDiff(a.G, b.G); g > d {
		d = g
	}
	if bl := absDiff(a.B, b.B); bl > d {
		d = bl
	}
	return d
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}
