// Package preprocess turns uploaded image bytes into the normalized
// fixed-size tensor the fundus classifier was trained on.
package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultHeight and DefaultWidth match the training input size.
	DefaultHeight = 128
	DefaultWidth  = 128

	// Channels is fixed to RGB; alpha is discarded.
	Channels = 3
)

// ErrEmptyImage is returned when no bytes were uploaded.
var ErrEmptyImage = errors.New("empty image data")

// Tensor is a single-image batch in NHWC layout with values in [0,1].
type Tensor struct {
	Data  []float32
	Shape [4]int64
}

// Preprocessor resizes and normalizes images to a fixed height and width.
type Preprocessor struct {
	height int
	width  int
}

// New creates a Preprocessor for the given target size. Non-positive
// dimensions fall back to the defaults.
func New(height, width int) *Preprocessor {
	if height <= 0 {
		height = DefaultHeight
	}
	if width <= 0 {
		width = DefaultWidth
	}
	return &Preprocessor{height: height, width: width}
}

// Height returns the target height.
func (p *Preprocessor) Height() int { return p.height }

// Width returns the target width.
func (p *Preprocessor) Width() int { return p.width }

// Decode decodes image bytes, detecting the format from content.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmptyImage
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, format, fmt.Errorf("image has no pixels: %dx%d", b.Dx(), b.Dy())
	}
	return img, format, nil
}

// FromBytes decodes and preprocesses raw image bytes.
func (p *Preprocessor) FromBytes(data []byte) (*Tensor, string, error) {
	img, format, err := Decode(data)
	if err != nil {
		return nil, format, err
	}
	return p.FromImage(img), format, nil
}

// FromImage converts any decoded image into a (1, H, W, 3) tensor.
func (p *Preprocessor) FromImage(img image.Image) *Tensor {
	rgb := toOpaqueRGBA(img)
	resized := resize.Resize(uint(p.width), uint(p.height), rgb, resize.Bilinear)

	t := &Tensor{
		Data:  make([]float32, p.height*p.width*Channels),
		Shape: [4]int64{1, int64(p.height), int64(p.width), Channels},
	}

	b := resized.Bounds()
	rgba, isRGBA := resized.(*image.RGBA)
	i := 0
	for y := 0; y < p.height; y++ {
		for x := 0; x < p.width; x++ {
			var r, g, bl uint8
			if isRGBA {
				off := rgba.PixOffset(b.Min.X+x, b.Min.Y+y)
				r, g, bl = rgba.Pix[off], rgba.Pix[off+1], rgba.Pix[off+2]
			} else {
				c := color.RGBAModel.Convert(resized.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
				r, g, bl = c.R, c.G, c.B
			}
			t.Data[i] = float32(r) / 255.0
			t.Data[i+1] = float32(g) / 255.0
			t.Data[i+2] = float32(bl) / 255.0
			i += Channels
		}
	}

	return t
}

// toOpaqueRGBA copies img into an opaque RGBA image anchored at the
// origin. Translucent pixels keep their straight (non-premultiplied) color
// and lose alpha, so the result always has exactly three meaningful channels.
func toOpaqueRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst
	}

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			off := dst.PixOffset(x, y)
			dst.Pix[off] = c.R
			dst.Pix[off+1] = c.G
			dst.Pix[off+2] = c.B
			dst.Pix[off+3] = 0xff
		}
	}
	return dst
}
