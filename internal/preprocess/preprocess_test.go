package preprocess

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func encodeGIF(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestFromBytes_ShapeIsFixedForAnyInputSize(t *testing.T) {
	p := New(DefaultHeight, DefaultWidth)

	sizes := [][2]int{{1, 1}, {17, 5}, {128, 128}, {300, 200}, {64, 513}}
	for _, size := range sizes {
		img := solidImage(size[0], size[1], color.NRGBA{R: 10, G: 120, B: 240, A: 255})

		for name, data := range map[string][]byte{
			"png":  encodePNG(t, img),
			"jpeg": encodeJPEG(t, img),
			"gif":  encodeGIF(t, img),
		} {
			tensor, format, err := p.FromBytes(data)
			require.NoError(t, err, "%s %v", name, size)

			assert.Equal(t, name, format)
			assert.Equal(t, [4]int64{1, DefaultHeight, DefaultWidth, Channels}, tensor.Shape)
			assert.Len(t, tensor.Data, DefaultHeight*DefaultWidth*Channels)
			for _, v := range tensor.Data {
				if v < 0 || v > 1 {
					t.Fatalf("%s %v: value %f outside [0,1]", name, size, v)
				}
			}
		}
	}
}

func TestFromBytes_NormalizesToUnitRange(t *testing.T) {
	p := New(4, 6)
	data := encodePNG(t, solidImage(9, 9, color.NRGBA{R: 255, G: 0, B: 51, A: 255}))

	tensor, _, err := p.FromBytes(data)
	require.NoError(t, err)

	assert.Equal(t, [4]int64{1, 4, 6, 3}, tensor.Shape)
	for i := 0; i < len(tensor.Data); i += Channels {
		assert.InDelta(t, 1.0, tensor.Data[i], 1e-6)
		assert.InDelta(t, 0.0, tensor.Data[i+1], 1e-6)
		assert.InDelta(t, 0.2, tensor.Data[i+2], 1e-6)
	}
}

func TestFromBytes_DropsAlpha(t *testing.T) {
	p := New(2, 2)
	data := encodePNG(t, solidImage(3, 3, color.NRGBA{R: 204, G: 102, B: 0, A: 64}))

	tensor, _, err := p.FromBytes(data)
	require.NoError(t, err)

	// Straight color survives; alpha does not darken it.
	for i := 0; i < len(tensor.Data); i += Channels {
		assert.InDelta(t, 0.8, tensor.Data[i], 0.01)
		assert.InDelta(t, 0.4, tensor.Data[i+1], 0.01)
		assert.InDelta(t, 0.0, tensor.Data[i+2], 0.01)
	}
}

func TestFromBytes_GrayscaleExpandsToThreeChannels(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 10, 10))
	for i := range gray.Pix {
		gray.Pix[i] = 128
	}

	tensor, _, err := New(8, 8).FromBytes(encodePNG(t, gray))
	require.NoError(t, err)

	for i := 0; i < len(tensor.Data); i += Channels {
		assert.Equal(t, tensor.Data[i], tensor.Data[i+1])
		assert.Equal(t, tensor.Data[i], tensor.Data[i+2])
		assert.InDelta(t, 128.0/255.0, tensor.Data[i], 1e-6)
	}
}

func TestFromBytes_PreservesRowMajorLayout(t *testing.T) {
	// Left half black, right half white; no resize needed.
	img := image.NewNRGBA(image.Rect(0, 0, 4, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			if x >= 2 {
				img.Set(x, y, color.White)
			} else {
				img.Set(x, y, color.Black)
			}
		}
	}

	tensor, _, err := New(2, 4).FromBytes(encodePNG(t, img))
	require.NoError(t, err)

	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			v := tensor.Data[(y*4+x)*Channels]
			if x >= 2 {
				assert.InDelta(t, 1.0, v, 1e-6, "x=%d y=%d", x, y)
			} else {
				assert.InDelta(t, 0.0, v, 1e-6, "x=%d y=%d", x, y)
			}
		}
	}
}

func TestFromBytes_IsDeterministic(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 50, 40))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 7)
	}
	data := encodePNG(t, img)
	p := New(DefaultHeight, DefaultWidth)

	first, _, err := p.FromBytes(data)
	require.NoError(t, err)
	second, _, err := p.FromBytes(data)
	require.NoError(t, err)

	assert.Equal(t, first.Data, second.Data)
}

func TestFromBytes_Errors(t *testing.T) {
	p := New(DefaultHeight, DefaultWidth)

	t.Run("empty", func(t *testing.T) {
		_, _, err := p.FromBytes(nil)
		assert.ErrorIs(t, err, ErrEmptyImage)
	})

	t.Run("not an image", func(t *testing.T) {
		_, _, err := p.FromBytes([]byte("definitely not an image"))
		require.Error(t, err)
		assert.ErrorIs(t, err, image.ErrFormat)
	})

	t.Run("truncated png", func(t *testing.T) {
		data := encodePNG(t, solidImage(20, 20, color.White))
		_, _, err := p.FromBytes(data[:len(data)/2])
		assert.Error(t, err)
	})
}

func TestNew_DefaultsForInvalidSize(t *testing.T) {
	p := New(0, -3)
	assert.Equal(t, DefaultHeight, p.Height())
	assert.Equal(t, DefaultWidth, p.Width())
}
