// Package imageio loads traffic camera frames as normalized RGB arrays.
package imageio

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultSize is the edge length frames are resized to when no size is given.
const DefaultSize = 224

var (
	ErrImageNotFound = errors.New("image not found")
	ErrImageDecode   = errors.New("image could not be decoded")
	ErrInvalidSize   = errors.New("invalid target size")
)

// ImageError records the path that failed. It unwraps to one of the
// sentinel errors above.
type ImageError struct {
	Path string
	Err  error
}

func (e *ImageError) Error() string { return e.Path + ": " + e.Err.Error() }

func (e *ImageError) Unwrap() error { return e.Err }

// Image is an RGB frame with intensities in [0, 1], stored row-major with
// interleaved channels: Pix[(y*Width+x)*3+c].
type Image struct {
	Width  int
	Height int
	Pix    []float64
}

// At returns the R, G, B intensities at (x, y).
func (m *Image) At(x, y int) [3]float64 {
	i := (y*m.Width + x) * 3
	return [3]float64{m.Pix[i], m.Pix[i+1], m.Pix[i+2]}
}

// ChannelMeans averages each channel over the frame.
func (m *Image) ChannelMeans() [3]float64 {
	var sum [3]float64
	for i, v := range m.Pix {
		sum[i%3] += v
	}
	n := float64(m.Width * m.Height)
	return [3]float64{sum[0] / n, sum[1] / n, sum[2] / n}
}

// Load decodes the image at path, resizes it to width×height with bilinear
// interpolation and converts it to normalized RGB. PNG, JPEG, GIF, BMP and
// WebP are supported.
func Load(path string, width, height int) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, &ImageError{Path: path, Err: fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)}
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &ImageError{Path: path, Err: ErrImageNotFound}
	}
	if err != nil {
		return nil, &ImageError{Path: path, Err: fmt.Errorf("%w: %v", ErrImageNotFound, err)}
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, &ImageError{Path: path, Err: fmt.Errorf("%w: %v", ErrImageDecode, err)}
	}
	return FromImage(src, width, height), nil
}

// FromImage resizes src and converts it to normalized RGB. Alpha is
// discarded, so color channels are not premultiplied.
func FromImage(src image.Image, width, height int) *Image {
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	out := &Image{Width: width, Height: height, Pix: make([]float64, width*height*3)}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			o := dst.PixOffset(x, y)
			i := (y*width + x) * 3
			out.Pix[i] = float64(dst.Pix[o]) / 255
			out.Pix[i+1] = float64(dst.Pix[o+1]) / 255
			out.Pix[i+2] = float64(dst.Pix[o+2]) / 255
		}
	}
	return out
}

// LoadBatch loads every path at the same size. It stops at the first error.
func LoadBatch(paths []string, width, height int) ([]*Image, error) {
	out := make([]*Image, 0, len(paths))
	for _, p := range paths {
		img, err := Load(p, width, height)
		if err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, nil
}
