package frame

import (
	"errors"
	"image"
	"image/color"

	"github.com/nfnt/resize"
)

// FitOptions controls how an arbitrary glyph image is turned into a frame.
type FitOptions struct {
	// Occupancy is the share of the frame side the longer glyph side fills.
	Occupancy float64
	// Threshold binarizes the resized glyph: values above it become white.
	Threshold uint8
	Interp    resize.InterpolationFunction
}

// DefaultFitOptions match the framing of the training set: the glyph fills
// 75% of the frame on a white background, pixels pure black or white.
var DefaultFitOptions = FitOptions{Occupancy: 0.75, Threshold: 128, Interp: resize.Bilinear}

// FromImage letterboxes img into a 64x64 white frame, preserving its aspect
// ratio, and binarizes the result.
func FromImage(img image.Image, opts FitOptions) (Frame, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return Frame{}, errors.New("empty image")
	}
	if opts.Occupancy <= 0 || opts.Occupancy > 1 {
		opts.Occupancy = DefaultFitOptions.Occupancy
	}

	target := int(float64(Width) * opts.Occupancy)
	longest := max(w, h)
	newW := max(1, w*target/longest)
	newH := max(1, h*target/longest)
	resized := resize.Resize(uint(newW), uint(newH), ToGray(img), opts.Interp)

	data := make([]byte, Size)
	for i := range data {
		data[i] = 255
	}
	rb := resized.Bounds()
	xOff, yOff := (Width-newW)/2, (Height-newH)/2
	for y := 0; y < newH; y++ {
		for x := 0; x < newW; x++ {
			v := color.GrayModel.Convert(resized.At(rb.Min.X+x, rb.Min.Y+y)).(color.Gray).Y
			if v <= opts.Threshold {
				v = 0
			} else {
				v = 255
			}
			data[(y+yOff)*Width+x+xOff] = v
		}
	}
	return New(data)
}

// ToGray converts any image to 8-bit luminance.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g.Set(x, y, img.At(x, y))
		}
	}
	return g
}

// Image wraps frame pixels without copying them.
func (f Frame) Image() *image.Gray {
	return &image.Gray{Pix: f.Data, Stride: Width, Rect: image.Rect(0, 0, Width, Height)}
}

// RGB565ToGray converts one camera pixel with integer luma weights 30/59/11.
func RGB565ToGray(p uint16) uint8 {
	r := int(p>>11) & 0x1f
	g := int(p>>5) & 0x3f
	b := int(p) & 0x1f
	r = r * 255 / 31
	g = g * 255 / 63
	b = b * 255 / 31
	y := (r*30 + g*59 + b*11) / 100
	return uint8(min(max(y, 0), 255))
}

// FromRGB565 nearest-neighbour samples a centred square window of a
// little-endian RGB565 camera buffer down to a frame.
func FromRGB565(buf []byte, width, height int) (Frame, error) {
	if width <= 0 || height <= 0 || len(buf) < width*height*2 {
		return Frame{}, errors.New("rgb565 buffer smaller than its dimensions")
	}
	side := min(width, height)
	x0, y0 := (width-side)/2, (height-side)/2
	data := make([]byte, Size)
	for y := 0; y < Height; y++ {
		sy := y0 + y*side/Height
		for x := 0; x < Width; x++ {
			sx := x0 + x*side/Width
			i := 2 * (sy*width + sx)
			data[y*Width+x] = RGB565ToGray(uint16(buf[i]) | uint16(buf[i+1])<<8)
		}
	}
	return New(data)
}
