package frame

import (
	"image"
	"image/color"
	"sort"

	"github.com/nfnt/resize"
)

// SegmentOptions tunes glyph detection on a plate photo.
type SegmentOptions struct {
	// Width the photo is scaled to before detection.
	Width int
	// MinArea is the minimum dark pixel count of a glyph.
	MinArea int
	// MinAspect and MaxAspect bound width/height of a glyph box.
	MinAspect, MaxAspect float64
	// MaxGlyphs keeps the leftmost glyphs only.
	MaxGlyphs int
}

var DefaultSegmentOptions = SegmentOptions{Width: 600, MinArea: 500, MinAspect: 0.2, MaxAspect: 1.0, MaxGlyphs: 7}

// Plate is a normalized plate photo with its glyph boxes ordered left to right.
type Plate struct {
	Image  *image.Gray
	Glyphs []image.Rectangle
}

// Segment finds dark glyphs on a light plate: Otsu threshold, 8-connected
// components, then size and aspect filters.
func Segment(img image.Image, opts SegmentOptions) Plate {
	gray := ToGray(img)
	if opts.Width > 0 && gray.Bounds().Dx() != opts.Width {
		gray = ToGray(resize.Resize(uint(opts.Width), 0, gray, resize.Bilinear))
	}
	b := gray.Bounds()
	t := Otsu(gray)
	w, h := b.Dx(), b.Dy()

	label := make([]int32, w*h)
	dark := func(x, y int) bool { return gray.GrayAt(b.Min.X+x, b.Min.Y+y).Y <= t }

	var boxes []image.Rectangle
	var next int32
	stack := make([]int, 0, 256)
	for start := range label {
		if label[start] != 0 || !dark(start%w, start/w) {
			continue
		}
		next++
		label[start] = next
		stack = append(stack[:0], start)
		area := 0
		box := image.Rect(start%w, start/w, start%w+1, start/w+1)
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			px, py := p%w, p/w
			area++
			box = box.Union(image.Rect(px, py, px+1, py+1))
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := px+dx, py+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					q := ny*w + nx
					if label[q] == 0 && dark(nx, ny) {
						label[q] = next
						stack = append(stack, q)
					}
				}
			}
		}
		aspect := float64(box.Dx()) / float64(box.Dy())
		if area > opts.MinArea && aspect > opts.MinAspect && aspect < opts.MaxAspect {
			boxes = append(boxes, box.Add(b.Min))
		}
	}

	sort.Slice(boxes, func(i, j int) bool { return boxes[i].Min.X < boxes[j].Min.X })
	if opts.MaxGlyphs > 0 && len(boxes) > opts.MaxGlyphs {
		boxes = boxes[:opts.MaxGlyphs]
	}
	return Plate{Image: gray, Glyphs: boxes}
}

// Glyph crops one detected glyph, binarizes it with its own Otsu threshold
// and thickens the strokes, ready for FromImage.
func (p Plate) Glyph(i int) *image.Gray {
	crop := p.Image.SubImage(p.Glyphs[i]).(*image.Gray)
	return Erode(Binarize(crop, Otsu(crop)))
}

// Otsu returns the threshold maximizing between-class variance.
func Otsu(img *image.Gray) uint8 {
	var hist [256]int
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			hist[img.GrayAt(x, y).Y]++
		}
	}
	total := b.Dx() * b.Dy()
	var sum float64
	for i, c := range hist {
		sum += float64(i * c)
	}
	var (
		sumB   float64
		weight int
		best   float64
		thresh uint8
	)
	for i, c := range hist {
		weight += c
		if weight == 0 {
			continue
		}
		rest := total - weight
		if rest == 0 {
			break
		}
		sumB += float64(i * c)
		mB := sumB / float64(weight)
		mF := (sum - sumB) / float64(rest)
		between := float64(weight) * float64(rest) * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			thresh = uint8(i)
		}
	}
	return thresh
}

// Binarize maps values above t to white and the rest to black.
func Binarize(img *image.Gray, t uint8) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if img.GrayAt(b.Min.X+x, b.Min.Y+y).Y > t {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}

// Erode applies a 2x2 minimum filter, growing dark strokes by one pixel.
func Erode(img *image.Gray) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := img.GrayAt(x, y).Y
			if x > b.Min.X {
				v = min(v, img.GrayAt(x-1, y).Y)
			}
			if y > b.Min.Y {
				v = min(v, img.GrayAt(x, y-1).Y)
				if x > b.Min.X {
					v = min(v, img.GrayAt(x-1, y-1).Y)
				}
			}
			out.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return out
}
