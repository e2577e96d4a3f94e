package captcha

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"sort"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/itpwatch/itpwatch/engine/domain"
)

// Recognizer turns a cleaned challenge image into text. Implementations wrap
// whatever OCR engine is available locally; the preprocessing in this file is
// the only part the package owns.
type Recognizer interface {
	Recognize(ctx context.Context, img *image.Gray) (string, error)
}

// RecognizerFunc adapts a function to the Recognizer interface.
type RecognizerFunc func(ctx context.Context, img *image.Gray) (string, error)

func (f RecognizerFunc) Recognize(ctx context.Context, img *image.Gray) (string, error) {
	return f(ctx, img)
}

// Local solves challenges with an on-box recognizer instead of a hosted API.
type Local struct {
	rec Recognizer
}

// NewLocal creates a local solver around the given recognizer.
func NewLocal(rec Recognizer) *Local {
	return &Local{rec: rec}
}

// Solve implements Solver.
func (l *Local) Solve(ctx context.Context, raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("%w: empty image", domain.ErrCaptchaInvalidFormat)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("%w: decode image: %s", domain.ErrOCRBackend, err)
	}
	cleaned := Preprocess(img)
	text, err := l.rec.Recognize(ctx, cleaned)
	if err != nil {
		return "", fmt.Errorf("%w: %s", domain.ErrOCRBackend, err)
	}
	return ValidateCode(text)
}

// Preprocess runs the cleanup chain that makes the portal's challenge images
// legible to a digit recognizer: grayscale, contrast stretch, 3x3 median
// filter, binary threshold, then 2x upscale.
func Preprocess(img image.Image) *image.Gray {
	g := grayscale(img)
	g = stretchContrast(g, 5)
	g = median3(g)
	g = threshold(g, 128)
	return upscale2(g)
}

func grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return out
}

// stretchContrast maps the [low, high] percentile range onto [0, 255],
// clipping cutoff percent of pixels at each end.
func stretchContrast(g *image.Gray, cutoff int) *image.Gray {
	hist := [256]int{}
	for _, p := range g.Pix {
		hist[p]++
	}
	total := len(g.Pix)
	clip := total * cutoff / 100

	low, acc := 0, 0
	for i := 0; i < 256; i++ {
		acc += hist[i]
		if acc > clip {
			low = i
			break
		}
	}
	high, acc := 255, 0
	for i := 255; i >= 0; i-- {
		acc += hist[i]
		if acc > clip {
			high = i
			break
		}
	}
	if high <= low {
		return g
	}

	out := image.NewGray(g.Bounds())
	scale := 255.0 / float64(high-low)
	for i, p := range g.Pix {
		v := int(float64(int(p)-low) * scale)
		if v < 0 {
			v = 0
		} else if v > 255 {
			v = 255
		}
		out.Pix[i] = uint8(v)
	}
	return out
}

// median3 applies a 3x3 median filter, cheap speckle-noise removal.
func median3(g *image.Gray) *image.Gray {
	b := g.Bounds()
	out := image.NewGray(b)
	var window [9]int
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			n := 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					xx, yy := x+dx, y+dy
					if xx < b.Min.X || xx >= b.Max.X || yy < b.Min.Y || yy >= b.Max.Y {
						continue
					}
					window[n] = int(g.GrayAt(xx, yy).Y)
					n++
				}
			}
			s := window[:n]
			sort.Ints(s)
			out.SetGray(x, y, color.Gray{Y: uint8(s[n/2])})
		}
	}
	return out
}

func threshold(g *image.Gray, cut uint8) *image.Gray {
	out := image.NewGray(g.Bounds())
	for i, p := range g.Pix {
		if p < cut {
			out.Pix[i] = 0
		} else {
			out.Pix[i] = 255
		}
	}
	return out
}

func upscale2(g *image.Gray) *image.Gray {
	b := g.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx()*2, b.Dy()*2))
	for y := 0; y < b.Dy()*2; y++ {
		for x := 0; x < b.Dx()*2; x++ {
			out.SetGray(x, y, g.GrayAt(b.Min.X+x/2, b.Min.Y+y/2))
		}
	}
	return out
}
