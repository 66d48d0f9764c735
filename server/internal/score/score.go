package score

import (
	"bytes"
	"image"
	"image/color"

	// Registered decoders for image.Decode.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Neutral is the score reported for frames that cannot be decoded.
const Neutral = 0.5

// Result is the output of Compute.
type Result struct {
	// Value is the bright-pixel fraction in the range 0–1.
	Value float64

	// Width and Height are the decoded frame dimensions; zero when the
	// frame could not be decoded.
	Width  int
	Height int
}

// Func is the signature of a score function. Compute satisfies it.
type Func func(data []byte) Result

// Compute scores the encoded image in data.
func Compute(data []byte) Result {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Result{Value: Neutral}
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return Result{Value: Neutral}
	}

	hist, gray := histogram(img)
	t := otsuThreshold(hist, len(gray))

	var bright int
	for _, v := range gray {
		if int(v) > t {
			bright++
		}
	}

	return Result{
		Value:  float64(bright) / float64(len(gray)),
		Width:  w,
		Height: h,
	}
}

// histogram converts img to luminance and returns the 256-bin histogram
// together with the per-pixel gray values.
func histogram(img image.Image) ([256]int, []uint8) {
	var hist [256]int
	b := img.Bounds()
	gray := make([]uint8, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
			hist[g]++
			gray = append(gray, g)
		}
	}
	return hist, gray
}

// otsuThreshold returns the gray level that maximises between-class variance.
// Pixels strictly above the returned level belong to the bright class.
// A single-valued histogram yields 0.
func otsuThreshold(hist [256]int, total int) int {
	var sum float64
	for i, n := range hist {
		sum += float64(i) * float64(n)
	}

	var (
		sumB, wB float64
		best     = -1.0
		thresh   int
	)
	for t, n := range hist {
		wB += float64(n)
		if wB == 0 {
			continue
		}
		wF := float64(total) - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * float64(n)
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			thresh = t
		}
	}
	return thresh
}
