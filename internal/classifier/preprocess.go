package classifier

import (
	"image"

	"golang.org/x/image/draw"
)

// Preprocess scales img so its shorter side equals size, center-crops a
// size x size square and returns it as a planar RGB float32 tensor
// (1x3xHxW) with values in [0,1].
func Preprocess(img image.Image, size int) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return make([]float32, 3*size*size)
	}

	sw, sh := size, size
	if w < h {
		sh = (h*size + w/2) / w
	} else {
		sw = (w*size + h/2) / h
	}
	scaled := image.NewRGBA(image.Rect(0, 0, sw, sh))
	draw.BiLinear.Scale(scaled, scaled.Bounds(), img, b, draw.Src, nil)

	x0, y0 := (sw-size)/2, (sh-size)/2
	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			i := scaled.PixOffset(x0+x, y0+y)
			p := y*size + x
			out[p] = float32(scaled.Pix[i]) / 255
			out[plane+p] = float32(scaled.Pix[i+1]) / 255
			out[2*plane+p] = float32(scaled.Pix[i+2]) / 255
		}
	}
	return out
}
