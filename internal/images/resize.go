package images

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// shrinkToWidth scales the image down so its width does not exceed
// maxWidth, preserving the aspect ratio. Images already within the bound
// are returned unchanged; scaling never enlarges.
func shrinkToWidth(source image.Image, maxWidth int) image.Image {
	bounds := source.Bounds()
	width := bounds.Dx()
	if width <= maxWidth {
		return source
	}

	height := int(math.Round(float64(bounds.Dy()) * float64(maxWidth) / float64(width)))
	if height < 1 {
		height = 1
	}

	scaled := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), source, bounds, draw.Src, nil)
	return scaled
}
