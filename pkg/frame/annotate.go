package frame

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	landmarkColor = color.RGBA{0, 255, 0, 255}
	textColor     = color.RGBA{255, 40, 40, 255}
)

// Annotate draws eye landmark dots and the current EAR reading onto a copy
// of the frame and returns it re-encoded as a JPEG data URL. It feeds the
// live preview during PIN entry.
func Annotate(f *Frame, eyePoints []image.Point, ear, threshold float64) (string, error) {
	canvas := image.NewRGBA(f.Image.Bounds())
	draw.Draw(canvas, canvas.Bounds(), f.Image, f.Image.Bounds().Min, draw.Src)

	for _, p := range eyePoints {
		drawDot(canvas, p, 2)
	}

	drawLabel(canvas, fmt.Sprintf("EAR: %.3f", ear), image.Pt(10, 30))
	drawLabel(canvas, fmt.Sprintf("Thresh: %.3f", threshold), image.Pt(10, 50))

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", fmt.Errorf("failed to encode annotated frame: %w", err)
	}
	return EncodeDataURL(buf.Bytes()), nil
}

func drawDot(img *image.RGBA, center image.Point, radius int) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy > radius*radius {
				continue
			}
			p := image.Pt(center.X+dx, center.Y+dy)
			if p.In(img.Bounds()) {
				img.SetRGBA(p.X, p.Y, landmarkColor)
			}
		}
	}
}

func drawLabel(img *image.RGBA, text string, at image.Point) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(textColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(at.X, at.Y),
	}
	d.DrawString(text)
}
