package preview

import (
	"encoding/binary"
	"image"

	"golang.org/x/image/draw"

	"github.com/bryanchriswhite/DepthStreamer/internal/frame"
	"github.com/bryanchriswhite/DepthStreamer/internal/pipeline"
)

// frameToRGBA converts a snapshot view into an RGBA image for JPEG
// encoding. Depth formats map the high byte to greyscale; planar YUV
// formats render the luma plane only, which is enough for a preview.
func frameToRGBA(v pipeline.FrameView) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, v.Width, v.Height))

	switch v.Format {
	case frame.FormatRGB0, frame.FormatRGBA:
		for y := 0; y < v.Height; y++ {
			src := v.Data[0][y*v.Linesize[0]:]
			dst := img.Pix[y*img.Stride:]
			for x := 0; x < v.Width; x++ {
				dst[4*x+0] = src[4*x+0]
				dst[4*x+1] = src[4*x+1]
				dst[4*x+2] = src[4*x+2]
				dst[4*x+3] = 0xFF
			}
		}

	case frame.FormatGray16LE, frame.FormatP010LE, frame.FormatP016LE:
		for y := 0; y < v.Height; y++ {
			src := v.Data[0][y*v.Linesize[0]:]
			dst := img.Pix[y*img.Stride:]
			for x := 0; x < v.Width; x++ {
				g := byte(binary.LittleEndian.Uint16(src[2*x:]) >> 8)
				dst[4*x+0] = g
				dst[4*x+1] = g
				dst[4*x+2] = g
				dst[4*x+3] = 0xFF
			}
		}

	case frame.FormatNV12, frame.FormatYUV420P:
		for y := 0; y < v.Height; y++ {
			src := v.Data[0][y*v.Linesize[0]:]
			dst := img.Pix[y*img.Stride:]
			for x := 0; x < v.Width; x++ {
				g := src[x]
				dst[4*x+0] = g
				dst[4*x+1] = g
				dst[4*x+2] = g
				dst[4*x+3] = 0xFF
			}
		}
	}

	return img
}

// scaleRGBA resizes img to w x h when it does not already match.
func scaleRGBA(img *image.RGBA, w, h int) *image.RGBA {
	if img.Bounds().Dx() == w && img.Bounds().Dy() == h {
		return img
	}
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(out, out.Bounds(), img, img.Bounds(), draw.Src, nil)
	return out
}
