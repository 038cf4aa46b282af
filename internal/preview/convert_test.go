package preview

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/DepthStreamer/internal/frame"
	"github.com/bryanchriswhite/DepthStreamer/internal/pipeline"
)

func TestFrameToRGBAFromTexture(t *testing.T) {
	// 2x1 rgba: red then green, with stride padding
	data := []byte{
		0xFF, 0, 0, 0xFF, 0, 0xFF, 0, 0xFF,
		0xEE, 0xEE, // padding
	}
	v := pipeline.FrameView{
		Width: 2, Height: 1, Format: frame.FormatRGBA,
		Data:     [frame.NumPlanes][]byte{data},
		Linesize: [frame.NumPlanes]int{10},
	}

	img := frameToRGBA(v)
	r, g, b, a := img.At(0, 0).RGBA()
	assert.Equal(t, []uint32{0xFFFF, 0, 0, 0xFFFF}, []uint32{r, g, b, a})
	r, g, b, a = img.At(1, 0).RGBA()
	assert.Equal(t, []uint32{0, 0xFFFF, 0, 0xFFFF}, []uint32{r, g, b, a})
}

func TestFrameToRGBAFromDepth(t *testing.T) {
	// 2x1 gray16le: 0x8000 maps to mid grey, 0 to black
	data := make([]byte, 4)
	binary.LittleEndian.PutUint16(data[0:], 0x8000)
	v := pipeline.FrameView{
		Width: 2, Height: 1, Format: frame.FormatGray16LE,
		Data:     [frame.NumPlanes][]byte{data},
		Linesize: [frame.NumPlanes]int{4},
	}

	img := frameToRGBA(v)
	r, g, b, _ := img.At(0, 0).RGBA()
	assert.Equal(t, r, g)
	assert.Equal(t, g, b)
	assert.Equal(t, uint32(0x8080), r)
	r, _, _, _ = img.At(1, 0).RGBA()
	assert.Equal(t, uint32(0), r)
}

func TestScaleRGBA(t *testing.T) {
	v := pipeline.FrameView{
		Width: 4, Height: 4, Format: frame.FormatRGBA,
		Data:     [frame.NumPlanes][]byte{make([]byte, 4*4*4)},
		Linesize: [frame.NumPlanes]int{16},
	}
	img := frameToRGBA(v)

	same := scaleRGBA(img, 4, 4)
	assert.Same(t, img, same, "matching dimensions must not copy")

	scaled := scaleRGBA(img, 8, 2)
	assert.Equal(t, 8, scaled.Bounds().Dx())
	assert.Equal(t, 2, scaled.Bounds().Dy())
}

func TestEncodeCloudLayout(t *testing.T) {
	cloud := pipeline.CloudView{
		Points: [][3]float32{{1, 2, 3}, {4, 5, 6}, {0, 0, 0}},
		Colors: []uint32{0xFF0000FF, 0xFF00FF00, 0},
		Size:   3,
		Used:   2,
	}

	buf := encodeCloud(&cloud)
	require.Len(t, buf, 8+16*2)

	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(buf[0:]))
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(buf[4:]))

	x := math.Float32frombits(binary.LittleEndian.Uint32(buf[8:]))
	assert.Equal(t, float32(1), x)
	c := binary.LittleEndian.Uint32(buf[8+12:])
	assert.Equal(t, uint32(0xFF0000FF), c)

	y2 := math.Float32frombits(binary.LittleEndian.Uint32(buf[8+16+4:]))
	assert.Equal(t, float32(5), y2)
}
