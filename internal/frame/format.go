package frame

import "fmt"

// PixelFormat identifies the memory layout of a decoded frame.
// The set mirrors what the hardware decoders are configured to emit.
type PixelFormat int

const (
	FormatUnknown PixelFormat = iota
	FormatNV12                // planar luma + interleaved chroma
	FormatYUV420P             // three planes
	FormatRGB0                // 4 bytes per pixel, alpha byte ignored
	FormatRGBA                // 4 bytes per pixel
	FormatGray16LE            // 16-bit little-endian depth/grey
	FormatP010LE              // 10-bit depth in 16-bit words, high bits
	FormatP016LE              // 16-bit depth
)

var formatNames = map[PixelFormat]string{
	FormatUnknown:  "unknown",
	FormatNV12:     "nv12",
	FormatYUV420P:  "yuv420p",
	FormatRGB0:     "rgb0",
	FormatRGBA:     "rgba",
	FormatGray16LE: "gray16le",
	FormatP010LE:   "p010le",
	FormatP016LE:   "p016le",
}

func (f PixelFormat) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return "unknown"
}

// ParsePixelFormat resolves a decoder pixel format name. An empty string
// means "decoder default" and maps to NV12, matching the hardware decoders.
func ParsePixelFormat(s string) (PixelFormat, error) {
	if s == "" {
		return FormatNV12, nil
	}
	for f, name := range formatNames {
		if name == s && f != FormatUnknown {
			return f, nil
		}
	}
	return FormatUnknown, fmt.Errorf("unsupported pixel format: %q", s)
}

// IsDepth16 reports whether the format stores one 16-bit depth sample per
// pixel in plane 0, the only layouts the unprojector accepts.
func (f PixelFormat) IsDepth16() bool {
	switch f {
	case FormatGray16LE, FormatP010LE, FormatP016LE:
		return true
	}
	return false
}

// IsTexture32 reports whether the format stores 4 bytes per pixel in plane 0,
// required for texture frames paired with depth unprojection.
func (f PixelFormat) IsTexture32() bool {
	return f == FormatRGB0 || f == FormatRGBA
}

// PlaneCount returns how many planes the format occupies.
func (f PixelFormat) PlaneCount() int {
	switch f {
	case FormatNV12, FormatP010LE, FormatP016LE:
		return 2
	case FormatYUV420P:
		return 3
	case FormatRGB0, FormatRGBA, FormatGray16LE:
		return 1
	}
	return 0
}
