// Package unproject converts 2-D depth images (plus optional color
// textures) into 3-D point clouds using pinhole camera intrinsics.
package unproject

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrBadIntrinsics is returned when the camera parameters cannot produce a
// valid projection.
var ErrBadIntrinsics = errors.New("unproject: invalid intrinsics")

// Intrinsics are the pinhole camera parameters of the depth stream.
type Intrinsics struct {
	PPX, PPY  float64 // principal point, pixels
	FX, FY    float64 // focal lengths, pixel units
	DepthUnit float64 // multiplier for raw 16-bit depth samples
	// MinMargin/MaxMargin bound valid depth in result units.
	// MaxMargin 0 disables the upper bound.
	MinMargin, MaxMargin float64
}

// Pose is the capture pose stamped onto produced clouds. The zero rotation
// is treated as identity.
type Pose struct {
	Position [3]float32
	Rotation [4]float32 // quaternion XYZW
}

// Depth describes one unprojection input: a 16-bit little-endian depth
// plane and an optional 4-byte-per-pixel texture plane of the same
// dimensions.
type Depth struct {
	DepthData     []byte
	TextureData   []byte // nil when no texture is paired
	Width, Height int
	DepthStride   int // bytes per depth row
	TextureStride int // bytes per texture row
}

// Cloud is a point cloud buffer. Points[0:Used] and Colors[0:Used] hold
// valid data; the owner is responsible for the state of the remainder.
type Cloud struct {
	Points [][3]float32
	Colors []uint32 // packed little-endian RGBA, or greyscale when untextured
	Size   int
	Used   int

	// Capture pose the cloud was produced under.
	Position [3]float32
	Rotation [4]float32
}

// Unprojector fills point clouds from depth images.
type Unprojector interface {
	// Unproject fills out.Points/out.Colors from the depth input and sets
	// out.Used. It never touches entries past out.Size and assumes the
	// caller sized the arrays to Width*Height.
	Unproject(in Depth, out *Cloud)

	// Close releases any resources held by the unprojector.
	Close() error
}

// Pinhole is the CPU reference unprojector.
type Pinhole struct {
	intr Intrinsics
	pose Pose

	rot      quat.Number
	identity bool
}

// NewPinhole validates the intrinsics and returns a CPU unprojector.
func NewPinhole(intr Intrinsics, pose Pose) (*Pinhole, error) {
	if intr.FX == 0 || intr.FY == 0 {
		return nil, fmt.Errorf("%w: focal lengths must be non-zero", ErrBadIntrinsics)
	}
	if intr.DepthUnit <= 0 {
		return nil, fmt.Errorf("%w: depth unit must be positive", ErrBadIntrinsics)
	}

	p := &Pinhole{intr: intr, pose: pose}
	r := pose.Rotation
	if r == ([4]float32{}) {
		p.identity = true
	} else {
		// stored XYZW, quat.Number is W-first
		p.rot = quat.Number{
			Real: float64(r[3]),
			Imag: float64(r[0]),
			Jmag: float64(r[1]),
			Kmag: float64(r[2]),
		}
	}
	return p, nil
}

// Unproject maps every depth sample within the configured margins to a 3-D
// point. Accepted points form a dense prefix of out.Points; out.Used is
// the accepted count. When texture data is present, colors are sampled
// from it; otherwise a greyscale intensity is derived from depth.
func (p *Pinhole) Unproject(in Depth, out *Cloud) {
	used := 0
	for y := 0; y < in.Height; y++ {
		depthRow := in.DepthData[y*in.DepthStride:]
		var texRow []byte
		if in.TextureData != nil {
			texRow = in.TextureData[y*in.TextureStride:]
		}
		for x := 0; x < in.Width; x++ {
			raw := uint16(depthRow[2*x]) | uint16(depthRow[2*x+1])<<8
			d := float64(raw) * p.intr.DepthUnit
			if d <= 0 || d < p.intr.MinMargin {
				continue
			}
			if p.intr.MaxMargin > 0 && d > p.intr.MaxMargin {
				continue
			}
			if used >= out.Size {
				break
			}

			// pinhole back-projection; image y grows downward, world y up
			px := (float64(x) - p.intr.PPX) * d / p.intr.FX
			py := -(float64(y) - p.intr.PPY) * d / p.intr.FY
			pt := r3.Vec{X: px, Y: py, Z: d}

			if !p.identity {
				pt = rotateVec(p.rot, pt)
			}
			out.Points[used] = [3]float32{
				float32(pt.X) + p.pose.Position[0],
				float32(pt.Y) + p.pose.Position[1],
				float32(pt.Z) + p.pose.Position[2],
			}

			if texRow != nil {
				out.Colors[used] = uint32(texRow[4*x]) |
					uint32(texRow[4*x+1])<<8 |
					uint32(texRow[4*x+2])<<16 |
					uint32(texRow[4*x+3])<<24
			} else {
				g := uint32(raw >> 8)
				out.Colors[used] = g | g<<8 | g<<16 | 0xFF000000
			}
			used++
		}
	}

	out.Used = used
	out.Position = p.pose.Position
	out.Rotation = p.pose.Rotation
}

// Close implements Unprojector.
func (p *Pinhole) Close() error { return nil }

// rotateVec applies the unit quaternion q to v (q v q*).
func rotateVec(q quat.Number, v r3.Vec) r3.Vec {
	qv := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, qv), quat.Conj(q))
	return r3.Vec{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}
