package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// VerticalThreshold is the X separation below which the object→user line is
// treated as parallel to the Z axis.
const VerticalThreshold = 0.1

// Branch records which rule selected the wall point.
type Branch int

const (
	// BranchVertical: object and user share (almost) the same X.
	BranchVertical Branch = iota
	// BranchInside: object inside the ring, wall point behind the user as seen from the object.
	BranchInside
	// BranchOutside: object on or outside the ring, wall point nearest the object.
	BranchOutside
	// BranchRadial: the line misses the ring entirely; the object is projected radially.
	BranchRadial
)

func (b Branch) String() string {
	switch b {
	case BranchVertical:
		return "vertical"
	case BranchInside:
		return "inside"
	case BranchOutside:
		return "outside"
	case BranchRadial:
		return "radial"
	default:
		return "unknown"
	}
}

// Wall is a point on the speaker cylinder in the listener-local X/Z plane.
type Wall struct {
	X, Z   float64
	Branch Branch
}

// Azimuth returns the speaker angle of the wall point in protocol units.
func (w Wall) Azimuth() float64 {
	return Azimuth(w.X, w.Z)
}

// Azimuth converts an X/Z direction to protocol units: atan2(z, x)/π − 0.5.
func Azimuth(x, z float64) float64 {
	return math.Atan2(z, x)/math.Pi - 0.5
}

// UserAzimuthAndMagnitude returns the protocol azimuth and the horizontal
// distance from the ring axis of the user position.
func UserAzimuthAndMagnitude(userLocal r3.Vec) (azimuth, magnitude float64) {
	return Azimuth(userLocal.X, userLocal.Z), math.Hypot(userLocal.X, userLocal.Z)
}

// ProjectToCylinderWall intersects the line through the object and the user
// with a vertical cylinder of the given radius centred on the origin. Height
// (Y) is ignored.
func ProjectToCylinderWall(objectLocal, userLocal r3.Vec, radius float64) Wall {
	ox, oz := objectLocal.X, objectLocal.Z
	ux, uz := userLocal.X, userLocal.Z
	objToCenter := math.Hypot(ox, oz)

	if math.Abs(ux-ox) < VerticalThreshold {
		if math.Abs(ox) >= radius {
			return Wall{X: math.Copysign(radius, ox), Z: 0, Branch: BranchVertical}
		}
		z := math.Sqrt(radius*radius - ox*ox)
		if uz > oz {
			z = -z
		}
		return Wall{X: ox, Z: z, Branch: BranchVertical}
	}

	// z = m·x + b substituted into x² + z² = r²
	m := (uz - oz) / (ux - ox)
	b := oz - m*ox
	qa := 1 + m*m
	qb := 2 * m * b
	qc := b*b - radius*radius
	disc := qb*qb - 4*qa*qc
	if disc < 0 {
		s := radius / objToCenter
		return Wall{X: ox * s, Z: oz * s, Branch: BranchRadial}
	}

	sq := math.Sqrt(disc)
	x1 := (-qb + sq) / (2 * qa)
	x2 := (-qb - sq) / (2 * qa)
	z1 := m*x1 + b
	z2 := m*x2 + b

	if objToCenter < radius {
		wallToObject := math.Hypot(x1-ox, z1-oz)
		wallToUser := math.Hypot(x1-ux, z1-uz)
		if wallToUser > wallToObject {
			return Wall{X: x1, Z: z1, Branch: BranchInside}
		}
		return Wall{X: x2, Z: z2, Branch: BranchInside}
	}

	objToWall1 := math.Hypot(ox-x1, oz-z1)
	objToWall2 := math.Hypot(ox-x2, oz-z2)
	if objToWall1 < objToWall2 {
		return Wall{X: x1, Z: z1, Branch: BranchOutside}
	}
	return Wall{X: x2, Z: z2, Branch: BranchOutside}
}
