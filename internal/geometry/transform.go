package geometry

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Identity is the no-rotation orientation.
var Identity = quat.Number{Real: 1}

// FromAxisAngle returns the unit quaternion rotating by angle radians about axis.
func FromAxisAngle(axis r3.Vec, angle float64) quat.Number {
	n := r3.Norm(axis)
	if n == 0 {
		return Identity
	}
	s := math.Sin(angle/2) / n
	return quat.Number{
		Real: math.Cos(angle / 2),
		Imag: axis.X * s,
		Jmag: axis.Y * s,
		Kmag: axis.Z * s,
	}
}

// Normalize scales q to unit length. A zero quaternion becomes Identity.
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) {
		return Identity
	}
	if n == 1 {
		return q
	}
	return quat.Scale(1/n, q)
}

// Rotate applies the rotation q to v (q·v·q*). q is normalised first.
func Rotate(q quat.Number, v r3.Vec) r3.Vec {
	q = Normalize(q)
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return r3.Vec{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// WorldToLocal expresses a world position in the listener frame:
// inverse(listenerRot) · (p − listenerPos).
func WorldToLocal(p, listenerPos r3.Vec, listenerRot quat.Number) r3.Vec {
	return Rotate(quat.Conj(Normalize(listenerRot)), r3.Sub(p, listenerPos))
}

// LocalToWorld is the inverse of WorldToLocal: listenerPos + listenerRot · p.
func LocalToWorld(p, listenerPos r3.Vec, listenerRot quat.Number) r3.Vec {
	return r3.Add(listenerPos, Rotate(listenerRot, p))
}

// Distance is the 3D euclidean distance between a and b.
func Distance(a, b r3.Vec) float64 {
	return r3.Norm(r3.Sub(a, b))
}
