package audiocore

import (
	"github.com/chewxy/math32"

	"github.com/pointaudio/pointaudio/internal/studio"
)

// Vector3 is a position in world space.
type Vector3 struct {
	X, Y, Z float32
}

// Quaternion is a unit rotation. The zero value is not a valid rotation;
// use IdentityQuaternion.
type Quaternion struct {
	X, Y, Z, W float32
}

var (
	// Forward is the local +Z axis.
	Forward = Vector3{0, 0, 1}
	// Up is the local +Y axis.
	Up = Vector3{0, 1, 0}
)

// IdentityQuaternion returns the rotation that leaves vectors unchanged.
func IdentityQuaternion() Quaternion {
	return Quaternion{W: 1}
}

// QuaternionFromEuler builds a rotation from angles in radians. Roll is
// applied first, then pitch, then yaw.
func QuaternionFromEuler(pitch, yaw, roll float32) Quaternion {
	qx := Quaternion{X: math32.Sin(pitch / 2), W: math32.Cos(pitch / 2)}
	qy := Quaternion{Y: math32.Sin(yaw / 2), W: math32.Cos(yaw / 2)}
	qz := Quaternion{Z: math32.Sin(roll / 2), W: math32.Cos(roll / 2)}
	return qy.Mul(qx).Mul(qz)
}

// Mul returns q*r, the rotation r followed by q.
func (q Quaternion) Mul(r Quaternion) Quaternion {
	return Quaternion{
		X: q.W*r.X + q.X*r.W + q.Y*r.Z - q.Z*r.Y,
		Y: q.W*r.Y - q.X*r.Z + q.Y*r.W + q.Z*r.X,
		Z: q.W*r.Z + q.X*r.Y - q.Y*r.X + q.Z*r.W,
		W: q.W*r.W - q.X*r.X - q.Y*r.Y - q.Z*r.Z,
	}
}

// Normalize returns q scaled to unit length. A zero quaternion normalises to
// the identity.
func (q Quaternion) Normalize() Quaternion {
	n := math32.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
	if n == 0 {
		return IdentityQuaternion()
	}
	return Quaternion{q.X / n, q.Y / n, q.Z / n, q.W / n}
}

// Rotate applies q to v.
func (q Quaternion) Rotate(v Vector3) Vector3 {
	x2, y2, z2 := q.X+q.X, q.Y+q.Y, q.Z+q.Z
	xx, yy, zz := q.X*x2, q.Y*y2, q.Z*z2
	xy, xz, yz := q.X*y2, q.X*z2, q.Y*z2
	wx, wy, wz := q.W*x2, q.W*y2, q.W*z2

	return Vector3{
		X: (1-(yy+zz))*v.X + (xy-wz)*v.Y + (xz+wy)*v.Z,
		Y: (xy+wz)*v.X + (1-(xx+zz))*v.Y + (yz-wx)*v.Z,
		Z: (xz-wy)*v.X + (yz+wx)*v.Y + (1-(xx+yy))*v.Z,
	}
}

func (v Vector3) studio() studio.Vector {
	return studio.Vector{X: v.X, Y: v.Y, Z: v.Z}
}

// Attributes3D derives the middleware 3D attributes for a pose. Forward and
// up are unit vectors whatever the scale of rotation.
func Attributes3D(translation Vector3, rotation Quaternion) studio.Attributes3D {
	rotation = rotation.Normalize()
	return studio.Attributes3D{
		Position: translation.studio(),
		Forward:  rotation.Rotate(Forward).studio(),
		Up:       rotation.Rotate(Up).studio(),
	}
}
