package audiocore

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
)

func assertVec(t *testing.T, want, got Vector3) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, 1e-5, "x")
	assert.InDelta(t, want.Y, got.Y, 1e-5, "y")
	assert.InDelta(t, want.Z, got.Z, 1e-5, "z")
}

func TestRotate(t *testing.T) {
	half := math32.Pi / 2

	tests := []struct {
		name        string
		q           Quaternion
		forward, up Vector3
	}{
		{"identity", IdentityQuaternion(), Forward, Up},
		{"yaw 90", QuaternionFromEuler(0, half, 0), Vector3{X: 1}, Up},
		{"yaw 180", QuaternionFromEuler(0, math32.Pi, 0), Vector3{Z: -1}, Up},
		{"pitch 90", QuaternionFromEuler(half, 0, 0), Vector3{Y: -1}, Vector3{Z: 1}},
		{"roll 90", QuaternionFromEuler(0, 0, half), Forward, Vector3{X: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertVec(t, tt.forward, tt.q.Rotate(Forward))
			assertVec(t, tt.up, tt.q.Rotate(Up))
		})
	}
}

func TestNormalize(t *testing.T) {
	q := Quaternion{W: 2}.Normalize()
	assert.Equal(t, IdentityQuaternion(), q)
	assert.Equal(t, IdentityQuaternion(), Quaternion{}.Normalize())

	n := Quaternion{X: 1, Y: 1, Z: 1, W: 1}.Normalize()
	assert.InDelta(t, 0.5, n.X, 1e-6)
	assert.InDelta(t, 0.5, n.W, 1e-6)
}

func TestAttributes3D(t *testing.T) {
	attrs := Attributes3D(Vector3{X: 1, Y: 2, Z: 3}, QuaternionFromEuler(0, math32.Pi/2, 0))
	assert.Equal(t, float32(1), attrs.Position.X)
	assert.Equal(t, float32(3), attrs.Position.Z)
	assert.InDelta(t, 1, attrs.Forward.X, 1e-5)
	assert.InDelta(t, 1, attrs.Up.Y, 1e-5)
	assert.Zero(t, attrs.Velocity)
}

func TestAttributes3DNormalizesRotation(t *testing.T) {
	length := func(v Vector3) float32 { return math32.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

	// yaw 90 scaled by 3
	attrs := Attributes3D(Vector3{}, Quaternion{Y: 3, W: 3})
	forward := Vector3{attrs.Forward.X, attrs.Forward.Y, attrs.Forward.Z}
	up := Vector3{attrs.Up.X, attrs.Up.Y, attrs.Up.Z}

	assertVec(t, Vector3{X: 1}, forward)
	assertVec(t, Up, up)
	assert.InDelta(t, 1, length(forward), 1e-5)
	assert.InDelta(t, 1, length(up), 1e-5)

	zero := Attributes3D(Vector3{}, Quaternion{})
	assert.InDelta(t, 1, zero.Forward.Z, 1e-5, "a zero rotation falls back to identity")
}

func TestNewHashIsUniqueAndNonEmpty(t *testing.T) {
	seen := make(map[Hash]bool)
	for range 1000 {
		h := NewHash()
		assert.False(t, h.IsEmpty())
		assert.False(t, seen[h])
		seen[h] = true
	}
	assert.Len(t, EmptyHash.String(), 16)
}
