package geom

// Vec3 is a world-space position.
type Vec3 struct {
	X, Y, Z float32
}

// Quat is a rotation quaternion. The zero value is not a valid rotation;
// use Identity.
type Quat struct {
	X, Y, Z, W float32
}

// Identity returns the no-rotation quaternion.
func Identity() Quat { return Quat{W: 1} }
