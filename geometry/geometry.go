// Package geometry holds the planar pose types shared by the drivetrain packages.
// Field frame: origin at the blue alliance wall corner, x along the field, y to the left,
// headings counter-clockwise from +x.
package geometry

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/s1"
)

// Pose2d is a position and heading in the field frame.
type Pose2d struct {
	Translation r2.Point
	Heading     s1.Angle
}

// NewPose2d returns a pose at (x, y) meters facing heading.
func NewPose2d(x, y float64, heading s1.Angle) Pose2d {
	return Pose2d{Translation: r2.Point{X: x, Y: y}, Heading: heading.Normalized()}
}

// X returns the field x coordinate in meters.
func (p Pose2d) X() float64 { return p.Translation.X }

// Y returns the field y coordinate in meters.
func (p Pose2d) Y() float64 { return p.Translation.Y }

// HeadingTo returns the field heading that points from p toward target.
func (p Pose2d) HeadingTo(target r2.Point) s1.Angle {
	d := target.Sub(p.Translation)
	return s1.Angle(math.Atan2(d.Y, d.X))
}

// Twist is a displacement expressed in the body frame at the start of the motion.
type Twist struct {
	Dx     float64
	Dy     float64
	Dtheta s1.Angle
}

// Exp integrates a constant-curvature twist starting at p.
func (p Pose2d) Exp(t Twist) Pose2d {
	dtheta := t.Dtheta.Radians()
	sinTheta := math.Sin(dtheta)
	cosTheta := math.Cos(dtheta)

	var s, c float64
	if math.Abs(dtheta) < 1e-9 {
		s = 1.0 - dtheta*dtheta/6.0
		c = 0.5 * dtheta
	} else {
		s = sinTheta / dtheta
		c = (1 - cosTheta) / dtheta
	}

	local := r2.Point{X: t.Dx*s - t.Dy*c, Y: t.Dx*c + t.Dy*s}
	return Pose2d{
		Translation: p.Translation.Add(Rotate(local, p.Heading)),
		Heading:     (p.Heading + t.Dtheta).Normalized(),
	}
}

// Rotate turns v counter-clockwise by a.
func Rotate(v r2.Point, a s1.Angle) r2.Point {
	sin, cos := math.Sincos(a.Radians())
	return r2.Point{X: v.X*cos - v.Y*sin, Y: v.X*sin + v.Y*cos}
}

// WrapAngle returns the equivalent angle in (-π, π].
func WrapAngle(a s1.Angle) s1.Angle {
	return a.Normalized()
}
