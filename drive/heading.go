package drive

import (
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/s1"

	"swerve/geometry"
)

// HeadingTarget is what the robot should face: either a field point or a fixed heading.
type HeadingTarget struct {
	point    r2.Point
	heading  s1.Angle
	usePoint bool
}

// TargetPoint faces the robot toward p.
func TargetPoint(p r2.Point) HeadingTarget {
	return HeadingTarget{point: p, usePoint: true}
}

// TargetHeading holds a literal field heading.
func TargetHeading(a s1.Angle) HeadingTarget {
	return HeadingTarget{heading: a.Normalized()}
}

// Resolve returns the field heading to hold from pose.
func (t HeadingTarget) Resolve(pose geometry.Pose2d) s1.Angle {
	if t.usePoint {
		return pose.HeadingTo(t.point)
	}
	return t.heading
}

func (t HeadingTarget) String() string {
	if t.usePoint {
		return fmt.Sprintf("point(%.3f, %.3f)", t.point.X, t.point.Y)
	}
	return fmt.Sprintf("heading(%.1f°)", t.heading.Degrees())
}

// MarshalText implements encoding.TextMarshaler.
func (t HeadingTarget) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// HeadingError returns target − current wrapped to (−π, π].
func HeadingError(target, current s1.Angle) s1.Angle {
	return geometry.WrapAngle(target - current)
}
