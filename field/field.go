// Package field holds the playing field geometry and the alliance mirroring of field-relative
// positions.
package field

import (
	"math"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/s1"
	"github.com/pkg/errors"

	"swerve/geometry"
)

// Default field dimensions in meters.
const (
	DefaultLength = 16.541
	DefaultWidth  = 8.211
)

// BlueSpeaker is the center of the blue alliance speaker opening on the floor plane.
var BlueSpeaker = r2.Point{X: 0.2293, Y: 5.5479}

// Field is a rectangular playing field. The two alliances' halves mirror across the line
// x = Length/2.
type Field struct {
	Length float64
	Width  float64
}

// Default returns the standard field.
func Default() Field {
	return Field{Length: DefaultLength, Width: DefaultWidth}
}

// FlipTranslation mirrors p to the other alliance's half of the field.
func (f Field) FlipTranslation(p r2.Point) r2.Point {
	return r2.Point{X: f.Length - p.X, Y: p.Y}
}

// FlipRotation mirrors a heading to the other alliance's half of the field.
func (f Field) FlipRotation(a s1.Angle) s1.Angle {
	return (s1.Angle(math.Pi) - a).Normalized()
}

// FlipPose mirrors a pose to the other alliance's half of the field.
func (f Field) FlipPose(p geometry.Pose2d) geometry.Pose2d {
	return geometry.Pose2d{
		Translation: f.FlipTranslation(p.Translation),
		Heading:     f.FlipRotation(p.Heading),
	}
}

// Contains reports whether p lies on the field.
func (f Field) Contains(p r2.Point) bool {
	return p.X >= 0 && p.X <= f.Length && p.Y >= 0 && p.Y <= f.Width
}

// Alliance is the side of the field the robot plays for. Field coordinates always have their
// origin at the blue alliance wall.
type Alliance int

const (
	Blue Alliance = iota
	Red
)

func (a Alliance) String() string {
	if a == Red {
		return "red"
	}
	return "blue"
}

// ShouldFlip reports whether targets authored for the blue alliance must be mirrored.
func (a Alliance) ShouldFlip() bool {
	return a == Red
}

// ParseAlliance parses "blue" or "red", case insensitive.
func ParseAlliance(s string) (Alliance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "blue":
		return Blue, nil
	case "red":
		return Red, nil
	default:
		return Blue, errors.Errorf("unknown alliance %q, must be blue or red", s)
	}
}

// AllianceSource reports the current alliance. ok is false while the alliance is not known
// yet, e.g. before the field connection is up.
type AllianceSource interface {
	Alliance() (alliance Alliance, ok bool)
}

// StaticAlliance is an AllianceSource that never changes.
type StaticAlliance Alliance

// Alliance implements AllianceSource.
func (s StaticAlliance) Alliance() (Alliance, bool) {
	return Alliance(s), true
}

// ShouldFlip reports whether src currently requires mirroring. An unknown alliance is
// treated as blue.
func ShouldFlip(src AllianceSource) bool {
	if src == nil {
		return false
	}
	a, ok := src.Alliance()
	return ok && a.ShouldFlip()
}

// SpeakerFor returns the speaker the given alliance scores on.
func (f Field) SpeakerFor(a Alliance) r2.Point {
	if a.ShouldFlip() {
		return f.FlipTranslation(BlueSpeaker)
	}
	return BlueSpeaker
}
