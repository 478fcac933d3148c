package field

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/s1"
	"go.viam.com/test"

	"swerve/geometry"
)

func TestFlipPose(t *testing.T) {
	f := Default()
	p := geometry.NewPose2d(2, 3, 30*s1.Degree)
	flipped := f.FlipPose(p)
	test.That(t, flipped.X(), test.ShouldAlmostEqual, DefaultLength-2, 1e-12)
	test.That(t, flipped.Y(), test.ShouldEqual, 3)
	test.That(t, flipped.Heading.Degrees(), test.ShouldAlmostEqual, 150, 1e-9)
}

func TestFlipInvolution(t *testing.T) {
	f := Default()
	for _, p := range []geometry.Pose2d{
		geometry.NewPose2d(0, 0, 0),
		geometry.NewPose2d(1.5, 7.9, s1.Angle(math.Pi)),
		geometry.NewPose2d(14.2, 0.3, -90*s1.Degree),
		geometry.NewPose2d(8.27, 4.1, 179*s1.Degree),
		geometry.NewPose2d(3.3, 2.2, -1e-9),
	} {
		back := f.FlipPose(f.FlipPose(p))
		test.That(t, back.X(), test.ShouldAlmostEqual, p.X(), 1e-12)
		test.That(t, back.Y(), test.ShouldEqual, p.Y())
		test.That(t, (back.Heading - p.Heading).Normalized().Radians(), test.ShouldAlmostEqual, 0, 1e-12)
	}

	pt := r2.Point{X: 4.4, Y: 1.1}
	test.That(t, f.FlipTranslation(f.FlipTranslation(pt)).X, test.ShouldAlmostEqual, pt.X, 1e-12)
}

func TestParseAlliance(t *testing.T) {
	a, err := ParseAlliance(" Red ")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a, test.ShouldEqual, Red)
	test.That(t, a.String(), test.ShouldEqual, "red")

	a, err = ParseAlliance("blue")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a, test.ShouldEqual, Blue)

	_, err = ParseAlliance("green")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "green")
}

type unknownAlliance struct{}

func (unknownAlliance) Alliance() (Alliance, bool) { return Red, false }

func TestShouldFlip(t *testing.T) {
	test.That(t, ShouldFlip(StaticAlliance(Red)), test.ShouldBeTrue)
	test.That(t, ShouldFlip(StaticAlliance(Blue)), test.ShouldBeFalse)
	test.That(t, ShouldFlip(unknownAlliance{}), test.ShouldBeFalse)
	test.That(t, ShouldFlip(nil), test.ShouldBeFalse)
}

func TestSpeakerFor(t *testing.T) {
	f := Default()
	test.That(t, f.SpeakerFor(Blue), test.ShouldResemble, BlueSpeaker)
	red := f.SpeakerFor(Red)
	test.That(t, red.X, test.ShouldAlmostEqual, DefaultLength-BlueSpeaker.X, 1e-12)
	test.That(t, f.Contains(red), test.ShouldBeTrue)
}
