package drive

import (
	"strings"

	"github.com/pkg/errors"
)

// Mode is what the controller is currently doing with the drivetrain.
type Mode int

const (
	ModeFieldCentric Mode = iota
	ModeRobotCentric
	ModeTargetAngle
	ModeBrake
	ModeCharacterizeTranslation
	ModeCharacterizeRotation
)

var modeNames = map[Mode]string{
	ModeFieldCentric:            "field_centric",
	ModeRobotCentric:            "robot_centric",
	ModeTargetAngle:             "target_angle",
	ModeBrake:                   "brake",
	ModeCharacterizeTranslation: "characterize_translation",
	ModeCharacterizeRotation:    "characterize_rotation",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Characterizing reports whether m is one of the characterization modes.
func (m Mode) Characterizing() bool {
	return m == ModeCharacterizeTranslation || m == ModeCharacterizeRotation
}

// Axis selects which motion a characterization sweep excites.
type Axis int

const (
	AxisTranslation Axis = iota
	AxisRotation
)

func (a Axis) String() string {
	if a == AxisRotation {
		return "rotation"
	}
	return "translation"
}

// MarshalText implements encoding.TextMarshaler.
func (a Axis) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// ParseAxis parses "translation" or "rotation".
func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(s) {
	case "translation":
		return AxisTranslation, nil
	case "rotation":
		return AxisRotation, nil
	default:
		return AxisTranslation, errors.Errorf("unknown characterization axis %q", s)
	}
}

// event is an external request that may change the mode.
type event int

const (
	eventDriveField event = iota
	eventDriveRobot
	eventTargetAngle
	eventBrake
	eventCharacterizeTranslation
	eventCharacterizeRotation
	eventToggleAxis
)

var allModes = []Mode{
	ModeFieldCentric,
	ModeRobotCentric,
	ModeTargetAngle,
	ModeBrake,
	ModeCharacterizeTranslation,
	ModeCharacterizeRotation,
}

// transitions[from][ev] is the mode after ev. A missing entry leaves the mode unchanged.
// Nothing changes the mode except these events.
var transitions = func() map[Mode]map[event]Mode {
	t := make(map[Mode]map[event]Mode, len(allModes))
	for _, m := range allModes {
		t[m] = map[event]Mode{
			eventDriveField:              ModeFieldCentric,
			eventDriveRobot:              ModeRobotCentric,
			eventTargetAngle:             ModeTargetAngle,
			eventBrake:                   ModeBrake,
			eventCharacterizeTranslation: ModeCharacterizeTranslation,
			eventCharacterizeRotation:    ModeCharacterizeRotation,
		}
	}
	t[ModeCharacterizeTranslation][eventToggleAxis] = ModeCharacterizeRotation
	t[ModeCharacterizeRotation][eventToggleAxis] = ModeCharacterizeTranslation
	return t
}()

func nextMode(from Mode, ev event) Mode {
	if to, ok := transitions[from][ev]; ok {
		return to
	}
	return from
}
