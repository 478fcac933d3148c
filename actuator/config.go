package actuator

import (
	"math"
	"time"
)

// CANConfig configures the SocketCAN drivetrain.
type CANConfig struct {
	Channel           string
	DriveCurrentLimit uint8
	SteerCurrentLimit uint8
	StaleAfter        time.Duration

	// WheelRadius in meters and DriveGearRatio (motor turns per wheel turn) relate wheel
	// motion to the drive motor's rpm and rotation count.
	WheelRadius    float64
	DriveGearRatio float64
}

func (cfg *CANConfig) applyDefaults() {
	if cfg.Channel == "" {
		cfg.Channel = "can0"
	}
	if cfg.DriveCurrentLimit == 0 {
		cfg.DriveCurrentLimit = 60
	}
	if cfg.SteerCurrentLimit == 0 {
		cfg.SteerCurrentLimit = 30
	}
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = 100 * time.Millisecond
	}
	if cfg.WheelRadius == 0 {
		cfg.WheelRadius = 0.0508
	}
	if cfg.DriveGearRatio == 0 {
		cfg.DriveGearRatio = 6.75
	}
}

func (cfg CANConfig) wheelCircumference() float64 {
	return 2 * math.Pi * cfg.WheelRadius
}

// motorRPM converts a wheel surface speed in m/s to drive motor rpm.
func (cfg CANConfig) motorRPM(wheelSpeed float64) float64 {
	return wheelSpeed / cfg.wheelCircumference() * cfg.DriveGearRatio * 60
}

// wheelSpeed converts drive motor rpm to wheel surface speed in m/s.
func (cfg CANConfig) wheelSpeed(rpm float64) float64 {
	return rpm / 60 / cfg.DriveGearRatio * cfg.wheelCircumference()
}

// wheelDistance converts drive motor rotations to wheel travel in meters.
func (cfg CANConfig) wheelDistance(rotations float64) float64 {
	return rotations / cfg.DriveGearRatio * cfg.wheelCircumference()
}
