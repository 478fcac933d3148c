package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/geo/s1"
	"go.viam.com/test"

	"swerve/field"
	"swerve/swerve"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "swerve.yaml")
	test.That(t, os.WriteFile(path, []byte(contents), 0o600), test.ShouldBeNil)
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "simulate: true\n"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Simulate, test.ShouldBeTrue)

	deps, err := cfg.Validate("swerve")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, deps, test.ShouldBeEmpty)

	modules, err := cfg.SwerveModules()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, modules[swerve.FrontLeft].Name, test.ShouldEqual, "front_left")
	test.That(t, modules[swerve.BackRight].DriveMotorID, test.ShouldEqual, 6)
	test.That(t, modules[swerve.BackRight].SteerMotorID, test.ShouldEqual, 7)
	test.That(t, modules[swerve.BackRight].EncoderID, test.ShouldEqual, 3)
	test.That(t, modules[swerve.FrontRight].Position.X, test.ShouldAlmostEqual, defaultWheelBase/2)
	test.That(t, modules[swerve.FrontRight].Position.Y, test.ShouldAlmostEqual, -defaultTrackWidth/2)

	dc := cfg.DriveConfig()
	test.That(t, dc.Period, test.ShouldEqual, 20*time.Millisecond)
	test.That(t, dc.MaxModuleSpeed, test.ShouldEqual, 4.5)
	test.That(t, dc.ReverseRate, test.ShouldEqual, -10.0)
	test.That(t, dc.Validate(), test.ShouldBeNil)

	test.That(t, cfg.Field(), test.ShouldResemble, field.Default())
	src, err := cfg.AllianceSource()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, field.ShouldFlip(src), test.ShouldBeFalse)

	sc := cfg.SysIDConfig()
	test.That(t, sc.Timeout, test.ShouldEqual, 10*time.Second)
	test.That(t, sc.StepVoltage, test.ShouldEqual, 7.0)

	_, enabled := cfg.TelemetryConfig()
	test.That(t, enabled, test.ShouldBeFalse)
	test.That(t, cfg.CANConfig().StaleAfter, test.ShouldEqual, time.Duration(0))
	test.That(t, cfg.DriveGearRatio, test.ShouldEqual, 6.75)
	test.That(t, cfg.CANConfig().DriveGearRatio, test.ShouldEqual, 6.75)
	test.That(t, cfg.CANConfig().WheelRadius, test.ShouldEqual, 0.0508)
}

func TestLoadExplicit(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
alliance: Red
period_ms: 10
max_module_speed_mps: 3.5
drive_gear_ratio: 8.14
modules:
  - {drive_motor_id: 10, steer_motor_id: 11, encoder_id: 0, angle_offset_deg: 90, x_m: 0.3, y_m: 0.3}
  - {drive_motor_id: 12, steer_motor_id: 13, encoder_id: 1, x_m: 0.3, y_m: -0.3}
  - {drive_motor_id: 14, steer_motor_id: 15, encoder_id: 2, x_m: -0.3, y_m: 0.3}
  - {drive_motor_id: 16, steer_motor_id: 17, encoder_id: 3, x_m: -0.3, y_m: -0.3}
can:
  channel: can1
  stale_after_ms: 250
mqtt:
  broker: tcp://localhost:1883
  prefix: robot
`))
	test.That(t, err, test.ShouldBeNil)
	_, err = cfg.Validate("swerve")
	test.That(t, err, test.ShouldBeNil)

	modules, err := cfg.SwerveModules()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, modules[0].AngleOffset.Degrees(), test.ShouldAlmostEqual, 90)
	test.That(t, modules[0].CorrectAngle(s1.Angle(0)).Degrees(), test.ShouldAlmostEqual, -90)
	test.That(t, modules[2].Name, test.ShouldEqual, "back_left")
	test.That(t, cfg.DriveConfig().Period, test.ShouldEqual, 10*time.Millisecond)
	test.That(t, cfg.DriveConfig().MaxModuleSpeed, test.ShouldEqual, 3.5)

	src, err := cfg.AllianceSource()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, field.ShouldFlip(src), test.ShouldBeTrue)

	can := cfg.CANConfig()
	test.That(t, can.Channel, test.ShouldEqual, "can1")
	test.That(t, can.StaleAfter, test.ShouldEqual, 250*time.Millisecond)
	test.That(t, can.DriveGearRatio, test.ShouldEqual, 8.14)

	tc, enabled := cfg.TelemetryConfig()
	test.That(t, enabled, test.ShouldBeTrue)
	test.That(t, tc.Prefix, test.ShouldEqual, "robot")
	test.That(t, tc.Rate, test.ShouldEqual, 100*time.Millisecond)
}

func TestValidateReportsProblems(t *testing.T) {
	cfg := &Config{Modules: []Module{{}, {}}}
	_, err := cfg.Validate("components.0.attributes")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "expected 4 modules")

	cfg = &Config{Alliance: "green", ReverseRate: 3}
	cfg.ApplyDefaults()
	cfg.Modules[swerve.BackRight].DriveMotorID = 0
	_, err = cfg.Validate("components.0.attributes")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "green")
	test.That(t, err.Error(), test.ShouldContainSubstring, "reverse rate")
	test.That(t, err.Error(), test.ShouldContainSubstring, "reuses motor id 0")

	cfg = &Config{DriveGearRatio: -6.75, WheelRadius: -1}
	_, err = cfg.Validate("components.0.attributes")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "drive gear ratio")
	test.That(t, err.Error(), test.ShouldContainSubstring, "wheel radius")

	cfg = &Config{MQTT: MQTT{Prefix: "robot"}}
	_, err = cfg.Validate("components.0.attributes")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "mqtt.broker")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = Load(writeConfig(t, "modules: [\n"))
	test.That(t, err, test.ShouldNotBeNil)
}
