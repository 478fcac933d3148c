package actuator

import (
	"context"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-daq/canbus"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/s1"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"swerve/swerve"
)

func TestMotorCommandFrame(t *testing.T) {
	frame := motorCommand{motorID: 4, state: stateEnabled, mode: modeSpeed, setpoint: -750, currentLimit: 60}.toFrame()
	test.That(t, frame.ID, test.ShouldEqual, uint32(0x304))
	test.That(t, frame.Kind, test.ShouldEqual, canbus.SFF)
	test.That(t, len(frame.Data), test.ShouldEqual, 8)
	test.That(t, frame.Data[0], test.ShouldEqual, byte(0x01))
	test.That(t, int16(binary.LittleEndian.Uint16(frame.Data[1:3])), test.ShouldEqual, int16(-1500))
	test.That(t, frame.Data[3], test.ShouldEqual, byte(60))

	frame = motorCommand{motorID: 5, state: stateEnabled, mode: modeAbsolute, setpoint: 90}.toFrame()
	test.That(t, frame.Data[0], test.ShouldEqual, byte(0x11))
	test.That(t, int16(binary.LittleEndian.Uint16(frame.Data[1:3])), test.ShouldEqual, int16(11520))

	frame = motorCommand{motorID: 0, state: stateEnabled, mode: modeVoltage, setpoint: 100}.toFrame()
	test.That(t, frame.Data[0], test.ShouldEqual, byte(0x41))
	test.That(t, int16(binary.LittleEndian.Uint16(frame.Data[1:3])), test.ShouldEqual, int16(32767))
}

func TestExtractSignal(t *testing.T) {
	data := make([]byte, 8)
	rpmRaw, angleRaw := int16(-2500), int16(-5760)
	binary.LittleEndian.PutUint16(data[0:2], uint16(rpmRaw))
	binary.LittleEndian.PutUint16(data[2:4], uint16(angleRaw))
	binary.LittleEndian.PutUint32(data[4:8], uint32(int32(123456)))

	test.That(t, canSignalDriveRPM.extract(data), test.ShouldAlmostEqual, -1250, 1e-9)
	test.That(t, canSignalModuleAngle.extract(data), test.ShouldAlmostEqual, -45, 1e-9)
	test.That(t, canSignalDriveRotations.extract(data), test.ShouldAlmostEqual, 123.456, 1e-9)

	unsigned := canSignal{scalar: 0.1, start: 4, length: 8, littleEndian: true}
	test.That(t, unsigned.extract([]byte{0xf0, 0x0f}), test.ShouldAlmostEqual, 25.5, 1e-9)

	test.That(t, math.IsNaN(canSignalDriveRotations.extract(data[:4])), test.ShouldBeTrue)
}

func TestCANFeedbackStaleness(t *testing.T) {
	var modules [swerve.NumModules]swerve.ModuleConfig
	for i := range modules {
		modules[i] = swerve.ModuleConfig{
			DriveMotorID: 2 * i,
			SteerMotorID: 2*i + 1,
			EncoderID:    i,
			AngleOffset:  90 * s1.Degree,
			Position:     r2.Point{X: 1, Y: float64(i)},
		}
	}
	clk := clock.NewMock()
	cfg := CANConfig{}
	cfg.applyDefaults()
	c := &CAN{cfg: cfg, modules: modules, clk: clk, logger: logging.NewTestLogger(t)}

	data := make([]byte, 8)
	binary.LittleEndian.PutUint16(data[0:2], uint16(int16(1000)))
	binary.LittleEndian.PutUint16(data[2:4], uint16(int16(11520)))
	c.handleFrame(canbus.Frame{ID: statusBaseID + 2, Data: data})

	yaw := make([]byte, 8)
	yawRaw := int32(-450000)
	binary.LittleEndian.PutUint32(yaw[0:4], uint32(yawRaw))
	c.handleFrame(canbus.Frame{ID: gyroStatusID, Data: yaw})

	fb, err := c.Feedback(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fb.Modules[1].Valid, test.ShouldBeTrue)
	// 500 motor rpm through the 6.75:1 reduction on a 4 in wheel
	test.That(t, fb.Modules[1].Speed, test.ShouldAlmostEqual, 500.0/60/6.75*2*math.Pi*0.0508, 1e-9)
	test.That(t, fb.Modules[1].RawAngle.Degrees(), test.ShouldAlmostEqual, 90, 1e-9)
	test.That(t, modules[1].CorrectAngle(fb.Modules[1].RawAngle).Degrees(), test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, fb.Modules[0].Valid, test.ShouldBeFalse)
	test.That(t, fb.YawValid, test.ShouldBeTrue)
	test.That(t, fb.Yaw.Degrees(), test.ShouldAlmostEqual, -90, 1e-9)

	clk.Add(150 * time.Millisecond)
	fb, err = c.Feedback(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fb.Modules[1].Valid, test.ShouldBeFalse)
	test.That(t, fb.YawValid, test.ShouldBeFalse)
}

func TestDriveGearRatio(t *testing.T) {
	cfg := CANConfig{WheelRadius: 0.05, DriveGearRatio: 8}
	cfg.applyDefaults()
	circumference := 2 * math.Pi * 0.05

	test.That(t, cfg.motorRPM(circumference), test.ShouldAlmostEqual, 480, 1e-9)
	test.That(t, cfg.wheelSpeed(480), test.ShouldAlmostEqual, circumference, 1e-9)
	test.That(t, cfg.wheelDistance(16), test.ShouldAlmostEqual, 2*circumference, 1e-9)

	var modules [swerve.NumModules]swerve.ModuleConfig
	for i := range modules {
		modules[i] = swerve.ModuleConfig{DriveMotorID: 2 * i, SteerMotorID: 2*i + 1}
	}
	c := &CAN{cfg: cfg, modules: modules}
	var req VelocityRequest
	req.Modules[2] = swerve.ModuleState{Speed: -circumference}
	frames := c.velocityFrames(req)
	test.That(t, frames, test.ShouldHaveLength, 2*swerve.NumModules)
	drive := frames[4]
	test.That(t, drive.ID, test.ShouldEqual, cmdBaseID+4)
	test.That(t, int16(binary.LittleEndian.Uint16(drive.Data[1:3])), test.ShouldEqual, int16(-960))

	// a doubled ratio halves the wheel speed for the same motor rpm
	fast := CANConfig{WheelRadius: 0.05, DriveGearRatio: 16}
	test.That(t, fast.wheelSpeed(480), test.ShouldAlmostEqual, circumference/2, 1e-9)
}

func TestCANFramesAfterClose(t *testing.T) {
	c := &CAN{closed: true}
	test.That(t, c.setFrames(nil), test.ShouldEqual, ErrClosed)
}

func TestNewCANMissingInterface(t *testing.T) {
	var modules [swerve.NumModules]swerve.ModuleConfig
	for i := range modules {
		modules[i] = swerve.ModuleConfig{DriveMotorID: 2 * i, SteerMotorID: 2*i + 1}
	}
	c, err := NewCAN(CANConfig{Channel: "swervemissing0"}, modules, clock.NewMock(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, c, test.ShouldBeNil)
}
