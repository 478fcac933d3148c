package actuator

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-daq/canbus"
	"github.com/golang/geo/s1"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	viamutils "go.viam.com/utils"
	"golang.org/x/sys/unix"

	"swerve/swerve"
)

const publishInterval = 10 * time.Millisecond

// CAN drives the modules' motor controllers over SocketCAN. The latest frames are resent every
// 10ms so the controllers' own command watchdogs stay fed.
type CAN struct {
	cfg     CANConfig
	modules [swerve.NumModules]swerve.ModuleConfig
	clk     clock.Clock
	logger  logging.Logger

	sendSocket *canbus.Socket
	recvSocket *canbus.Socket

	frameMu sync.Mutex
	frames  []canbus.Frame
	closed  bool

	feedbackMu sync.RWMutex
	feedback   Feedback
	lastSeen   [swerve.NumModules]time.Time
	yawSeen    time.Time

	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
}

var _ Drivetrain = (*CAN)(nil)

// NewCAN binds to the configured channel and starts the publish and receive threads.
func NewCAN(
	cfg CANConfig,
	modules [swerve.NumModules]swerve.ModuleConfig,
	clk clock.Clock,
	logger logging.Logger,
) (*CAN, error) {
	cfg.applyDefaults()

	socketSend, err := canbus.New()
	if err != nil {
		return nil, err
	}
	if err := socketSend.Bind(cfg.Channel); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "binding %s", cfg.Channel), socketSend.Close())
	}

	socketRecv, err := canbus.New()
	if err != nil {
		return nil, multierr.Combine(err, socketSend.Close())
	}
	filters := []unix.CanFilter{{Id: gyroStatusID, Mask: unix.CAN_SFF_MASK}}
	for _, m := range modules {
		filters = append(filters, unix.CanFilter{Id: statusBaseID + uint32(m.DriveMotorID), Mask: unix.CAN_SFF_MASK})
	}
	if err := socketRecv.SetFilters(filters); err != nil {
		return nil, multierr.Combine(err, socketRecv.Close(), socketSend.Close())
	}
	if err := socketRecv.Bind(cfg.Channel); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "binding %s", cfg.Channel), socketRecv.Close(), socketSend.Close())
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	c := &CAN{
		cfg:        cfg,
		modules:    modules,
		clk:        clk,
		logger:     logger,
		sendSocket: socketSend,
		recvSocket: socketRecv,
		cancel:     cancel,
	}
	c.frames = c.brakeFrames([swerve.NumModules]s1.Angle{}, stateDisabled)

	c.activeBackgroundWorkers.Add(2)
	viamutils.ManagedGo(func() {
		c.publishThread(cancelCtx)
	}, c.activeBackgroundWorkers.Done)
	viamutils.ManagedGo(func() {
		c.receiveThread(cancelCtx)
	}, c.activeBackgroundWorkers.Done)

	return c, nil
}

// publishThread continuously sends the latest frames over the canbus.
func (c *CAN) publishThread(ctx context.Context) {
	defer c.sendSocket.Close()
	ticker := c.clk.Ticker(publishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		c.frameMu.Lock()
		frames := c.frames
		c.frameMu.Unlock()
		for _, frame := range frames {
			if _, err := c.sendSocket.Send(frame); err != nil {
				c.logger.Errorw("motor command send error", "id", frame.ID, "error", err)
			}
		}
	}
}

// receiveThread receives module and gyro status frames and stores the decoded signals.
func (c *CAN) receiveThread(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := c.recvSocket.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Errorw("CAN Rx error", "error", err)
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *CAN) handleFrame(frame canbus.Frame) {
	now := c.clk.Now()
	c.feedbackMu.Lock()
	defer c.feedbackMu.Unlock()

	if frame.ID == gyroStatusID {
		c.feedback.Yaw = (s1.Angle(canSignalGyroYaw.extract(frame.Data)) * s1.Degree).Normalized()
		c.yawSeen = now
		return
	}
	for i, m := range c.modules {
		if frame.ID != statusBaseID+uint32(m.DriveMotorID) {
			continue
		}
		c.feedback.Modules[i] = ModuleFeedback{
			Speed:    c.cfg.wheelSpeed(canSignalDriveRPM.extract(frame.Data)),
			RawAngle: (s1.Angle(canSignalModuleAngle.extract(frame.Data)) * s1.Degree).Normalized(),
			Distance: c.cfg.wheelDistance(canSignalDriveRotations.extract(frame.Data)),
		}
		c.lastSeen[i] = now
		return
	}
}

func (c *CAN) driveFrames(setpoints [swerve.NumModules]float64, mode motorMode, angles [swerve.NumModules]s1.Angle) []canbus.Frame {
	frames := make([]canbus.Frame, 0, 2*swerve.NumModules)
	for i, m := range c.modules {
		frames = append(frames,
			motorCommand{
				motorID:      m.DriveMotorID,
				state:        stateEnabled,
				mode:         mode,
				setpoint:     setpoints[i],
				currentLimit: c.cfg.DriveCurrentLimit,
			}.toFrame(),
			motorCommand{
				motorID:      m.SteerMotorID,
				state:        stateEnabled,
				mode:         modeAbsolute,
				setpoint:     m.RawAngle(angles[i]).Degrees(),
				currentLimit: c.cfg.SteerCurrentLimit,
			}.toFrame(),
		)
	}
	return frames
}

func (c *CAN) brakeFrames(angles [swerve.NumModules]s1.Angle, driveState motorState) []canbus.Frame {
	frames := make([]canbus.Frame, 0, 2*swerve.NumModules)
	for i, m := range c.modules {
		frames = append(frames,
			motorCommand{motorID: m.DriveMotorID, state: driveState, mode: modeSpeed}.toFrame(),
			motorCommand{
				motorID:      m.SteerMotorID,
				state:        stateEnabled,
				mode:         modeAbsolute,
				setpoint:     m.RawAngle(angles[i]).Degrees(),
				currentLimit: c.cfg.SteerCurrentLimit,
			}.toFrame(),
		)
	}
	return frames
}

func (c *CAN) setFrames(frames []canbus.Frame) error {
	c.frameMu.Lock()
	defer c.frameMu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.frames = frames
	return nil
}

func (c *CAN) velocityFrames(req VelocityRequest) []canbus.Frame {
	var rpms [swerve.NumModules]float64
	var angles [swerve.NumModules]s1.Angle
	for i, st := range req.Modules {
		rpms[i] = c.cfg.motorRPM(st.Speed)
		angles[i] = st.Angle
	}
	return c.driveFrames(rpms, modeSpeed, angles)
}

// SetRobotVelocity implements Drivetrain.
func (c *CAN) SetRobotVelocity(ctx context.Context, req VelocityRequest) error {
	return c.setFrames(c.velocityFrames(req))
}

// SetFieldVelocity implements Drivetrain. The modules were already resolved in the body frame.
func (c *CAN) SetFieldVelocity(ctx context.Context, req VelocityRequest, heading s1.Angle) error {
	return c.setFrames(c.velocityFrames(req))
}

// SetVoltage implements Drivetrain.
func (c *CAN) SetVoltage(ctx context.Context, req VoltageRequest) error {
	return c.setFrames(c.driveFrames(req.Volts, modeVoltage, req.Angles))
}

// Brake implements Drivetrain.
func (c *CAN) Brake(ctx context.Context, angles [swerve.NumModules]s1.Angle) error {
	return c.setFrames(c.brakeFrames(angles, stateBrake))
}

// Feedback implements Drivetrain. Modules without a status frame in the stale window are
// reported invalid.
func (c *CAN) Feedback(ctx context.Context) (Feedback, error) {
	now := c.clk.Now()
	c.feedbackMu.RLock()
	defer c.feedbackMu.RUnlock()

	fb := c.feedback
	for i := range fb.Modules {
		fb.Modules[i].Valid = !c.lastSeen[i].IsZero() && now.Sub(c.lastSeen[i]) <= c.cfg.StaleAfter
	}
	fb.YawValid = !c.yawSeen.IsZero() && now.Sub(c.yawSeen) <= c.cfg.StaleAfter
	return fb, nil
}

// Close disables the motors and stops the background threads.
func (c *CAN) Close(ctx context.Context) error {
	c.frameMu.Lock()
	if c.closed {
		c.frameMu.Unlock()
		return nil
	}
	c.closed = true
	frames := c.brakeFrames([swerve.NumModules]s1.Angle{}, stateDisabled)
	c.frameMu.Unlock()

	c.cancel()
	for _, frame := range frames {
		if _, err := c.sendSocket.Send(frame); err != nil {
			c.logger.Warnw("failed to disable motor on close", "id", frame.ID, "error", err)
		}
	}
	// unblocks Recv
	err := c.recvSocket.Close()
	c.activeBackgroundWorkers.Wait()
	return err
}
