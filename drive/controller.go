// Package drive owns the swerve drivetrain at runtime: it arbitrates between driving modes,
// shapes velocity commands, dispatches module requests and keeps the odometry estimate.
//
// A Controller is driven from a single goroutine (the scheduler loop). Other goroutines read
// its state through Snapshot and the accessors built on it.
package drive

import (
	"context"
	"math"
	"sync"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/s1"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"swerve/actuator"
	"swerve/geometry"
	"swerve/swerve"
)

// Speed limit steps. The limit fraction is steps/maxSpeedSteps, so it moves in 0.2 increments
// within [0.2, 1].
const (
	minSpeedSteps = 1
	maxSpeedSteps = 5
)

// ErrNotCharacterizing is returned by StepCharacterization outside the characterization modes.
var ErrNotCharacterizing = errors.New("controller is not in a characterization mode")

// Snapshot is a consistent copy of the controller state.
type Snapshot struct {
	Pose                  geometry.Pose2d
	Speeds                swerve.ChassisSpeeds
	Modules               [swerve.NumModules]swerve.ModuleState
	Distances             [swerve.NumModules]float64
	Mode                  Mode
	SpeedLimit            float64
	Faults                [swerve.NumModules]bool
	HeadingHold           bool
	HeadingTarget         HeadingTarget
	CharacterizationAxis  Axis
	CharacterizationVolts float64
	DispatchErrors        uint64
}

// Controller is the drivetrain's runtime state machine.
type Controller struct {
	cfg        Config
	modules    [swerve.NumModules]swerve.ModuleConfig
	kinematics *swerve.Kinematics
	drivetrain actuator.Drivetrain
	logger     logging.Logger

	mode           Mode
	speedSteps     int
	forwardLimiter *SlewRateLimiter
	strafeLimiter  *SlewRateLimiter
	heading        *PIDController

	headingTarget        HeadingTarget
	headingHold          bool
	characterizationAxis Axis
	characterizeVolts    float64

	pose       geometry.Pose2d
	gyroOffset s1.Angle
	lastYaw    s1.Angle
	haveYaw    bool
	// rebaseGyro is set by a pose reset made before the gyro first reported.
	rebaseGyro bool
	measured   [swerve.NumModules]swerve.ModuleState
	distances  [swerve.NumModules]float64
	// seen marks modules whose odometer baseline has been taken.
	seen   [swerve.NumModules]bool
	speeds swerve.ChassisSpeeds

	misses          [swerve.NumModules]int
	faults          [swerve.NumModules]bool
	dispatchErrors  uint64
	dispatchFailing bool

	snapMu sync.RWMutex
	snap   Snapshot
}

// NewController validates its inputs and returns a controller in field centric mode at full
// speed, with the pose at the field origin.
func NewController(
	cfg Config,
	modules [swerve.NumModules]swerve.ModuleConfig,
	kinematics *swerve.Kinematics,
	drivetrain actuator.Drivetrain,
	logger logging.Logger,
) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid drive config")
	}
	if err := swerve.ValidateModules(modules); err != nil {
		return nil, err
	}
	if kinematics == nil || drivetrain == nil {
		return nil, errors.New("kinematics and drivetrain are required")
	}
	if kinematics.Positions() != swerve.Positions(modules) {
		return nil, errors.New("kinematics were built for different module positions")
	}

	// The limiters are signed, not magnitude based: ReverseRate only applies while the
	// command is falling, so slowing down from reverse travel is held to ForwardRate.
	c := &Controller{
		cfg:            cfg,
		modules:        modules,
		kinematics:     kinematics,
		drivetrain:     drivetrain,
		logger:         logger,
		mode:           ModeFieldCentric,
		speedSteps:     maxSpeedSteps,
		forwardLimiter: NewSlewRateLimiter(cfg.ForwardRate, cfg.ReverseRate, 0),
		strafeLimiter:  NewSlewRateLimiter(cfg.ForwardRate, cfg.ReverseRate, 0),
		heading:        NewPIDController(cfg.HeadingKP, cfg.HeadingKI, cfg.HeadingKD, cfg.MaxAngularVelocity),
		headingTarget:  TargetHeading(0),
	}
	c.publish()
	return c, nil
}

// Kinematics returns the kinematics the controller drives with.
func (c *Controller) Kinematics() *swerve.Kinematics {
	return c.kinematics
}

// Modules returns the module table.
func (c *Controller) Modules() [swerve.NumModules]swerve.ModuleConfig {
	return c.modules
}

func (c *Controller) transition(ev event) {
	next := nextMode(c.mode, ev)
	if next == c.mode {
		return
	}
	c.logger.Debugw("drive mode change", "from", c.mode, "to", next)
	if next == ModeTargetAngle {
		c.heading.Reset()
	}
	c.mode = next
}

func (c *Controller) speedFraction() float64 {
	return float64(c.speedSteps) / maxSpeedSteps
}

// resolve turns a body frame velocity into normalized, optimized module states. A module
// asked for zero speed keeps its measured angle.
func (c *Controller) resolve(body swerve.ChassisSpeeds) [swerve.NumModules]swerve.ModuleState {
	states := c.kinematics.NormalizeToBound(c.kinematics.Decompose(body), c.cfg.MaxModuleSpeed)
	for i := range states {
		if states[i].Speed == 0 {
			states[i].Angle = c.measured[i].Angle
			continue
		}
		states[i] = swerve.Optimize(states[i], c.measured[i].Angle)
	}
	return states
}

func (c *Controller) dispatched(kind actuator.RequestKind, err error) {
	if err == nil {
		if c.dispatchFailing {
			c.logger.Infow("drivetrain accepting requests again", "request", kind)
			c.dispatchFailing = false
		}
		return
	}
	c.dispatchErrors++
	if !c.dispatchFailing {
		c.logger.Warnw("drivetrain rejected request", "request", kind, "error", err)
		c.dispatchFailing = true
	}
}

func (c *Controller) driveField(ctx context.Context, vx, vy, omega float64) {
	heading := c.pose.Heading
	body := geometry.Rotate(r2.Point{X: vx, Y: vy}, -heading)
	speeds := swerve.ChassisSpeeds{
		Vx:    c.forwardLimiter.Calculate(body.X, c.cfg.Period),
		Vy:    c.strafeLimiter.Calculate(body.Y, c.cfg.Period),
		Omega: omega,
	}
	req := actuator.VelocityRequest{Speeds: speeds, Modules: c.resolve(speeds)}
	c.dispatched(actuator.RequestFieldVelocity, c.drivetrain.SetFieldVelocity(ctx, req, heading))
}

// DriveFieldCentric drives with a field frame velocity. Translation is rate limited after
// it is rotated into the body frame; rotation is not.
func (c *Controller) DriveFieldCentric(ctx context.Context, speeds swerve.ChassisSpeeds) {
	c.transition(eventDriveField)
	limit := c.speedFraction()
	c.driveField(ctx, speeds.Vx*limit, speeds.Vy*limit, speeds.Omega*limit)
	c.publish()
}

// DriveRobotCentric drives with a body frame velocity.
func (c *Controller) DriveRobotCentric(ctx context.Context, speeds swerve.ChassisSpeeds) {
	c.transition(eventDriveRobot)
	limit := c.speedFraction()
	body := swerve.ChassisSpeeds{
		Vx:    c.forwardLimiter.Calculate(speeds.Vx*limit, c.cfg.Period),
		Vy:    c.strafeLimiter.Calculate(speeds.Vy*limit, c.cfg.Period),
		Omega: speeds.Omega * limit,
	}
	req := actuator.VelocityRequest{Speeds: body, Modules: c.resolve(body)}
	c.dispatched(actuator.RequestRobotVelocity, c.drivetrain.SetRobotVelocity(ctx, req))
	c.publish()
}

// brakeAngles points every wheel along the line through the chassis center.
func (c *Controller) brakeAngles() [swerve.NumModules]s1.Angle {
	var angles [swerve.NumModules]s1.Angle
	for i, m := range c.modules {
		angles[i] = s1.Angle(math.Atan2(m.Position.Y, m.Position.X))
	}
	return angles
}

// Brake stops the drive motors and sets the wheels so the chassis resists being pushed.
func (c *Controller) Brake(ctx context.Context) {
	c.transition(eventBrake)
	c.forwardLimiter.Reset(0)
	c.strafeLimiter.Reset(0)
	c.dispatched(actuator.RequestBrake, c.drivetrain.Brake(ctx, c.brakeAngles()))
	c.publish()
}

// IncreaseSpeedLimit raises the speed limit by one step, up to full speed.
func (c *Controller) IncreaseSpeedLimit() {
	if c.speedSteps < maxSpeedSteps {
		c.speedSteps++
	}
	c.publish()
}

// DecreaseSpeedLimit lowers the speed limit by one step, down to 20%.
func (c *Controller) DecreaseSpeedLimit() {
	if c.speedSteps > minSpeedSteps {
		c.speedSteps--
	}
	c.publish()
}

// TargetAngleDrive holds the heading given by target while translating with the field frame
// forward and strafe velocities. The heading loop output is not speed limited.
func (c *Controller) TargetAngleDrive(ctx context.Context, target HeadingTarget, forward, strafe float64) {
	c.transition(eventTargetAngle)
	errAngle := HeadingError(target.Resolve(c.pose), c.pose.Heading)
	omega := c.heading.Update(errAngle.Radians(), c.cfg.Period)
	limit := c.speedFraction()
	c.driveField(ctx, forward*limit, strafe*limit, omega)
	c.publish()
}

// SetHeadingTarget sets the target used while heading hold is active.
func (c *Controller) SetHeadingTarget(target HeadingTarget) {
	c.headingTarget = target
	c.heading.Reset()
	c.publish()
}

// ToggleHeadingHold switches DriveTeleop between free rotation and holding the heading target.
func (c *Controller) ToggleHeadingHold() {
	c.headingHold = !c.headingHold
	c.publish()
}

// DriveTeleop drives field centric, or holds the heading target when heading hold is active.
// Omega is ignored while holding.
func (c *Controller) DriveTeleop(ctx context.Context, speeds swerve.ChassisSpeeds) {
	if c.headingHold {
		c.TargetAngleDrive(ctx, c.headingTarget, speeds.Vx, speeds.Vy)
		return
	}
	c.DriveFieldCentric(ctx, speeds)
}

// ResetPose overwrites the odometry estimate. The gyro is re-based so that later yaw
// readings continue from pose's heading. Before the gyro has reported, the re-base waits for
// its first reading.
func (c *Controller) ResetPose(pose geometry.Pose2d) {
	pose.Heading = pose.Heading.Normalized()
	c.pose = pose
	if c.haveYaw {
		c.gyroOffset = geometry.WrapAngle(c.lastYaw - pose.Heading)
	} else {
		c.rebaseGyro = true
	}
	c.logger.Infow("pose reset", "x", pose.X(), "y", pose.Y(), "heading_deg", pose.Heading.Degrees())
	c.publish()
}

// ResetGyro makes the current direction the new zero heading.
func (c *Controller) ResetGyro() {
	c.ResetPose(geometry.Pose2d{Translation: c.pose.Translation})
}

// BeginCharacterization enters the characterization mode for axis. Drive motors are idle
// until the first StepCharacterization.
func (c *Controller) BeginCharacterization(axis Axis) {
	c.characterizationAxis = axis
	if axis == AxisRotation {
		c.transition(eventCharacterizeRotation)
	} else {
		c.transition(eventCharacterizeTranslation)
	}
	c.forwardLimiter.Reset(0)
	c.strafeLimiter.Reset(0)
	c.characterizeVolts = 0
	c.publish()
}

// ToggleCharacterizationAxis switches the axis the next sweep will excite, and the running
// sweep if there is one.
func (c *Controller) ToggleCharacterizationAxis() {
	if c.characterizationAxis == AxisTranslation {
		c.characterizationAxis = AxisRotation
	} else {
		c.characterizationAxis = AxisTranslation
	}
	c.transition(eventToggleAxis)
	c.publish()
}

// CharacterizationAxis returns the axis the next sweep will excite.
func (c *Controller) CharacterizationAxis() Axis {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap.CharacterizationAxis
}

// StepCharacterization applies volts open loop to every drive motor. Translation sweeps
// point every wheel forward; rotation sweeps point every wheel tangent to its circle.
func (c *Controller) StepCharacterization(ctx context.Context, volts float64) error {
	if !c.mode.Characterizing() {
		return ErrNotCharacterizing
	}
	var req actuator.VoltageRequest
	for i, m := range c.modules {
		req.Volts[i] = volts
		if c.mode == ModeCharacterizeRotation {
			req.Angles[i] = s1.Angle(math.Atan2(m.Position.X, -m.Position.Y))
		}
	}
	c.characterizeVolts = volts
	c.dispatched(actuator.RequestVoltage, c.drivetrain.SetVoltage(ctx, req))
	c.publish()
	return nil
}

// Periodic reads drivetrain feedback and advances odometry. It runs once per cycle before any
// command.
func (c *Controller) Periodic(ctx context.Context) error {
	fb, err := c.drivetrain.Feedback(ctx)
	if err != nil {
		// every module counts as silent this cycle
		c.logger.Debugw("drivetrain feedback failed", "error", err)
		fb = actuator.Feedback{}
	}

	var deltas [swerve.NumModules]swerve.ModuleDelta
	for i, m := range fb.Modules {
		if !m.Valid {
			c.missed(i)
			if !c.seen[i] {
				continue
			}
			// hold the last known state for this cycle
			estimate := c.measured[i].Speed * c.cfg.Period.Seconds()
			c.distances[i] += estimate
			deltas[i] = swerve.ModuleDelta{Distance: estimate, Angle: c.measured[i].Angle}
			continue
		}
		c.recovered(i)
		c.measured[i] = swerve.ModuleState{Speed: m.Speed, Angle: c.modules[i].CorrectAngle(m.RawAngle)}
		if c.seen[i] {
			deltas[i] = swerve.ModuleDelta{Distance: m.Distance - c.distances[i], Angle: c.measured[i].Angle}
		} else {
			// first sample is the baseline, whatever the odometer already reads
			deltas[i] = swerve.ModuleDelta{Angle: c.measured[i].Angle}
			c.seen[i] = true
		}
		c.distances[i] = m.Distance
	}

	twist := c.kinematics.RecomposeTwist(deltas)
	if fb.YawValid {
		c.lastYaw = fb.Yaw
		c.haveYaw = true
		if c.rebaseGyro {
			c.gyroOffset = geometry.WrapAngle(fb.Yaw - c.pose.Heading)
			c.rebaseGyro = false
		}
		heading := geometry.WrapAngle(fb.Yaw - c.gyroOffset)
		twist.Dtheta = geometry.WrapAngle(heading - c.pose.Heading)
		c.pose = c.pose.Exp(twist)
		c.pose.Heading = heading
	} else {
		c.pose = c.pose.Exp(twist)
	}
	c.speeds = c.kinematics.Recompose(c.measured)

	c.publish()
	return nil
}

func (c *Controller) missed(i int) {
	c.misses[i]++
	if c.misses[i] >= c.cfg.FaultThreshold && !c.faults[i] {
		c.faults[i] = true
		c.logger.Warnw("swerve module stopped reporting", "module", c.modules[i].Name, "cycles", c.misses[i])
	}
}

func (c *Controller) recovered(i int) {
	c.misses[i] = 0
	if c.faults[i] {
		c.faults[i] = false
		c.logger.Infow("swerve module reporting again", "module", c.modules[i].Name)
	}
}

func (c *Controller) publish() {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	c.snap = Snapshot{
		Pose:                  c.pose,
		Speeds:                c.speeds,
		Modules:               c.measured,
		Distances:             c.distances,
		Mode:                  c.mode,
		SpeedLimit:            c.speedFraction(),
		Faults:                c.faults,
		HeadingHold:           c.headingHold,
		HeadingTarget:         c.headingTarget,
		CharacterizationAxis:  c.characterizationAxis,
		CharacterizationVolts: c.characterizeVolts,
		DispatchErrors:        c.dispatchErrors,
	}
}

// Snapshot returns a copy of the state as of the end of the last operation. Safe from any
// goroutine.
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

// Pose returns the odometry estimate.
func (c *Controller) Pose() geometry.Pose2d {
	return c.Snapshot().Pose
}

// ChassisSpeeds returns the measured body frame velocity.
func (c *Controller) ChassisSpeeds() swerve.ChassisSpeeds {
	return c.Snapshot().Speeds
}

// Mode returns the current mode.
func (c *Controller) Mode() Mode {
	return c.Snapshot().Mode
}

// SpeedLimit returns the speed limit fraction in [0.2, 1].
func (c *Controller) SpeedLimit() float64 {
	return c.Snapshot().SpeedLimit
}

// Faults returns which modules have stopped reporting.
func (c *Controller) Faults() [swerve.NumModules]bool {
	return c.Snapshot().Faults
}

// HeadingHoldActive reports whether DriveTeleop holds the heading target.
func (c *Controller) HeadingHoldActive() bool {
	return c.Snapshot().HeadingHold
}
