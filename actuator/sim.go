package actuator

import (
	"context"
	"sync"
	"time"

	"github.com/golang/geo/s1"
	"github.com/pkg/errors"

	"swerve/swerve"
)

// nominalVoltage is the battery voltage at which a drive motor reaches top speed.
const nominalVoltage = 12.0

// Sim is a drivetrain that reaches every commanded module state instantly. Measured state is
// the commanded state; Advance integrates wheel travel and yaw.
type Sim struct {
	mu sync.Mutex

	modules    [swerve.NumModules]swerve.ModuleConfig
	kinematics *swerve.Kinematics

	states    [swerve.NumModules]swerve.ModuleState
	distances [swerve.NumModules]float64
	yaw       s1.Angle
	drops     [swerve.NumModules]int
	yawDrops  int

	last        RequestKind
	lastHeading s1.Angle
	closed      bool
}

var _ Drivetrain = (*Sim)(nil)

// NewSim returns a simulated drivetrain for the given modules.
func NewSim(modules [swerve.NumModules]swerve.ModuleConfig, kinematics *swerve.Kinematics) *Sim {
	return &Sim{modules: modules, kinematics: kinematics}
}

func (s *Sim) set(kind RequestKind, states [swerve.NumModules]swerve.ModuleState) error {
	if s.closed {
		return ErrClosed
	}
	s.states = states
	s.last = kind
	return nil
}

// SetRobotVelocity implements Drivetrain.
func (s *Sim) SetRobotVelocity(ctx context.Context, req VelocityRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set(RequestRobotVelocity, req.Modules)
}

// SetFieldVelocity implements Drivetrain.
func (s *Sim) SetFieldVelocity(ctx context.Context, req VelocityRequest, heading s1.Angle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeading = heading
	return s.set(RequestFieldVelocity, req.Modules)
}

// SetVoltage implements Drivetrain. Voltage maps linearly onto wheel speed.
func (s *Sim) SetVoltage(ctx context.Context, req VoltageRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var states [swerve.NumModules]swerve.ModuleState
	for i := range states {
		states[i] = swerve.ModuleState{
			Speed: req.Volts[i] / nominalVoltage * s.kinematics.MaxModuleSpeed(),
			Angle: req.Angles[i],
		}
	}
	return s.set(RequestVoltage, states)
}

// Brake implements Drivetrain.
func (s *Sim) Brake(ctx context.Context, angles [swerve.NumModules]s1.Angle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var states [swerve.NumModules]swerve.ModuleState
	for i := range states {
		states[i].Angle = angles[i]
	}
	return s.set(RequestBrake, states)
}

// Feedback implements Drivetrain. Encoder angles are reported raw, with each module's offset
// applied.
func (s *Sim) Feedback(ctx context.Context) (Feedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Feedback{}, ErrClosed
	}

	fb := Feedback{Yaw: s.yaw, YawValid: s.yawDrops == 0}
	if s.yawDrops > 0 {
		s.yawDrops--
	}
	for i, st := range s.states {
		if s.drops[i] > 0 {
			s.drops[i]--
			continue
		}
		fb.Modules[i] = ModuleFeedback{
			Valid:    true,
			Speed:    st.Speed,
			RawAngle: s.modules[i].RawAngle(st.Angle),
			Distance: s.distances[i],
		}
	}
	return fb, nil
}

// Advance moves the simulation forward by dt.
func (s *Sim) Advance(dt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seconds := dt.Seconds()
	for i, st := range s.states {
		s.distances[i] += st.Speed * seconds
	}
	omega := s.kinematics.Recompose(s.states).Omega
	s.yaw = (s.yaw + s1.Angle(omega*seconds)).Normalized()
}

// DropFeedback makes module report invalid feedback for the next cycles Feedback calls.
func (s *Sim) DropFeedback(module, cycles int) error {
	if module < 0 || module >= swerve.NumModules {
		return errors.Errorf("no module with index %d", module)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drops[module] = cycles
	return nil
}

// DropYaw makes the gyro report invalid for the next cycles Feedback calls.
func (s *Sim) DropYaw(cycles int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.yawDrops = cycles
}

// SetYaw overwrites the simulated gyro.
func (s *Sim) SetYaw(yaw s1.Angle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.yaw = yaw.Normalized()
}

// Commanded returns the module states currently applied.
func (s *Sim) Commanded() [swerve.NumModules]swerve.ModuleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states
}

// LastRequest returns the kind of the most recent request and, for field velocity requests,
// the heading it carried.
func (s *Sim) LastRequest() (RequestKind, s1.Angle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastHeading
}

// Close implements Drivetrain.
func (s *Sim) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = [swerve.NumModules]swerve.ModuleState{}
	s.closed = true
	return nil
}
