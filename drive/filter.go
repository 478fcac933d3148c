package drive

import (
	"math"
	"time"
)

// SlewRateLimiter bounds how quickly a value may change. The rates are per second; the
// negative rate applies when the value decreases.
type SlewRateLimiter struct {
	positiveRate float64
	negativeRate float64
	prev         float64
}

// NewSlewRateLimiter returns a limiter starting at initial.
func NewSlewRateLimiter(positiveRate, negativeRate, initial float64) *SlewRateLimiter {
	return &SlewRateLimiter{positiveRate: positiveRate, negativeRate: negativeRate, prev: initial}
}

// Calculate moves the output toward input by at most one period's worth of change.
func (l *SlewRateLimiter) Calculate(input float64, dt time.Duration) float64 {
	seconds := dt.Seconds()
	delta := clamp(input-l.prev, l.negativeRate*seconds, l.positiveRate*seconds)
	l.prev += delta
	return l.prev
}

// Reset sets the output to value without limiting.
func (l *SlewRateLimiter) Reset(value float64) {
	l.prev = value
}

// Value returns the last output.
func (l *SlewRateLimiter) Value() float64 {
	return l.prev
}

// PIDController is a textbook PID loop with a clamped output and integrator.
type PIDController struct {
	Kp, Ki, Kd float64

	maxOutput float64
	prevError float64
	integral  float64
	primed    bool
}

// NewPIDController creates a controller whose output is clamped to ±maxOutput.
func NewPIDController(kp, ki, kd, maxOutput float64) *PIDController {
	return &PIDController{Kp: kp, Ki: ki, Kd: kd, maxOutput: maxOutput}
}

// Update calculates the new control output for currentError.
func (pid *PIDController) Update(currentError float64, dt time.Duration) float64 {
	seconds := dt.Seconds()

	proportional := pid.Kp * currentError

	var integral float64
	if pid.Ki != 0 {
		pid.integral += currentError * seconds
		limit := pid.maxOutput / math.Abs(pid.Ki)
		pid.integral = clamp(pid.integral, -limit, limit)
		integral = pid.Ki * pid.integral
	}

	var derivative float64
	if pid.primed && seconds > 0 {
		derivative = pid.Kd * (currentError - pid.prevError) / seconds
	}
	pid.prevError = currentError
	pid.primed = true

	return clamp(proportional+integral+derivative, -pid.maxOutput, pid.maxOutput)
}

// Reset clears the integrator and derivative history.
func (pid *PIDController) Reset() {
	pid.prevError = 0
	pid.integral = 0
	pid.primed = false
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
