// Package config is the persisted drivetrain configuration. It is read from YAML by the host
// binary and from the robot config attributes by the viam module.
package config

import (
	"os"
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/s1"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/resource"
	"gopkg.in/yaml.v3"

	"swerve/actuator"
	"swerve/drive"
	"swerve/field"
	"swerve/swerve"
	"swerve/sysid"
	"swerve/telemetry"
)

// Chassis dimensions of the competition robot: 23.736 in square on 4 in wheels, MK4i L2
// modules.
const (
	defaultTrackWidth     = 0.6029
	defaultWheelBase      = 0.6029
	defaultWheelRadius    = 0.0508
	defaultDriveGearRatio = 6.75
	defaultDeployDir      = "deploy"
)

// Module is one swerve module entry.
type Module struct {
	Name           string  `json:"name,omitempty" yaml:"name,omitempty"`
	DriveMotorID   int     `json:"drive_motor_id" yaml:"drive_motor_id"`
	SteerMotorID   int     `json:"steer_motor_id" yaml:"steer_motor_id"`
	EncoderID      int     `json:"encoder_id" yaml:"encoder_id"`
	AngleOffsetDeg float64 `json:"angle_offset_deg" yaml:"angle_offset_deg"`
	X              float64 `json:"x_m" yaml:"x_m"`
	Y              float64 `json:"y_m" yaml:"y_m"`
}

// CAN configures the SocketCAN transport.
type CAN struct {
	Channel           string `json:"channel,omitempty" yaml:"channel,omitempty"`
	DriveCurrentLimit uint8  `json:"drive_current_limit_a,omitempty" yaml:"drive_current_limit_a,omitempty"`
	SteerCurrentLimit uint8  `json:"steer_current_limit_a,omitempty" yaml:"steer_current_limit_a,omitempty"`
	StaleAfterMs      int    `json:"stale_after_ms,omitempty" yaml:"stale_after_ms,omitempty"`
}

// MQTT configures telemetry. Telemetry is off without a broker.
type MQTT struct {
	Broker   string `json:"broker,omitempty" yaml:"broker,omitempty"`
	ClientID string `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	Prefix   string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	RateMs   int    `json:"rate_ms,omitempty" yaml:"rate_ms,omitempty"`
}

// SysID configures characterization sweeps.
type SysID struct {
	RampRate    float64 `json:"ramp_rate_v_per_s,omitempty" yaml:"ramp_rate_v_per_s,omitempty"`
	StepVoltage float64 `json:"step_voltage_v,omitempty" yaml:"step_voltage_v,omitempty"`
	TimeoutSec  float64 `json:"timeout_s,omitempty" yaml:"timeout_s,omitempty"`
	LogDir      string  `json:"log_dir,omitempty" yaml:"log_dir,omitempty"`
}

// Config is the full drivetrain configuration.
type Config struct {
	// Modules in front left, front right, back left, back right order. When empty they are
	// derived from TrackWidth and WheelBase.
	Modules    []Module `json:"modules,omitempty" yaml:"modules,omitempty"`
	TrackWidth float64  `json:"track_width_m,omitempty" yaml:"track_width_m,omitempty"`
	WheelBase  float64  `json:"wheel_base_m,omitempty" yaml:"wheel_base_m,omitempty"`

	// WheelRadius and DriveGearRatio convert wheel speed to drive motor speed.
	WheelRadius    float64 `json:"wheel_radius_m,omitempty" yaml:"wheel_radius_m,omitempty"`
	DriveGearRatio float64 `json:"drive_gear_ratio,omitempty" yaml:"drive_gear_ratio,omitempty"`

	MaxModuleSpeed     float64 `json:"max_module_speed_mps,omitempty" yaml:"max_module_speed_mps,omitempty"`
	MaxAngularVelocity float64 `json:"max_angular_velocity_rps,omitempty" yaml:"max_angular_velocity_rps,omitempty"`
	ForwardRate        float64 `json:"forward_rate_mps2,omitempty" yaml:"forward_rate_mps2,omitempty"`
	ReverseRate        float64 `json:"reverse_rate_mps2,omitempty" yaml:"reverse_rate_mps2,omitempty"`
	PeriodMs           int     `json:"period_ms,omitempty" yaml:"period_ms,omitempty"`
	HeadingKP          float64 `json:"heading_kp,omitempty" yaml:"heading_kp,omitempty"`
	HeadingKI          float64 `json:"heading_ki,omitempty" yaml:"heading_ki,omitempty"`
	HeadingKD          float64 `json:"heading_kd,omitempty" yaml:"heading_kd,omitempty"`
	FaultThreshold     int     `json:"fault_threshold,omitempty" yaml:"fault_threshold,omitempty"`

	FieldLength float64 `json:"field_length_m,omitempty" yaml:"field_length_m,omitempty"`
	FieldWidth  float64 `json:"field_width_m,omitempty" yaml:"field_width_m,omitempty"`
	Alliance    string  `json:"alliance,omitempty" yaml:"alliance,omitempty"`

	// Simulate drives an in-process drivetrain instead of the CAN bus.
	Simulate  bool   `json:"simulate,omitempty" yaml:"simulate,omitempty"`
	CAN       CAN    `json:"can,omitempty" yaml:"can,omitempty"`
	MQTT      MQTT   `json:"mqtt,omitempty" yaml:"mqtt,omitempty"`
	SysID     SysID  `json:"sysid,omitempty" yaml:"sysid,omitempty"`
	DeployDir string `json:"deploy_dir,omitempty" yaml:"deploy_dir,omitempty"`
}

// Load reads a YAML config from path and fills in defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config")
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero values with the competition robot's settings.
func (cfg *Config) ApplyDefaults() {
	defaults := drive.DefaultConfig()
	if cfg.TrackWidth == 0 {
		cfg.TrackWidth = defaultTrackWidth
	}
	if cfg.WheelBase == 0 {
		cfg.WheelBase = defaultWheelBase
	}
	if cfg.WheelRadius == 0 {
		cfg.WheelRadius = defaultWheelRadius
	}
	if cfg.DriveGearRatio == 0 {
		cfg.DriveGearRatio = defaultDriveGearRatio
	}
	if len(cfg.Modules) == 0 {
		cfg.Modules = deriveModules(cfg.TrackWidth, cfg.WheelBase)
	}
	for i := range cfg.Modules {
		if cfg.Modules[i].Name == "" {
			cfg.Modules[i].Name = swerve.ModuleName(i)
		}
	}

	if cfg.MaxModuleSpeed == 0 {
		cfg.MaxModuleSpeed = defaults.MaxModuleSpeed
	}
	if cfg.MaxAngularVelocity == 0 {
		cfg.MaxAngularVelocity = defaults.MaxAngularVelocity
	}
	if cfg.ForwardRate == 0 {
		cfg.ForwardRate = defaults.ForwardRate
	}
	if cfg.ReverseRate == 0 {
		cfg.ReverseRate = defaults.ReverseRate
	}
	if cfg.PeriodMs == 0 {
		cfg.PeriodMs = int(defaults.Period / time.Millisecond)
	}
	if cfg.HeadingKP == 0 && cfg.HeadingKI == 0 && cfg.HeadingKD == 0 {
		cfg.HeadingKP = defaults.HeadingKP
	}
	if cfg.FaultThreshold == 0 {
		cfg.FaultThreshold = defaults.FaultThreshold
	}

	if cfg.FieldLength == 0 {
		cfg.FieldLength = field.DefaultLength
	}
	if cfg.FieldWidth == 0 {
		cfg.FieldWidth = field.DefaultWidth
	}
	if cfg.Alliance == "" {
		cfg.Alliance = field.Blue.String()
	}

	if cfg.MQTT.RateMs == 0 {
		cfg.MQTT.RateMs = 100
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "swerve"
	}

	sysDefaults := sysid.DefaultConfig()
	if cfg.SysID.RampRate == 0 {
		cfg.SysID.RampRate = sysDefaults.RampRate
	}
	if cfg.SysID.StepVoltage == 0 {
		cfg.SysID.StepVoltage = sysDefaults.StepVoltage
	}
	if cfg.SysID.TimeoutSec == 0 {
		cfg.SysID.TimeoutSec = sysDefaults.Timeout.Seconds()
	}
	if cfg.SysID.LogDir == "" {
		cfg.SysID.LogDir = sysDefaults.LogDir
	}
	if cfg.DeployDir == "" {
		cfg.DeployDir = defaultDeployDir
	}
}

// deriveModules lays out a rectangular chassis with the competition robot's motor ids:
// drive 0/2/4/6, steering 1/3/5/7, encoders 0 through 3.
func deriveModules(trackWidth, wheelBase float64) []Module {
	x, y := wheelBase/2, trackWidth/2
	corners := [swerve.NumModules]r2.Point{
		swerve.FrontLeft:  {X: x, Y: y},
		swerve.FrontRight: {X: x, Y: -y},
		swerve.BackLeft:   {X: -x, Y: y},
		swerve.BackRight:  {X: -x, Y: -y},
	}
	modules := make([]Module, swerve.NumModules)
	for i, p := range corners {
		modules[i] = Module{
			Name:         swerve.ModuleName(i),
			DriveMotorID: 2 * i,
			SteerMotorID: 2*i + 1,
			EncoderID:    i,
			X:            p.X,
			Y:            p.Y,
		}
	}
	return modules
}

// Validate checks the config as it appears at path in the robot config. It has no
// dependencies on other resources.
func (cfg *Config) Validate(path string) ([]string, error) {
	if len(cfg.Modules) != 0 && len(cfg.Modules) != swerve.NumModules {
		return nil, resource.NewConfigValidationError(path,
			errors.Errorf("expected %d modules, got %d", swerve.NumModules, len(cfg.Modules)))
	}

	resolved := *cfg
	resolved.Modules = append([]Module(nil), cfg.Modules...)
	resolved.ApplyDefaults()

	var errs error
	modules, err := resolved.SwerveModules()
	if err == nil {
		err = swerve.ValidateModules(modules)
	}
	errs = multierr.Append(errs, err)
	errs = multierr.Append(errs, resolved.DriveConfig().Validate())
	errs = multierr.Append(errs, resolved.SysIDConfig().Validate())
	if _, err := field.ParseAlliance(resolved.Alliance); err != nil {
		errs = multierr.Append(errs, err)
	}
	if !(resolved.WheelRadius > 0) {
		errs = multierr.Append(errs, errors.Errorf("wheel radius must be positive, got %v", resolved.WheelRadius))
	}
	if !(resolved.DriveGearRatio > 0) {
		errs = multierr.Append(errs, errors.Errorf("drive gear ratio must be positive, got %v", resolved.DriveGearRatio))
	}
	if !(resolved.FieldLength > 0) || !(resolved.FieldWidth > 0) {
		errs = multierr.Append(errs, errors.New("field dimensions must be positive"))
	}
	if resolved.CAN.StaleAfterMs < 0 {
		errs = multierr.Append(errs, errors.Errorf("can stale window must not be negative, got %d ms", resolved.CAN.StaleAfterMs))
	}
	if resolved.MQTT.Broker == "" && resolved.MQTT.Prefix != "" {
		return nil, resource.NewConfigValidationFieldRequiredError(path, "mqtt.broker")
	}
	if errs != nil {
		return nil, resource.NewConfigValidationError(path, errs)
	}
	return nil, nil
}

// SwerveModules returns the module table in index order.
func (cfg *Config) SwerveModules() ([swerve.NumModules]swerve.ModuleConfig, error) {
	var modules [swerve.NumModules]swerve.ModuleConfig
	if len(cfg.Modules) != swerve.NumModules {
		return modules, errors.Errorf("expected %d modules, got %d", swerve.NumModules, len(cfg.Modules))
	}
	for i, m := range cfg.Modules {
		modules[i] = swerve.ModuleConfig{
			Name:         m.Name,
			DriveMotorID: m.DriveMotorID,
			SteerMotorID: m.SteerMotorID,
			EncoderID:    m.EncoderID,
			AngleOffset:  s1.Angle(m.AngleOffsetDeg) * s1.Degree,
			Position:     r2.Point{X: m.X, Y: m.Y},
		}
	}
	return modules, nil
}

// DriveConfig returns the controller tuning.
func (cfg *Config) DriveConfig() drive.Config {
	return drive.Config{
		Period:             time.Duration(cfg.PeriodMs) * time.Millisecond,
		MaxModuleSpeed:     cfg.MaxModuleSpeed,
		MaxAngularVelocity: cfg.MaxAngularVelocity,
		ForwardRate:        cfg.ForwardRate,
		ReverseRate:        cfg.ReverseRate,
		HeadingKP:          cfg.HeadingKP,
		HeadingKI:          cfg.HeadingKI,
		HeadingKD:          cfg.HeadingKD,
		FaultThreshold:     cfg.FaultThreshold,
	}
}

// Field returns the playing field.
func (cfg *Config) Field() field.Field {
	return field.Field{Length: cfg.FieldLength, Width: cfg.FieldWidth}
}

// AllianceSource returns the configured alliance.
func (cfg *Config) AllianceSource() (field.AllianceSource, error) {
	a, err := field.ParseAlliance(cfg.Alliance)
	if err != nil {
		return nil, err
	}
	return field.StaticAlliance(a), nil
}

// SysIDConfig returns the characterization settings.
func (cfg *Config) SysIDConfig() sysid.Config {
	return sysid.Config{
		RampRate:    cfg.SysID.RampRate,
		StepVoltage: cfg.SysID.StepVoltage,
		Timeout:     time.Duration(cfg.SysID.TimeoutSec * float64(time.Second)),
		LogDir:      cfg.SysID.LogDir,
	}
}

// CANConfig returns the transport settings. Unset fields keep the transport's defaults.
func (cfg *Config) CANConfig() actuator.CANConfig {
	return actuator.CANConfig{
		Channel:           cfg.CAN.Channel,
		DriveCurrentLimit: cfg.CAN.DriveCurrentLimit,
		SteerCurrentLimit: cfg.CAN.SteerCurrentLimit,
		StaleAfter:        time.Duration(cfg.CAN.StaleAfterMs) * time.Millisecond,
		WheelRadius:       cfg.WheelRadius,
		DriveGearRatio:    cfg.DriveGearRatio,
	}
}

// TelemetryConfig returns the MQTT settings and whether telemetry is enabled.
func (cfg *Config) TelemetryConfig() (telemetry.Config, bool) {
	return telemetry.Config{
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID,
		Prefix:   cfg.MQTT.Prefix,
		Rate:     time.Duration(cfg.MQTT.RateMs) * time.Millisecond,
	}, cfg.MQTT.Broker != ""
}
