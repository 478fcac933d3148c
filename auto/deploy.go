package auto

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/s1"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"swerve/command"
	"swerve/field"
	"swerve/geometry"
	"swerve/swerve"
)

const (
	followTranslationKP = 3.0
	followRotationKP    = 4.0
	positionTolerance   = 0.05
	headingTolerance    = 2 * s1.Degree
	defaultPathSpeed    = 3.0
)

// DeployLibrary builds routines from the .auto and .path files in a deploy directory. It runs
// sequential groups of named commands, waits and paths. Paths are driven toward their final
// waypoint with a proportional follower.
type DeployLibrary struct {
	dir      string
	named    *command.Registry
	field    field.Field
	clk      clock.Clock
	logger   logging.Logger
	maxSpeed float64

	mu    sync.Mutex
	hooks *Hooks
}

// NewDeployLibrary reads routines from <deployDir>/pathplanner. maxSpeed caps path following
// in m/s.
func NewDeployLibrary(
	deployDir string,
	named *command.Registry,
	f field.Field,
	maxSpeed float64,
	clk clock.Clock,
	logger logging.Logger,
) *DeployLibrary {
	return &DeployLibrary{
		dir:      filepath.Join(deployDir, "pathplanner"),
		named:    named,
		field:    f,
		clk:      clk,
		logger:   logger,
		maxSpeed: maxSpeed,
	}
}

// Configure implements Library.
func (l *DeployLibrary) Configure(hooks Hooks) error {
	if hooks.Pose == nil || hooks.ResetPose == nil || hooks.DriveRobotCentric == nil || hooks.ShouldFlip == nil {
		return errors.New("path following needs pose, reset, drive and flip hooks")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = &hooks
	return nil
}

type autoFile struct {
	StartingPose *struct {
		Position xy      `json:"position"`
		Rotation float64 `json:"rotation"`
	} `json:"startingPose"`
	Command autoNode `json:"command"`
}

type xy struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type autoNode struct {
	Type string `json:"type"`
	Data struct {
		Commands []autoNode `json:"commands"`
		Name     string     `json:"name"`
		PathName string     `json:"pathName"`
		WaitTime float64    `json:"waitTime"`
	} `json:"data"`
}

type pathFile struct {
	Waypoints []struct {
		Anchor xy `json:"anchor"`
	} `json:"waypoints"`
	GoalEndState struct {
		Rotation float64 `json:"rotation"`
	} `json:"goalEndState"`
	GlobalConstraints struct {
		MaxVelocity float64 `json:"maxVelocity"`
	} `json:"globalConstraints"`
}

// BuildAuto implements Library.
func (l *DeployLibrary) BuildAuto(name string) (command.Command, error) {
	l.mu.Lock()
	hooks := l.hooks
	l.mu.Unlock()
	if hooks == nil {
		return nil, ErrNotConfigured
	}

	var auto autoFile
	if err := l.readJSON(filepath.Join("autos", name+autoExt), &auto); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(ErrAutoNotFound, "%q", name)
		}
		return nil, err
	}

	body, err := l.build(*hooks, auto.Command)
	if err != nil {
		return nil, errors.Wrapf(err, "routine %q", name)
	}
	l.logger.Debugw("built autonomous routine", "name", name, "exclusive", body.Exclusive())
	if auto.StartingPose == nil {
		return command.Sequence(name, body), nil
	}

	start := geometry.NewPose2d(auto.StartingPose.Position.X, auto.StartingPose.Position.Y,
		s1.Angle(auto.StartingPose.Rotation)*s1.Degree)
	reset := command.RunOnce("reset_pose", func(context.Context) error {
		hooks.ResetPose(l.flip(*hooks, start))
		return nil
	})
	return command.Sequence(name, reset, body), nil
}

func (l *DeployLibrary) build(hooks Hooks, node autoNode) (command.Command, error) {
	switch node.Type {
	case "sequential":
		children := make([]command.Command, 0, len(node.Data.Commands))
		for _, child := range node.Data.Commands {
			cmd, err := l.build(hooks, child)
			if err != nil {
				return nil, err
			}
			children = append(children, cmd)
		}
		return command.Sequence("sequential", children...), nil
	case "named":
		return l.named.Get(node.Data.Name)
	case "wait":
		d := time.Duration(node.Data.WaitTime * float64(time.Second))
		return command.WithTimeout(command.Run("wait", nil), l.clk, d), nil
	case "path":
		return l.followPath(hooks, node.Data.PathName)
	default:
		return nil, errors.Errorf("unsupported command type %q", node.Type)
	}
}

func (l *DeployLibrary) followPath(hooks Hooks, name string) (command.Command, error) {
	var path pathFile
	if err := l.readJSON(filepath.Join("paths", name+".path"), &path); err != nil {
		return nil, errors.Wrapf(err, "path %q", name)
	}
	if len(path.Waypoints) == 0 {
		return nil, errors.Errorf("path %q has no waypoints", name)
	}
	end := path.Waypoints[len(path.Waypoints)-1].Anchor
	goal := geometry.NewPose2d(end.X, end.Y, s1.Angle(path.GoalEndState.Rotation)*s1.Degree)

	speed := l.maxSpeed
	if limit := path.GlobalConstraints.MaxVelocity; limit > 0 && (speed <= 0 || limit < speed) {
		speed = limit
	}
	if speed <= 0 {
		speed = defaultPathSpeed
	}
	return &pathFollower{name: name, hooks: hooks, goal: goal, maxSpeed: speed, lib: l}, nil
}

func (l *DeployLibrary) flip(hooks Hooks, p geometry.Pose2d) geometry.Pose2d {
	if hooks.ShouldFlip() {
		return l.field.FlipPose(p)
	}
	return p
}

func (l *DeployLibrary) readJSON(rel string, v interface{}) error {
	data, err := os.ReadFile(filepath.Join(l.dir, rel))
	if err != nil {
		return err
	}
	return errors.Wrapf(json.Unmarshal(data, v), "decoding %s", rel)
}

// pathFollower drives toward goal until within tolerance. The goal is mirrored on the first
// cycle if the alliance requires it.
type pathFollower struct {
	name     string
	hooks    Hooks
	goal     geometry.Pose2d
	maxSpeed float64
	lib      *DeployLibrary

	target   geometry.Pose2d
	resolved bool
	done     bool
}

func (p *pathFollower) Name() string    { return "follow_" + p.name }
func (p *pathFollower) Exclusive() bool { return true }
func (p *pathFollower) IsFinished() bool {
	return p.done
}

func (p *pathFollower) Execute(ctx context.Context) error {
	if !p.resolved {
		p.target = p.lib.flip(p.hooks, p.goal)
		p.resolved = true
	}
	pose := p.hooks.Pose()
	offset := p.target.Translation.Sub(pose.Translation)
	headingErr := geometry.WrapAngle(p.target.Heading - pose.Heading)

	if offset.Norm() < positionTolerance && math.Abs(float64(headingErr)) < float64(headingTolerance) {
		p.done = true
		p.hooks.DriveRobotCentric(ctx, swerve.ChassisSpeeds{})
		return nil
	}

	velocity := offset.Mul(followTranslationKP)
	if n := velocity.Norm(); n > p.maxSpeed {
		velocity = velocity.Mul(p.maxSpeed / n)
	}
	body := geometry.Rotate(velocity, -pose.Heading)
	p.hooks.DriveRobotCentric(ctx, swerve.ChassisSpeeds{
		Vx:    body.X,
		Vy:    body.Y,
		Omega: followRotationKP * float64(headingErr),
	})
	return nil
}

func (p *pathFollower) End(ctx context.Context, interrupted bool) {
	p.hooks.DriveRobotCentric(ctx, swerve.ChassisSpeeds{})
}
