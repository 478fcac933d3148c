// Package telemetry publishes drivetrain state over MQTT and listens for the path follower's
// target pose.
package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/geo/s1"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	viamutils "go.viam.com/utils"

	"swerve/drive"
	"swerve/geometry"
	"swerve/swerve"
)

const (
	stateTopic      = "drive/state"
	targetPoseTopic = "pathplanner/targetPose"
	tokenTimeout    = 2 * time.Second
)

// Config locates the broker and sets the publish rate.
type Config struct {
	Broker   string
	ClientID string
	// Prefix is prepended to every topic, e.g. "robot" gives "robot/drive/state".
	Prefix string
	Rate   time.Duration
}

func (c Config) topic(name string) string {
	if c.Prefix == "" {
		return name
	}
	return c.Prefix + "/" + name
}

// Dial connects to the broker, retrying in the background if it drops.
func Dial(cfg Config, logger logging.Logger) (mqtt.Client, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker must be set")
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Infow("connected to mqtt broker", "broker", cfg.Broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warnw("mqtt connection lost", "broker", cfg.Broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	if err := wait(client.Connect()); err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", cfg.Broker)
	}
	return client, nil
}

func wait(token mqtt.Token) error {
	if !token.WaitTimeout(tokenTimeout) {
		return errors.New("timed out waiting for mqtt broker")
	}
	return token.Error()
}

// Source provides the state to publish.
type Source interface {
	Snapshot() drive.Snapshot
}

type moduleMessage struct {
	Speed    float64 `json:"speed"`
	AngleDeg float64 `json:"angle_deg"`
	Distance float64 `json:"distance"`
	Fault    bool    `json:"fault"`
}

type stateMessage struct {
	X               float64                          `json:"x"`
	Y               float64                          `json:"y"`
	HeadingDeg      float64                          `json:"heading_deg"`
	Vx              float64                          `json:"vx"`
	Vy              float64                          `json:"vy"`
	Omega           float64                          `json:"omega"`
	Modules         [swerve.NumModules]moduleMessage `json:"modules"`
	Mode            drive.Mode                       `json:"mode"`
	SpeedLimit      float64                          `json:"speed_limit"`
	HeadingHold     bool                             `json:"heading_hold"`
	HeadingTarget   drive.HeadingTarget              `json:"heading_target"`
	SysIDAxis       drive.Axis                       `json:"sysid_axis"`
	SysIDVolts      float64                          `json:"sysid_volts"`
	DispatchErrors  uint64                           `json:"dispatch_errors"`
	TimestampMillis int64                            `json:"timestamp_ms"`
}

func newStateMessage(s drive.Snapshot, now time.Time) stateMessage {
	msg := stateMessage{
		X:               s.Pose.X(),
		Y:               s.Pose.Y(),
		HeadingDeg:      s.Pose.Heading.Degrees(),
		Vx:              s.Speeds.Vx,
		Vy:              s.Speeds.Vy,
		Omega:           s.Speeds.Omega,
		Mode:            s.Mode,
		SpeedLimit:      s.SpeedLimit,
		HeadingHold:     s.HeadingHold,
		HeadingTarget:   s.HeadingTarget,
		SysIDAxis:       s.CharacterizationAxis,
		SysIDVolts:      s.CharacterizationVolts,
		DispatchErrors:  s.DispatchErrors,
		TimestampMillis: now.UnixMilli(),
	}
	for i := range msg.Modules {
		msg.Modules[i] = moduleMessage{
			Speed:    s.Modules[i].Speed,
			AngleDeg: s.Modules[i].Angle.Degrees(),
			Distance: s.Distances[i],
			Fault:    s.Faults[i],
		}
	}
	return msg
}

// Encode renders s as the JSON document published on the state topic.
func Encode(s drive.Snapshot, now time.Time) ([]byte, error) {
	return json.Marshal(newStateMessage(s, now))
}

// Publisher sends Source's snapshot at a fixed rate and tracks the latest target pose.
type Publisher struct {
	client mqtt.Client
	src    Source
	cfg    Config
	clk    clock.Clock
	logger logging.Logger

	mu         sync.Mutex
	targetPose geometry.Pose2d
	haveTarget bool

	cancel                  context.CancelFunc
	activeBackgroundWorkers sync.WaitGroup
}

// NewPublisher subscribes to the target pose topic on client.
func NewPublisher(client mqtt.Client, src Source, cfg Config, clk clock.Clock, logger logging.Logger) (*Publisher, error) {
	if cfg.Rate <= 0 {
		return nil, errors.Errorf("telemetry rate must be positive, got %v", cfg.Rate)
	}
	p := &Publisher{client: client, src: src, cfg: cfg, clk: clk, logger: logger}
	if err := wait(client.Subscribe(cfg.topic(targetPoseTopic), 0, p.onTargetPose)); err != nil {
		return nil, errors.Wrap(err, "subscribing to target pose")
	}
	return p, nil
}

func (p *Publisher) onTargetPose(_ mqtt.Client, msg mqtt.Message) {
	var pose [3]float64
	if err := json.Unmarshal(msg.Payload(), &pose); err != nil {
		p.logger.Debugw("ignoring malformed target pose", "topic", msg.Topic(), "error", err)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.targetPose = geometry.NewPose2d(pose[0], pose[1], s1.Angle(pose[2]))
	p.haveTarget = true
}

// TargetPose returns the last pose the path follower reported.
func (p *Publisher) TargetPose() (geometry.Pose2d, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.targetPose, p.haveTarget
}

// PublishOnce sends the current snapshot.
func (p *Publisher) PublishOnce() error {
	payload, err := Encode(p.src.Snapshot(), p.clk.Now())
	if err != nil {
		return err
	}
	topic := p.cfg.topic(stateTopic)
	if err := wait(p.client.Publish(topic, 0, false, payload)); err != nil {
		return errors.Wrapf(err, "publishing %s", topic)
	}
	return nil
}

// Start publishes every cfg.Rate until Close.
func (p *Publisher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	ticker := p.clk.Ticker(p.cfg.Rate)
	p.activeBackgroundWorkers.Add(1)
	viamutils.ManagedGo(func() {
		defer ticker.Stop()
		failing := false
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if err := p.PublishOnce(); err != nil {
				if !failing {
					p.logger.Warnw("telemetry publish failed", "error", err)
				}
				failing = true
				continue
			}
			failing = false
		}
	}, p.activeBackgroundWorkers.Done)
}

// Close stops publishing and unsubscribes.
func (p *Publisher) Close() error {
	if p.cancel != nil {
		p.cancel()
	}
	p.activeBackgroundWorkers.Wait()
	return wait(p.client.Unsubscribe(p.cfg.topic(targetPoseTopic)))
}
