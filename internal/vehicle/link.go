// Package vehicle talks MAVLink to a PX4 flight controller and exposes it as
// a control.CommandSink plus telemetry feeds.
package vehicle

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/pkg/errors"

	"precision-land/internal/geo"
	"precision-land/internal/logging"
	"precision-land/internal/telemetry"
)

var (
	ErrCommandRejected = errors.New("vehicle: command rejected")
	ErrAckTimeout      = errors.New("vehicle: no acknowledgement")
)

// Config describes the MAVLink connection.
type Config struct {
	Endpoint        string        `yaml:"endpoint"`
	SystemID        uint8         `yaml:"system_id"`
	TargetSystem    uint8         `yaml:"target_system"`
	TargetComponent uint8         `yaml:"target_component"`
	AckTimeout      time.Duration `yaml:"ack_timeout"`
	Retries         int           `yaml:"retries"`
}

func (c Config) withDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = "udp://:14540"
	}
	if c.SystemID == 0 {
		c.SystemID = 245
	}
	if c.TargetSystem == 0 {
		c.TargetSystem = 1
	}
	if c.TargetComponent == 0 {
		c.TargetComponent = 1
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = time.Second
	}
	if c.Retries <= 0 {
		c.Retries = 5
	}
	return c
}

type messageWriter interface {
	WriteMessageAll(message.Message) error
}

// Link is one MAVLink connection to a single vehicle.
type Link struct {
	cfg  Config
	node *gomavlib.Node
	out  messageWriter

	// one acknowledged exchange at a time so acks are not stolen
	cmdMu  sync.Mutex
	acks   chan *common.MessageCommandAck
	params chan *common.MessageParamValue

	mu     sync.Mutex
	yawDeg float64
	hasYaw bool
	status telemetry.Status

	samples  *telemetry.Hub[telemetry.PositionSample]
	statuses *telemetry.Hub[telemetry.Status]
	now      func() time.Time
}

func newLink(cfg Config, out messageWriter) *Link {
	return &Link{
		cfg:      cfg.withDefaults(),
		out:      out,
		acks:     make(chan *common.MessageCommandAck, 8),
		params:   make(chan *common.MessageParamValue, 8),
		samples:  telemetry.NewHub[telemetry.PositionSample](1),
		statuses: telemetry.NewHub[telemetry.Status](4),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Dial opens the endpoint and starts decoding frames until ctx is done or
// Close is called.
func Dial(ctx context.Context, cfg Config) (*Link, error) {
	cfg = cfg.withDefaults()
	ep, err := ParseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:   []gomavlib.EndpointConf{ep},
		Dialect:     common.Dialect,
		OutVersion:  gomavlib.V2,
		OutSystemID: cfg.SystemID,
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "open %s", cfg.Endpoint)
	}
	l := newLink(cfg, node)
	l.node = node
	logging.FromContext(ctx).Info("mavlink endpoint open", "endpoint", cfg.Endpoint, "system_id", cfg.SystemID)
	go l.run(ctx)
	return l, nil
}

// Samples is the GLOBAL_POSITION_INT feed.
func (l *Link) Samples() *telemetry.Hub[telemetry.PositionSample] { return l.samples }

// Status is fed by HEARTBEAT and EXTENDED_SYS_STATE.
func (l *Link) Status() *telemetry.Hub[telemetry.Status] { return l.statuses }

// Close shuts the node down and ends both feeds.
func (l *Link) Close() {
	if l.node != nil {
		l.node.Close()
	}
	l.samples.Close()
	l.statuses.Close()
}

func (l *Link) run(ctx context.Context) {
	log := logging.FromContext(ctx)
	events := l.node.Events()
	for {
		select {
		case <-ctx.Done():
			l.Close()
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			switch e := evt.(type) {
			case *gomavlib.EventFrame:
				if e.SystemID() != l.cfg.TargetSystem {
					continue
				}
				l.handleMessage(e.Frame.GetMessage())
			case *gomavlib.EventChannelOpen:
				log.Info("mavlink channel open", "channel", e.Channel)
			case *gomavlib.EventChannelClose:
				log.Warn("mavlink channel closed", "channel", e.Channel)
			}
		}
	}
}

func (l *Link) handleMessage(msg message.Message) {
	switch m := msg.(type) {
	case *common.MessageHeartbeat:
		l.updateStatus(func(s *telemetry.Status) {
			s.Connected = true
			s.Armed = m.BaseMode&common.MAV_MODE_FLAG_SAFETY_ARMED != 0
			s.FlightMode = FlightModeName(m.CustomMode)
		})
	case *common.MessageExtendedSysState:
		l.updateStatus(func(s *telemetry.Status) {
			s.InAir = m.LandedState != common.MAV_LANDED_STATE_ON_GROUND &&
				m.LandedState != common.MAV_LANDED_STATE_UNDEFINED
		})
	case *common.MessageAttitude:
		l.mu.Lock()
		l.yawDeg, l.hasYaw = geo.Degrees(float64(m.Yaw)), true
		l.mu.Unlock()
	case *common.MessageGlobalPositionInt:
		l.samples.Publish(l.sampleFrom(m))
	case *common.MessageCommandAck:
		select {
		case l.acks <- m:
		default:
		}
	case *common.MessageParamValue:
		select {
		case l.params <- m:
		default:
		}
	}
}

func (l *Link) sampleFrom(m *common.MessageGlobalPositionInt) telemetry.PositionSample {
	l.mu.Lock()
	yaw, hasYaw := l.yawDeg, l.hasYaw
	l.mu.Unlock()
	if !hasYaw && m.Hdg != math.MaxUint16 {
		yaw = float64(m.Hdg) / 100
	}
	return telemetry.PositionSample{
		Point:        geo.Point{Lat: float64(m.Lat) / 1e7, Lon: float64(m.Lon) / 1e7},
		RelativeAltM: float64(m.RelativeAlt) / 1000,
		YawDeg:       yaw,
		Timestamp:    l.now(),
	}
}

func (l *Link) updateStatus(fn func(*telemetry.Status)) {
	l.mu.Lock()
	fn(&l.status)
	l.status.Timestamp = l.now()
	st := l.status
	l.mu.Unlock()
	l.statuses.Publish(st)
}
