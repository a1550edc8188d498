package vehicle

import (
	"context"
	"math"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/pkg/errors"

	"precision-land/internal/control"
	"precision-land/internal/geo"
	"precision-land/internal/logging"
)

// Magic param2 for COMPONENT_ARM_DISARM that disarms in flight.
const forceDisarm = 21196

const (
	velocityOnly = common.POSITION_TARGET_TYPEMASK_X_IGNORE |
		common.POSITION_TARGET_TYPEMASK_Y_IGNORE |
		common.POSITION_TARGET_TYPEMASK_Z_IGNORE |
		common.POSITION_TARGET_TYPEMASK_AX_IGNORE |
		common.POSITION_TARGET_TYPEMASK_AY_IGNORE |
		common.POSITION_TARGET_TYPEMASK_AZ_IGNORE

	nedMask  = velocityOnly | common.POSITION_TARGET_TYPEMASK_YAW_RATE_IGNORE
	bodyMask = velocityOnly | common.POSITION_TARGET_TYPEMASK_YAW_IGNORE
)

var nan32 = float32(math.NaN())

func (l *Link) SetVelocityNED(_ context.Context, v control.VelocityNED) error {
	return l.out.WriteMessageAll(&common.MessageSetPositionTargetLocalNed{
		TargetSystem:    l.cfg.TargetSystem,
		TargetComponent: l.cfg.TargetComponent,
		CoordinateFrame: common.MAV_FRAME_LOCAL_NED,
		TypeMask:        nedMask,
		Vx:              float32(v.NorthMPS),
		Vy:              float32(v.EastMPS),
		Vz:              float32(v.DownMPS),
		Yaw:             float32(geo.Radians(v.YawDeg)),
	})
}

func (l *Link) SetVelocityBody(_ context.Context, v control.VelocityBody) error {
	return l.out.WriteMessageAll(&common.MessageSetPositionTargetLocalNed{
		TargetSystem:    l.cfg.TargetSystem,
		TargetComponent: l.cfg.TargetComponent,
		CoordinateFrame: common.MAV_FRAME_BODY_NED,
		TypeMask:        bodyMask,
		Vx:              float32(v.ForwardMPS),
		Vy:              float32(v.RightMPS),
		Vz:              float32(v.DownMPS),
		YawRate:         float32(geo.Radians(v.YawRateDegS)),
	})
}

func (l *Link) SetMaximumSpeed(ctx context.Context, mps float64) error {
	return l.commandLong(ctx, common.MAV_CMD_DO_CHANGE_SPEED, 1, float32(mps), -1, 0, 0, 0, 0)
}

// GotoLocation repositions to p at relAltM above home. A NaN yawDeg keeps the
// autopilot's current heading.
func (l *Link) GotoLocation(ctx context.Context, p geo.Point, relAltM, yawDeg float64) error {
	cmd := &common.MessageCommandInt{
		TargetSystem:    l.cfg.TargetSystem,
		TargetComponent: l.cfg.TargetComponent,
		Frame:           common.MAV_FRAME_GLOBAL_RELATIVE_ALT,
		Command:         common.MAV_CMD_DO_REPOSITION,
		Param1:          -1,
		Param2:          float32(common.MAV_DO_REPOSITION_FLAGS_CHANGE_MODE),
		Param4:          float32(yawDeg),
		X:               int32(math.Round(p.Lat * 1e7)),
		Y:               int32(math.Round(p.Lon * 1e7)),
		Z:               float32(relAltM),
	}
	return l.sendCommand(ctx, cmd, cmd.Command)
}

func (l *Link) Arm(ctx context.Context) error {
	return l.commandLong(ctx, common.MAV_CMD_COMPONENT_ARM_DISARM, 1, 0, 0, 0, 0, 0, 0)
}

// Kill stops the motors immediately regardless of flight state. It is written
// exactly once; a missing or negative ack is returned, never resent.
func (l *Link) Kill(ctx context.Context) error {
	id := common.MAV_CMD_COMPONENT_ARM_DISARM
	return l.send(ctx, l.commandLongMessage(id, 0, forceDisarm, 0, 0, 0, 0, 0), id, 1)
}

// Land switches to the autopilot's land mode at the current position.
func (l *Link) Land(ctx context.Context) error {
	return l.commandLong(ctx, common.MAV_CMD_NAV_LAND, 0, 0, 0, nan32, nan32, nan32, nan32)
}

// StartOffboard switches PX4 into offboard mode. A setpoint must already be
// streaming or PX4 rejects the switch.
func (l *Link) StartOffboard(ctx context.Context) error {
	return l.commandLong(ctx, common.MAV_CMD_DO_SET_MODE,
		float32(common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED), px4MainOffboard, 0, 0, 0, 0, 0)
}

func (l *Link) commandLong(ctx context.Context, id common.MAV_CMD, p1, p2, p3, p4, p5, p6, p7 float32) error {
	return l.sendCommand(ctx, l.commandLongMessage(id, p1, p2, p3, p4, p5, p6, p7), id)
}

func (l *Link) commandLongMessage(id common.MAV_CMD, p1, p2, p3, p4, p5, p6, p7 float32) *common.MessageCommandLong {
	return &common.MessageCommandLong{
		TargetSystem:    l.cfg.TargetSystem,
		TargetComponent: l.cfg.TargetComponent,
		Command:         id,
		Param1:          p1,
		Param2:          p2,
		Param3:          p3,
		Param4:          p4,
		Param5:          p5,
		Param6:          p6,
		Param7:          p7,
	}
}

// sendCommand writes cmd and waits for its COMMAND_ACK, resending up to
// Retries times when none arrives.
func (l *Link) sendCommand(ctx context.Context, cmd message.Message, id common.MAV_CMD) error {
	return l.send(ctx, cmd, id, l.cfg.Retries)
}

func (l *Link) send(ctx context.Context, cmd message.Message, id common.MAV_CMD, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}
	l.cmdMu.Lock()
	defer l.cmdMu.Unlock()
	log := logging.FromContext(ctx)

	l.drainAcks()
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := l.out.WriteMessageAll(cmd); err != nil {
			return errors.WithMessagef(err, "write %s", id)
		}
		log.Debug("command sent", "command", id.String(), "attempt", attempt)

		err := l.waitAck(ctx, id)
		if errors.Is(err, ErrAckTimeout) {
			continue
		}
		return err
	}
	if attempts == 1 {
		return errors.Wrapf(ErrAckTimeout, "%s", id)
	}
	return errors.Wrapf(ErrAckTimeout, "%s after %d attempts", id, attempts)
}

func (l *Link) waitAck(ctx context.Context, id common.MAV_CMD) error {
	timer := time.NewTimer(l.cfg.AckTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-timer.C:
			return ErrAckTimeout
		case ack := <-l.acks:
			if ack.Command != id {
				continue
			}
			switch ack.Result {
			case common.MAV_RESULT_ACCEPTED:
				return nil
			case common.MAV_RESULT_IN_PROGRESS:
				continue
			}
			return errors.Wrapf(ErrCommandRejected, "%s: %s", id, ack.Result)
		}
	}
}

func (l *Link) drainAcks() {
	for {
		select {
		case <-l.acks:
		default:
			return
		}
	}
}

// SetParamInt writes an INT32 parameter. PX4 expects the integer bytes
// packed into the float field.
func (l *Link) SetParamInt(ctx context.Context, name string, value int32) error {
	return l.setParam(ctx, name, math.Float32frombits(uint32(value)), common.MAV_PARAM_TYPE_INT32)
}

func (l *Link) SetParamFloat(ctx context.Context, name string, value float32) error {
	return l.setParam(ctx, name, value, common.MAV_PARAM_TYPE_REAL32)
}

// setParam sends PARAM_SET until the vehicle echoes the value back.
func (l *Link) setParam(ctx context.Context, name string, value float32, typ common.MAV_PARAM_TYPE) error {
	l.cmdMu.Lock()
	defer l.cmdMu.Unlock()

	msg := &common.MessageParamSet{
		TargetSystem:    l.cfg.TargetSystem,
		TargetComponent: l.cfg.TargetComponent,
		ParamId:         name,
		ParamValue:      value,
		ParamType:       typ,
	}
	for attempt := 1; attempt <= l.cfg.Retries; attempt++ {
		if err := l.out.WriteMessageAll(msg); err != nil {
			return errors.WithMessagef(err, "write PARAM_SET %s", name)
		}
		ok, err := l.waitParam(ctx, name, value)
		if err != nil {
			return err
		}
		if ok {
			logging.FromContext(ctx).Info("param set", "name", name, "attempt", attempt)
			return nil
		}
	}
	return errors.Wrapf(ErrAckTimeout, "param %s", name)
}

func (l *Link) waitParam(ctx context.Context, name string, value float32) (bool, error) {
	timer := time.NewTimer(l.cfg.AckTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false, context.Cause(ctx)
		case <-timer.C:
			return false, nil
		case pv := <-l.params:
			if pv.ParamId != name {
				continue
			}
			if math.Float32bits(pv.ParamValue) != math.Float32bits(value) {
				return false, errors.Wrapf(ErrCommandRejected, "param %s stayed at %v", name, pv.ParamValue)
			}
			return true, nil
		}
	}
}
