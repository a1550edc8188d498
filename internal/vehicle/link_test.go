package vehicle

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"precision-land/internal/control"
	"precision-land/internal/geo"
)

// fakeNode records outgoing messages and answers them through reply.
type fakeNode struct {
	mu    sync.Mutex
	sent  []message.Message
	link  *Link
	reply func(message.Message) message.Message
}

func (f *fakeNode) WriteMessageAll(m message.Message) error {
	f.mu.Lock()
	f.sent = append(f.sent, m)
	f.mu.Unlock()
	if f.reply != nil {
		if r := f.reply(m); r != nil {
			f.link.handleMessage(r)
		}
	}
	return nil
}

func (f *fakeNode) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func ackWith(result common.MAV_RESULT) func(message.Message) message.Message {
	return func(m message.Message) message.Message {
		switch c := m.(type) {
		case *common.MessageCommandLong:
			return &common.MessageCommandAck{Command: c.Command, Result: result}
		case *common.MessageCommandInt:
			return &common.MessageCommandAck{Command: c.Command, Result: result}
		case *common.MessageParamSet:
			return &common.MessageParamValue{ParamId: c.ParamId, ParamValue: c.ParamValue, ParamType: c.ParamType}
		}
		return nil
	}
}

func newTestLink(reply func(message.Message) message.Message) (*Link, *fakeNode) {
	f := &fakeNode{reply: reply}
	l := newLink(Config{AckTimeout: 10 * time.Millisecond, Retries: 3}, f)
	f.link = l
	return l, f
}

func TestParseEndpoint(t *testing.T) {
	ep, err := ParseEndpoint("udp://:14540")
	require.NoError(t, err)
	assert.Equal(t, gomavlib.EndpointUDPServer{Address: ":14540"}, ep)

	ep, err = ParseEndpoint("tcp-client://127.0.0.1:5760")
	require.NoError(t, err)
	assert.Equal(t, gomavlib.EndpointTCPClient{Address: "127.0.0.1:5760"}, ep)

	ep, err = ParseEndpoint("serial:///dev/ttyACM0:921600")
	require.NoError(t, err)
	assert.Equal(t, gomavlib.EndpointSerial{Device: "/dev/ttyACM0", Baud: 921600}, ep)

	ep, err = ParseEndpoint("serial:///dev/ttyUSB0")
	require.NoError(t, err)
	assert.Equal(t, gomavlib.EndpointSerial{Device: "/dev/ttyUSB0", Baud: defaultBaud}, ep)

	_, err = ParseEndpoint("carrier-pigeon://loft")
	assert.Error(t, err)
	_, err = ParseEndpoint("14540")
	assert.Error(t, err)
}

func TestFlightModeName(t *testing.T) {
	assert.Equal(t, "OFFBOARD", FlightModeName(customMode(px4MainOffboard, 0)))
	assert.Equal(t, "HOLD", FlightModeName(customMode(px4MainAuto, px4AutoLoiter)))
	assert.Equal(t, "LAND", FlightModeName(customMode(px4MainAuto, px4AutoLand)))
	assert.Equal(t, "AUTO(42)", FlightModeName(customMode(px4MainAuto, 42)))
	assert.Equal(t, "UNKNOWN", FlightModeName(0))
}

func TestHandleMessagePublishesSamples(t *testing.T) {
	l, _ := newTestLink(nil)
	sub := l.Samples().Subscribe()

	l.handleMessage(&common.MessageGlobalPositionInt{Lat: 379495760, Lon: -917837390, RelativeAlt: 75040, Hdg: 18000})
	s, err := sub.Next(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 37.949576, s.Point.Lat, 1e-9)
	assert.InDelta(t, -91.783739, s.Point.Lon, 1e-9)
	assert.Equal(t, 75.04, s.RelativeAltM)
	assert.Equal(t, 180.0, s.YawDeg, "heading used until attitude arrives")

	l.handleMessage(&common.MessageAttitude{Yaw: float32(math.Pi / 2)})
	l.handleMessage(&common.MessageGlobalPositionInt{Lat: 379495760, Lon: -917837390, RelativeAlt: 500, Hdg: math.MaxUint16})
	s, err = sub.Next(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 90, s.YawDeg, 1e-4)
	assert.Equal(t, 0.5, s.RelativeAltM)
}

func TestHandleMessageTracksStatus(t *testing.T) {
	l, _ := newTestLink(nil)
	sub := l.Status().Subscribe()

	l.handleMessage(&common.MessageHeartbeat{
		BaseMode:   common.MAV_MODE_FLAG_SAFETY_ARMED | common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED,
		CustomMode: customMode(px4MainOffboard, 0),
	})
	l.handleMessage(&common.MessageExtendedSysState{LandedState: common.MAV_LANDED_STATE_IN_AIR})

	first, err := sub.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, first.Connected)
	assert.True(t, first.Armed)
	assert.False(t, first.InAir)
	assert.Equal(t, "OFFBOARD", first.FlightMode)

	second, err := sub.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, second.InAir)
	assert.True(t, second.Armed, "earlier fields are kept")

	l.handleMessage(&common.MessageExtendedSysState{LandedState: common.MAV_LANDED_STATE_ON_GROUND})
	third, _ := sub.Next(context.Background())
	assert.False(t, third.InAir)
}

func TestVelocitySetpointsHaveNoAck(t *testing.T) {
	l, f := newTestLink(nil)
	ctx := context.Background()

	require.NoError(t, l.SetVelocityNED(ctx, control.VelocityNED{NorthMPS: -4, EastMPS: 1, DownMPS: 1.5, YawDeg: 180}))
	require.NoError(t, l.SetVelocityBody(ctx, control.VelocityBody{DownMPS: 0.35}))
	require.Equal(t, 2, f.count())

	ned := f.sent[0].(*common.MessageSetPositionTargetLocalNed)
	assert.Equal(t, common.MAV_FRAME_LOCAL_NED, ned.CoordinateFrame)
	assert.Equal(t, float32(-4), ned.Vx)
	assert.Equal(t, float32(1), ned.Vy)
	assert.Equal(t, float32(1.5), ned.Vz)
	assert.InDelta(t, math.Pi, float64(ned.Yaw), 1e-6)
	assert.NotZero(t, ned.TypeMask&common.POSITION_TARGET_TYPEMASK_X_IGNORE)
	assert.Zero(t, ned.TypeMask&common.POSITION_TARGET_TYPEMASK_VX_IGNORE)
	assert.Zero(t, ned.TypeMask&common.POSITION_TARGET_TYPEMASK_YAW_IGNORE)

	body := f.sent[1].(*common.MessageSetPositionTargetLocalNed)
	assert.Equal(t, common.MAV_FRAME_BODY_NED, body.CoordinateFrame)
	assert.Equal(t, float32(0.35), body.Vz)
	assert.NotZero(t, body.TypeMask&common.POSITION_TARGET_TYPEMASK_YAW_IGNORE)
}

func TestCommandsAreAcknowledged(t *testing.T) {
	l, f := newTestLink(ackWith(common.MAV_RESULT_ACCEPTED))
	ctx := context.Background()

	require.NoError(t, l.Arm(ctx))
	require.NoError(t, l.SetMaximumSpeed(ctx, 4.5))
	require.NoError(t, l.GotoLocation(ctx, geo.Point{Lat: 37.949576, Lon: -91.783739}, 75, 0))
	require.NoError(t, l.StartOffboard(ctx))
	require.NoError(t, l.Kill(ctx))
	require.NoError(t, l.Land(ctx))
	assert.Equal(t, 6, f.count())

	speed := f.sent[1].(*common.MessageCommandLong)
	assert.Equal(t, common.MAV_CMD_DO_CHANGE_SPEED, speed.Command)
	assert.Equal(t, float32(4.5), speed.Param2)

	goto_ := f.sent[2].(*common.MessageCommandInt)
	assert.Equal(t, int32(379495760), goto_.X)
	assert.Equal(t, int32(-917837390), goto_.Y)
	assert.Equal(t, float32(75), goto_.Z)

	kill := f.sent[4].(*common.MessageCommandLong)
	assert.Equal(t, common.MAV_CMD_COMPONENT_ARM_DISARM, kill.Command)
	assert.Equal(t, float32(0), kill.Param1)
	assert.Equal(t, float32(forceDisarm), kill.Param2)
}

func TestCommandRetriesUntilTimeout(t *testing.T) {
	l, f := newTestLink(nil)
	err := l.Arm(context.Background())
	assert.True(t, errors.Is(err, ErrAckTimeout), "got %v", err)
	assert.Equal(t, 3, f.count())
}

func TestKillIsSentOnce(t *testing.T) {
	l, f := newTestLink(nil)
	err := l.Kill(context.Background())
	assert.True(t, errors.Is(err, ErrAckTimeout), "got %v", err)
	require.Equal(t, 1, f.count(), "a kill without ack must not be resent")
	kill := f.sent[0].(*common.MessageCommandLong)
	assert.Equal(t, common.MAV_CMD_COMPONENT_ARM_DISARM, kill.Command)
	assert.Equal(t, float32(forceDisarm), kill.Param2)
}

func TestGotoYawIsDegreesOrUnset(t *testing.T) {
	l, f := newTestLink(ackWith(common.MAV_RESULT_ACCEPTED))
	ctx := context.Background()
	p := geo.Point{Lat: 37.949576, Lon: -91.783739}
	require.NoError(t, l.GotoLocation(ctx, p, 20, 90))
	require.NoError(t, l.GotoLocation(ctx, p, 20, control.KeepHeading))

	assert.Equal(t, float32(90), f.sent[0].(*common.MessageCommandInt).Param4)
	assert.True(t, math.IsNaN(float64(f.sent[1].(*common.MessageCommandInt).Param4)))
}

func TestCommandRejected(t *testing.T) {
	l, f := newTestLink(ackWith(common.MAV_RESULT_DENIED))
	err := l.Kill(context.Background())
	assert.True(t, errors.Is(err, ErrCommandRejected), "got %v", err)
	assert.Equal(t, 1, f.count(), "a rejection is not retried")
}

func TestCommandHonoursContext(t *testing.T) {
	l, _ := newTestLink(nil)
	l.cfg.AckTimeout = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Land(ctx), context.Canceled)
}

func TestSetParamIntPacksBytes(t *testing.T) {
	l, f := newTestLink(ackWith(common.MAV_RESULT_ACCEPTED))
	ctx := context.Background()
	require.NoError(t, l.SetParamInt(ctx, "COM_OBL_RC_ACT", 5))
	require.NoError(t, l.SetParamFloat(ctx, "LNDMC_XY_VEL_MAX", 0.5))

	ps := f.sent[0].(*common.MessageParamSet)
	assert.Equal(t, "COM_OBL_RC_ACT", ps.ParamId)
	assert.Equal(t, common.MAV_PARAM_TYPE_INT32, ps.ParamType)
	assert.Equal(t, uint32(5), math.Float32bits(ps.ParamValue))

	pf := f.sent[1].(*common.MessageParamSet)
	assert.Equal(t, float32(0.5), pf.ParamValue)
}

func TestSetParamRejectedWhenValueDiffers(t *testing.T) {
	l, _ := newTestLink(func(m message.Message) message.Message {
		ps := m.(*common.MessageParamSet)
		return &common.MessageParamValue{ParamId: ps.ParamId, ParamValue: 0}
	})
	err := l.SetParamFloat(context.Background(), "LNDMC_XY_VEL_MAX", 0.5)
	assert.True(t, errors.Is(err, ErrCommandRejected), "got %v", err)
}
