package sim

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"precision-land/internal/control"
	"precision-land/internal/geo"
)

var home = geo.Point{Lat: 37.9489, Lon: -91.7845}

func newTestVehicle() *Vehicle {
	return NewVehicle(Config{Home: home, StepDT: 100 * time.Millisecond, Start: time.Unix(0, 0)})
}

func stepN(v *Vehicle, n int) {
	for i := 0; i < n; i++ {
		v.Step(100 * time.Millisecond)
	}
}

func TestVehicleRejectsMotionWhileDisarmed(t *testing.T) {
	v := newTestVehicle()
	ctx := context.Background()
	if err := v.SetVelocityNED(ctx, control.VelocityNED{NorthMPS: 1}); !errors.Is(err, ErrNotArmed) {
		t.Fatalf("expected ErrNotArmed, got %v", err)
	}
	if err := v.GotoLocation(ctx, home, 10, 0); !errors.Is(err, ErrNotArmed) {
		t.Fatalf("expected ErrNotArmed, got %v", err)
	}
}

func TestVehicleGotoClimbsAndArrives(t *testing.T) {
	v := newTestVehicle()
	ctx := context.Background()
	goal := geo.DestinationPoint(home, 0, 0.1)
	if err := v.Arm(ctx); err != nil {
		t.Fatal(err)
	}
	if err := v.GotoLocation(ctx, goal, 20, 0); err != nil {
		t.Fatal(err)
	}
	stepN(v, 200)

	s := v.Snapshot()
	if s.Point != goal || s.RelativeAltM != 20 {
		t.Fatalf("expected arrival at goal, got %+v", s)
	}
	st, _ := v.Status().Latest()
	if !st.InAir || !st.Armed || st.FlightMode != ModeGoto {
		t.Fatalf("unexpected status %+v", st)
	}
	if want := time.Unix(0, 0).Add(20 * time.Second); !s.Timestamp.Equal(want) {
		t.Fatalf("expected simulated clock %v, got %v", want, s.Timestamp)
	}
}

func TestVehicleOffboardVelocityFollowsCommand(t *testing.T) {
	v := newTestVehicle()
	ctx := context.Background()
	_ = v.Arm(ctx)
	_ = v.GotoLocation(ctx, home, 10, 0)
	stepN(v, 50)

	if err := v.StartOffboard(ctx); err != nil {
		t.Fatal(err)
	}
	if err := v.SetVelocityNED(ctx, control.VelocityNED{EastMPS: 2, DownMPS: 1, YawDeg: 90}); err != nil {
		t.Fatal(err)
	}
	stepN(v, 30)

	s := v.Snapshot()
	off := geo.OffsetNED(home, s.Point)
	if off.EastM < 3 || math.Abs(off.NorthM) > 0.01 {
		t.Fatalf("expected eastward drift, got %+v", off)
	}
	if s.RelativeAltM >= 9 || s.RelativeAltM <= 6 {
		t.Fatalf("expected descent to ~7.5m, got %v", s.RelativeAltM)
	}
	if s.YawDeg != 90 {
		t.Fatalf("expected yaw 90, got %v", s.YawDeg)
	}
}

func TestVehicleBodyVelocityUsesHeading(t *testing.T) {
	v := newTestVehicle()
	ctx := context.Background()
	_ = v.Arm(ctx)
	_ = v.GotoLocation(ctx, home, 10, 0)
	stepN(v, 50)
	_ = v.StartOffboard(ctx)
	_ = v.SetVelocityNED(ctx, control.VelocityNED{YawDeg: 90})
	_ = v.SetVelocityBody(ctx, control.VelocityBody{ForwardMPS: 1})
	stepN(v, 30)

	off := geo.OffsetNED(home, v.Snapshot().Point)
	if off.EastM <= 0 || math.Abs(off.NorthM) > 0.01 {
		t.Fatalf("forward at yaw 90 should move east, got %+v", off)
	}
}

func TestVehicleMaximumSpeedCapsCommands(t *testing.T) {
	v := newTestVehicle()
	ctx := context.Background()
	_ = v.Arm(ctx)
	_ = v.SetMaximumSpeed(ctx, 2)
	_ = v.SetVelocityNED(ctx, control.VelocityNED{NorthMPS: 6, EastMPS: 8})
	if got := math.Hypot(v.cmd.n, v.cmd.e); math.Abs(got-2) > 1e-9 {
		t.Fatalf("expected capped speed 2, got %v", got)
	}
}

func TestVehicleLandDisarmsOnGround(t *testing.T) {
	v := newTestVehicle()
	ctx := context.Background()
	_ = v.Arm(ctx)
	_ = v.GotoLocation(ctx, home, 3, 0)
	stepN(v, 20)
	if err := v.Land(ctx); err != nil {
		t.Fatal(err)
	}
	stepN(v, 60)

	st, _ := v.Status().Latest()
	if st.InAir || st.Armed {
		t.Fatalf("expected landed and disarmed, got %+v", st)
	}
	if v.Snapshot().RelativeAltM != 0 {
		t.Fatalf("expected ground altitude")
	}
}

func TestVehicleKillDropsToGround(t *testing.T) {
	v := newTestVehicle()
	ctx := context.Background()
	_ = v.Arm(ctx)
	_ = v.GotoLocation(ctx, home, 0.5, 0)
	stepN(v, 5)
	if err := v.Kill(ctx); err != nil {
		t.Fatal(err)
	}
	stepN(v, 1)
	if !v.Killed() || v.Snapshot().RelativeAltM != 0 {
		t.Fatalf("expected killed vehicle on the ground")
	}
	if err := v.Arm(ctx); err == nil {
		t.Fatalf("expected re-arm after kill to fail")
	}
}

func TestVehicleParams(t *testing.T) {
	v := newTestVehicle()
	ctx := context.Background()
	_ = v.SetParamInt(ctx, "NAV_DLL_ACT", 1)
	_ = v.SetParamFloat(ctx, "LNDMC_XY_VEL_MAX", 0.5)
	if p, ok := v.Param("NAV_DLL_ACT"); !ok || p != 1 {
		t.Fatalf("unexpected NAV_DLL_ACT %v %v", p, ok)
	}
	if p, _ := v.Param("LNDMC_XY_VEL_MAX"); p != 0.5 {
		t.Fatalf("unexpected LNDMC_XY_VEL_MAX %v", p)
	}
}

func TestWindDriftsHoveringVehicle(t *testing.T) {
	v := NewVehicle(Config{Home: home, Start: time.Unix(0, 0), Wind: Wind{FromDeg: 0, SpeedMPS: 1}})
	ctx := context.Background()
	_ = v.Arm(ctx)
	_ = v.GotoLocation(ctx, home, 5, 0)
	stepN(v, 30)
	_ = v.StartOffboard(ctx)
	stepN(v, 10)

	off := geo.OffsetNED(home, v.Snapshot().Point)
	if off.NorthM > -0.9 || off.NorthM < -1.1 {
		t.Fatalf("northerly wind should push ~1m south, got %+v", off)
	}
}

func TestRunPublishesUntilCancelled(t *testing.T) {
	v := NewVehicle(Config{Home: home, TickInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	sub := v.Samples().Subscribe()
	done := make(chan struct{})
	go func() {
		v.Run(ctx)
		close(done)
	}()

	if _, err := sub.Next(context.Background()); err != nil {
		t.Fatalf("expected a sample, got %v", err)
	}
	cancel()
	<-done
	if st, _ := v.Status().Latest(); !st.Connected {
		t.Fatalf("expected connected status")
	}
}

func TestClockFollowsModelTime(t *testing.T) {
	v := newTestVehicle()
	clock := v.Clock()
	if !clock.Now().Equal(time.Unix(0, 0)) {
		t.Fatalf("expected clock at start time, got %v", clock.Now())
	}

	done := make(chan error, 1)
	go func() { done <- clock.Sleep(context.Background(), 300*time.Millisecond) }()

	stepN(v, 2)
	select {
	case err := <-done:
		t.Fatalf("sleep returned after 200ms of model time: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	stepN(v, 1)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("sleep failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("sleep did not return after 300ms of model time")
	}
	if want := time.Unix(0, 0).Add(300 * time.Millisecond); !clock.Now().Equal(want) {
		t.Fatalf("expected %v, got %v", want, clock.Now())
	}
}

func TestClockSleepEndsWithContextOrStop(t *testing.T) {
	v := newTestVehicle()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := v.Clock().Sleep(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	runCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		v.Run(runCtx)
		close(done)
	}()
	stop()
	<-done
	if err := v.Clock().Sleep(context.Background(), time.Hour); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}
