// Package watchdog runs the observers that sit next to the controller on their
// own status subscriptions.
package watchdog

import (
	"context"
	"errors"

	"precision-land/internal/logging"
	"precision-land/internal/telemetry"
)

// ErrLanded is the cancellation cause set once the vehicle touches down.
var ErrLanded = errors.New("watchdog: vehicle landed")

// Notify receives the events a watcher raises. It may be nil.
type Notify func(telemetry.EventRow)

func (n Notify) send(row telemetry.EventRow) {
	if n != nil {
		n(row)
	}
}

// InAir cancels the flight with ErrLanded when the vehicle goes from airborne
// to landed. Readings before the first airborne one are ignored, so a vehicle
// still on the pad does not trip it. Returns when it fires, when the feed
// closes or when ctx ends.
func InAir(ctx context.Context, sub *telemetry.Subscription[telemetry.Status], cancel context.CancelCauseFunc, notify Notify) error {
	log := logging.FromContext(ctx)
	wasInAir := false
	for {
		st, err := sub.Next(ctx)
		if err != nil {
			return ignoreEnd(ctx, err)
		}
		if st.InAir {
			if !wasInAir {
				log.Debug("vehicle airborne")
			}
			wasInAir = true
			continue
		}
		if wasInAir {
			log.Info("vehicle landed, stopping flight")
			notify.send(telemetry.EventRow{Kind: telemetry.EventLanded, State: st.FlightMode, Timestamp: st.Timestamp})
			cancel(ErrLanded)
			return nil
		}
	}
}

// FlightModes logs each flight-mode change once.
func FlightModes(ctx context.Context, sub *telemetry.Subscription[telemetry.Status], notify Notify) error {
	log := logging.FromContext(ctx)
	prev := ""
	for {
		st, err := sub.Next(ctx)
		if err != nil {
			return ignoreEnd(ctx, err)
		}
		if st.FlightMode == "" || st.FlightMode == prev {
			continue
		}
		log.Info("flight mode", "mode", st.FlightMode, "previous", prev)
		notify.send(telemetry.EventRow{Kind: telemetry.EventFlightMode, State: st.FlightMode, Detail: prev, Timestamp: st.Timestamp})
		prev = st.FlightMode
	}
}

// ignoreEnd treats a closed feed or a finished context as a normal exit.
func ignoreEnd(ctx context.Context, err error) error {
	if errors.Is(err, telemetry.ErrClosed) || ctx.Err() != nil {
		return nil
	}
	return err
}
