package vehicle

import "fmt"

// PX4 packs main mode into bits 16-23 of HEARTBEAT.custom_mode and the
// auto sub mode into bits 24-31.
const (
	px4MainManual     = 1
	px4MainAltctl     = 2
	px4MainPosctl     = 3
	px4MainAuto       = 4
	px4MainAcro       = 5
	px4MainOffboard   = 6
	px4MainStabilized = 7
	px4MainRattitude  = 8
)

const (
	px4AutoReady    = 1
	px4AutoTakeoff  = 2
	px4AutoLoiter   = 3
	px4AutoMission  = 4
	px4AutoRTL      = 5
	px4AutoLand     = 6
	px4AutoFollow   = 8
	px4AutoPrecland = 9
)

var mainModeNames = map[uint8]string{
	px4MainManual:     "MANUAL",
	px4MainAltctl:     "ALTCTL",
	px4MainPosctl:     "POSCTL",
	px4MainAcro:       "ACRO",
	px4MainOffboard:   "OFFBOARD",
	px4MainStabilized: "STABILIZED",
	px4MainRattitude:  "RATTITUDE",
}

var autoModeNames = map[uint8]string{
	px4AutoReady:    "READY",
	px4AutoTakeoff:  "TAKEOFF",
	px4AutoLoiter:   "HOLD",
	px4AutoMission:  "MISSION",
	px4AutoRTL:      "RETURN_TO_LAUNCH",
	px4AutoLand:     "LAND",
	px4AutoFollow:   "FOLLOW_ME",
	px4AutoPrecland: "PRECISION_LAND",
}

// FlightModeName decodes a PX4 custom mode.
func FlightModeName(customMode uint32) string {
	main := uint8(customMode >> 16)
	sub := uint8(customMode >> 24)
	if main == px4MainAuto {
		if n, ok := autoModeNames[sub]; ok {
			return n
		}
		return fmt.Sprintf("AUTO(%d)", sub)
	}
	if n, ok := mainModeNames[main]; ok {
		return n
	}
	return "UNKNOWN"
}

func customMode(main, sub uint8) uint32 {
	return uint32(main)<<16 | uint32(sub)<<24
}
