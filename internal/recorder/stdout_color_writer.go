// ColorStdoutWriter prints human-friendly, colorized flight rows to STDOUT.
package recorder

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"precision-land/internal/telemetry"
)

const (
	colorReset   = "\x1b[0m"
	colorRed     = "\x1b[31m"
	colorGreen   = "\x1b[32m"
	colorYellow  = "\x1b[33m"
	colorBlue    = "\x1b[34m"
	colorMagenta = "\x1b[35m"
	colorCyan    = "\x1b[36m"
	colorGray    = "\x1b[90m"
)

// eventColors picks a color per event kind.
var eventColors = map[string]string{
	telemetry.EventBand:       colorBlue,
	telemetry.EventConverged:  colorGreen,
	telemetry.EventTerminated: colorMagenta,
	telemetry.EventFailsafe:   colorRed,
	telemetry.EventLanded:     colorGreen,
}

// ColorStdoutWriter prints one colored line per row.
type ColorStdoutWriter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewColorStdoutWriter creates a ColorStdoutWriter writing to os.Stdout.
func NewColorStdoutWriter() *ColorStdoutWriter {
	return &ColorStdoutWriter{out: os.Stdout}
}

func (w *ColorStdoutWriter) println(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := fmt.Fprintln(w.out, line)
	return err
}

func (w *ColorStdoutWriter) WriteSample(r telemetry.SampleRow) error {
	return w.println(sampleLine(r))
}

func (w *ColorStdoutWriter) WriteCommand(r telemetry.CommandRow) error {
	return w.println(commandLine(r))
}

func (w *ColorStdoutWriter) WriteEvent(r telemetry.EventRow) error {
	return w.println(eventLine(r))
}

func stamp(ts time.Time) string {
	return fmt.Sprintf("%s[%s]%s", colorGray, ts.Format("15:04:05.000"), colorReset)
}

func sampleLine(r telemetry.SampleRow) string {
	return fmt.Sprintf("%s %slat=%.7f%s %slon=%.7f%s %salt=%.2f%s %syaw=%.1f%s",
		stamp(r.Timestamp),
		colorGreen, r.Lat, colorReset,
		colorYellow, r.Lon, colorReset,
		colorMagenta, r.AltM, colorReset,
		colorCyan, r.YawDeg, colorReset)
}

func commandLine(r telemetry.CommandRow) string {
	line := fmt.Sprintf("%s %sCMD%s %s%s%s x=%.3f y=%.3f z=%.3f yaw=%.1f",
		stamp(r.Timestamp),
		colorBlue, colorReset,
		colorCyan, r.Kind, colorReset,
		r.X, r.Y, r.Z, r.YawDeg)
	if r.Err != "" {
		line += fmt.Sprintf(" %serr=%s%s", colorRed, r.Err, colorReset)
	}
	return line
}

func eventLine(r telemetry.EventRow) string {
	c, ok := eventColors[r.Kind]
	if !ok {
		c = colorYellow
	}
	line := fmt.Sprintf("%s %s%s%s state=%s band=%d alt=%.2f",
		stamp(r.Timestamp), c, r.Kind, colorReset, r.State, r.Band, r.AltM)
	if r.Detail != "" {
		line += " " + r.Detail
	}
	return line
}
