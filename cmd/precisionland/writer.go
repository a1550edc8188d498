package main

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/term"

	"precision-land/internal/config"
	"precision-land/internal/control"
	"precision-land/internal/logging"
	"precision-land/internal/recorder"
)

// stdoutIsTerminal is swapped out by tests.
var stdoutIsTerminal = func() bool { return term.IsTerminal(int(os.Stdout.Fd())) }

// stdoutWriter picks the console writer for mode. A nil writer means none.
func stdoutWriter(mode string, bands control.BandTable) (recorder.Writer, error) {
	switch mode {
	case "", "auto":
		if stdoutIsTerminal() {
			return recorder.NewColorStdoutWriter(), nil
		}
		return recorder.NewJSONStdoutWriter(), nil
	case "json":
		return recorder.NewJSONStdoutWriter(), nil
	case "color":
		return recorder.NewColorStdoutWriter(), nil
	case "tui":
		if !stdoutIsTerminal() {
			return nil, fmt.Errorf("stdout mode tui needs a terminal")
		}
		return recorder.NewTUIWriter(bands), nil
	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown stdout mode %q", mode)
}

// newWriters builds the recorder chain from the configuration. A single
// writer is returned as is; several are wrapped in a MultiWriter. The
// cleanup function flushes and closes everything that was opened.
func newWriters(ctx context.Context, cfg *config.FlightConfig, bands control.BandTable) (recorder.Writer, func(), error) {
	log := logging.FromContext(ctx)
	rc := cfg.Recorder
	var (
		writers []recorder.Writer
		closers []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	console, err := stdoutWriter(rc.Stdout, bands)
	if err != nil {
		return nil, nil, err
	}
	if console != nil {
		writers = append(writers, console)
		if c, ok := console.(recorder.Closer); ok {
			closers = append(closers, func() { _ = c.Close() })
		}
	}

	if rc.File != "" {
		fw, err := recorder.NewFileWriter(rc.File, rc.FileSamples)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		writers = append(writers, fw)
		closers = append(closers, func() {
			if err := fw.Close(); err != nil {
				log.Error("flight log close failed", "path", rc.File, "err", err)
			}
		})
	}

	if rc.Greptime.Endpoint != "" {
		gw, err := recorder.NewGreptimeDBWriter(rc.Greptime.Endpoint, rc.Greptime.Database)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		log.Info("recording to greptimedb", "endpoint", rc.Greptime.Endpoint, "database", rc.Greptime.Database)
		writers = append(writers, gw)
	}

	if rc.MQTT.Broker != "" {
		client, err := recorder.NewMQTTClient(recorder.MQTTConfig(rc.MQTT))
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		writers = append(writers, recorder.NewMQTTWriter(client, rc.MQTT.TopicPrefix))
		closers = append(closers, func() { client.Disconnect(250) })
	}

	if len(writers) == 1 {
		return writers[0], cleanup, nil
	}
	return recorder.NewMultiWriter(writers...), cleanup, nil
}
