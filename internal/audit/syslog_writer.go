package audit

import (
	"fmt"
	"log/syslog"
	"sync"
)

// syslogWriter forwards encoded events to a syslog collector
type syslogWriter struct {
	mu     sync.Mutex
	writer *syslog.Writer
}

// NewSyslogWriter dials the collector. The protocol defaults to tcp.
func NewSyslogWriter(protocol, address string) (Writer, error) {
	if protocol == "" {
		protocol = "tcp"
	}

	writer, err := syslog.Dial(protocol, address, syslog.LOG_INFO|syslog.LOG_AUTH, "abac-pdp")
	if err != nil {
		return nil, fmt.Errorf("connect to syslog %s://%s: %w", protocol, address, err)
	}
	return &syslogWriter{writer: writer}, nil
}

func (w *syslogWriter) Write(event Event) error {
	data, err := Encode(event)
	if err != nil {
		return err
	}
	msg := string(data)

	w.mu.Lock()
	defer w.mu.Unlock()
	switch severity(event) {
	case syslog.LOG_ERR:
		return w.writer.Err(msg)
	case syslog.LOG_WARNING:
		return w.writer.Warning(msg)
	case syslog.LOG_NOTICE:
		return w.writer.Notice(msg)
	default:
		return w.writer.Info(msg)
	}
}

func (w *syslogWriter) Close() error {
	return w.writer.Close()
}

// severity ranks events for collectors that alert on level: failed reloads
// are errors, fail-closed denials and failing presets are warnings, other
// denials are notices
func severity(event Event) syslog.Priority {
	switch ev := event.(type) {
	case *PolicyReloadEvent:
		if ev.Error != "" {
			return syslog.LOG_ERR
		}
		return syslog.LOG_NOTICE
	case *DecisionEvent:
		switch {
		case ev.ErrorCode != "":
			return syslog.LOG_WARNING
		case ev.Decision == "DENY":
			return syslog.LOG_NOTICE
		}
	case *PresetRunEvent:
		if !ev.Passed {
			return syslog.LOG_WARNING
		}
	}
	return syslog.LOG_INFO
}
