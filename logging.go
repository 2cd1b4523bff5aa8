package avgate

import (
	"github.com/sirupsen/logrus"
)

// NewLogger builds the process-wide logrus.Logger used for request and
// lifecycle logging, fixed at InfoLevel so the terminal per-request log
// line is never suppressed. This mirrors jdgiles26-gbox's logrus setup
// (a TextFormatter with full timestamps) — the only logging library
// used anywhere in the retrieved corpus.
func NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(textFormatter())
	log.SetLevel(logrus.InfoLevel)
	return log
}

// NewICAPLogger builds the logger scoped to ICAP wire traffic: preview,
// 100-Continue remainder, and response steps. When logIcapTraffic is
// false (the default), only ERR-level logs are emitted for this
// logger; otherwise each step logs at DebugLevel. This is a distinct
// logrus.Logger from NewLogger's so the knob gates ICAP traffic only,
// not the whole application's logging.
func NewICAPLogger(logIcapTraffic bool) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(textFormatter())
	if logIcapTraffic {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.ErrorLevel)
	}
	return log
}

func textFormatter() *logrus.TextFormatter {
	return &logrus.TextFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FullTimestamp:   true,
	}
}

// RequestLogger returns a *logrus.Entry pre-populated with the fields
// that should appear on every log line for one request: its id and the
// remote address it came from. Lines that report a phase (errors and
// the terminal line) add "phase" via WithField.
func RequestLogger(base *logrus.Logger, requestID, remoteAddr string) *logrus.Entry {
	return base.WithFields(logrus.Fields{
		"request_id":  requestID,
		"remote_addr": remoteAddr,
	})
}
