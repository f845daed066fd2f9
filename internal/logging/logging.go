// Package logging centralizes the structured logger every other
// package pulls its component-scoped entry from: every log line
// carries a "component" field (acceptor, proposer, learner, ...)
// instead of a bracketed string prefix, so log lines stay
// machine-parseable.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// base is the process-wide logger every component entry derives from.
// It writes JSON to stderr at info level, the way a service meant to
// run under a log collector should; SetLevel and SetPlainText change
// that.
var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel adjusts the process-wide log level, parsing the same level
// names logrus.ParseLevel accepts ("debug", "info", "warn", ...).
func SetLevel(name string) error {
	level, err := logrus.ParseLevel(name)
	if err != nil {
		return err
	}
	base.SetLevel(level)
	return nil
}

// SetPlainText switches the output formatter to logrus's human-
// readable TextFormatter, useful for local development against a
// terminal instead of a log collector.
func SetPlainText() {
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// For returns the *logrus.Entry a package should log through,
// tagged with its component name. Each package that logs calls this
// once at init time and keeps the returned entry as a package-level
// variable, logging one line per event.
func For(component string) *logrus.Entry {
	return base.WithField("component", component)
}

// WithAgentID returns an entry tagged with both the component name and
// the owning agent's identifier (an agent_id field).
func WithAgentID(component, agentID string) *logrus.Entry {
	return base.WithFields(logrus.Fields{"component": component, "agent_id": agentID})
}
