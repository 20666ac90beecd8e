// Package log provides the logrus output formatter used by leadsync.
package log

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

const defaultTimestampFormat = "2006-01-02 15:04:05"

// Formatter renders entries as "TIMESTAMP LEVEL message key=value ...".
// Fields are emitted in sorted order so log lines are stable and greppable.
type Formatter struct {
	// NoColors disables ANSI level coloring, e.g. when output is not a terminal.
	NoColors bool
}

// NewFormatter creates a new Formatter. Pass noColors=true for plain output.
func NewFormatter(noColors bool) *Formatter {
	return &Formatter{NoColors: noColors}
}

// Format implements logrus.Formatter.
func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	b := &bytes.Buffer{}

	b.WriteString(entry.Time.Format(defaultTimestampFormat))
	b.WriteByte(' ')
	f.writeLevel(b, entry.Level)
	b.WriteByte(' ')
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, " %s=%v", k, entry.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func (f *Formatter) writeLevel(b *bytes.Buffer, level logrus.Level) {
	name := strings.ToUpper(level.String())
	if f.NoColors {
		b.WriteString(name)
		return
	}
	var color int
	switch level {
	case logrus.DebugLevel, logrus.TraceLevel:
		color = 37 // gray
	case logrus.WarnLevel:
		color = 33 // yellow
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		color = 31 // red
	default:
		color = 36 // cyan
	}
	fmt.Fprintf(b, "\x1b[%dm%s\x1b[0m", color, name)
}
