package log

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// DefaultTimeFormat is used when a capture pattern has %time but no format.
const DefaultTimeFormat = "15:04:05.000"

// patternFormatter renders entries through a pattern with the placeholders
// %time, %level, %field, %msg and %n.
type patternFormatter struct {
	pattern string
	time    string
}

func (f *patternFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	r := strings.NewReplacer(
		"%time", entry.Time.Format(f.time),
		"%level", entry.Level.String(),
		"%field", buildFields(entry),
		"%msg", entry.Message,
		"%n", "\n",
	)
	return []byte(r.Replace(f.pattern)), nil
}

// buildFields renders entry data as k=v pairs sorted by key.
func buildFields(entry *logrus.Entry) string {
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]string, 0, len(keys))
	for _, k := range keys {
		val, ok := entry.Data[k].(string)
		if !ok {
			val = fmt.Sprint(entry.Data[k])
		}
		fields = append(fields, k+"="+val)
	}
	return strings.Join(fields, ",")
}

// NewCaptureLogger returns a logrus logger that writes one pattern-formatted
// line per captured message to w.
func NewCaptureLogger(w io.Writer, pattern, timeFormat string) *logrus.Logger {
	if pattern == "" {
		pattern = "%msg%n"
	}
	if timeFormat == "" {
		timeFormat = DefaultTimeFormat
	}
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&patternFormatter{pattern: pattern, time: timeFormat})
	return l
}
