/*
Maddy Mail Server - Composable all-in-one email server.
Copyright © 2019-2020 Max Mazurov <fox.cpp@disroot.org>, Maddy Mail Server contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package log implements a minimalistic logging library used throughout
// hashcash-milter. Severity is not a field on Logger; callers pick the
// method (Msg for INFO-level progress/statistics, Debugf for debug-only
// detail, Warn for NOTICE/WARNING-level soft failures, Error for errors
// that degrade a message to passive) the way the rest of this codebase does.
package log

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"strconv"
	"strings"
	"time"
)

// Logger is the structure that writes formatted output to the underlying
// log.Output object.
//
// Logger is stateless and can be copied freely. However, consider that
// underlying log.Output will not be copied.
//
// Each log message is prefixed with logger name. Timestamp and debug flag
// formatting is done by log.Output.
type Logger struct {
	Out   Output
	Name  string
	Debug bool

	// Fields are added to the output of every call made through this
	// Logger, in addition to any fields passed to that specific call.
	Fields []interface{}
}

func (l Logger) Debugf(format string, val ...interface{}) {
	if !l.Debug {
		return
	}
	l.log(true, l.formatMsg(fmt.Sprintf(format, val...), nil))
}

func (l Logger) Printf(format string, val ...interface{}) {
	l.log(false, l.formatMsg(fmt.Sprintf(format, val...), nil))
}

// Msg writes an event log message in a loosely defined machine-readable
// format:
//
//	name: msg (key=value; key2=value2)
//
// Key-value pairs are built from fields which should contain key strings
// followed by corresponding values, e.g. []interface{}{"key", "value"}.
// Msg is the INFO-equivalent severity for progress and statistics output.
func (l Logger) Msg(msg string, fields ...interface{}) {
	l.log(false, l.formatMsg(msg, fields))
}

// Warn is the NOTICE/WARNING-equivalent severity used for per-message soft
// failures that do not stop the filter from accepting the message (spec
// error taxonomy: allocation failure, malformed address, clock failure,
// randomness read failure, ledger operation failure).
func (l Logger) Warn(msg string, fields ...interface{}) {
	l.log(false, l.formatMsg("WARNING: "+msg, fields))
}

// Error writes an event log message containing information about err. In
// the context of Error, "msg" typically indicates the top-level context in
// which the error is *handled* — e.g. "mint abandoned", not the error
// itself.
func (l Logger) Error(msg string, err error, fields ...interface{}) {
	allFields := make([]interface{}, 0, len(fields)+2)
	allFields = append(allFields, "reason", err.Error())
	allFields = append(allFields, fields...)
	l.log(false, l.formatMsg("ERROR: "+msg, allFields))
}

func (l Logger) formatMsg(msg string, ctx []interface{}) string {
	formatted := strings.Builder{}
	formatted.WriteString(msg)

	if len(ctx)+len(l.Fields) != 0 {
		formatted.WriteString(" (")
		formatFields(&formatted, ctx, len(l.Fields) != 0)
		formatFields(&formatted, l.Fields, false)
		formatted.WriteString(")")
	}

	return formatted.String()
}

type LogFormatter interface {
	FormatLog() string
}

func formatFields(msg *strings.Builder, ctx []interface{}, lastSemicolon bool) {
	for i := 0; i < len(ctx)-1; i += 2 {
		key, _ := ctx[i].(string)
		msg.WriteString(key)
		msg.WriteString("=")
		writeFieldValue(msg, ctx[i+1])
		if lastSemicolon || i+2 < len(ctx) {
			msg.WriteString("; ")
		}
	}
}

func writeFieldValue(msg *strings.Builder, val interface{}) {
	switch val := val.(type) {
	case int:
		msg.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		msg.WriteString(strconv.FormatInt(val, 10))
	case uint:
		msg.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint64:
		msg.WriteString(strconv.FormatUint(val, 10))
	case float64:
		msg.WriteString(strconv.FormatFloat(val, 'f', 2, 64))
	case bool:
		msg.WriteString(strconv.FormatBool(val))
	case string:
		msg.WriteString(strconv.Quote(val))
	case LogFormatter:
		msg.WriteString(val.FormatLog())
	case time.Time:
		msg.WriteString(val.Format("2006-01-02T15:04:05"))
	case time.Duration:
		msg.WriteString(val.String())
	case fmt.Stringer:
		msg.WriteString(strconv.Quote(val.String()))
	case error:
		msg.WriteString(strconv.Quote(val.Error()))
	case nil:
		msg.WriteString("null")
	default:
		msg.WriteString(strconv.Quote(fmt.Sprint(val)))
	}
}

// Write implements io.Writer; all bytes sent to it are written as a
// separate log message. No line-buffering is done.
func (l Logger) Write(s []byte) (int, error) {
	l.log(false, strings.TrimRight(string(s), "\n"))
	return len(s), nil
}

// DebugWriter returns a writer that will act like Logger.Write but will use
// the debug flag on messages. If Logger.Debug is false, Write on the
// returned object is a no-op.
func (l Logger) DebugWriter() io.Writer {
	if !l.Debug {
		return ioutil.Discard
	}
	l.Debug = true
	return &l
}

func (l Logger) log(debug bool, s string) {
	if l.Name != "" {
		s = l.Name + ": " + s
	}

	if l.Out != nil {
		l.Out.Write(time.Now(), debug, s)
		return
	}
	if DefaultLogger.Out != nil {
		DefaultLogger.Out.Write(time.Now(), debug, s)
		return
	}
}

// DefaultLogger is the global Logger used by package-level logging
// functions.
var DefaultLogger = Logger{Out: WriterOutput(os.Stderr, true)}

func Debugf(format string, val ...interface{}) { DefaultLogger.Debugf(format, val...) }
func Printf(format string, val ...interface{}) { DefaultLogger.Printf(format, val...) }
func Println(val ...interface{})               { DefaultLogger.Printf("%s", fmt.Sprintln(val...)) }
