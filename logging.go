package lambdapipe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
)

// Logger is the sink the pipelines write errors to.
type Logger interface {
	Log(msg string)
	Warn(msg string)
	Error(msg string)
}

// levelLog is the severity used for the "log" sink. It sits at slog's info level.
const levelLog = slog.LevelInfo

type slogLogger struct {
	l *slog.Logger
}

// NewLogger returns the default Logger. Each call emits one JSON record of the form
// {"level":"log","message":"..."} on w.
func NewLogger(w io.Writer) Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				return slog.Attr{}
			case slog.MessageKey:
				a.Key = "message"
			case slog.LevelKey:
				a.Value = slog.StringValue(levelName(a.Value.Any()))
			}
			return a
		},
	})
	return &slogLogger{l: slog.New(h)}
}

// SlogLogger adapts an existing slog.Logger.
func SlogLogger(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return &slogLogger{l: l}
}

func levelName(v any) string {
	lvl, ok := v.(slog.Level)
	if !ok {
		return fmt.Sprint(v)
	}
	switch {
	case lvl >= slog.LevelError:
		return "error"
	case lvl >= slog.LevelWarn:
		return "warn"
	default:
		return "log"
	}
}

func (s *slogLogger) Log(msg string)   { s.l.Log(context.Background(), levelLog, msg) }
func (s *slogLogger) Warn(msg string)  { s.l.Warn(msg) }
func (s *slogLogger) Error(msg string) { s.l.Error(msg) }

// With returns a Logger that adds args to every record.
func (s *slogLogger) With(args ...any) Logger {
	return &slogLogger{l: s.l.With(args...)}
}

// attrLogger is implemented by loggers that can carry per-invocation attributes.
type attrLogger interface {
	With(args ...any) Logger
}

func loggerWith(l Logger, args ...any) Logger {
	if al, ok := l.(attrLogger); ok {
		return al.With(args...)
	}
	return l
}

var defaultLogger = NewLogger(os.Stdout)

// DefaultLogger returns the Logger used when none is configured. It writes to stdout.
func DefaultLogger() Logger { return defaultLogger }

// LoggingPolicy decides, from the status an error maps to, whether the error is logged.
type LoggingPolicy interface {
	Allows(status int) bool
}

// LogAll logs every error when true and none when false.
type LogAll bool

func (p LogAll) Allows(int) bool { return bool(p) }

// LogStatus logs errors whose status equals the value.
type LogStatus int

func (p LogStatus) Allows(status int) bool { return status == int(p) }

// LogRange logs errors whose status lies between Low and High, bounds included.
type LogRange struct {
	Low, High int
}

func (p LogRange) Allows(status int) bool {
	if status > p.Low && status < p.High {
		return true
	}
	return status == p.Low || status == p.High
}

// LogLists logs by membership. A blacklisted status is never logged. With a nil
// Whitelist every other status is logged; otherwise only whitelisted ones are.
type LogLists struct {
	Whitelist []int
	Blacklist []int
}

func (p LogLists) Allows(status int) bool {
	if slices.Contains(p.Blacklist, status) {
		return false
	}
	if p.Whitelist == nil {
		return true
	}
	return slices.Contains(p.Whitelist, status)
}

// ShouldLog reports whether err passes policy. Unclassified errors are evaluated as 500.
// A nil policy logs nothing.
func ShouldLog(policy LoggingPolicy, err error) bool {
	if policy == nil || err == nil {
		return false
	}
	return policy.Allows(StatusOf(err))
}

// logError emits err through logger when the policy allows it. The message goes to the
// "log" sink and a captured stack trace, if any, goes to the "error" sink.
func logError(logger Logger, policy LoggingPolicy, err error) {
	if !ShouldLog(policy, err) {
		return
	}
	defer func() { _ = recover() }()
	msg := err.Error()
	if he, ok := AsHTTPError(err); ok && he.Message != "" {
		msg = he.Message
	}
	logger.Log(msg)
	if st := stackOf(err); st != "" {
		logger.Error(st)
	}
}

// ParseLoggingPolicy parses the textual form used in configuration:
//
//	true | false            LogAll
//	404                     LogStatus
//	400-500                 LogRange
//	whitelist=400,404;blacklist=500
func ParseLoggingPolicy(s string) (LoggingPolicy, error) {
	s = strings.TrimSpace(s)
	if b, err := strconv.ParseBool(s); err == nil {
		return LogAll(b), nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return LogStatus(n), nil
	}
	if strings.Contains(s, "=") {
		var p LogLists
		for _, part := range strings.Split(s, ";") {
			key, val, ok := strings.Cut(strings.TrimSpace(part), "=")
			if !ok {
				return nil, fmt.Errorf("invalid logging policy segment %q", part)
			}
			codes, err := parseStatusList(val)
			if err != nil {
				return nil, err
			}
			switch strings.ToLower(key) {
			case "whitelist":
				p.Whitelist = codes
			case "blacklist":
				p.Blacklist = codes
			default:
				return nil, fmt.Errorf("invalid logging policy key %q", key)
			}
		}
		return p, nil
	}
	if lo, hi, ok := strings.Cut(s, "-"); ok {
		low, err1 := strconv.Atoi(strings.TrimSpace(lo))
		high, err2 := strconv.Atoi(strings.TrimSpace(hi))
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("invalid logging range %q", s)
		}
		return LogRange{Low: low, High: high}, nil
	}
	return nil, fmt.Errorf("invalid logging policy %q", s)
}

func parseStatusList(s string) ([]int, error) {
	codes := []int{}
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid status %q: %w", f, err)
		}
		codes = append(codes, n)
	}
	if len(codes) == 0 {
		return nil, fmt.Errorf("empty status list %q", s)
	}
	return codes, nil
}
