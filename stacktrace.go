package apmz

import (
	"fmt"

	"github.com/getsentry/sentry-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// StackFrame is one formatted stack frame, innermost first.
type StackFrame struct {
	Function string `json:"function,omitempty"`
	Module   string `json:"module,omitempty"`
	Filename string `json:"filename,omitempty"`
	AbsPath  string `json:"abs_path,omitempty"`
	Lineno   int    `json:"lineno,omitempty"`
	Library  bool   `json:"library_frame"`
}

// StackTraceFormatter turns raw frames into formatted ones. Implementations
// may fail; callers then report the error without a stack trace.
type StackTraceFormatter interface {
	Format(frames []sentry.Frame, logger *zap.Logger, failureLabel string) ([]StackFrame, error)
}

// ErrNoFrames is returned when none of the raw frames can be resolved.
var ErrNoFrames = errors.New("no resolvable stack frames")

// DefaultFormatter keeps at most Limit frames; zero keeps all of them.
type DefaultFormatter struct {
	Limit int
}

// Format implements StackTraceFormatter. Sentry orders frames outermost
// first; the result is innermost first.
func (f DefaultFormatter) Format(frames []sentry.Frame, logger *zap.Logger, failureLabel string) ([]StackFrame, error) {
	out := make([]StackFrame, 0, len(frames))
	for i := len(frames) - 1; i >= 0; i-- {
		fr := frames[i]
		if fr.Function == "" && fr.AbsPath == "" && fr.Filename == "" {
			continue
		}
		out = append(out, StackFrame{
			Function: fr.Function,
			Module:   fr.Module,
			Filename: fr.Filename,
			AbsPath:  fr.AbsPath,
			Lineno:   fr.Lineno,
			Library:  !fr.InApp,
		})
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	if len(out) == 0 {
		return nil, errors.Wrap(ErrNoFrames, failureLabel)
	}
	if logger != nil {
		logger.Debug("formatted stack trace", zap.Int("frames", len(out)))
	}
	return out, nil
}

// formatStackTrace never fails: a formatter error or panic is logged and
// yields a nil trace.
func formatStackTrace(formatter StackTraceFormatter, frames []sentry.Frame, logger *zap.Logger, failureLabel string) (trace []StackFrame) {
	if formatter == nil || len(frames) == 0 {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Debug(failureLabel, zap.String("panic", fmt.Sprint(r)))
			trace = nil
		}
	}()
	trace, err := formatter.Format(frames, logger, failureLabel)
	if err != nil {
		logger.Debug(failureLabel, zap.Error(err))
		return nil
	}
	return trace
}

// errorFrames extracts the stack recorded by err, if any.
func errorFrames(err error) []sentry.Frame {
	if st := sentry.ExtractStacktrace(err); st != nil {
		return st.Frames
	}
	return nil
}

// CurrentFrames captures the caller's stack.
func CurrentFrames() []sentry.Frame {
	if st := sentry.NewStacktrace(); st != nil {
		return st.Frames
	}
	return nil
}
