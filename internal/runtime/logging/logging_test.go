package logging

import (
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
)

func TestEntryServiceLoggerDelegates(t *testing.T) {
	entry := newMemoEntry()
	logger := NewEntryServiceLogger(entry)

	logger.Info("router started", LogFields{"queue": "receive"})

	child := logger.With(LogFields{"report_id": "0198a2b4"})
	child.Debug("stage dispatched", LogFields{"stage": "convert"})

	failure := errors.New("blob fetch failed")
	child.Error("stage failed", failure, LogFields{"stage": "convert"})

	child.Trace("stage trace", nil)

	logs := entry.memo.logs
	if len(logs) != 4 {
		t.Fatalf("expected 4 log entries, got %d", len(logs))
	}

	if logs[0].level != "info" || logs[0].msg != "router started" {
		t.Fatalf("unexpected first log: %#v", logs[0])
	}
	if got := logs[0].fields["queue"]; got != "receive" {
		t.Fatalf("missing queue field, got %v", got)
	}

	if logs[1].level != "debug" {
		t.Fatalf("expected debug level on second log, got %s", logs[1].level)
	}
	if logs[1].fields["report_id"] != "0198a2b4" || logs[1].fields["stage"] != "convert" {
		t.Fatalf("expected With fields to merge into call fields, got %#v", logs[1].fields)
	}

	if logs[2].level != "error" || logs[2].err != failure {
		t.Fatalf("expected failure carried through, got %#v", logs[2])
	}

	if logs[3].level != "trace" {
		t.Fatalf("expected trace level on final log, got %s", logs[3].level)
	}
}

func TestEntryServiceLoggerPanicsOnNil(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for nil entry logger")
		}
	}()
	NewEntryServiceLogger[EntryLogger](nil)
}

func TestEntryServiceLoggerWithNilFields(t *testing.T) {
	entry := newMemoEntry()
	logger := NewEntryServiceLogger(entry)
	logger.With(nil).Info("router started", nil)

	if len(entry.memo.logs) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entry.memo.logs))
	}
}

func TestWatermillServiceLoggerDelegates(t *testing.T) {
	base := newMemoWatermillLogger()
	logger := NewWatermillServiceLogger(base)

	logger.Debug("subscriber ready", LogFields{"queue": "convert"})
	logger.Info("router started", nil)
	logger.Trace("message seen", LogFields{"redelivered": true})
	logger.Error("publish failed", errors.New("broker down"), LogFields{"queue": "send"})

	child := logger.With(LogFields{"report_id": "0198a2b4"})
	typedChild, ok := child.(*watermillServiceLogger)
	if !ok {
		t.Fatal("expected watermill service logger")
	}
	typedChild.Info("stage done", nil)

	if len(base.entries) != 6 {
		t.Fatalf("expected 6 log entries, got %d", len(base.entries))
	}
	if base.entries[0].level != "debug" || base.entries[0].fields["queue"] != "convert" {
		t.Fatalf("unexpected first entry: %#v", base.entries[0])
	}
	if base.entries[4].fields["report_id"] != "0198a2b4" {
		t.Fatalf("expected With to propagate fields, got %#v", base.entries[4].fields)
	}
}

func TestWatermillServiceLoggerPanicsOnNil(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for nil watermill logger")
		}
	}()
	NewWatermillServiceLogger(nil)
}

func TestSlogServiceLoggerPanicsOnNil(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for nil slog logger")
		}
	}()
	NewSlogServiceLogger(nil)
}

func TestSlogServiceLoggerWrapsSlog(t *testing.T) {
	base := slog.New(slog.NewTextHandler(discardWriter{}, nil))
	logger := NewSlogServiceLogger(base)
	logger.Info("router started", LogFields{"queue": "receive"})
}

func TestWatermillAdapterDelegates(t *testing.T) {
	base := &memoServiceLogger{}
	adapter := NewWatermillAdapter(base)

	adapter.Debug("subscriber ready", watermill.LogFields{"queue": "receive"})
	adapter.Info("router started", nil)
	adapter.Trace("message seen", nil)
	adapter.Error("publish failed", errors.New("broker down"), nil)

	child := adapter.With(watermill.LogFields{"report_id": "0198a2b4"})
	typedChild, ok := child.(*serviceLoggerAdapter)
	if !ok {
		t.Fatal("expected service logger adapter child")
	}
	childBase, ok := typedChild.base.(*memoServiceLogger)
	if !ok {
		t.Fatal("expected memo service logger child base")
	}
	child.Info("stage done", nil)

	if len(base.entries) != 4 {
		t.Fatalf("expected 4 delegated entries on base, got %d", len(base.entries))
	}
	if len(childBase.entries) != 2 {
		t.Fatalf("expected child logger to record entries, got %d", len(childBase.entries))
	}
	if childBase.entries[0].fields["report_id"] != "0198a2b4" {
		t.Fatal("expected child fields to be preserved")
	}
}

func TestWatermillAdapterPanicsOnNil(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for nil base logger")
		}
	}()
	NewWatermillAdapter(nil)
}

func TestApplyEntryFieldsIgnoresNil(t *testing.T) {
	entry := newMemoEntry()
	if applyEntryFields(entry, nil) != entry {
		t.Fatal("nil fields should return the same instance")
	}
	if applyEntryFields(entry, LogFields{"queue": "receive"}) == entry {
		t.Fatal("non-empty fields should produce a new entry")
	}
}

func TestWatermillFieldConversions(t *testing.T) {
	if toWatermillFields(nil) != nil {
		t.Fatal("expected nil conversion to return nil")
	}
	if fromWatermillFields(nil) != nil {
		t.Fatal("expected nil conversion to return nil")
	}

	wm := toWatermillFields(LogFields{"attempt": 2})
	if wm["attempt"].(int) != 2 {
		t.Fatalf("unexpected watermill fields: %#v", wm)
	}
	lf := fromWatermillFields(wm)
	if lf["attempt"].(int) != 2 {
		t.Fatalf("unexpected log fields: %#v", lf)
	}
}

// memoWatermillLogger records every call, sharing one sink across With
// children so ordering assertions can span the whole tree.
type memoWatermillLogger struct {
	entries []watermillEntry
	sink    *[]watermillEntry
}

type watermillEntry struct {
	level  string
	fields watermill.LogFields
	err    error
}

func newMemoWatermillLogger() *memoWatermillLogger {
	logger := &memoWatermillLogger{}
	logger.sink = &logger.entries
	return logger
}

func (r *memoWatermillLogger) record(entry watermillEntry) {
	if r.sink == nil {
		r.sink = &r.entries
	}
	*r.sink = append(*r.sink, entry)
}

func (r *memoWatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	r.record(watermillEntry{level: "error", fields: fields, err: err})
}

func (r *memoWatermillLogger) Info(msg string, fields watermill.LogFields) {
	r.record(watermillEntry{level: "info", fields: fields})
}

func (r *memoWatermillLogger) Debug(msg string, fields watermill.LogFields) {
	r.record(watermillEntry{level: "debug", fields: fields})
}

func (r *memoWatermillLogger) Trace(msg string, fields watermill.LogFields) {
	r.record(watermillEntry{level: "trace", fields: fields})
}

func (r *memoWatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	child := newMemoWatermillLogger()
	child.sink = r.sink
	child.record(watermillEntry{level: "with", fields: fields})
	return child
}

type memoServiceLogger struct {
	entries []loggedEntry
}

type loggedEntry struct {
	level  string
	msg    string
	fields LogFields
	err    error
}

func (r *memoServiceLogger) With(fields LogFields) ServiceLogger {
	child := &memoServiceLogger{}
	child.entries = append(child.entries, loggedEntry{level: "with", fields: fields})
	return child
}

func (r *memoServiceLogger) Debug(msg string, fields LogFields) {
	r.entries = append(r.entries, loggedEntry{level: "debug", msg: msg, fields: fields})
}

func (r *memoServiceLogger) Info(msg string, fields LogFields) {
	r.entries = append(r.entries, loggedEntry{level: "info", msg: msg, fields: fields})
}

func (r *memoServiceLogger) Error(msg string, err error, fields LogFields) {
	r.entries = append(r.entries, loggedEntry{level: "error", msg: msg, fields: fields, err: err})
}

func (r *memoServiceLogger) Trace(msg string, fields LogFields) {
	r.entries = append(r.entries, loggedEntry{level: "trace", msg: msg, fields: fields})
}

// memoEntry imitates a logrus-style entry logger: WithField and WithError
// return enriched clones that share one recorder.
type memoEntry struct {
	memo   *entryMemo
	fields LogFields
	err    error
}

type entryMemo struct {
	logs []loggedEntry
}

func newMemoEntry() *memoEntry {
	return &memoEntry{memo: &entryMemo{}}
}

func (f *memoEntry) clone() *memoEntry {
	return &memoEntry{memo: f.memo, fields: copyFields(f.fields), err: f.err}
}

func (f *memoEntry) Error(args ...any) { f.append("error", args...) }
func (f *memoEntry) Info(args ...any)  { f.append("info", args...) }
func (f *memoEntry) Debug(args ...any) { f.append("debug", args...) }
func (f *memoEntry) Trace(args ...any) { f.append("trace", args...) }

func (f *memoEntry) WithError(err error) *memoEntry {
	clone := f.clone()
	clone.err = err
	return clone
}

func (f *memoEntry) WithField(key string, value any) *memoEntry {
	clone := f.clone()
	if clone.fields == nil {
		clone.fields = make(LogFields)
	}
	clone.fields[key] = value
	return clone
}

func (f *memoEntry) append(level string, args ...any) {
	f.memo.logs = append(f.memo.logs, loggedEntry{
		level:  level,
		msg:    fmt.Sprint(args...),
		fields: copyFields(f.fields),
		err:    f.err,
	})
}

func copyFields(fields LogFields) LogFields {
	if len(fields) == 0 {
		return nil
	}
	out := make(LogFields, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
