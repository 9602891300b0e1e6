package eventlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ReadAll parses every line of the file at path. Malformed lines are skipped.
// A missing file yields no events and no error.
func ReadAll(path string) ([]Event, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if ev, ok := parseLine(sc.Bytes()); ok {
			events = append(events, ev)
		}
	}
	if err := sc.Err(); err != nil {
		return events, fmt.Errorf("eventlog: read %s: %w", path, err)
	}
	return events, nil
}

// ReadLast returns at most n of the most recent events, oldest first.
func ReadLast(path string, n int) ([]Event, error) {
	events, err := ReadAll(path)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return events, nil
}

func parseLine(line []byte) (Event, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Event{}, false
	}
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return Event{}, false
	}
	return ev, true
}

// Follow tails the file at path and calls handle for every new event until ctx
// is done. With fromStart, existing lines are delivered first. The file may not
// exist yet; it is picked up when created. Truncation restarts from offset zero.
func Follow(ctx context.Context, path string, fromStart bool, handle func(Event)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("eventlog: watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory so create and rename are seen too.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("eventlog: watch %s: %w", filepath.Dir(path), err)
	}

	t := &tailer{path: path, handle: handle}
	if !fromStart {
		if fi, err := os.Stat(path); err == nil {
			t.offset = fi.Size()
		}
	}
	if err := t.drain(); err != nil {
		return err
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				t.offset = 0
				t.partial = nil
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				if err := t.drain(); err != nil {
					return err
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("eventlog: watcher: %w", err)
		}
	}
}

type tailer struct {
	path    string
	offset  int64
	partial []byte
	handle  func(Event)
}

// drain reads everything past offset and emits complete lines.
func (t *tailer) drain() error {
	f, err := os.Open(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("eventlog: open %s: %w", t.path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("eventlog: stat %s: %w", t.path, err)
	}
	if fi.Size() < t.offset {
		t.offset = 0
		t.partial = nil
	}
	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return fmt.Errorf("eventlog: seek: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("eventlog: read: %w", err)
	}
	t.offset += int64(len(data))

	buf := append(t.partial, data...)
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		if ev, ok := parseLine(buf[:i]); ok {
			t.handle(ev)
		}
		buf = buf[i+1:]
	}
	t.partial = append([]byte(nil), buf...)
	return nil
}
