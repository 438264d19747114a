package viewer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/petervdpas/profileshare/internal/util"
)

// ComponentApp tags lines that carry no "NAME:" prefix, like startup output.
const ComponentApp = "app"

// LogEntry is one log line. Component is the lower-cased prefix the line was
// logged with (session, discovery, exchange, config, viewer, ...).
type LogEntry struct {
	TS        time.Time `json:"ts"`
	Component string    `json:"component"`
	Msg       string    `json:"msg"`
}

// LogBuffer keeps the newest log lines for the API and fans new ones out to
// live streams. It is an io.Writer for log.SetOutput.
type LogBuffer struct {
	mu      sync.Mutex
	entries *util.RingBuffer[LogEntry]
	subs    map[chan LogEntry]struct{}
	partial bytes.Buffer
	now     func() time.Time
}

func NewLogBuffer(max int) *LogBuffer {
	if max <= 0 {
		max = 500
	}
	return &LogBuffer{
		entries: util.NewRingBuffer[LogEntry](max),
		subs:    make(map[chan LogEntry]struct{}),
		now:     time.Now,
	}
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.partial.Write(p)
	for {
		data := b.partial.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(data[:i]), "\r")
		b.partial.Next(i + 1)

		e, ok := parseLogLine(line, b.now())
		if !ok {
			continue
		}
		b.entries.Push(e)
		for ch := range b.subs {
			select {
			case ch <- e:
			default:
			}
		}
	}
	return len(p), nil
}

// parseLogLine drops the standard log date/time stamp, if any, and splits off
// an upper-case component prefix such as "SESSION:".
func parseLogLine(line string, now time.Time) (LogEntry, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return LogEntry{}, false
	}
	e := LogEntry{TS: now, Component: ComponentApp, Msg: line}

	if len(line) >= 20 && line[4] == '/' && line[7] == '/' && line[10] == ' ' && line[13] == ':' {
		if ts, err := time.ParseInLocation("2006/01/02 15:04:05", line[:19], time.Local); err == nil {
			e.TS = ts
			line = strings.TrimSpace(line[19:])
			e.Msg = line
		}
	}

	if name, rest, ok := strings.Cut(line, ":"); ok && isComponent(name) {
		e.Component = strings.ToLower(name)
		e.Msg = strings.TrimSpace(rest)
	}
	return e, true
}

func isComponent(s string) bool {
	if len(s) < 2 || len(s) > 16 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func (b *LogBuffer) Snapshot() []LogEntry {
	return b.entries.Snapshot()
}

// Tail returns the newest n entries accepted by f, oldest first. n < 0 means
// all of them.
func (b *LogBuffer) Tail(n int, f componentFilter) []LogEntry {
	if f == nil {
		return b.entries.Tail(n)
	}
	var out []LogEntry
	for _, e := range b.entries.Snapshot() {
		if f.match(e) {
			out = append(out, e)
		}
	}
	if n >= 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

func (b *LogBuffer) Subscribe() (ch chan LogEntry, cancel func()) {
	_, ch, cancel = b.follow(0, nil)
	return ch, cancel
}

// follow registers a subscriber and returns the newest n entries accepted by
// f as of that moment, so nothing is seen twice or missed in between.
func (b *LogBuffer) follow(n int, f componentFilter) (backlog []LogEntry, ch chan LogEntry, cancel func()) {
	ch = make(chan LogEntry, 64)

	b.mu.Lock()
	if n > 0 {
		backlog = b.Tail(n, f)
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel = func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return backlog, ch, cancel
}

// componentFilter selects entries by component; nil accepts everything.
type componentFilter map[string]bool

func (f componentFilter) match(e LogEntry) bool {
	return f == nil || f[e.Component]
}

// parseQuery reads ?component=session,exchange and ?n=100.
func parseQuery(r *http.Request) (componentFilter, int, error) {
	q := r.URL.Query()

	var f componentFilter
	if v := q.Get("component"); v != "" {
		f = componentFilter{}
		for _, c := range strings.Split(v, ",") {
			if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
				f[c] = true
			}
		}
	}

	n := -1
	if v := q.Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			return nil, 0, fmt.Errorf("n must be a non-negative integer")
		}
		n = parsed
	}
	return f, n, nil
}

// GET /api/logs[?n=100][&component=session,exchange]
func (b *LogBuffer) ServeLogsJSON(w http.ResponseWriter, r *http.Request) {
	f, n, err := parseQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	out := b.Tail(n, f)
	if out == nil {
		out = []LogEntry{}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(out)
}

// GET /api/logs/stream[?n=20][&component=discovery] (Server-Sent Events).
// Without n only new lines are sent; with n the newest n matching lines come
// first.
func (b *LogBuffer) ServeLogsSSE(w http.ResponseWriter, r *http.Request) {
	f, n, err := parseQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	backlog, ch, cancel := b.follow(n, f)
	defer cancel()

	for _, e := range backlog {
		writeSSE(w, e)
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if !f.match(e) {
				continue
			}
			writeSSE(w, e)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, e LogEntry) {
	data, _ := json.Marshal(e)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Component, data)
}
