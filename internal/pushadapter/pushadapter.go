// Package pushadapter fans session messages out to an external chat
// transport with per-session debouncing (spec §4.7). Grounded on
// internal/tool/webfetch.go's bounded http.Client + context-timeout
// request pattern for the outbound POST. The handoff between a debounce
// flush (or a bypassing critical event) and the actual POST runs through
// a watermill gochannel queue: a single consumer goroutine drains it and
// performs deliveries one at a time, so a slow or stuck destination
// never blocks the goroutine that fired the flush timer.
package pushadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/sessiond/sessiond/internal/logging"
	"github.com/sessiond/sessiond/pkg/types"
)

const sendTopic = "pushadapter.send"

const (
	defaultDebounce   = 1500 * time.Millisecond
	defaultRequestTimeout = 10 * time.Second
	maxResponseBytes  = 64 * 1024
)

// Destination is one external chat transport endpoint.
type Destination struct {
	ID             string
	URL            string
	MaxMessageSize int
}

// Formatter renders a batch of session messages into one or more chunks,
// each no larger than maxChunkSize. Kept as a thin interface — an
// external collaborator the adapter doesn't need to own, the way
// command.Dispatcher is for slash-command handling.
type Formatter interface {
	Format(messages []types.SessionMessage, maxChunkSize int) []string
}

// PlainFormatter joins message content with newlines and splits on
// chunk boundaries without any markup.
type PlainFormatter struct{}

func (PlainFormatter) Format(messages []types.SessionMessage, maxChunkSize int) []string {
	if len(messages) == 0 {
		return nil
	}
	if maxChunkSize <= 0 {
		maxChunkSize = 4096
	}

	var chunks []string
	var current bytes.Buffer
	for _, msg := range messages {
		line := msg.Content
		if current.Len() > 0 && current.Len()+len(line)+1 > maxChunkSize {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		if len(line) > maxChunkSize {
			line = line[:maxChunkSize]
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

type sessionState struct {
	destID string
	batch  []types.SessionMessage
	timer  *time.Timer
}

// PushAdapter owns per-session debounce state and dispatches to
// registered destinations.
type PushAdapter struct {
	mu sync.Mutex

	destinations  map[string]Destination
	defaultDestID string

	sessions map[string]*sessionState

	debounce  time.Duration
	formatter Formatter
	client    *http.Client
	queue     *gochannel.GoChannel
}

// sendJob is one queued delivery: the resolved destination plus the
// already-formatted body, enqueued by a flush and drained by consume.
type sendJob struct {
	Dest Destination `json:"dest"`
	Body string      `json:"body"`
}

// New creates a PushAdapter using debounce as the default batch window
// (defaultDebounce if zero) and formatter for rendering batches
// (PlainFormatter{} if nil).
func New(debounce time.Duration, formatter Formatter) *PushAdapter {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if formatter == nil {
		formatter = PlainFormatter{}
	}
	a := &PushAdapter{
		destinations: make(map[string]Destination),
		sessions:     make(map[string]*sessionState),
		debounce:     debounce,
		formatter:    formatter,
		client:       &http.Client{Timeout: defaultRequestTimeout},
		queue: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64, Persistent: false},
			watermill.NopLogger{},
		),
	}

	jobs, err := a.queue.Subscribe(context.Background(), sendTopic)
	if err != nil {
		logging.Error().Err(err).Msg("pushadapter: queue subscribe failed, deliveries will be dropped")
		return a
	}
	go a.consume(jobs)
	return a
}

// consume drains queued deliveries one at a time until the queue closes.
func (a *PushAdapter) consume(jobs <-chan *message.Message) {
	for m := range jobs {
		var job sendJob
		if err := json.Unmarshal(m.Payload, &job); err == nil {
			a.deliver(job.Dest, job.Body)
		}
		m.Ack()
	}
}

// RegisterDestination installs a destination; the first one registered
// becomes the default used by bindSession when destId is empty.
func (a *PushAdapter) RegisterDestination(d Destination) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.destinations[d.ID] = d
	if a.defaultDestID == "" {
		a.defaultDestID = d.ID
	}
}

// BindSession associates sid with a destination, defaulting to the
// adapter's default destination when destID is empty.
func (a *PushAdapter) BindSession(sid, destID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if destID == "" {
		destID = a.defaultDestID
	}
	st, ok := a.sessions[sid]
	if !ok {
		st = &sessionState{}
		a.sessions[sid] = st
	}
	st.destID = destID
}

// UnbindSession flushes any pending batch then forgets sid.
func (a *PushAdapter) UnbindSession(sid string) {
	a.flushLocked(sid, true)
}

// HandleMessage appends msg to sid's batch and (re)schedules its
// debounce flush. Messages for an unbound session are dropped with a
// warning, never buffered.
func (a *PushAdapter) HandleMessage(sid string, msg types.SessionMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.sessions[sid]
	if !ok || st.destID == "" {
		logging.Session(logging.Warn(), sid).Msg("pushadapter: dropping message for unbound session")
		return
	}

	st.batch = append(st.batch, msg)
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(a.debounce, func() {
		a.flushLocked(sid, false)
	})
}

// HandleEvents sends permission_request, task_complete, and error events
// immediately, bypassing the debounce batch entirely. Other event types
// are ignored here.
func (a *PushAdapter) HandleEvents(sid string, events []types.SessionEvent) {
	for _, ev := range events {
		switch ev.Type {
		case types.EventPermissionRequest, types.EventTaskComplete, types.EventError:
		default:
			continue
		}

		a.mu.Lock()
		st, ok := a.sessions[sid]
		a.mu.Unlock()
		if !ok || st.destID == "" {
			continue
		}

		a.mu.Lock()
		dest, ok := a.destinations[st.destID]
		a.mu.Unlock()
		if !ok {
			continue
		}

		a.send(dest, formatEventLine(ev))
	}
}

// Dispose flushes every pending batch and forgets every bound session.
// Registered destinations are kept.
func (a *PushAdapter) Dispose() {
	a.mu.Lock()
	sids := make([]string, 0, len(a.sessions))
	for sid := range a.sessions {
		sids = append(sids, sid)
	}
	a.mu.Unlock()

	for _, sid := range sids {
		a.flushLocked(sid, true)
	}
}

// Close stops the delivery consumer. Call once, after Dispose, during
// shutdown; queued-but-undelivered jobs are lost.
func (a *PushAdapter) Close() error {
	return a.queue.Close()
}

// flushLocked flushes sid's pending batch. If remove is true the session
// is forgotten afterward (used by unbindSession/dispose).
func (a *PushAdapter) flushLocked(sid string, remove bool) {
	a.mu.Lock()
	st, ok := a.sessions[sid]
	if !ok {
		a.mu.Unlock()
		return
	}
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	batch := st.batch
	st.batch = nil
	destID := st.destID
	dest, destOK := a.destinations[destID]
	if remove {
		delete(a.sessions, sid)
	}
	a.mu.Unlock()

	if len(batch) == 0 || !destOK {
		return
	}

	maxSize := dest.MaxMessageSize
	chunks := a.formatter.Format(batch, maxSize)
	for _, chunk := range chunks {
		a.send(dest, chunk)
	}
}

// send enqueues body for delivery to dest on the consumer goroutine
// rather than posting inline, so a flush never blocks on the network.
func (a *PushAdapter) send(dest Destination, body string) {
	payload, err := json.Marshal(sendJob{Dest: dest, Body: body})
	if err != nil {
		logging.Destination(logging.Warn(), dest.ID).Err(err).Msg("pushadapter: failed to encode send job")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := a.queue.Publish(sendTopic, msg); err != nil {
		logging.Destination(logging.Warn(), dest.ID).Err(err).Msg("pushadapter: failed to enqueue send")
	}
}

// deliver POSTs body to dest, honoring a single Retry-After-governed
// retry on HTTP 429. Never returns an error to the caller: failures are
// logged and dropped, matching spec §4.7's "never throws out of the
// public API".
func (a *PushAdapter) deliver(dest Destination, body string) {
	if err := a.post(dest, body); err != nil {
		status, retryAfter, is429 := as429(err)
		if !is429 {
			logging.Destination(logging.Warn(), dest.ID).Err(err).Msg("pushadapter: send failed")
			return
		}

		time.Sleep(retryAfter)
		if err := a.post(dest, body); err != nil {
			logging.Destination(logging.Warn(), dest.ID).Int("status", status).Err(err).Msg("pushadapter: retry failed")
		}
	}
}

type statusError struct {
	status     int
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.status)
}

func as429(err error) (status int, retryAfter time.Duration, ok bool) {
	se, ok := err.(*statusError)
	if !ok || se.status != http.StatusTooManyRequests {
		return 0, 0, false
	}
	return se.status, se.retryAfter, true
}

func (a *PushAdapter) post(dest Destination, body string) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest.URL, bytes.NewReader([]byte(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode == http.StatusTooManyRequests {
		return &statusError{status: resp.StatusCode, retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{status: resp.StatusCode}
	}
	return nil
}

func parseRetryAfter(header string) time.Duration {
	const maxRetryAfter = 60 * time.Second
	wait := time.Second
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		wait = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(header); err == nil {
		wait = time.Until(at)
		if wait < 0 {
			wait = 0
		}
	}
	if wait > maxRetryAfter {
		wait = maxRetryAfter
	}
	return wait
}

func formatEventLine(ev types.SessionEvent) string {
	return fmt.Sprintf("[%s/%s] %s", ev.Severity, ev.Type, ev.Summary)
}
