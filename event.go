package mpv

import (
	"fmt"
	"sync/atomic"

	"github.com/agiangrant/mpvclient/internal/ffi"
)

// EventID is the mpv_event_id discriminant.
type EventID int32

const (
	EventNone             EventID = 0
	EventShutdown         EventID = 1
	EventLogMessage       EventID = 2
	EventGetPropertyReply EventID = 3
	EventSetPropertyReply EventID = 4
	EventCommandReply     EventID = 5
	EventStartFile        EventID = 6
	EventEndFile          EventID = 7
	EventFileLoaded       EventID = 8
	EventClientMessage    EventID = 16
	EventVideoReconfig    EventID = 17
	EventAudioReconfig    EventID = 18
	EventSeek             EventID = 20
	EventPlaybackRestart  EventID = 21
	EventPropertyChange   EventID = 22
	EventQueueOverflow    EventID = 24
	EventHook             EventID = 25
)

var eventNames = map[EventID]string{
	EventNone:             "none",
	EventShutdown:         "shutdown",
	EventLogMessage:       "log-message",
	EventGetPropertyReply: "get-property-reply",
	EventSetPropertyReply: "set-property-reply",
	EventCommandReply:     "command-reply",
	EventStartFile:        "start-file",
	EventEndFile:          "end-file",
	EventFileLoaded:       "file-loaded",
	EventClientMessage:    "client-message",
	EventVideoReconfig:    "video-reconfig",
	EventAudioReconfig:    "audio-reconfig",
	EventSeek:             "seek",
	EventPlaybackRestart:  "playback-restart",
	EventPropertyChange:   "property-change",
	EventQueueOverflow:    "queue-overflow",
	EventHook:             "hook",
}

func (id EventID) String() string {
	if s, ok := eventNames[id]; ok {
		return s
	}
	return fmt.Sprintf("event(%d)", int32(id))
}

// EventIDByName resolves a name as returned by String.
func EventIDByName(name string) (EventID, bool) {
	for id, s := range eventNames {
		if s == name {
			return id, true
		}
	}
	return EventNone, false
}

// ============================================================================
// Poll Scope
// ============================================================================

// scope ties a payload to the WaitEvent call that produced it. The client
// bumps gen before every poll, which invalidates all payloads of the previous
// one.
type scope struct {
	gen    *atomic.Uint64
	at     uint64
	lookup messageFunc
}

func (s scope) check() {
	if s.gen != nil && s.gen.Load() != s.at {
		panic(ErrStaleEvent)
	}
}

// Valid reports whether payloads of the event can still be read.
func (e Event) Valid() bool {
	return e.scope.gen == nil || e.scope.gen.Load() == e.scope.at
}

// ============================================================================
// Event
// ============================================================================

// Event is one record returned by WaitEvent. ID, Err and ReplyUserdata are
// plain copies. The payload accessors read native memory and are only valid
// until the next WaitEvent on the same client; calling them later panics with
// ErrStaleEvent.
type Event struct {
	ID EventID
	// Err is the failure of a get-property, set-property or command reply.
	Err error
	// ReplyUserdata is the id passed to the async call or observation that
	// produced this event.
	ReplyUserdata uint64

	name  string
	data  uintptr
	scope scope
}

// eventText is the part of the library used to describe events.
type eventText interface {
	ErrorString(code int32) string
	EventName(id int32) string
}

// decodeEvent classifies the record at rec. A zero rec decodes as EventNone.
// text may be nil.
func decodeEvent(text eventText, rec uintptr, sc scope) Event {
	if rec == 0 {
		return Event{ID: EventNone, scope: sc}
	}
	raw := ffi.As[ffi.Event](rec)
	id := EventID(raw.EventID)
	if _, ok := eventNames[id]; !ok {
		id = EventNone
	}
	if text != nil {
		sc.lookup = text.ErrorString
	}
	ev := Event{ID: id, ReplyUserdata: raw.ReplyUserdata, scope: sc}
	if id != EventNone {
		ev.data = raw.Data
	}
	if text != nil {
		ev.name = text.EventName(int32(id))
	}
	switch id {
	case EventGetPropertyReply, EventSetPropertyReply, EventCommandReply:
		if raw.Error < 0 {
			ev.Err = newError(sc.lookup, ErrorCode(raw.Error), nil)
		}
	}
	return ev
}

// String returns the library's name for the event.
func (e Event) String() string {
	if e.name != "" {
		return e.name
	}
	return e.ID.String()
}

func (e Event) payload(ids ...EventID) (uintptr, bool) {
	for _, id := range ids {
		if e.ID == id {
			if e.data == 0 {
				return 0, false
			}
			e.scope.check()
			return e.data, true
		}
	}
	return 0, false
}

// ============================================================================
// Payloads
// ============================================================================

// Property is the payload of property-change and get-property-reply events.
// Data is decoded on demand with PropertyData or Node.
type Property struct {
	Name   string
	Format Format

	data  uintptr
	scope scope
}

// Property returns the property payload of a property-change or
// get-property-reply event.
func (e Event) Property() (Property, bool) {
	p, ok := e.payload(EventPropertyChange, EventGetPropertyReply)
	if !ok {
		return Property{}, false
	}
	rec := ffi.As[ffi.EventProperty](p)
	return Property{
		Name:   validText(ffi.GoString(rec.Name)),
		Format: Format(rec.Format),
		data:   rec.Data,
		scope:  e.scope,
	}, true
}

// PropertyData reads the property value as T. It reports false when the
// value is absent or was delivered in a different format.
func PropertyData[T Value](p Property) (T, bool) {
	var zero T
	if p.data == 0 || p.Format != FormatOf[T]() {
		return zero, false
	}
	p.scope.check()
	return ReadFrom[T](p.data), true
}

// Node returns the property value as a Node whatever format it was
// delivered in. It reports false when the value is absent.
func (p Property) Node() (Node, bool) {
	if p.data == 0 {
		return None, false
	}
	p.scope.check()
	switch p.Format {
	case FormatString, FormatOSDString:
		return StringNode(ReadFrom[string](p.data)), true
	case FormatFlag:
		return BoolNode(ReadFrom[bool](p.data)), true
	case FormatInt64:
		return IntNode(ReadFrom[int64](p.data)), true
	case FormatDouble:
		return DoubleNode(ReadFrom[float64](p.data)), true
	case FormatNode:
		return ReadFrom[Node](p.data), true
	}
	return None, false
}

// StartFile is the payload of start-file events.
type StartFile struct {
	PlaylistEntryID int64
}

func (e Event) StartFile() (StartFile, bool) {
	p, ok := e.payload(EventStartFile)
	if !ok {
		return StartFile{}, false
	}
	return StartFile{PlaylistEntryID: ffi.As[ffi.EventStartFile](p).PlaylistEntryID}, true
}

// EndFileReason says why playback of an entry stopped.
type EndFileReason int32

const (
	EndFileEOF      EndFileReason = 0
	EndFileStop     EndFileReason = 2
	EndFileQuit     EndFileReason = 3
	EndFileError    EndFileReason = 4
	EndFileRedirect EndFileReason = 5
)

func (r EndFileReason) String() string {
	switch r {
	case EndFileEOF:
		return "eof"
	case EndFileStop:
		return "stop"
	case EndFileQuit:
		return "quit"
	case EndFileError:
		return "error"
	case EndFileRedirect:
		return "redirect"
	}
	return "unknown"
}

// EndFile is the payload of end-file events. Err is only set when Reason is
// EndFileError.
type EndFile struct {
	Reason                   EndFileReason
	Err                      error
	PlaylistEntryID          int64
	PlaylistInsertID         int64
	PlaylistInsertNumEntries int
}

func (e Event) EndFile() (EndFile, bool) {
	p, ok := e.payload(EventEndFile)
	if !ok {
		return EndFile{}, false
	}
	rec := ffi.As[ffi.EventEndFile](p)
	out := EndFile{
		Reason:                   EndFileReason(rec.Reason),
		PlaylistEntryID:          rec.PlaylistEntryID,
		PlaylistInsertID:         rec.PlaylistInsertID,
		PlaylistInsertNumEntries: int(rec.PlaylistInsertNumEntries),
	}
	if out.Reason == EndFileError && rec.Error < 0 {
		out.Err = newError(e.scope.lookup, ErrorCode(rec.Error), nil)
	}
	return out, true
}

// LogLevel is mpv_log_level.
type LogLevel int32

const (
	LogLevelNone  LogLevel = 0
	LogLevelFatal LogLevel = 10
	LogLevelError LogLevel = 20
	LogLevelWarn  LogLevel = 30
	LogLevelInfo  LogLevel = 40
	LogLevelV     LogLevel = 50
	LogLevelDebug LogLevel = 60
	LogLevelTrace LogLevel = 70
)

// LogMessage is the payload of log-message events.
type LogMessage struct {
	Prefix string
	Level  string
	Text   string
	// LogLevel is the numeric form of Level.
	LogLevel LogLevel
}

func (e Event) LogMessage() (LogMessage, bool) {
	p, ok := e.payload(EventLogMessage)
	if !ok {
		return LogMessage{}, false
	}
	rec := ffi.As[ffi.EventLogMessage](p)
	return LogMessage{
		Prefix:   validText(ffi.GoString(rec.Prefix)),
		Level:    ffi.GoString(rec.Level),
		Text:     validText(ffi.GoString(rec.Text)),
		LogLevel: LogLevel(rec.LogLevel),
	}, true
}

// ClientMessage is the payload of client-message events, usually sent with
// the script-message command.
type ClientMessage struct {
	Args []string
}

func (e Event) ClientMessage() (ClientMessage, bool) {
	p, ok := e.payload(EventClientMessage)
	if !ok {
		return ClientMessage{}, false
	}
	rec := ffi.As[ffi.EventClientMessage](p)
	args := ffi.GoStringArray(rec.Args, int(rec.NumArgs))
	for i := range args {
		args[i] = validText(args[i])
	}
	return ClientMessage{Args: args}, true
}

// Hook is the payload of hook events. The player is paused on the hook until
// HookContinue is called with ID.
type Hook struct {
	Name string
	ID   uint64
}

func (e Event) Hook() (Hook, bool) {
	p, ok := e.payload(EventHook)
	if !ok {
		return Hook{}, false
	}
	rec := ffi.As[ffi.EventHook](p)
	return Hook{Name: ffi.GoString(rec.Name), ID: rec.ID}, true
}

// CommandReply returns the result node of a command-reply event.
func (e Event) CommandReply() (Node, bool) {
	p, ok := e.payload(EventCommandReply)
	if !ok {
		return None, false
	}
	return decodeNode(&ffi.As[ffi.EventCommand](p).Result), true
}
