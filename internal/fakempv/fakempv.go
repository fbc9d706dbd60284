// Package fakempv is an in-process stand-in for the libmpv client API.
//
// It keeps a property store, understands a handful of commands and queues
// events per client handle the way the real core does, so the bindings can be
// exercised without a player. All memory it hands out comes from the
// allocator passed to New and is released through Free and FreeNodeContents.
package fakempv

import (
	"sort"
	"strconv"
	"sync"
	"time"
	"unsafe"

	"github.com/agiangrant/mpvclient/internal/ffi"
)

const (
	errSuccess          int32 = 0
	errNoMem            int32 = -2
	errUninitialized    int32 = -3
	errInvalidParameter int32 = -4
	errPropertyNotFound int32 = -8
	errPropertyFormat   int32 = -9
	errCommand          int32 = -12
)

var errorStrings = map[int32]string{
	0:   "success",
	-1:  "event queue full",
	-2:  "memory allocation failed",
	-3:  "core not uninitialized",
	-4:  "invalid parameter",
	-5:  "option not found",
	-6:  "unsupported format for accessing option",
	-7:  "error setting option",
	-8:  "property not found",
	-9:  "unsupported format for accessing property",
	-10: "property unavailable",
	-11: "error accessing property",
	-12: "error running command",
	-13: "loading failed",
	-14: "audio output initialization failed",
	-15: "video output initialization failed",
	-16: "no audio or video data played",
	-17: "unrecognized file format",
	-18: "not supported",
	-19: "operation not implemented",
	-20: "something happened",
}

// Event ids as in client.h.
const (
	EventNone             int32 = 0
	EventShutdown         int32 = 1
	EventLogMessage       int32 = 2
	EventGetPropertyReply int32 = 3
	EventSetPropertyReply int32 = 4
	EventCommandReply     int32 = 5
	EventStartFile        int32 = 6
	EventEndFile          int32 = 7
	EventFileLoaded       int32 = 8
	EventClientMessage    int32 = 16
	EventVideoReconfig    int32 = 17
	EventAudioReconfig    int32 = 18
	EventSeek             int32 = 20
	EventPlaybackRestart  int32 = 21
	EventPropertyChange   int32 = 22
	EventQueueOverflow    int32 = 24
	EventHook             int32 = 25
)

var eventNames = map[int32]string{
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

var logLevels = map[string]int32{
	"no":    0,
	"fatal": 10,
	"error": 20,
	"warn":  30,
	"info":  40,
	"v":     50,
	"debug": 60,
	"trace": 70,
}

// Library implements ffi.Library for one fake core.
type Library struct {
	alloc ffi.Allocator

	mu          sync.Mutex
	handles     map[uintptr]*handle
	nextHandle  uintptr
	nextID      int64
	initialized bool
	props       map[string]*ffi.Node
	hooks       []hookReg
	pendingHook map[uint64]string
	nextHook    uint64
	nextEntry   int64
	osd         string
}

type handle struct {
	id       int64
	name     string
	weak     bool
	queue    []*pending
	last     *arena
	woken    bool
	signal   chan struct{}
	observed []observation
	logLevel int32
}

type observation struct {
	reply  uint64
	name   string
	format int32
}

type hookReg struct {
	ctx      uintptr
	reply    uint64
	name     string
	priority int32
}

// pending is a queued event whose payload is already built in its arena.
type pending struct {
	rec ffi.Event
	ar  *arena
}

var _ ffi.Library = (*Library)(nil)

// New returns a fake core with a few default properties. A nil allocator
// uses a fresh ffi.PageAllocator.
func New(a ffi.Allocator) *Library {
	if a == nil {
		a = ffi.NewPageAllocator()
	}
	l := &Library{
		alloc:       a,
		handles:     make(map[uintptr]*handle),
		props:       make(map[string]*ffi.Node),
		pendingHook: make(map[uint64]string),
	}
	l.define("mpv-version", stringNode(a, "mpv 0.39.0 (fake)"))
	l.define("volume", doubleNode(100))
	l.define("pause", flagNode(false))
	l.define("speed", doubleNode(1))
	l.define("playlist-count", int64Node(0))
	l.define("idle-active", flagNode(true))
	return l
}

func (l *Library) define(name string, n ffi.Node) {
	p := ffi.As[ffi.Node](ffi.Put(l.alloc, n))
	l.props[name] = p
}

// Close destroys every handle and frees the property store. Memory handed
// to callers is not affected.
func (l *Library) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ctx := range l.handles {
		l.dropHandle(ctx)
	}
	for name, p := range l.props {
		freeNode(l.alloc, p)
		l.alloc.Free(uintptr(unsafe.Pointer(p)))
		delete(l.props, name)
	}
}

// ============================================================================
// Memory & Metadata
// ============================================================================

func (l *Library) ErrorString(code int32) string {
	if s, ok := errorStrings[code]; ok {
		return s
	}
	return "unknown error"
}

func (l *Library) EventName(id int32) string {
	return eventNames[id]
}

func (l *Library) Free(ptr uintptr) { l.alloc.Free(ptr) }

func (l *Library) FreeNodeContents(node unsafe.Pointer) {
	if node == nil {
		return
	}
	freeNode(l.alloc, (*ffi.Node)(node))
}

func (l *Library) ClientAPIVersion() uint64 { return 2<<16 | 5 }

// ============================================================================
// Handles
// ============================================================================

func (l *Library) Create() uintptr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.newHandle("main", false)
}

func (l *Library) newHandle(name string, weak bool) uintptr {
	base, n := name, 1
	for l.nameTaken(name) {
		n++
		name = base + strconv.Itoa(n)
	}
	l.nextHandle++
	l.nextID++
	l.handles[l.nextHandle] = &handle{
		id:       l.nextID,
		name:     name,
		weak:     weak,
		signal:   make(chan struct{}, 1),
		logLevel: -1,
	}
	return l.nextHandle
}

func (l *Library) nameTaken(name string) bool {
	for _, h := range l.handles {
		if h.name == name {
			return true
		}
	}
	return false
}

func (l *Library) Initialize(ctx uintptr) int32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handles[ctx] == nil {
		return errUninitialized
	}
	if l.initialized {
		return errInvalidParameter
	}
	l.initialized = true
	return errSuccess
}

func (l *Library) Destroy(ctx uintptr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dropHandle(ctx)
	strong := false
	for _, h := range l.handles {
		if !h.weak {
			strong = true
		}
	}
	if !strong {
		l.broadcast(EventShutdown, 0, 0, nil)
	}
}

func (l *Library) TerminateDestroy(ctx uintptr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dropHandle(ctx)
	l.broadcast(EventShutdown, 0, 0, nil)
}

func (l *Library) dropHandle(ctx uintptr) {
	h := l.handles[ctx]
	if h == nil {
		return
	}
	delete(l.handles, ctx)
	for _, ev := range h.queue {
		ev.ar.release()
	}
	h.queue = nil
	if h.last != nil {
		h.last.release()
		h.last = nil
	}
	kept := l.hooks[:0]
	for _, reg := range l.hooks {
		if reg.ctx != ctx {
			kept = append(kept, reg)
		}
	}
	l.hooks = kept
	select {
	case h.signal <- struct{}{}:
	default:
	}
}

func (l *Library) CreateClient(ctx uintptr, name string) uintptr {
	return l.createClient(ctx, name, false)
}

func (l *Library) CreateWeakClient(ctx uintptr, name string) uintptr {
	return l.createClient(ctx, name, true)
}

func (l *Library) createClient(ctx uintptr, name string, weak bool) uintptr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handles[ctx] == nil {
		return 0
	}
	if name == "" {
		name = "client"
	}
	return l.newHandle(name, weak)
}

func (l *Library) ClientName(ctx uintptr) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h := l.handles[ctx]; h != nil {
		return h.name
	}
	return ""
}

func (l *Library) ClientID(ctx uintptr) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h := l.handles[ctx]; h != nil {
		return h.id
	}
	return 0
}

// Handles returns the number of live handles.
func (l *Library) Handles() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.handles)
}

// OSD returns the text of the last show-text command.
func (l *Library) OSD() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.osd
}

// ============================================================================
// Event Queue
// ============================================================================

// enqueue builds an event for h. fill may allocate the payload in ar and
// returns its address.
func (l *Library) enqueue(h *handle, id, code int32, reply uint64, fill func(ar *arena) uintptr) {
	ar := newArena(l.alloc)
	ev := &pending{rec: ffi.Event{EventID: id, Error: code, ReplyUserdata: reply}, ar: ar}
	if fill != nil {
		ev.rec.Data = fill(ar)
	}
	h.queue = append(h.queue, ev)
	select {
	case h.signal <- struct{}{}:
	default:
	}
}

func (l *Library) broadcast(id, code int32, reply uint64, fill func(ar *arena) uintptr) {
	for _, h := range l.handles {
		l.enqueue(h, id, code, reply, fill)
	}
}

// Emit queues an event without payload for ctx. Any id is accepted,
// including ones the bindings do not know.
func (l *Library) Emit(ctx uintptr, id int32, code int32, reply uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h := l.handles[ctx]; h != nil {
		l.enqueue(h, id, code, reply, nil)
	}
}

// Log queues a log-message event for every handle that requested level or
// more detail.
func (l *Library) Log(prefix, level, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.log(prefix, level, text)
}

func (l *Library) log(prefix, level, text string) {
	lv, ok := logLevels[level]
	if !ok {
		return
	}
	for _, h := range l.handles {
		if h.logLevel < lv {
			continue
		}
		l.enqueue(h, EventLogMessage, 0, 0, func(ar *arena) uintptr {
			return ffi.Put(ar, ffi.EventLogMessage{
				Prefix:   cstring(ar, prefix),
				Level:    cstring(ar, level),
				Text:     cstring(ar, text+"\n"),
				LogLevel: lv,
			})
		})
	}
}

// EndFile queues an end-file event for every handle.
func (l *Library) EndFile(reason, code int32, entry int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.endFile(reason, code, entry)
}

func (l *Library) endFile(reason, code int32, entry int64) {
	l.broadcast(EventEndFile, 0, 0, func(ar *arena) uintptr {
		return ffi.Put(ar, ffi.EventEndFile{Reason: reason, Error: code, PlaylistEntryID: entry})
	})
}

// TriggerHook queues a hook event for every registration of name, lowest
// priority first, and returns the continuation ids.
func (l *Library) TriggerHook(name string) []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.triggerHook(name)
}

func (l *Library) triggerHook(name string) []uint64 {
	regs := make([]hookReg, 0, len(l.hooks))
	for _, reg := range l.hooks {
		if reg.name == name {
			regs = append(regs, reg)
		}
	}
	sort.SliceStable(regs, func(i, j int) bool { return regs[i].priority < regs[j].priority })

	var ids []uint64
	for _, reg := range regs {
		h := l.handles[reg.ctx]
		if h == nil {
			continue
		}
		l.nextHook++
		id := l.nextHook
		l.pendingHook[id] = name
		ids = append(ids, id)
		l.enqueue(h, EventHook, 0, reg.reply, func(ar *arena) uintptr {
			return ffi.Put(ar, ffi.EventHook{Name: cstring(ar, name), ID: id})
		})
	}
	return ids
}

// PendingHooks returns the number of hook events not yet continued.
func (l *Library) PendingHooks() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pendingHook)
}

func (l *Library) HookAdd(ctx uintptr, reply uint64, name string, priority int32) int32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handles[ctx] == nil {
		return errUninitialized
	}
	l.hooks = append(l.hooks, hookReg{ctx: ctx, reply: reply, name: name, priority: priority})
	return errSuccess
}

func (l *Library) HookContinue(ctx uintptr, id uint64) int32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.pendingHook[id]; !ok {
		return errInvalidParameter
	}
	delete(l.pendingHook, id)
	return errSuccess
}

func (l *Library) RequestLogMessages(ctx uintptr, minLevel string) int32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.handles[ctx]
	if h == nil {
		return errUninitialized
	}
	lv, ok := logLevels[minLevel]
	if !ok {
		return errInvalidParameter
	}
	if minLevel == "no" {
		lv = -1
	}
	h.logLevel = lv
	return errSuccess
}

func (l *Library) Wakeup(ctx uintptr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h := l.handles[ctx]; h != nil {
		h.woken = true
		select {
		case h.signal <- struct{}{}:
		default:
		}
	}
}

// WaitEvent returns the next record for ctx. The record returned by the
// previous call is freed first, as in libmpv.
func (l *Library) WaitEvent(ctx uintptr, timeout float64) uintptr {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(time.Duration(timeout * float64(time.Second)))
		defer t.Stop()
		expired = t.C
	}
	timedOut := timeout == 0

	for {
		l.mu.Lock()
		h := l.handles[ctx]
		if h == nil {
			l.mu.Unlock()
			return 0
		}
		if h.last != nil {
			h.last.release()
			h.last = nil
		}
		if len(h.queue) > 0 {
			ev := h.queue[0]
			h.queue = h.queue[1:]
			rec := ffi.Put(ev.ar, ev.rec)
			h.last = ev.ar
			l.mu.Unlock()
			return rec
		}
		if h.woken || timedOut {
			h.woken = false
			ar := newArena(l.alloc)
			rec := ffi.Put(ar, ffi.Event{EventID: EventNone})
			h.last = ar
			l.mu.Unlock()
			return rec
		}
		signal := h.signal
		l.mu.Unlock()

		select {
		case <-signal:
		case <-expired:
			timedOut = true
		}
	}
}
