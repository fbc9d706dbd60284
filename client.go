package mpv

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/agiangrant/mpvclient/internal/ffi"
)

// ============================================================================
// Options
// ============================================================================

type options struct {
	logger  *slog.Logger
	lib     ffi.Library
	libPath string
	alloc   ffi.Allocator
	metrics *Metrics
}

// Option configures New and Wrap.
type Option func(*options)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLibrary uses an already loaded libmpv binding.
func WithLibrary(lib ffi.Library) Option {
	return func(o *options) {
		o.lib = lib
	}
}

// WithLibraryPath loads libmpv from path instead of searching for it.
func WithLibraryPath(path string) Option {
	return func(o *options) {
		o.libPath = path
	}
}

// WithAllocator sets where values are staged before native calls.
// Default: the C library's malloc and free.
func WithAllocator(a ffi.Allocator) Option {
	return func(o *options) {
		o.alloc = a
	}
}

// WithMetrics records calls, events and staging allocations in m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func resolveOptions(opts []Option) (options, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.lib == nil {
		lib, err := ffi.Load(o.libPath)
		if err != nil {
			return o, err
		}
		o.lib = lib
	}
	if o.alloc == nil {
		a, err := ffi.LibC()
		if err != nil {
			return o, err
		}
		o.alloc = a
	}
	o.alloc = o.metrics.wrap(o.alloc)
	return o, nil
}

// ============================================================================
// Client
// ============================================================================

// Client is one handle on an mpv core. Everything except WaitEvent may be
// called from any goroutine. WaitEvent calls on the same client are
// serialised; payloads of an event become invalid when the next one starts.
type Client struct {
	lib     ffi.Library
	alloc   ffi.Allocator
	logger  *slog.Logger
	metrics *Metrics

	handle uintptr
	owned  bool
	closed atomic.Bool

	// life is held shared by every native call except WaitEvent and
	// exclusively while the handle is destroyed.
	life   sync.RWMutex
	pollMu sync.Mutex
	gen    atomic.Uint64
}

// New creates an uninitialised mpv core. Set options with SetProperty, then
// call Initialize.
func New(opts ...Option) (*Client, error) {
	o, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	h := o.lib.Create()
	if h == 0 {
		return nil, newError(o.lib.ErrorString, ErrNoMem, nil)
	}
	c := newClient(o, h, true)
	c.logger.Debug("mpv core created", "client", c.Name(), "api", apiVersion(o.lib.ClientAPIVersion()))
	return c, nil
}

// Wrap borrows a handle owned by someone else, such as the handle passed to a
// C plugin entry point. Close does not destroy it.
func Wrap(handle uintptr, opts ...Option) (*Client, error) {
	o, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	return newClient(o, handle, false), nil
}

func newClient(o options, h uintptr, owned bool) *Client {
	return &Client{
		lib:     o.lib,
		alloc:   o.alloc,
		logger:  o.logger,
		metrics: o.metrics,
		handle:  h,
		owned:   owned,
	}
}

func apiVersion(v uint64) string {
	return strconv.FormatUint(v>>16, 10) + "." + strconv.FormatUint(v&0xffff, 10)
}

// Handle returns the native mpv_handle.
func (c *Client) Handle() uintptr { return c.handle }

// Initialize starts the core created by New.
func (c *Client) Initialize() error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()
	return c.check("initialize", c.lib.Initialize(c.handle))
}

// Close releases the handle. Owned handles are destroyed, which makes the
// core quit once the last client is gone. A WaitEvent blocked in another
// goroutine returns first, and payloads of earlier events become stale.
// Close is idempotent.
func (c *Client) Close() error {
	c.release(func() {
		c.logger.Debug("mpv client destroyed", "client", c.lib.ClientName(c.handle))
		c.lib.Destroy(c.handle)
	})
	return nil
}

// TerminateDestroy shuts the core down for every client and destroys this
// handle. Borrowed handles are only marked closed.
func (c *Client) TerminateDestroy() {
	c.release(func() {
		c.lib.TerminateDestroy(c.handle)
	})
}

// release marks the client closed, waits until no native call uses the
// handle and then runs destroy for owned handles.
func (c *Client) release(destroy func()) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	// A poll that has not entered the native wait yet returns at once.
	c.lib.Wakeup(c.handle)

	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	c.gen.Add(1)

	c.life.Lock()
	defer c.life.Unlock()
	if c.owned {
		destroy()
	}
}

// CreateClient opens a new handle on the same core. The returned client is
// independent and must be closed on its own.
func (c *Client) CreateClient(name string) (*Client, error) {
	return c.createClient(name, false)
}

// CreateWeakClient is CreateClient for a handle that does not keep the core
// alive.
func (c *Client) CreateWeakClient(name string) (*Client, error) {
	return c.createClient(name, true)
}

func (c *Client) createClient(name string, weak bool) (*Client, error) {
	if err := c.begin(name); err != nil {
		return nil, err
	}
	defer c.end()
	var h uintptr
	if weak {
		h = c.lib.CreateWeakClient(c.handle, name)
	} else {
		h = c.lib.CreateClient(c.handle, name)
	}
	if h == 0 {
		return nil, newError(c.lib.ErrorString, ErrNoMem, nil)
	}
	return &Client{
		lib:     c.lib,
		alloc:   c.alloc,
		logger:  c.logger,
		metrics: c.metrics,
		handle:  h,
		owned:   true,
	}, nil
}

// Name returns the client name, unique per core.
func (c *Client) Name() string {
	if c.begin() != nil {
		return ""
	}
	defer c.end()
	return c.lib.ClientName(c.handle)
}

// ID returns the client id, unique per core.
func (c *Client) ID() int64 {
	if c.begin() != nil {
		return 0
	}
	defer c.end()
	return c.lib.ClientID(c.handle)
}

// check turns a libmpv result into an error.
func (c *Client) check(op string, code int32) error {
	c.metrics.observeCall(op, code)
	if code >= 0 {
		return nil
	}
	return newError(c.lib.ErrorString, ErrorCode(code), nil)
}

// begin prepares one native call: it rejects names libmpv cannot receive
// and holds the handle open until end is called. Calls on a closed client
// fail with ErrClosed.
func (c *Client) begin(names ...string) error {
	for _, name := range names {
		if strings.IndexByte(name, 0) >= 0 {
			return encodeError(ffi.ErrEmbeddedNUL)
		}
	}
	c.life.RLock()
	if c.closed.Load() {
		c.life.RUnlock()
		return ErrClosed
	}
	return nil
}

func (c *Client) end() { c.life.RUnlock() }

// ============================================================================
// Commands
// ============================================================================

// Command runs a command given as a list of strings, for example
// Command("loadfile", "video.mkv", "append").
func (c *Client) Command(args ...string) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()
	argv, err := ffi.CStringArray(c.alloc, args)
	if err != nil {
		return encodeError(err)
	}
	defer ffi.FreeStringArray(c.alloc, argv)
	return c.check("command", c.lib.Command(c.handle, argv))
}

// CommandAsync queues a command. The outcome arrives as a command-reply event
// carrying reply.
func (c *Client) CommandAsync(reply uint64, args ...string) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()
	argv, err := ffi.CStringArray(c.alloc, args)
	if err != nil {
		return encodeError(err)
	}
	defer ffi.FreeStringArray(c.alloc, argv)
	return c.check("command_async", c.lib.CommandAsync(c.handle, reply, argv))
}

// CommandNode runs a command given as an array node, or as a map node with
// named arguments, and returns its result.
func (c *Client) CommandNode(args Node) (Node, error) {
	if err := c.begin(); err != nil {
		return None, err
	}
	defer c.end()
	p, err := encodeNode(c.alloc, args)
	if err != nil {
		return None, err
	}
	defer releaseNode(c.alloc, p)

	var result ffi.Node
	code := c.lib.CommandNode(c.handle, unsafe.Pointer(ffi.As[ffi.Node](p)), unsafe.Pointer(&result))
	if err := c.check("command_node", code); err != nil {
		return None, err
	}
	out := decodeNode(&result)
	c.lib.FreeNodeContents(unsafe.Pointer(&result))
	return out, nil
}

// CommandNodeAsync queues CommandNode. The result arrives as a command-reply
// event carrying reply.
func (c *Client) CommandNodeAsync(reply uint64, args Node) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()
	p, err := encodeNode(c.alloc, args)
	if err != nil {
		return err
	}
	defer releaseNode(c.alloc, p)
	return c.check("command_node_async", c.lib.CommandNodeAsync(c.handle, reply, unsafe.Pointer(ffi.As[ffi.Node](p))))
}

// OSDMessage shows text on the OSD for d.
func (c *Client) OSDMessage(text string, d time.Duration) error {
	return c.Command("show-text", text, strconv.FormatInt(d.Milliseconds(), 10))
}

// OSDMessageAsync is OSDMessage without waiting for the core.
func (c *Client) OSDMessageAsync(reply uint64, text string, d time.Duration) error {
	return c.CommandAsync(reply, "show-text", text, strconv.FormatInt(d.Milliseconds(), 10))
}

// ============================================================================
// Properties
// ============================================================================

// GetProperty reads a property as T.
func GetProperty[T Value](c *Client, name string) (T, error) {
	if err := c.begin(name); err != nil {
		var zero T
		return zero, err
	}
	defer c.end()
	format := int32(FormatOf[T]())
	return ReadVia[T](c.lib, func(data unsafe.Pointer) error {
		return c.check("get_property", c.lib.GetProperty(c.handle, name, format, data))
	})
}

// SetProperty writes v to a property. Before Initialize this also sets
// options.
func SetProperty[T Value](c *Client, name string, v T) error {
	if err := c.begin(name); err != nil {
		return err
	}
	defer c.end()
	format := int32(FormatOf[T]())
	return WriteVia(c.alloc, v, func(data unsafe.Pointer) error {
		return c.check("set_property", c.lib.SetProperty(c.handle, name, format, data))
	})
}

// SetPropertyAsync queues SetProperty. The outcome arrives as a
// set-property-reply event carrying reply.
func SetPropertyAsync[T Value](c *Client, reply uint64, name string, v T) error {
	if err := c.begin(name); err != nil {
		return err
	}
	defer c.end()
	format := int32(FormatOf[T]())
	return WriteVia(c.alloc, v, func(data unsafe.Pointer) error {
		return c.check("set_property_async", c.lib.SetPropertyAsync(c.handle, reply, name, format, data))
	})
}

// GetPropertyAsync requests a property. The value arrives as a
// get-property-reply event carrying reply; read it with PropertyData[T].
func GetPropertyAsync[T Value](c *Client, reply uint64, name string) error {
	if err := c.begin(name); err != nil {
		return err
	}
	defer c.end()
	return c.check("get_property_async", c.lib.GetPropertyAsync(c.handle, reply, name, int32(FormatOf[T]())))
}

// ObserveProperty delivers a property-change event carrying reply whenever
// the property changes, starting with its current value.
func ObserveProperty[T Value](c *Client, reply uint64, name string) error {
	if err := c.begin(name); err != nil {
		return err
	}
	defer c.end()
	return c.check("observe_property", c.lib.ObserveProperty(c.handle, reply, name, int32(FormatOf[T]())))
}

// UnobserveProperty removes every observation registered with reply.
func (c *Client) UnobserveProperty(reply uint64) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()
	return c.check("unobserve_property", c.lib.UnobserveProperty(c.handle, reply))
}

// ============================================================================
// Hooks & Logging
// ============================================================================

// HookAdd registers for the named hook. Hook events carry reply; the core
// waits on each one until HookContinue is called. Priority must fit in
// 32 bits.
func (c *Client) HookAdd(reply uint64, name string, priority int) error {
	if priority < math.MinInt32 || priority > math.MaxInt32 {
		return newError(c.lib.ErrorString, ErrInvalidParameter, nil)
	}
	if err := c.begin(name); err != nil {
		return err
	}
	defer c.end()
	return c.check("hook_add", c.lib.HookAdd(c.handle, reply, name, int32(priority)))
}

// HookContinue resumes the core after a hook event with the given id.
func (c *Client) HookContinue(id uint64) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()
	return c.check("hook_continue", c.lib.HookContinue(c.handle, id))
}

// RequestLogMessages enables log-message events at minLevel and above
// ("no", "fatal", "error", "warn", "info", "v", "debug", "trace").
func (c *Client) RequestLogMessages(minLevel string) error {
	if err := c.begin(minLevel); err != nil {
		return err
	}
	defer c.end()
	return c.check("request_log_messages", c.lib.RequestLogMessages(c.handle, minLevel))
}

// ============================================================================
// Events
// ============================================================================

// WaitEvent returns the next event. A zero timeout polls, a negative one
// blocks until an event arrives or Wakeup is called. An EventNone result
// means the wait timed out or was woken. A closed client reports
// EventShutdown.
func (c *Client) WaitEvent(timeout time.Duration) Event {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()

	if c.closed.Load() {
		return Event{ID: EventShutdown}
	}
	secs := timeout.Seconds()
	if timeout < 0 {
		secs = -1
	}
	at := c.gen.Add(1)
	rec := c.lib.WaitEvent(c.handle, secs)
	ev := decodeEvent(c.lib, rec, scope{gen: &c.gen, at: at})
	c.metrics.observeEvent(ev.ID)
	return ev
}

// Wakeup interrupts a blocked WaitEvent, or makes the next one return at once.
func (c *Client) Wakeup() {
	if c.begin() != nil {
		return
	}
	defer c.end()
	c.lib.Wakeup(c.handle)
}

// Listen calls fn for every event until ctx is done, fn fails or the core
// shuts down. The shutdown event is passed to fn before Listen returns nil.
func (c *Client) Listen(ctx context.Context, fn func(Event) error) error {
	stop := context.AfterFunc(ctx, c.Wakeup)
	defer stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev := c.WaitEvent(-1)
		if ev.ID == EventNone {
			continue
		}
		if ev.ID == EventQueueOverflow {
			c.logger.Warn("mpv event queue overflowed", "client", c.Name())
		}
		if err := fn(ev); err != nil {
			return err
		}
		if ev.ID == EventShutdown {
			return nil
		}
	}
}
