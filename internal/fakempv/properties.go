package fakempv

import (
	"strings"
	"unsafe"

	"github.com/agiangrant/mpvclient/internal/ffi"
)

// ============================================================================
// Property Store
// ============================================================================
//
// Unknown properties are created on first write. Writes keep the type of an
// existing value where mpv would convert, so "set volume 50" stays a double,
// and reject values mpv could not convert. user-data/ entries are untyped.

func (l *Library) GetProperty(ctx uintptr, name string, format int32, data unsafe.Pointer) int32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handles[ctx] == nil {
		return errUninitialized
	}
	if data == nil {
		return errInvalidParameter
	}
	p := l.props[name]
	if p == nil {
		return errPropertyNotFound
	}
	return store(l.alloc, p, format, data)
}

func (l *Library) SetProperty(ctx uintptr, name string, format int32, data unsafe.Pointer) int32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handles[ctx] == nil {
		return errUninitialized
	}
	return l.setProperty(name, format, data)
}

func (l *Library) setProperty(name string, format int32, data unsafe.Pointer) int32 {
	in, code := load(l.alloc, format, data)
	if code != errSuccess {
		return code
	}
	return l.replace(name, in)
}

// replace installs in as the value of name and notifies observers. in is
// consumed, also on error.
func (l *Library) replace(name string, in ffi.Node) int32 {
	old := l.props[name]
	typed := old
	if strings.HasPrefix(name, "user-data/") {
		typed = nil
	}
	n, code := coerce(l.alloc, typed, in)
	if code != errSuccess {
		return code
	}
	if old == nil {
		old = ffi.As[ffi.Node](ffi.Calloc(l.alloc, ffi.SizeofNode))
		if old == nil {
			freeNode(l.alloc, &n)
			return errNoMem
		}
		l.props[name] = old
	} else {
		freeNode(l.alloc, old)
	}
	*old = n
	l.notify(name)
	return errSuccess
}

func (l *Library) setString(name, value string) int32 {
	return l.replace(name, stringNode(l.alloc, value))
}

func (l *Library) SetPropertyAsync(ctx uintptr, reply uint64, name string, format int32, data unsafe.Pointer) int32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.handles[ctx]
	if h == nil {
		return errUninitialized
	}
	code := l.setProperty(name, format, data)
	l.enqueue(h, EventSetPropertyReply, code, reply, nil)
	return errSuccess
}

func (l *Library) GetPropertyAsync(ctx uintptr, reply uint64, name string, format int32) int32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.handles[ctx]
	if h == nil {
		return errUninitialized
	}
	code := errSuccess
	if l.props[name] == nil {
		code = errPropertyNotFound
	}
	l.enqueue(h, EventGetPropertyReply, code, reply, l.propertyPayload(name, format))
	return errSuccess
}

// propertyPayload builds an mpv_event_property for the current value of
// name. The format degrades to none if the value is missing or cannot be
// represented.
func (l *Library) propertyPayload(name string, format int32) func(ar *arena) uintptr {
	return func(ar *arena) uintptr {
		rec := ffi.EventProperty{Name: cstring(ar, name)}
		if p := l.props[name]; p != nil && sizeOfFormat(format) > 0 {
			data := ffi.Calloc(ar, sizeOfFormat(format))
			if store(ar, p, format, unsafe.Pointer(data)) == errSuccess {
				rec.Format = format
				rec.Data = data
			} else {
				ar.Free(data)
			}
		}
		return ffi.Put(ar, rec)
	}
}

// ============================================================================
// Observation
// ============================================================================

func (l *Library) ObserveProperty(ctx uintptr, reply uint64, name string, format int32) int32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.handles[ctx]
	if h == nil {
		return errUninitialized
	}
	if format != formatNone && sizeOfFormat(format) == 0 {
		return errPropertyFormat
	}
	h.observed = append(h.observed, observation{reply: reply, name: name, format: format})
	l.enqueue(h, EventPropertyChange, 0, reply, l.propertyPayload(name, format))
	return errSuccess
}

func (l *Library) UnobserveProperty(ctx uintptr, reply uint64) int32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.handles[ctx]
	if h == nil {
		return errUninitialized
	}
	kept := h.observed[:0]
	removed := int32(0)
	for _, o := range h.observed {
		if o.reply == reply {
			removed++
			continue
		}
		kept = append(kept, o)
	}
	h.observed = kept
	return removed
}

// notify queues property-change events for every observation of name.
func (l *Library) notify(name string) {
	for _, h := range l.handles {
		for _, o := range h.observed {
			if o.name == name {
				l.enqueue(h, EventPropertyChange, 0, o.reply, l.propertyPayload(name, o.format))
			}
		}
	}
}

// Observers returns the number of observations registered on ctx.
func (l *Library) Observers(ctx uintptr) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h := l.handles[ctx]; h != nil {
		return len(h.observed)
	}
	return 0
}
