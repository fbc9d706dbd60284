package fakempv

import (
	"strconv"
	"unsafe"

	"github.com/agiangrant/mpvclient/internal/ffi"
)

// ============================================================================
// Commands
// ============================================================================
//
// Supported: set, show-text, expand-text, script-message,
// script-message-to, loadfile, stop and quit. Anything else fails with
// invalid parameter like an unknown command name does in mpv.

// result of a command; nil means none.
type result *string

func (l *Library) Command(ctx uintptr, args uintptr) int32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handles[ctx] == nil {
		return errUninitialized
	}
	_, code := l.run(ctx, ffi.GoStringList(args))
	return code
}

func (l *Library) CommandAsync(ctx uintptr, reply uint64, args uintptr) int32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.handles[ctx]
	if h == nil {
		return errUninitialized
	}
	res, code := l.run(ctx, ffi.GoStringList(args))
	l.enqueue(h, EventCommandReply, code, reply, commandPayload(res))
	return errSuccess
}

func (l *Library) CommandNode(ctx uintptr, args unsafe.Pointer, out unsafe.Pointer) int32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handles[ctx] == nil {
		return errUninitialized
	}
	argv, code := nodeArgs((*ffi.Node)(args))
	if code != errSuccess {
		return code
	}
	res, code := l.run(ctx, argv)
	if code == errSuccess && out != nil {
		writeResult(l.alloc, (*ffi.Node)(out), res)
	}
	return code
}

func (l *Library) CommandNodeAsync(ctx uintptr, reply uint64, args unsafe.Pointer) int32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.handles[ctx]
	if h == nil {
		return errUninitialized
	}
	argv, code := nodeArgs((*ffi.Node)(args))
	if code != errSuccess {
		return code
	}
	res, code := l.run(ctx, argv)
	l.enqueue(h, EventCommandReply, code, reply, commandPayload(res))
	return errSuccess
}

func commandPayload(res result) func(ar *arena) uintptr {
	return func(ar *arena) uintptr {
		p := ffi.Calloc(ar, unsafe.Sizeof(ffi.EventCommand{}))
		writeResult(ar, &ffi.As[ffi.EventCommand](p).Result, res)
		return p
	}
}

func writeResult(a ffi.Allocator, dst *ffi.Node, res result) {
	if res == nil {
		*dst = ffi.Node{}
		return
	}
	*dst = stringNode(a, *res)
}

// nodeArgs flattens an array node of scalars into command arguments.
func nodeArgs(n *ffi.Node) ([]string, int32) {
	if n == nil || n.Format != formatNodeArray || n.Ptr() == 0 {
		return nil, errInvalidParameter
	}
	l := ffi.As[ffi.NodeList](n.Ptr())
	args := make([]string, 0, l.Num)
	for i := 0; i < int(l.Num); i++ {
		s, ok := nodeText(ffi.NodeAt(l.Values, i))
		if !ok {
			return nil, errInvalidParameter
		}
		args = append(args, s)
	}
	return args, errSuccess
}

func (l *Library) run(ctx uintptr, args []string) (result, int32) {
	if len(args) == 0 {
		return nil, errInvalidParameter
	}
	switch args[0] {
	case "set":
		if len(args) != 3 {
			return nil, errInvalidParameter
		}
		return nil, l.setString(args[1], args[2])
	case "show-text":
		if len(args) < 2 {
			return nil, errInvalidParameter
		}
		if len(args) > 2 {
			if _, err := strconv.Atoi(args[2]); err != nil {
				return nil, errInvalidParameter
			}
		}
		l.osd = args[1]
		return nil, errSuccess
	case "expand-text":
		if len(args) != 2 {
			return nil, errInvalidParameter
		}
		s := args[1]
		return &s, errSuccess
	case "script-message":
		l.clientMessage(nil, args[1:])
		return nil, errSuccess
	case "script-message-to":
		if len(args) < 2 {
			return nil, errInvalidParameter
		}
		var target *handle
		for _, h := range l.handles {
			if h.name == args[1] {
				target = h
			}
		}
		if target == nil {
			return nil, errInvalidParameter
		}
		l.clientMessage(target, args[2:])
		return nil, errSuccess
	case "loadfile":
		if len(args) < 2 {
			return nil, errInvalidParameter
		}
		l.loadFile(args[1])
		return nil, errSuccess
	case "stop":
		l.endFile(2, 0, l.nextEntry)
		return nil, errSuccess
	case "quit":
		l.broadcast(EventShutdown, 0, 0, nil)
		return nil, errSuccess
	}
	return nil, errInvalidParameter
}

// clientMessage queues a client-message for target, or for every handle
// when target is nil.
func (l *Library) clientMessage(target *handle, args []string) {
	fill := func(ar *arena) uintptr {
		arr := ffi.Calloc(ar, uintptr(len(args)+1)*ffi.SizeofPtr)
		for i, a := range args {
			ffi.SetPtrAt(arr, i, cstring(ar, a))
		}
		return ffi.Put(ar, ffi.EventClientMessage{NumArgs: int32(len(args)), Args: arr})
	}
	if target != nil {
		l.enqueue(target, EventClientMessage, 0, 0, fill)
		return
	}
	l.broadcast(EventClientMessage, 0, 0, fill)
}

func (l *Library) loadFile(url string) {
	l.nextEntry++
	entry := l.nextEntry
	l.broadcast(EventStartFile, 0, 0, func(ar *arena) uintptr {
		return ffi.Put(ar, ffi.EventStartFile{PlaylistEntryID: entry})
	})
	l.triggerHook("on_load")
	l.log("cplayer", "info", "Playing: "+url)
	l.setString("path", url)
	l.replace("playlist-count", int64Node(entry))
	l.broadcast(EventFileLoaded, 0, 0, nil)
}
