package remote

import (
	"errors"

	mpv "github.com/agiangrant/mpvclient"
)

// Request is one JSON IPC command, for example
//
//	{"command": ["set_property", "pause", true], "request_id": 7}
//
// Command is an array of arguments or a map with named arguments and a
// "name" entry.
type Request struct {
	Command   mpv.Node `json:"command"`
	RequestID int64    `json:"request_id"`
	Async     bool     `json:"async,omitempty"`
}

// Response answers a Request. Error is "success" or the libmpv error text.
type Response struct {
	RequestID int64  `json:"request_id"`
	Error     string `json:"error"`
	Data      any    `json:"data,omitempty"`

	err      error
	deferred bool
}

// EventMessage is an event as sent over the IPC socket.
type EventMessage struct {
	Event string `json:"event"`
	ID    int64  `json:"id,omitempty"`
	Error string `json:"error,omitempty"`

	// property-change
	Name string `json:"name,omitempty"`
	Data any    `json:"data,omitempty"`

	// start-file and end-file
	PlaylistEntryID int64  `json:"playlist_entry_id,omitempty"`
	Reason          string `json:"reason,omitempty"`
	FileError       string `json:"file_error,omitempty"`

	// log-message
	Prefix string `json:"prefix,omitempty"`
	Level  string `json:"level,omitempty"`
	Text   string `json:"text,omitempty"`

	// client-message
	Args []string `json:"args,omitempty"`

	// hook
	HookID uint64 `json:"hook_id,omitempty"`
}

const success = "success"

// errorText is the IPC error string for err.
func errorText(err error) string {
	if err == nil {
		return success
	}
	var e *mpv.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return mpv.Code(err).String()
}

// commandName returns the command name of an IPC command node.
func commandName(cmd mpv.Node) (string, bool) {
	first, ok := cmd.Index(0)
	if !ok {
		first, ok = cmd.Get("name")
	}
	if !ok {
		return "", false
	}
	return first.Str()
}

// eventMessage converts ev while its payload is valid. id is the
// observation or request id the client used.
func eventMessage(ev mpv.Event, id int64) EventMessage {
	msg := EventMessage{Event: ev.ID.String(), ID: id}
	if ev.Err != nil {
		msg.Error = errorText(ev.Err)
	}

	switch ev.ID {
	case mpv.EventPropertyChange:
		if p, ok := ev.Property(); ok {
			msg.Name = p.Name
			if n, ok := p.Node(); ok {
				msg.Data = n
			}
		}
	case mpv.EventStartFile:
		if sf, ok := ev.StartFile(); ok {
			msg.PlaylistEntryID = sf.PlaylistEntryID
		}
	case mpv.EventEndFile:
		if ef, ok := ev.EndFile(); ok {
			msg.PlaylistEntryID = ef.PlaylistEntryID
			msg.Reason = ef.Reason.String()
			if ef.Err != nil {
				msg.FileError = errorText(ef.Err)
			}
		}
	case mpv.EventLogMessage:
		if lm, ok := ev.LogMessage(); ok {
			msg.Prefix = lm.Prefix
			msg.Level = lm.Level
			msg.Text = lm.Text
		}
	case mpv.EventClientMessage:
		if cm, ok := ev.ClientMessage(); ok {
			msg.Args = cm.Args
		}
	case mpv.EventHook:
		if h, ok := ev.Hook(); ok {
			msg.Name = h.Name
			msg.HookID = h.ID
		}
	}
	return msg
}
