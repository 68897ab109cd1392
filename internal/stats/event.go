package stats

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Event is a notification the dispatcher routes to the engine or the publisher.
// The set of implementations is closed.
type Event interface {
	Kind() string
	isEvent()
}

// EditEvent reports a change to the page's content.
type EditEvent struct{ Title string }

// RestoreEvent reports that a deleted page was restored.
type RestoreEvent struct{ Title string }

// MoveEvent reports a rename from Source to Dest.
type MoveEvent struct{ Source, Dest string }

// DeleteEvent reports a deletion log entry for the page.
type DeleteEvent struct{ Title string }

// SyncTick requests a full sweep.
type SyncTick struct{}

// SaveTick requests a publish of the statistics page.
type SaveTick struct{ Trigger SaveTrigger }

func (EditEvent) Kind() string    { return "edit" }
func (RestoreEvent) Kind() string { return "restore" }
func (MoveEvent) Kind() string    { return "move" }
func (DeleteEvent) Kind() string  { return "delete" }
func (SyncTick) Kind() string     { return "sync" }
func (SaveTick) Kind() string     { return "save" }

func (EditEvent) isEvent()    {}
func (RestoreEvent) isEvent() {}
func (MoveEvent) isEvent()    {}
func (DeleteEvent) isEvent()  {}
func (SyncTick) isEvent()     {}
func (SaveTick) isEvent()     {}

// ErrUnknownEventKind indicates an event kind outside the closed set.
var ErrUnknownEventKind = eris.New("unknown event kind")

// ParseEvent builds an event from its wire form. Page events need title; moves need source and dest.
// Saves built here are operator requests and bypass the shutoff switch.
func ParseEvent(kind, title, source, dest string) (Event, error) {
	title = strings.TrimSpace(title)
	source = strings.TrimSpace(source)
	dest = strings.TrimSpace(dest)

	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "edit":
		return pageEvent(title, func(t string) Event { return EditEvent{Title: t} })
	case "restore":
		return pageEvent(title, func(t string) Event { return RestoreEvent{Title: t} })
	case "delete":
		return pageEvent(title, func(t string) Event { return DeleteEvent{Title: t} })
	case "move":
		if source == "" || dest == "" {
			return nil, eris.New("move events require source and dest")
		}
		return MoveEvent{Source: source, Dest: dest}, nil
	case "sync":
		return SyncTick{}, nil
	case "save":
		return SaveTick{Trigger: TriggerEvent}, nil
	default:
		return nil, eris.Wrapf(ErrUnknownEventKind, "kind %q", kind)
	}
}

func pageEvent(title string, build func(string) Event) (Event, error) {
	if title == "" {
		return nil, eris.New("page events require a title")
	}
	return build(title), nil
}
