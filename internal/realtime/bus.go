// Package realtime carries row-change notifications and ephemeral broadcasts
// between writers and live conversation sessions.
package realtime

import "context"

// Handler receives a raw payload from a channel. It may be invoked on any goroutine.
type Handler func(payload []byte)

// Bus moves raw payloads over named channels.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe attaches handler to channel. The returned func detaches it and
	// is safe to call more than once.
	Subscribe(ctx context.Context, channel string, handler Handler) (func(), error)
	Close() error
}

const (
	changeChannelPrefix    = "realtime:changes:"
	broadcastChannelPrefix = "realtime:broadcast:"
)

func changeChannel(table string) string {
	return changeChannelPrefix + table
}

func broadcastChannel(topic string) string {
	return broadcastChannelPrefix + topic
}
