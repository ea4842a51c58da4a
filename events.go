package voiceapi

import "encoding/json"

// Resource type tags used by the platform inside event payloads.
const (
	resourceTypeChannel  = "channel"
	resourceTypePlayback = "channel-audio-playback"
)

// Playback lifecycle steps, in order. A playback always moves forward through
// this sequence, but the playing and completing steps may be skipped.
const (
	LifecycleCreated    = "created"
	LifecyclePlaying    = "playing"
	LifecycleCompleting = "completing"
	LifecycleCompleted  = "completed"
)

var lifecycleOrder = map[string]int{
	LifecycleCreated:    0,
	LifecyclePlaying:    1,
	LifecycleCompleting: 2,
	LifecycleCompleted:  3,
}

// LifecycleRank maps a playback lifecycle step onto its position in the fixed
// ordering created < playing < completing < completed. Unknown steps rank -1.
func LifecycleRank(lifecycle string) int {
	if rank, ok := lifecycleOrder[lifecycle]; ok {
		return rank
	}
	return -1
}

// ResourceReference identifies a remote API resource. The Reference URL is
// also the address that accepts commands for the resource: a DELETE on a
// channel reference, for example, hangs up that channel.
type ResourceReference struct {
	// Type of the resource, e.g. "channel" or "channel-audio-playback".
	Type string `json:"type"`
	// ID is the unique identifier of the resource.
	ID string `json:"id"`
	// Reference is the canonical URL of the resource.
	Reference string `json:"reference"`
}

// Event is an occurrence reported by the platform on the event websocket.
// Concrete variants are ChannelEvent and PlaybackEvent; messages for other
// resource kinds are dropped before reaching subscribers.
type Event interface {
	// Resource returns a reference to the resource that triggered the event.
	Resource() ResourceReference
	// EventType returns the resource-specific event type tag, such as
	// "created" or "completed".
	EventType() string
}

// ChannelEvent is reported on a channel resource, one active call leg.
type ChannelEvent struct {
	ResourceRef ResourceReference `json:"resource"`
	Type        string            `json:"type"`
}

// Resource implements Event.
func (e ChannelEvent) Resource() ResourceReference { return e.ResourceRef }

// EventType implements Event.
func (e ChannelEvent) EventType() string { return e.Type }

// PlaybackState describes the state of a playback at the time its event was
// raised. Every playback event carries a full copy.
type PlaybackState struct {
	// Lifecycle is the current lifecycle step of the playback.
	Lifecycle string `json:"lifecycle"`
}

// PlaybackEvent is reported on an audio playback resource. One event is
// emitted for each change to the playback state.
type PlaybackEvent struct {
	ResourceRef ResourceReference `json:"resource"`
	Type        string            `json:"type"`
	State       PlaybackState     `json:"state"`
}

// Resource implements Event.
func (e PlaybackEvent) Resource() ResourceReference { return e.ResourceRef }

// EventType implements Event.
func (e PlaybackEvent) EventType() string { return e.Type }

// envelope is used for initial JSON parsing to classify an inbound message
// before unmarshaling into the specific event struct.
type envelope struct {
	Type     string `json:"type"`
	Resource struct {
		Type string `json:"type"`
	} `json:"resource"`
}

// parseEvent classifies raw message data by its nested resource type tag.
// The boolean reports whether the message mapped onto a known event variant;
// unrecognized resource kinds return (nil, false, nil) and are dropped by the
// caller.
func parseEvent(env envelope, raw []byte) (Event, bool, error) {
	switch env.Resource.Type {
	case resourceTypeChannel:
		var e ChannelEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, false, NewProtocolError(raw, err)
		}
		return e, true, nil
	case resourceTypePlayback:
		var e PlaybackEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, false, NewProtocolError(raw, err)
		}
		return e, true, nil
	default:
		return nil, false, nil
	}
}

// AudioFragment is one chunk of inbound audio delivered on the audio
// callback, tagged with the stream it belongs to. Fragments are ephemeral:
// they are handed to subscribers immediately and never buffered.
type AudioFragment struct {
	// StreamID is the client-generated correlation id of the audio stream.
	StreamID string
	// Payload is the raw audio bytes of this chunk.
	Payload []byte
}
