package monitor

import (
	"encoding/json"
	"strings"
)

// ARI event kinds the monitor recognizes. Frames of any other kind are
// persisted as-is and otherwise ignored.
const (
	EventStasisStart          = "StasisStart"
	EventStasisEnd            = "StasisEnd"
	EventPlaybackStarted      = "PlaybackStarted"
	EventPlaybackFinished     = "PlaybackFinished"
	EventChannelStateChange   = "ChannelStateChange"
	EventChannelDestroyed     = "ChannelDestroyed"
	EventChannelDtmfReceived  = "ChannelDtmfReceived"
	EventChannelHangupRequest = "ChannelHangupRequest"
)

// channelUp is the ARI state of an answered channel.
const channelUp = "Up"

// Frame is one ARI event with the fields the monitor acts on decoded and
// the payload preserved verbatim for the append-only event log.
type Frame struct {
	Type     string       `json:"type"`
	Channel  ChannelInfo  `json:"channel"`
	Playback PlaybackInfo `json:"playback"`

	Raw json.RawMessage `json:"-"`
}

// ChannelInfo is the channel sub-object carried by channel-scoped events.
type ChannelInfo struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// PlaybackInfo is the playback sub-object carried by Playback* events. Its
// target_uri addresses the channel as "channel:<id>".
type PlaybackInfo struct {
	ID        string `json:"id"`
	TargetURI string `json:"target_uri"`
}

// ParseFrame decodes one WebSocket payload.
func ParseFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	f.Raw = append(json.RawMessage(nil), raw...)
	return &f, nil
}

// Chan extracts the channel identity. Playback events address the channel
// through playback.target_uri; everything else carries channel.id.
func (f *Frame) Chan() string {
	switch f.Type {
	case EventPlaybackStarted, EventPlaybackFinished:
		if _, id, ok := strings.Cut(f.Playback.TargetURI, ":"); ok {
			return id
		}
		return f.Playback.TargetURI
	default:
		return f.Channel.ID
	}
}

// Answered reports whether the frame marks a callee entering the control
// application with the channel already up — the playback trigger.
func (f *Frame) Answered() bool {
	return f.Type == EventStasisStart && f.Channel.State == channelUp
}
