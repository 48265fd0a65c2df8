// Package protocol defines the JSON messages exchanged with websocket clients and between nodes.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/mqy/minispace/chatstore"
	"github.com/mqy/minispace/morph"
	"github.com/mqy/minispace/quantum"
	"github.com/mqy/minispace/space"
)

// WsConf is sent to clients within StatsResp.
type WsConf struct {
	// requests per second per session.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `json:"rate_burst" yaml:"rate_burst"`
	// max bytes of a kafka event value.
	EventPayloadMaxBytes int32 `json:"event_payload_max_bytes" yaml:"event_payload_max_bytes"`
	MaxContentLen        int   `json:"max_content_len" yaml:"-"`
	// timeout of store and analysis calls made for a request.
	RequestTimeout time.Duration `json:"-" yaml:"request_timeout"`
}

type Session struct {
	Uid         int32  `json:"uid"`
	Sid         string `json:"sid"`
	CreateTime  int64  `json:"create_time"`
	Ip          string `json:"ip"`
	KickoffTime int64  `json:"kickoff_time,omitempty"`
}

type Error struct {
	Code   int32      `json:"code"`
	Params []string   `json:"params,omitempty"`
	Req    *ClientMsg `json:"req,omitempty"`
}

// ClientMsg is a request from client, exactly one field is set.
type ClientMsg struct {
	Join     *JoinReq     `json:"join,omitempty"`
	Leave    *LeaveReq    `json:"leave,omitempty"`
	Send     *SendReq     `json:"send,omitempty"`
	Retry    *RetryReq    `json:"retry,omitempty"`
	React    *ReactReq    `json:"react,omitempty"`
	MarkRead *MarkReadReq `json:"mark_read,omitempty"`
	Stats    *StatsReq    `json:"stats,omitempty"`
	Morph    *MorphReq    `json:"morph,omitempty"`
	Suggest  *SuggestReq  `json:"suggest,omitempty"`
	Entangle *EntangleReq `json:"entangle,omitempty"`
	Echo     *EchoReq     `json:"echo,omitempty"`
	Trigger  *TriggerReq  `json:"trigger,omitempty"`
	Collapse *CollapseReq `json:"collapse,omitempty"`
	Snapshot *SnapshotReq `json:"snapshot,omitempty"`
}

// ServerMsg is a response to a ClientMsg, or a pushed event.
type ServerMsg struct {
	Error   *Error     `json:"error,omitempty"`
	Event   *EventView `json:"event,omitempty"`
	Kickoff bool       `json:"kickoff,omitempty"`

	Join     *JoinResp     `json:"join,omitempty"`
	Leave    *LeaveResp    `json:"leave,omitempty"`
	Send     *MessageResp  `json:"send,omitempty"`
	Retry    *MessageResp  `json:"retry,omitempty"`
	React    *MessageResp  `json:"react,omitempty"`
	MarkRead *MarkReadResp `json:"mark_read,omitempty"`
	Stats    *StatsResp    `json:"stats,omitempty"`
	Morph    *MorphResp    `json:"morph,omitempty"`
	Suggest  *SuggestResp  `json:"suggest,omitempty"`
	Entangle *QuantumResp  `json:"entangle,omitempty"`
	Echo     *QuantumResp  `json:"echo,omitempty"`
	Trigger  *QuantumResp  `json:"trigger,omitempty"`
	Collapse *CollapseResp `json:"collapse,omitempty"`
	Snapshot *SnapshotView `json:"snapshot,omitempty"`
}

type JoinReq struct {
	SpaceID string `json:"space_id"`
}

type JoinResp struct {
	Snapshot *SnapshotView `json:"snapshot"`
}

type LeaveReq struct {
	SpaceID string `json:"space_id"`
}

type LeaveResp struct {
	SpaceID string `json:"space_id"`
}

type SendReq struct {
	SpaceID string            `json:"space_id"`
	Content string            `json:"content"`
	Type    chatstore.MsgType `json:"type,omitempty"`
}

// RetryReq re-sends a failed message, or removes it when Discard is set.
type RetryReq struct {
	SpaceID string `json:"space_id"`
	MsgID   string `json:"msg_id"`
	Discard bool   `json:"discard,omitempty"`
}

type ReactReq struct {
	SpaceID  string `json:"space_id"`
	MsgID    string `json:"msg_id"`
	Reaction string `json:"reaction"`
}

type MessageResp struct {
	Message *MessageView `json:"message,omitempty"`
}

type MarkReadReq struct {
	SpaceID string `json:"space_id"`
}

type MarkReadResp struct {
	SpaceID string `json:"space_id"`
	Cleared int    `json:"cleared"`
}

type StatsReq struct{}

type StatsResp struct {
	// space id -> unread count, zero counts are omitted.
	Unread map[string]int `json:"unread"`
	Conf   *WsConf        `json:"conf,omitempty"`
}

type MorphReq struct {
	SpaceID string `json:"space_id"`
	Type    string `json:"space_type"`
}

type MorphResp struct {
	Type morph.Type `json:"space_type"`
}

type SuggestReq struct {
	SpaceID string `json:"space_id"`
}

type SuggestResp struct {
	Suggested []morph.Type `json:"suggested"`
}

// EntangleReq entangles the session user with Uid.
type EntangleReq struct {
	SpaceID string `json:"space_id"`
	Uid     int32  `json:"uid"`
}

type EchoReq struct {
	SpaceID string          `json:"space_id"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type TriggerReq struct {
	SpaceID        string          `json:"space_id"`
	Type           quantum.Kind    `json:"type"`
	Data           json.RawMessage `json:"data,omitempty"`
	Probability    float64         `json:"probability"`
	Superpositions []string        `json:"superpositions"`
}

type QuantumResp struct {
	Event *quantum.Event `json:"event"`
}

type CollapseReq struct {
	SpaceID string `json:"space_id"`
	EventID string `json:"event_id"`
	Choice  string `json:"choice"`
}

type CollapseResp struct {
	Found bool           `json:"found"`
	Event *quantum.Event `json:"event,omitempty"`
}

type SnapshotReq struct {
	SpaceID string `json:"space_id"`
}

// MessageView is a message rendered for clients.
type MessageView struct {
	*chatstore.Message
	MediaURL       string                    `json:"media_url,omitempty"`
	ReactionCounts []chatstore.ReactionCount `json:"reaction_counts,omitempty"`
}

// EventView is a space event rendered for clients.
type EventView struct {
	*space.Event
	Message *MessageView `json:"message,omitempty"`
}

// SnapshotView is a space snapshot rendered for clients.
type SnapshotView struct {
	*space.Snapshot
	Messages []*MessageView `json:"messages"`
	Unread   int            `json:"unread"`
}

// KafkaEvent is published by a node when a message is confirmed, a reaction is added or a
// morph is committed. Exactly one of Message, Reaction and SpaceType is set.
type KafkaEvent struct {
	Origin    string             `json:"origin"`
	SpaceID   string             `json:"space_id"`
	Message   *chatstore.Message `json:"message,omitempty"`
	Reaction  *KafkaReaction     `json:"reaction,omitempty"`
	SpaceType morph.Type         `json:"space_type,omitempty"`
}

type KafkaReaction struct {
	MsgID    string `json:"msg_id"`
	UserID   int32  `json:"uid"`
	Reaction string `json:"reaction"`
}

// HubMsg is sent by the websocket hub to the node.
type HubMsg struct {
	SessionOnline  *Session   `json:"session_online,omitempty"`
	SessionOffline string     `json:"session_offline,omitempty"`
	SyncSessions   []*Session `json:"sync_sessions,omitempty"`
}

// NodeMsg is sent by the node to the websocket hub.
type NodeMsg struct {
	// sids to kick off.
	Kickoff []string `json:"kickoff,omitempty"`
}
