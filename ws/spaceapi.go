package ws

import (
	"context"
	"errors"
	"fmt"

	"github.com/mqy/minispace/chatstore"
	"github.com/mqy/minispace/media"
	"github.com/mqy/minispace/morph"
	"github.com/mqy/minispace/protocol"
	"github.com/mqy/minispace/quantum"
	"github.com/mqy/minispace/space"
	"github.com/mqy/minispace/store"
)

const (
	ErrorCodeInvalidArguments   = 3
	ErrorCodeResourceExhausted  = 8
	ErrorCodeFailedPrecondition = 9
	ErrorCodeInternal           = 13
	ErrorCodeUnavailable        = 14
)

// SpaceApi serves websocket client requests.
type SpaceApi struct {
	registry *space.Registry
	resolver *media.Resolver
	conf     *protocol.WsConf
}

func NewApi(registry *space.Registry, resolver *media.Resolver, conf *protocol.WsConf) *SpaceApi {
	return &SpaceApi{
		registry: registry,
		resolver: resolver,
		conf:     conf,
	}
}

func (s *SpaceApi) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.conf.RequestTimeout > 0 {
		return context.WithTimeout(ctx, s.conf.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *SpaceApi) getSpace(ctx context.Context, spaceID string, req *protocol.ClientMsg) (*space.Space, *protocol.Error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	sp, err := s.registry.Get(ctx, spaceID)
	if err != nil {
		return nil, toError(req, err)
	}
	return sp, nil
}

// Join adds the user to the space and subscribes `push` to its events.
// The returned func unsubscribes and leaves.
func (s *SpaceApi) Join(ctx context.Context, uid int32, req *protocol.JoinReq, push func(space.Event)) (*protocol.JoinResp, func(), *protocol.Error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	sp, leave, err := s.registry.Join(ctx, req.SpaceID, uid, push)
	if err != nil {
		return nil, nil, toError(&protocol.ClientMsg{Join: req}, err)
	}
	return &protocol.JoinResp{Snapshot: s.renderSnapshot(sp.Snapshot(), sp.Unread(uid))}, leave, nil
}

func (s *SpaceApi) Send(ctx context.Context, uid int32, req *protocol.SendReq) (*protocol.MessageResp, *protocol.Error) {
	cm := &protocol.ClientMsg{Send: req}
	sp, perr := s.getSpace(ctx, req.SpaceID, cm)
	if perr != nil {
		return nil, perr
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	m, err := sp.Send(ctx, uid, chatstore.Draft{Content: req.Content, Type: req.Type})
	if err != nil {
		// the failed entry is kept for retry.
		if m != nil {
			return &protocol.MessageResp{Message: s.render(m)}, toError(cm, err)
		}
		return nil, toError(cm, err)
	}
	return &protocol.MessageResp{Message: s.render(m)}, nil
}

func (s *SpaceApi) Retry(ctx context.Context, uid int32, req *protocol.RetryReq) (*protocol.MessageResp, *protocol.Error) {
	cm := &protocol.ClientMsg{Retry: req}
	if req.MsgID == "" {
		return nil, newInvalidArgumentError(cm, "msg_id: empty")
	}
	sp, perr := s.getSpace(ctx, req.SpaceID, cm)
	if perr != nil {
		return nil, perr
	}

	if req.Discard {
		if err := sp.Discard(uid, req.MsgID); err != nil {
			return nil, toError(cm, err)
		}
		return &protocol.MessageResp{}, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	m, err := sp.Retry(ctx, uid, req.MsgID)
	if err != nil {
		if m != nil {
			return &protocol.MessageResp{Message: s.render(m)}, toError(cm, err)
		}
		return nil, toError(cm, err)
	}
	return &protocol.MessageResp{Message: s.render(m)}, nil
}

func (s *SpaceApi) React(ctx context.Context, uid int32, req *protocol.ReactReq) (*protocol.MessageResp, *protocol.Error) {
	cm := &protocol.ClientMsg{React: req}
	if req.MsgID == "" || req.Reaction == "" {
		return nil, newInvalidArgumentError(cm, "msg_id and reaction: should not be empty")
	}
	sp, perr := s.getSpace(ctx, req.SpaceID, cm)
	if perr != nil {
		return nil, perr
	}
	m, ok := sp.React(req.MsgID, uid, req.Reaction)
	if !ok {
		// unknown message: not an error.
		return &protocol.MessageResp{}, nil
	}
	return &protocol.MessageResp{Message: s.render(m)}, nil
}

func (s *SpaceApi) MarkRead(ctx context.Context, uid int32, req *protocol.MarkReadReq) (*protocol.MarkReadResp, *protocol.Error) {
	if req.SpaceID == "" {
		return nil, newInvalidArgumentError(&protocol.ClientMsg{MarkRead: req}, "space_id: empty")
	}
	n := s.registry.Unread().MarkRead(req.SpaceID, uid)
	return &protocol.MarkReadResp{SpaceID: req.SpaceID, Cleared: n}, nil
}

func (s *SpaceApi) Stats(ctx context.Context, uid int32, req *protocol.StatsReq) (*protocol.StatsResp, *protocol.Error) {
	return &protocol.StatsResp{
		Unread: s.registry.Unread().Stats(uid),
		Conf:   s.conf,
	}, nil
}

func (s *SpaceApi) Morph(ctx context.Context, uid int32, req *protocol.MorphReq) (*protocol.MorphResp, *protocol.Error) {
	cm := &protocol.ClientMsg{Morph: req}
	sp, perr := s.getSpace(ctx, req.SpaceID, cm)
	if perr != nil {
		return nil, perr
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := sp.InitiateMorph(ctx, req.Type); err != nil {
		return nil, toError(cm, err)
	}
	return &protocol.MorphResp{Type: sp.Type()}, nil
}

func (s *SpaceApi) Suggest(ctx context.Context, uid int32, req *protocol.SuggestReq) (*protocol.SuggestResp, *protocol.Error) {
	cm := &protocol.ClientMsg{Suggest: req}
	sp, perr := s.getSpace(ctx, req.SpaceID, cm)
	if perr != nil {
		return nil, perr
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	out, err := sp.RequestSuggestions(ctx)
	if err != nil {
		return nil, toError(cm, err)
	}
	return &protocol.SuggestResp{Suggested: out}, nil
}

func (s *SpaceApi) Entangle(ctx context.Context, uid int32, req *protocol.EntangleReq) (*protocol.QuantumResp, *protocol.Error) {
	cm := &protocol.ClientMsg{Entangle: req}
	if req.Uid <= 0 || req.Uid == uid {
		return nil, newInvalidArgumentError(cm, "uid: should be another user")
	}
	sp, perr := s.getSpace(ctx, req.SpaceID, cm)
	if perr != nil {
		return nil, perr
	}
	return &protocol.QuantumResp{Event: sp.Entangle(uid, req.Uid)}, nil
}

func (s *SpaceApi) Echo(ctx context.Context, uid int32, req *protocol.EchoReq) (*protocol.QuantumResp, *protocol.Error) {
	sp, perr := s.getSpace(ctx, req.SpaceID, &protocol.ClientMsg{Echo: req})
	if perr != nil {
		return nil, perr
	}
	return &protocol.QuantumResp{Event: sp.TimeEcho(req.Data)}, nil
}

func (s *SpaceApi) Trigger(ctx context.Context, uid int32, req *protocol.TriggerReq) (*protocol.QuantumResp, *protocol.Error) {
	cm := &protocol.ClientMsg{Trigger: req}
	sp, perr := s.getSpace(ctx, req.SpaceID, cm)
	if perr != nil {
		return nil, perr
	}
	ev, err := sp.Trigger(req.Type, req.Data, req.Probability, req.Superpositions)
	if err != nil {
		return nil, toError(cm, err)
	}
	return &protocol.QuantumResp{Event: ev}, nil
}

func (s *SpaceApi) Collapse(ctx context.Context, uid int32, req *protocol.CollapseReq) (*protocol.CollapseResp, *protocol.Error) {
	sp, perr := s.getSpace(ctx, req.SpaceID, &protocol.ClientMsg{Collapse: req})
	if perr != nil {
		return nil, perr
	}
	ev, ok := sp.Collapse(req.EventID, req.Choice)
	return &protocol.CollapseResp{Found: ok, Event: ev}, nil
}

func (s *SpaceApi) Snapshot(ctx context.Context, uid int32, req *protocol.SnapshotReq) (*protocol.SnapshotView, *protocol.Error) {
	sp, perr := s.getSpace(ctx, req.SpaceID, &protocol.ClientMsg{Snapshot: req})
	if perr != nil {
		return nil, perr
	}
	return s.renderSnapshot(sp.Snapshot(), sp.Unread(uid)), nil
}

func (s *SpaceApi) render(m *chatstore.Message) *protocol.MessageView {
	if m == nil {
		return nil
	}
	v := &protocol.MessageView{
		Message:        m,
		ReactionCounts: chatstore.Aggregate(m.Reactions),
	}
	if m.Type == chatstore.MsgType_Image {
		v.MediaURL = s.resolver.Resolve(m.Content)
	}
	return v
}

func (s *SpaceApi) renderEvent(e *space.Event) *protocol.EventView {
	return &protocol.EventView{Event: e, Message: s.render(e.Message)}
}

func (s *SpaceApi) renderSnapshot(snap *space.Snapshot, unread int) *protocol.SnapshotView {
	out := &protocol.SnapshotView{
		Snapshot: snap,
		Messages: make([]*protocol.MessageView, 0, len(snap.Messages)),
		Unread:   unread,
	}
	for _, m := range snap.Messages {
		out.Messages = append(out.Messages, s.render(m))
	}
	for i := range snap.Media {
		snap.Media[i].URL = s.resolver.Resolve(snap.Media[i].Path)
	}
	return out
}

// toError converts errors of space operations to client errors.
func toError(req *protocol.ClientMsg, err error) *protocol.Error {
	var verr *chatstore.ValidationError
	var perr *store.PersistenceError

	switch {
	case errors.As(err, &verr),
		errors.Is(err, morph.ErrUnknownType),
		errors.Is(err, quantum.ErrInvalidEvent),
		errors.Is(err, space.ErrNotRetryable):
		return newInvalidArgumentError(req, err.Error())
	case errors.Is(err, morph.ErrConcurrentMorph):
		return &protocol.Error{Code: ErrorCodeFailedPrecondition, Params: []string{err.Error()}, Req: req}
	case errors.As(err, &perr):
		return &protocol.Error{Code: ErrorCodeUnavailable, Params: []string{err.Error()}, Req: req}
	}
	return newInternalError(req, err.Error())
}

func newInvalidArgumentError(req *protocol.ClientMsg, errs ...string) *protocol.Error {
	return &protocol.Error{
		Code:   ErrorCodeInvalidArguments,
		Params: errs,
		Req:    req,
	}
}

func newInternalError(req *protocol.ClientMsg, err string) *protocol.Error {
	return &protocol.Error{
		Code:   ErrorCodeInternal,
		Params: []string{err},
		Req:    req,
	}
}

func newRateLimitedError(req *protocol.ClientMsg, limit float64) *protocol.Error {
	return &protocol.Error{
		Code:   ErrorCodeResourceExhausted,
		Params: []string{fmt.Sprintf("rate limited: %g requests per second", limit)},
		Req:    req,
	}
}

// interceptError masks internal details.
func interceptError(err *protocol.Error) {
	switch err.Code {
	case ErrorCodeInternal:
		err.Params = []string{"internal error"}
	case ErrorCodeUnavailable:
		err.Params = []string{"temp storage error"}
	}
}
