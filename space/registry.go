package space

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/minispace/analysis"
	"github.com/mqy/minispace/chatstore"
	"github.com/mqy/minispace/morph"
	"github.com/mqy/minispace/quantum"
	"github.com/mqy/minispace/store"
)

type Config struct {
	// type of a space created on first interaction.
	DefaultType morph.Type
	// max messages held in memory per space, 0 means unlimited.
	MaxMessages int
	// number of latest messages loaded when a space is created in memory.
	HistoryLimit int
	// max quantum events held per space.
	MaxEvents int
	// request morph suggestions after each committed morph.
	SuggestOnChange bool
	SuggestTimeout  time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		DefaultType:    morph.Meeting,
		MaxMessages:    1000,
		HistoryLimit:   50,
		MaxEvents:      quantum.DefaultMaxEvents,
		SuggestTimeout: 3 * time.Second,
	}
}

func (c *Config) Validate() error {
	if _, err := morph.ParseType(string(c.DefaultType)); err != nil {
		return fmt.Errorf("default type: %w", err)
	}
	if c.MaxMessages < 0 {
		return fmt.Errorf("max messages: negative %d", c.MaxMessages)
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("history limit: negative %d", c.HistoryLimit)
	}
	if c.MaxEvents < 0 {
		return fmt.Errorf("max events: negative %d", c.MaxEvents)
	}
	if c.SuggestOnChange && c.SuggestTimeout <= 0 {
		return errors.New("suggest timeout: must be positive")
	}
	return nil
}

// Registry holds the spaces of this node in memory.
type Registry struct {
	sync.Mutex
	spaces map[string]*Space

	conf     *Config
	store    store.ISpaceStore
	analyzer analysis.IAnalyzer
	unread   *UnreadTracker

	pubLock   sync.RWMutex
	publisher Publisher
}

// NewRegistry creates a registry. `analyzer` may be nil.
func NewRegistry(conf *Config, st store.ISpaceStore, analyzer analysis.IAnalyzer) *Registry {
	if conf == nil {
		conf = DefaultConfig()
	}
	return &Registry{
		spaces:   make(map[string]*Space),
		conf:     conf,
		store:    st,
		analyzer: analyzer,
		unread:   NewUnreadTracker(),
	}
}

// SetPublisher sets the fan-out target of committed changes, nil disables it.
func (r *Registry) SetPublisher(p Publisher) {
	r.pubLock.Lock()
	r.publisher = p
	r.pubLock.Unlock()
}

func (r *Registry) getPublisher() Publisher {
	r.pubLock.RLock()
	defer r.pubLock.RUnlock()
	return r.publisher
}

func (r *Registry) Unread() *UnreadTracker {
	return r.unread
}

// Lookup returns the space if it is in memory.
func (r *Registry) Lookup(spaceID string) *Space {
	r.Lock()
	defer r.Unlock()
	return r.spaces[spaceID]
}

// Get returns the space in memory, or loads it from store, creating the row if absent.
func (r *Registry) Get(ctx context.Context, spaceID string) (*Space, error) {
	if spaceID == "" {
		return nil, &chatstore.ValidationError{Field: "space_id", Reason: "empty"}
	}
	if s := r.Lookup(spaceID); s != nil {
		return s, nil
	}

	row, err := r.store.GetSpace(ctx, spaceID)
	if errors.Is(err, store.ErrSpaceNotFound) {
		row, err = r.store.CreateSpace(ctx, &store.SpaceRow{ID: spaceID, Type: string(r.conf.DefaultType)})
		if err == nil {
			glog.Infof("space `%s` created, type: %s", spaceID, row.Type)
		}
	}
	if err != nil {
		return nil, store.NewPersistenceError("load_space", spaceID, err)
	}

	var history []*chatstore.Message
	if r.conf.HistoryLimit > 0 {
		if history, err = r.store.GetMessages(ctx, spaceID, r.conf.HistoryLimit); err != nil {
			return nil, store.NewPersistenceError("load_messages", spaceID, err)
		}
	}

	s := newSpace(row, r.conf, r.store, r.analyzer, r.unread, r.getPublisher)
	for _, m := range history {
		s.log.Observe(m)
	}

	r.Lock()
	defer r.Unlock()
	// lost the race to a concurrent Get.
	if existing, ok := r.spaces[spaceID]; ok {
		return existing, nil
	}
	r.spaces[spaceID] = s
	liveSpaces.Set(float64(len(r.spaces)))
	if glog.V(5) {
		glog.Infof("space `%s` loaded, %d messages", spaceID, len(history))
	}
	return s, nil
}

// joinAttempts bounds reloading a space evicted between Get and Join.
const joinAttempts = 3

var ErrSpaceEvicted = errors.New("space evicted while joining")

// Join gets the space and adds `uid` to its members, `fn` is subscribed to its events first.
// The returned func unsubscribes and leaves.
func (r *Registry) Join(ctx context.Context, spaceID string, uid int32, fn func(Event)) (*Space, func(), error) {
	for i := 0; i < joinAttempts; i++ {
		s, err := r.Get(ctx, spaceID)
		if err != nil {
			return nil, nil, err
		}
		unsubscribe := s.Subscribe(fn)
		if s.Join(uid) {
			return s, func() {
				unsubscribe()
				s.Leave(uid)
			}, nil
		}
		unsubscribe()
		glog.V(5).Infof("space `%s` evicted while user %d joining, reload", spaceID, uid)
	}
	return nil, nil, ErrSpaceEvicted
}

// Sweep evicts spaces without members idle longer than `idleTTL`, returns the number evicted.
func (r *Registry) Sweep(idleTTL time.Duration) int {
	now := time.Now()
	var evicted []string

	r.Lock()
	for id, s := range r.spaces {
		if s.evictIfIdle(now, idleTTL) {
			delete(r.spaces, id)
			evicted = append(evicted, id)
		}
	}
	liveSpaces.Set(float64(len(r.spaces)))
	r.Unlock()

	for _, id := range evicted {
		r.unread.Forget(id)
	}
	if len(evicted) > 0 {
		glog.Infof("evicted %d idle spaces", len(evicted))
	}
	return len(evicted)
}

func (r *Registry) Len() int {
	r.Lock()
	defer r.Unlock()
	return len(r.spaces)
}
