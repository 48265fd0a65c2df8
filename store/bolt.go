package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/golang/glog"
	"go.etcd.io/bbolt"

	"github.com/mqy/minispace/chatstore"
)

var (
	spacesBucket   = []byte("spaces")
	messagesBucket = []byte("messages") // nested bucket per space, keyed by big endian seq.
)

// boltStore implements interface `ISpaceStore` on a local bbolt file.
// Suitable for a standalone node only: the file can't be shared between nodes.
type boltStore struct {
	db *bbolt.DB
}

func OpenBoltStore(path string) (*boltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt file `%s`: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{spacesBucket, messagesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init bolt buckets: %w", err)
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) Close() error {
	return s.db.Close()
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

func (s *boltStore) SendMessage(ctx context.Context, spaceID string, authorID int32, draft chatstore.Draft) (*chatstore.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *chatstore.Message
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(messagesBucket).CreateBucketIfNotExists([]byte(spaceID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		m := &chatstore.Message{
			ID:        strconv.FormatUint(seq, 10),
			SpaceID:   spaceID,
			AuthorID:  authorID,
			Content:   draft.Content,
			Type:      draft.Type,
			CreatedAt: time.Now(),
			Status:    chatstore.Status_Confirmed,
		}
		value, err := json.Marshal(m)
		if err != nil {
			return err
		}
		if err := b.Put(seqKey(seq), value); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		glog.Errorf("bolt: send message to `%s` err: %v", spaceID, err)
		return nil, err
	}
	return out, nil
}

func (s *boltStore) UpdateSpace(ctx context.Context, spaceID, spaceType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(spacesBucket)
		row, err := getSpaceRow(b, spaceID)
		if err != nil {
			return err
		}
		row.Type = spaceType
		row.UpdateTime = time.Now()
		return putSpaceRow(b, row)
	})
}

func (s *boltStore) GetSpace(ctx context.Context, spaceID string) (*SpaceRow, error) {
	var out *SpaceRow
	err := s.db.View(func(tx *bbolt.Tx) error {
		row, err := getSpaceRow(tx.Bucket(spacesBucket), spaceID)
		out = row
		return err
	})
	return out, err
}

func (s *boltStore) CreateSpace(ctx context.Context, row *SpaceRow) (*SpaceRow, error) {
	var out *SpaceRow
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(spacesBucket)
		if existing, err := getSpaceRow(b, row.ID); err == nil {
			out = existing
			return nil
		} else if err != ErrSpaceNotFound {
			return err
		}
		now := time.Now()
		v := *row
		v.CreateTime = now
		v.UpdateTime = now
		out = &v
		return putSpaceRow(b, &v)
	})
	return out, err
}

func (s *boltStore) GetMessages(ctx context.Context, spaceID string, limit int) ([]*chatstore.Message, error) {
	var out []*chatstore.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(messagesBucket).Bucket([]byte(spaceID))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var m chatstore.Message
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("decode message %x: %w", k, err)
			}
			out = append(out, &m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	reverse(out)
	return out, nil
}

func getSpaceRow(b *bbolt.Bucket, spaceID string) (*SpaceRow, error) {
	v := b.Get([]byte(spaceID))
	if v == nil {
		return nil, ErrSpaceNotFound
	}
	var row SpaceRow
	if err := json.Unmarshal(v, &row); err != nil {
		return nil, fmt.Errorf("decode space `%s`: %w", spaceID, err)
	}
	return &row, nil
}

func putSpaceRow(b *bbolt.Bucket, row *SpaceRow) error {
	value, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return b.Put([]byte(row.ID), value)
}
