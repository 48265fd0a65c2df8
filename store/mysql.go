package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/golang/glog"

	"github.com/mqy/minispace/chatstore"
)

const (
	getSpaceSQL    = "SELECT id, title, space_type, create_time, update_time FROM spaces WHERE id=?"
	lockSpaceSQL   = "SELECT space_type FROM spaces WHERE id=? FOR UPDATE"
	insertSpaceSQL = "INSERT INTO spaces (id, title, space_type, create_time, update_time) VALUES (?,?,?,?,?)"
	updateSpaceSQL = "UPDATE spaces SET space_type=?, update_time=? WHERE id=?"
)

const (
	insertMessageSQL = "INSERT INTO messages (space_id, author_id, type, content, create_time) VALUES (?,?,?,?,?)"
	getMessagesSQL   = "SELECT id, author_id, type, content, create_time FROM messages " +
		"WHERE space_id=? ORDER BY id DESC LIMIT ?"
)

// mysqlStore implements interface `ISpaceStore`, see dev/mysql/schema.sql.
type mysqlStore struct {
	*sql.DB
}

func NewMysqlStore(db *sql.DB) *mysqlStore {
	return &mysqlStore{db}
}

func (s *mysqlStore) withTx(ctx context.Context, exec func(ctx context.Context, tx *sql.Tx) error, opts ...*sql.TxOptions) error {
	var txOpts *sql.TxOptions
	if len(opts) == 0 {
		txOpts = &sql.TxOptions{
			Isolation: sql.LevelRepeatableRead,
			ReadOnly:  false,
		}
	} else {
		txOpts = opts[0]
	}
	tx, err := s.BeginTx(ctx, txOpts)
	if err != nil {
		return err
	}

	if err := exec(ctx, tx); err != nil {
		if err2 := tx.Rollback(); err2 != nil {
			glog.Errorf("failed to rollback: %v", err2)
		}
		return err
	}

	return tx.Commit()
}

func (s *mysqlStore) IsDupKeyError(err error) bool {
	var val *mysql.MySQLError
	if errors.As(err, &val) {
		return val.Number == 1062
	}
	return false
}

func (s *mysqlStore) SendMessage(ctx context.Context, spaceID string, authorID int32, draft chatstore.Draft) (*chatstore.Message, error) {
	now := time.Now()
	var id int64
	if err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, insertMessageSQL, spaceID, authorID, string(draft.Type), draft.Content, now)
		if err != nil {
			glog.Errorf("insert message exec err: %v", err)
			return err
		}
		id, err = res.LastInsertId()
		return err
	}); err != nil {
		return nil, err
	}

	return &chatstore.Message{
		ID:        strconv.FormatInt(id, 10),
		SpaceID:   spaceID,
		AuthorID:  authorID,
		Content:   draft.Content,
		Type:      draft.Type,
		CreatedAt: now,
		Status:    chatstore.Status_Confirmed,
	}, nil
}

func (s *mysqlStore) UpdateSpace(ctx context.Context, spaceID, spaceType string) error {
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// select for update
		var old string
		if err := tx.QueryRowContext(ctx, lockSpaceSQL, spaceID).Scan(&old); err != nil {
			if err == sql.ErrNoRows {
				return ErrSpaceNotFound
			}
			glog.Errorf("lock space scan err: %v", err)
			return err
		}
		if _, err := tx.ExecContext(ctx, updateSpaceSQL, spaceType, time.Now(), spaceID); err != nil {
			glog.Errorf("update space exec err: %v", err)
			return err
		}
		glog.V(5).Infof("space `%s` type: %s -> %s", spaceID, old, spaceType)
		return nil
	})
}

func (s *mysqlStore) GetSpace(ctx context.Context, spaceID string) (*SpaceRow, error) {
	var out SpaceRow
	row := s.QueryRowContext(ctx, getSpaceSQL, spaceID)
	if err := row.Scan(&out.ID, &out.Title, &out.Type, &out.CreateTime, &out.UpdateTime); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSpaceNotFound
		}
		glog.Errorf("get space scan err: %v", err)
		return nil, err
	}
	return &out, nil
}

func (s *mysqlStore) CreateSpace(ctx context.Context, row *SpaceRow) (*SpaceRow, error) {
	now := time.Now()
	out := *row
	out.CreateTime = now
	out.UpdateTime = now

	if _, err := s.ExecContext(ctx, insertSpaceSQL, out.ID, out.Title, out.Type, now, now); err != nil {
		// Created concurrently by another node.
		if s.IsDupKeyError(err) {
			return s.GetSpace(ctx, row.ID)
		}
		glog.Errorf("insert space exec err: %v", err)
		return nil, err
	}
	return &out, nil
}

func (s *mysqlStore) GetMessages(ctx context.Context, spaceID string, limit int) ([]*chatstore.Message, error) {
	rows, err := s.QueryContext(ctx, getMessagesSQL, spaceID, limit)
	if err != nil {
		glog.Errorf("get messages query err: %v", err)
		return nil, err
	}
	defer rows.Close()

	var out []*chatstore.Message
	for rows.Next() {
		var id int64
		var typ string
		m := &chatstore.Message{SpaceID: spaceID, Status: chatstore.Status_Confirmed}
		if err := rows.Scan(&id, &m.AuthorID, &typ, &m.Content, &m.CreatedAt); err != nil {
			glog.Errorf("get messages scan err: %v", err)
			return nil, err
		}
		m.ID = strconv.FormatInt(id, 10)
		m.Type = chatstore.MsgType(typ)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reverse(out)
	return out, nil
}

func reverse(msgs []*chatstore.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
