// Package memstore is an in-process docstore.Store with push subscriptions.
// It backs single-process deployments and every package test in this module.
package memstore

import (
	"context"
	"sync"

	"PPChatSync/data/docstore"
	"PPChatSync/tools/ids"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Action 故障注入时区分的操作类型
type Action string

const (
	ActionPut    Action = "put"
	ActionGet    Action = "get"
	ActionQuery  Action = "query"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// FaultFunc 返回非 nil 时，对应操作直接失败且不产生任何写入
type FaultFunc func(action Action, collection, id string) error

type collection struct {
	order []string
	docs  map[string]docstore.Record
}

type Store struct {
	mu    sync.RWMutex
	colls map[string]*collection

	subMu  sync.Mutex
	nextID int
	subs   map[string]map[int]*docstore.Feed

	fault FaultFunc
}

var _ docstore.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		colls: make(map[string]*collection),
		subs:  make(map[string]map[int]*docstore.Feed),
	}
}

// SetFault 安装/清除故障注入
func (s *Store) SetFault(fn FaultFunc) {
	s.mu.Lock()
	s.fault = fn
	s.mu.Unlock()
}

func (s *Store) checkFault(action Action, coll, id string) error {
	s.mu.RLock()
	fn := s.fault
	s.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn(action, coll, id)
}

func (s *Store) coll(name string) *collection {
	c, ok := s.colls[name]
	if !ok {
		c = &collection{docs: make(map[string]docstore.Record)}
		s.colls[name] = c
	}
	return c
}

func (s *Store) Put(ctx context.Context, coll, id string, rec docstore.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if id == "" {
		id = ids.NewID()
	}
	if err := s.checkFault(ActionPut, coll, id); err != nil {
		return "", err
	}
	norm, err := docstore.Normalize(rec)
	if err != nil {
		return "", err
	}
	norm[docstore.IDField] = id

	s.mu.Lock()
	c := s.coll(coll)
	if _, exists := c.docs[id]; !exists {
		c.order = append(c.order, id)
	}
	c.docs[id] = norm
	s.mu.Unlock()

	s.kick(coll)
	return id, nil
}

func (s *Store) Get(ctx context.Context, coll, id string) (docstore.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.checkFault(ActionGet, coll, id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.colls[coll]
	if !ok {
		return nil, errors.Wrapf(docstore.ErrNotFound, "%s/%s", coll, id)
	}
	rec, ok := c.docs[id]
	if !ok {
		return nil, errors.Wrapf(docstore.ErrNotFound, "%s/%s", coll, id)
	}
	return copyRecord(rec), nil
}

func (s *Store) Query(ctx context.Context, coll string, q docstore.Query) ([]docstore.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.checkFault(ActionQuery, coll, ""); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.colls[coll]
	if !ok {
		return []docstore.Record{}, nil
	}
	out := make([]docstore.Record, 0)
	for _, id := range c.order {
		rec := c.docs[id]
		if q.Match(rec) {
			out = append(out, copyRecord(rec))
		}
	}
	return q.Apply(out), nil
}

func (s *Store) Update(ctx context.Context, coll, id string, fields docstore.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.checkFault(ActionUpdate, coll, id); err != nil {
		return err
	}

	plain := docstore.Record{}
	unions := map[string]docstore.ArrayUnion{}
	for k, v := range fields {
		if k == docstore.IDField {
			continue
		}
		if u, ok := v.(docstore.ArrayUnion); ok {
			unions[k] = u
			continue
		}
		plain[k] = v
	}
	norm, err := docstore.Normalize(plain)
	if err != nil {
		return err
	}
	normUnions := map[string][]any{}
	for k, u := range unions {
		n, err := docstore.Normalize(docstore.Record{"v": u.Values})
		if err != nil {
			return err
		}
		arr, _ := n["v"].(primitive.A)
		normUnions[k] = arr
	}

	s.mu.Lock()
	c, ok := s.colls[coll]
	if !ok {
		s.mu.Unlock()
		return errors.Wrapf(docstore.ErrNotFound, "%s/%s", coll, id)
	}
	rec, ok := c.docs[id]
	if !ok {
		s.mu.Unlock()
		return errors.Wrapf(docstore.ErrNotFound, "%s/%s", coll, id)
	}
	next := copyRecord(rec)
	for k, v := range norm {
		next[k] = v
	}
	for k, vals := range normUnions {
		var cur primitive.A
		switch existing := next[k].(type) {
		case primitive.A:
			cur = append(primitive.A{}, existing...)
		case nil:
			cur = primitive.A{}
		default:
			s.mu.Unlock()
			return errors.Errorf("memstore: field %s of %s/%s is not an array", k, coll, id)
		}
		for _, v := range vals {
			dup := false
			for _, e := range cur {
				if docstore.ValueEqual(e, v) {
					dup = true
					break
				}
			}
			if !dup {
				cur = append(cur, v)
			}
		}
		next[k] = cur
	}
	c.docs[id] = next
	s.mu.Unlock()

	s.kick(coll)
	return nil
}

func (s *Store) Delete(ctx context.Context, coll, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.checkFault(ActionDelete, coll, id); err != nil {
		return err
	}
	s.mu.Lock()
	c, ok := s.colls[coll]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if _, ok := c.docs[id]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(c.docs, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.kick(coll)
	return nil
}

func (s *Store) Subscribe(_ context.Context, coll string, q docstore.Query, fn docstore.SnapshotFunc) (docstore.Unsubscribe, error) {
	feed := docstore.NewFeed(coll, func(ctx context.Context) ([]docstore.Record, error) {
		return s.Query(ctx, coll, q)
	}, fn)

	s.subMu.Lock()
	s.nextID++
	id := s.nextID
	if s.subs[coll] == nil {
		s.subs[coll] = make(map[int]*docstore.Feed)
	}
	s.subs[coll][id] = feed
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs[coll], id)
			s.subMu.Unlock()
			feed.Stop()
		})
	}, nil
}

// Subscribers 当前某集合上的活跃订阅数（测试用来断言订阅已释放）
func (s *Store) Subscribers(coll string) int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subs[coll])
}

func (s *Store) kick(coll string) {
	s.subMu.Lock()
	feeds := make([]*docstore.Feed, 0, len(s.subs[coll]))
	for _, f := range s.subs[coll] {
		feeds = append(feeds, f)
	}
	s.subMu.Unlock()
	for _, f := range feeds {
		f.Kick()
	}
}

func copyRecord(rec docstore.Record) docstore.Record {
	out := make(docstore.Record, len(rec))
	for k, v := range rec {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case bson.M:
		return copyRecord(t)
	case primitive.A:
		out := make(primitive.A, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	case bson.D:
		return copyRecord(t.Map())
	}
	return v
}
