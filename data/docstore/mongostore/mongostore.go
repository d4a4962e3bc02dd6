// Package mongostore implements docstore.Store on MongoDB. Snapshot
// subscriptions re-query on every change signal received from a
// docstore.Notifier (in-process or NATS), so no replica set is required.
package mongostore

import (
	"context"
	"sync"

	"PPChatSync/data/docstore"
	"PPChatSync/logger"
	"PPChatSync/tools/ids"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type Store struct {
	db       *mongo.Database
	notifier docstore.Notifier
}

var _ docstore.Store = (*Store)(nil)

// New notifier 为 nil 时使用进程内 LocalNotifier（仅本进程写入会触发刷新）
func New(db *mongo.Database, notifier docstore.Notifier) *Store {
	if notifier == nil {
		notifier = docstore.NewLocalNotifier()
	}
	return &Store{db: db, notifier: notifier}
}

func (s *Store) c(name string) *mongo.Collection {
	return s.db.Collection(name)
}

func (s *Store) notify(ctx context.Context, coll string) {
	if err := s.notifier.Notify(ctx, coll); err != nil {
		// 写入已提交，通知失败只影响订阅方的刷新时机
		logger.Warn("[mongostore] change notify failed", zap.String("collection", coll), zap.Error(err))
	}
}

func (s *Store) Put(ctx context.Context, coll, id string, rec docstore.Record) (string, error) {
	if id == "" {
		id = ids.NewID()
	}
	doc := make(bson.M, len(rec)+1)
	for k, v := range rec {
		doc[k] = v
	}
	doc[docstore.IDField] = id
	_, err := s.c(coll).ReplaceOne(ctx,
		bson.M{docstore.IDField: id},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return "", errors.Wrapf(err, "mongostore: put %s/%s", coll, id)
	}
	s.notify(ctx, coll)
	return id, nil
}

func (s *Store) Get(ctx context.Context, coll, id string) (docstore.Record, error) {
	var out bson.M
	err := s.c(coll).FindOne(ctx, bson.M{docstore.IDField: id}).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Wrapf(docstore.ErrNotFound, "%s/%s", coll, id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "mongostore: get %s/%s", coll, id)
	}
	return out, nil
}

func (s *Store) Query(ctx context.Context, coll string, q docstore.Query) ([]docstore.Record, error) {
	cur, err := s.c(coll).Find(ctx, BuildFilter(q), BuildFindOptions(q))
	if err != nil {
		return nil, errors.Wrapf(err, "mongostore: query %s", coll)
	}
	defer func(cur *mongo.Cursor, ctx context.Context) {
		if err := cur.Close(ctx); err != nil {
			logger.Debug("[mongostore] cursor close", zap.Error(err))
		}
	}(cur, ctx)

	out := make([]docstore.Record, 0)
	for cur.Next(ctx) {
		var m bson.M
		if err := cur.Decode(&m); err != nil {
			return nil, errors.Wrapf(err, "mongostore: decode %s", coll)
		}
		out = append(out, m)
	}
	if err := cur.Err(); err != nil {
		return nil, errors.Wrapf(err, "mongostore: cursor %s", coll)
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, coll, id string, fields docstore.Record) error {
	update := BuildUpdate(fields)
	if len(update) == 0 {
		return nil
	}
	res, err := s.c(coll).UpdateOne(ctx, bson.M{docstore.IDField: id}, update)
	if err != nil {
		return errors.Wrapf(err, "mongostore: update %s/%s", coll, id)
	}
	if res.MatchedCount == 0 {
		return errors.Wrapf(docstore.ErrNotFound, "%s/%s", coll, id)
	}
	s.notify(ctx, coll)
	return nil
}

func (s *Store) Delete(ctx context.Context, coll, id string) error {
	res, err := s.c(coll).DeleteOne(ctx, bson.M{docstore.IDField: id})
	if err != nil {
		return errors.Wrapf(err, "mongostore: delete %s/%s", coll, id)
	}
	if res.DeletedCount > 0 {
		s.notify(ctx, coll)
	}
	return nil
}

func (s *Store) Subscribe(_ context.Context, coll string, q docstore.Query, fn docstore.SnapshotFunc) (docstore.Unsubscribe, error) {
	feed := docstore.NewFeed(coll, func(ctx context.Context) ([]docstore.Record, error) {
		return s.Query(ctx, coll, q)
	}, fn)
	stopWatch, err := s.notifier.Watch(coll, feed.Kick)
	if err != nil {
		feed.Stop()
		return nil, errors.Wrapf(err, "mongostore: watch %s", coll)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			stopWatch()
			feed.Stop()
		})
	}, nil
}

// BuildFilter 把 docstore.Query 的条件翻译成 Mongo 过滤器；多个条件用 $and 连接
func BuildFilter(q docstore.Query) bson.D {
	parts := make(bson.A, 0, len(q.Conds))
	for _, c := range q.Conds {
		switch c.Op {
		case docstore.OpEq, docstore.OpContains:
			// 数组字段上的等值匹配即“包含”
			parts = append(parts, bson.D{{Key: c.Field, Value: c.Value}})
		case docstore.OpIn:
			parts = append(parts, bson.D{{Key: c.Field, Value: bson.D{{Key: "$in", Value: c.Value}}}})
		}
	}
	switch len(parts) {
	case 0:
		return bson.D{}
	case 1:
		return parts[0].(bson.D)
	}
	return bson.D{{Key: "$and", Value: parts}}
}

func BuildFindOptions(q docstore.Query) *options.FindOptions {
	opts := options.Find()
	if q.SortBy != "" {
		dir := 1
		if q.Desc {
			dir = -1
		}
		// _id 作为第二排序键，保证 limit 截断结果稳定
		opts.SetSort(bson.D{{Key: q.SortBy, Value: dir}, {Key: docstore.IDField, Value: 1}})
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return opts
}

// BuildUpdate 普通字段走 $set，ArrayUnion 走 $addToSet + $each
func BuildUpdate(fields docstore.Record) bson.M {
	set := bson.M{}
	addToSet := bson.M{}
	for k, v := range fields {
		if k == docstore.IDField {
			continue
		}
		if u, ok := v.(docstore.ArrayUnion); ok {
			addToSet[k] = bson.M{"$each": bson.A(u.Values)}
			continue
		}
		set[k] = v
	}
	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(addToSet) > 0 {
		update["$addToSet"] = addToSet
	}
	return update
}
