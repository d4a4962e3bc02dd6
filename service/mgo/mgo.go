// Package mgo brings up the Mongo-backed stores: connect with backoff,
// create the chat indexes, then hand out the docstore and the GridFS bucket.
package mgo

import (
	"context"
	"math/rand"
	"time"

	"PPChatSync/data/blobstore/gridfs"
	"PPChatSync/data/database/mgo/mongoutil"
	"PPChatSync/data/docstore"
	"PPChatSync/data/docstore/mongostore"
	"PPChatSync/logger"
	"PPChatSync/module/chat/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

const (
	baseBackoff = 200 * time.Millisecond
	maxBackoff  = 5 * time.Second
)

// ChatIndexes 会话窗口查询、撤回时找引用方、链接按用户/会话查询、按成员找单聊
var ChatIndexes = []mongoutil.IndexSpec{
	{Collection: model.CollMessage, Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}}},
	{Collection: model.CollMessage, Keys: bson.D{{Key: "reply_to_id", Value: 1}}},
	{Collection: model.CollUserConversation, Keys: bson.D{{Key: "user_id", Value: 1}}},
	{Collection: model.CollUserConversation, Keys: bson.D{{Key: "conversation_id", Value: 1}}},
	{Collection: model.CollConversation, Keys: bson.D{{Key: "members.user_id", Value: 1}}},
	{Collection: model.CollFriendRequest, Keys: bson.D{{Key: "from", Value: 1}, {Key: "to", Value: 1}}},
}

type Stores struct {
	Client *mongoutil.Client
	Docs   *mongostore.Store
	Blobs  *gridfs.Store
}

func (s *Stores) Close(ctx context.Context) error {
	return s.Client.Close(ctx)
}

// Open 首次连接带指数退避 + 抖动，直到成功或 ctx 结束
func Open(ctx context.Context, cfg *mongoutil.Config, notifier docstore.Notifier, mediaBaseURL string) (*Stores, error) {
	var (
		cli     *mongoutil.Client
		err     error
		attempt int
	)
	for {
		cli, err = mongoutil.NewMongoDB(ctx, cfg)
		if err == nil {
			break
		}
		logger.Warn("[mgo] connect failed, retrying", zap.Int("attempt", attempt), zap.Error(err))

		timer := time.NewTimer(Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if attempt < 6 {
			attempt++
		}
	}

	db := cli.GetDB()
	if err := mongoutil.EnsureIndexes(ctx, db, ChatIndexes); err != nil {
		_ = cli.Close(context.Background())
		return nil, err
	}
	blobs, err := gridfs.New(db, cfg.GridFS, mediaBaseURL)
	if err != nil {
		_ = cli.Close(context.Background())
		return nil, err
	}
	logger.Info("[mgo] ready", zap.String("database", cfg.Database))
	return &Stores{Client: cli, Docs: mongostore.New(db, notifier), Blobs: blobs}, nil
}

// Backoff base<<attempt 封顶 maxBackoff，再减去 0~10% 抖动
func Backoff(attempt int) time.Duration {
	backoff := baseBackoff << attempt
	if backoff > maxBackoff || backoff <= 0 {
		backoff = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(backoff / 5)))
	return backoff - jitter/2
}
