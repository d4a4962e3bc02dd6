package mongostore

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"PPChatSync/data/docstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestBuildFilter(t *testing.T) {
	assert.Equal(t, bson.D{}, BuildFilter(docstore.Q()))

	f := BuildFilter(docstore.Q().Eq("conversation_id", "c1"))
	assert.Equal(t, bson.D{{Key: "conversation_id", Value: "c1"}}, f)

	f = BuildFilter(docstore.Q().Eq("user_id", "u1").InStrings("_id", []string{"a", "b"}))
	require.Len(t, f, 1)
	assert.Equal(t, "$and", f[0].Key)
	parts := f[0].Value.(bson.A)
	require.Len(t, parts, 2)
	assert.Equal(t, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: []string{"a", "b"}}}}}, parts[1])
}

func TestBuildFindOptions(t *testing.T) {
	opts := BuildFindOptions(docstore.Q().Sort("created_at", true).WithLimit(100))
	require.NotNil(t, opts.Limit)
	assert.Equal(t, int64(100), *opts.Limit)
	assert.Equal(t, bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}, opts.Sort)

	opts = BuildFindOptions(docstore.Q())
	assert.Nil(t, opts.Limit)
	assert.Nil(t, opts.Sort)
}

func TestBuildUpdate(t *testing.T) {
	u := BuildUpdate(docstore.Record{
		"_id":         "ignored",
		"seen":        true,
		"deleted_for": docstore.Union("u1"),
	})
	assert.Equal(t, bson.M{"seen": true}, u["$set"])
	assert.Equal(t, bson.M{"deleted_for": bson.M{"$each": bson.A{"u1"}}}, u["$addToSet"])

	assert.Empty(t, BuildUpdate(docstore.Record{}))
}

// 需要本地 MongoDB：PPSYNC_MONGO_URI=mongodb://localhost:27017
func TestMongoStoreRoundTrip(t *testing.T) {
	uri := os.Getenv("PPSYNC_MONGO_URI")
	if uri == "" {
		t.Skip("PPSYNC_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	defer func() { _ = cli.Disconnect(context.Background()) }()

	db := cli.Database("ppsync_test_" + time.Now().Format("150405"))
	defer func() { _ = db.Drop(context.Background()) }()

	s := New(db, nil)
	id, err := s.Put(ctx, "message", "", docstore.Record{"conversation_id": "c1", "created_at": int64(5), "deleted_for": bson.A{}})
	require.NoError(t, err)

	var mu sync.Mutex
	var last []docstore.Record
	unsub, err := s.Subscribe(ctx, "message", docstore.Q().Eq("conversation_id", "c1"), func(recs []docstore.Record) {
		mu.Lock()
		last = recs
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, s.Update(ctx, "message", id, docstore.Record{"deleted_for": docstore.Union("u1", "u1")}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(last) == 1 && len(last[0]["deleted_for"].(bson.A)) == 1
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, s.Delete(ctx, "message", id))
	_, err = s.Get(ctx, "message", id)
	assert.True(t, docstore.IsNotFound(err))
	assert.True(t, docstore.IsNotFound(s.Update(ctx, "message", id, docstore.Record{"seen": true})))
}
