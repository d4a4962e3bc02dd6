package docstore

import (
	"context"
	"testing"

	"PPChatSync/tools/errs"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestMatch(t *testing.T) {
	rec := Record{"conversation_id": "c1", "is_group": false, "n": int32(3), "members": primitive.A{"a", "b"}}

	assert.True(t, Q().Match(rec))
	assert.True(t, Q().Eq("conversation_id", "c1").Eq("is_group", false).Match(rec))
	assert.False(t, Q().Eq("conversation_id", "c2").Match(rec))
	assert.True(t, Q().Eq("n", int64(3)).Match(rec))
	assert.True(t, Q().Contains("members", "b").Match(rec))
	assert.False(t, Q().Contains("members", "c").Match(rec))
	assert.True(t, Q().In("conversation_id", "c0", "c1").Match(rec))
	assert.False(t, Q().Eq("missing", "x").Match(rec))
}

func TestQueryBuilderDoesNotAlias(t *testing.T) {
	base := Q().Eq("a", 1)
	q1 := base.Eq("b", 2)
	q2 := base.Eq("c", 3)
	assert.Len(t, base.Conds, 1)
	assert.Equal(t, "b", q1.Conds[1].Field)
	assert.Equal(t, "c", q2.Conds[1].Field)
}

func TestApplySortIsStable(t *testing.T) {
	recs := []Record{
		{"_id": "x", "at": int64(100)},
		{"_id": "y", "at": int64(50)},
		{"_id": "z", "at": int64(50)},
		{"_id": "w"},
	}
	out := Q().Sort("at", false).Apply(recs)
	ids := []any{out[0]["_id"], out[1]["_id"], out[2]["_id"], out[3]["_id"]}
	assert.Equal(t, []any{"w", "y", "z", "x"}, ids)

	out = Q().Sort("at", true).WithLimit(2).Apply(out)
	assert.Len(t, out, 2)
	assert.Equal(t, "x", out[0]["_id"])
}

func TestEncodeDecode(t *testing.T) {
	type reply struct {
		MessageID string `bson:"message_id"`
	}
	type msg struct {
		ID      string   `bson:"_id"`
		Tags    []string `bson:"tags"`
		ReplyTo *reply   `bson:"reply_to,omitempty"`
	}
	rec, err := Encode(msg{ID: "m1", Tags: []string{"a"}, ReplyTo: &reply{MessageID: "m0"}})
	assert.NoError(t, err)
	assert.Equal(t, primitive.A{"a"}, rec["tags"])

	out, err := DecodeAll[msg]([]Record{rec})
	assert.NoError(t, err)
	assert.Equal(t, "m0", out[0].ReplyTo.MessageID)
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil, "x"))
	assert.Equal(t, errs.RecordNotFoundError, errs.CodeOf(Classify(errors.Wrap(ErrNotFound, "c/1"), "get")))
	assert.True(t, errs.IsRetryable(Classify(errors.New("conn reset"), "put", "id", "1")))
	assert.ErrorIs(t, Classify(context.Canceled, "query"), context.Canceled)

	denied := errs.ErrPermissionDenied.WrapMsg("nope")
	assert.Equal(t, denied, Classify(denied, "ignored"))
}
