package message

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"PPChatSync/data/docstore"
	"PPChatSync/data/docstore/memstore"
	"PPChatSync/module/chat/event"
	"PPChatSync/module/chat/model"
	"PPChatSync/module/session"
	"PPChatSync/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store *memstore.Store
	sink  *event.Recorder
	clock atomic.Int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memstore.New(), sink: &event.Recorder{}}
	f.clock.Store(1_000)
	return f
}

// client 每个用户一个 manager，共用同一个 store
func (f *fixture) client(uid string) *Manager {
	return NewManager(f.store, session.Static(uid),
		WithEventSink(f.sink),
		WithClock(func() time.Time { return time.UnixMilli(f.clock.Add(1)) }),
	)
}

func (f *fixture) seedConversation(t *testing.T, id string, group bool, members ...string) {
	t.Helper()
	conv := model.Conversation{ConversationID: id, IsGroup: group, LastMessagePreview: make([]string, len(members))}
	for _, u := range members {
		conv.Members = append(conv.Members, model.Member{UserID: u})
	}
	if group {
		conv.Admin = members[0]
	}
	rec, err := docstore.Encode(conv)
	require.NoError(t, err)
	_, err = f.store.Put(context.Background(), model.CollConversation, id, rec)
	require.NoError(t, err)
}

func (f *fixture) message(t *testing.T, id string) *model.Message {
	t.Helper()
	rec, err := f.store.Get(context.Background(), model.CollMessage, id)
	require.NoError(t, err)
	var m model.Message
	require.NoError(t, docstore.Decode(rec, &m))
	return &m
}

func (f *fixture) conversation(t *testing.T, id string) *model.Conversation {
	t.Helper()
	rec, err := f.store.Get(context.Background(), model.CollConversation, id)
	require.NoError(t, err)
	var c model.Conversation
	require.NoError(t, docstore.Decode(rec, &c))
	return &c
}

func text(conv, sender, body string) SendRequest {
	return SendRequest{ConversationID: conv, SenderID: sender, Type: model.MsgText, Content: body}
}

func TestSendWritesFreshMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedConversation(t, "c1", false, "alice", "bob")

	msg, err := f.client("alice").Send(ctx, text("c1", "alice", "hi"))
	require.NoError(t, err)

	got := f.message(t, msg.MessageID)
	assert.False(t, got.Seen)
	assert.False(t, got.Revoked)
	assert.NotNil(t, got.DeletedFor)
	assert.Empty(t, got.DeletedFor)
	assert.Equal(t, "hi", got.Content)
	assert.NotZero(t, got.CreatedAt)
	assert.NotZero(t, got.SenderSeq)

	conv := f.conversation(t, "c1")
	assert.Equal(t, []string{"hi", "hi"}, conv.LastMessagePreview)
	assert.Len(t, f.sink.OfType(event.MessageSent), 1)
}

func TestSendValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedConversation(t, "c1", false, "alice", "bob")
	alice := f.client("alice")

	cases := []SendRequest{
		text("c1", "alice", "   "),
		{ConversationID: "c1", SenderID: "alice", Type: model.MsgImage},
		{ConversationID: "c1", SenderID: "alice", Type: model.MsgSystem, Content: "fake notice"},
		{ConversationID: "c1", SenderID: "alice", Type: "sticker", Content: "x"},
		text("", "alice", "hi"),
	}
	for _, req := range cases {
		_, err := alice.Send(ctx, req)
		assert.Equal(t, errs.ArgsError, errs.CodeOf(err), "req=%+v", req)
	}

	msg, err := alice.Send(ctx, SendRequest{ConversationID: "c1", SenderID: "alice", Type: model.MsgFile, Content: "a.pdf", URL: "https://blob/a.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "[file] a.pdf", f.conversation(t, "c1").LastMessagePreview[0])
	assert.Equal(t, "https://blob/a.pdf", msg.URL)
}

func TestSendRequiresSessionAndMembership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedConversation(t, "c1", false, "alice", "bob")

	_, err := f.client("").Send(ctx, text("c1", "alice", "hi"))
	assert.Equal(t, errs.NoSessionError, errs.CodeOf(err))

	_, err = f.client("bob").Send(ctx, text("c1", "alice", "impersonation"))
	assert.Equal(t, errs.NoPermissionError, errs.CodeOf(err))

	_, err = f.client("mallory").Send(ctx, text("c1", "mallory", "hi"))
	assert.Equal(t, errs.NoPermissionError, errs.CodeOf(err))

	_, err = f.client("alice").Send(ctx, text("gone", "alice", "hi"))
	assert.Equal(t, errs.RecordNotFoundError, errs.CodeOf(err))
}

func TestReplySnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedConversation(t, "c1", false, "alice", "bob")
	f.seedConversation(t, "c2", false, "alice", "bob")
	alice, bob := f.client("alice"), f.client("bob")

	orig, err := alice.Send(ctx, text("c1", "alice", "question?"))
	require.NoError(t, err)

	req := text("c1", "bob", "answer")
	req.ReplyToID = orig.MessageID
	reply, err := bob.Send(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, model.ReplyRef{MessageID: orig.MessageID, SenderID: "alice", Type: model.MsgText, Content: "question?"}, *f.message(t, reply.MessageID).ReplyTo)

	require.NoError(t, alice.Revoke(ctx, orig.MessageID, "alice"))
	reply2, err := bob.Send(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, f.message(t, reply2.MessageID).ReplyTo.Content)

	req = text("c2", "bob", "wrong thread")
	req.ReplyToID = orig.MessageID
	_, err = bob.Send(ctx, req)
	assert.Equal(t, errs.ArgsError, errs.CodeOf(err))
}

func TestMarkSeenIsMonotonicAndIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedConversation(t, "c1", true, "alice", "bob", "carol")
	alice, bob := f.client("alice"), f.client("bob")

	m1, err := alice.Send(ctx, text("c1", "alice", "one"))
	require.NoError(t, err)
	m2, err := bob.Send(ctx, text("c1", "bob", "two"))
	require.NoError(t, err)

	n, err := bob.MarkSeen(ctx, "c1", "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, f.message(t, m1.MessageID).Seen)
	assert.False(t, f.message(t, m2.MessageID).Seen, "own messages are never marked by their sender")

	seenAt := f.message(t, m1.MessageID).SeenAt
	for i := 0; i < 3; i++ {
		n, err = bob.MarkSeen(ctx, "c1", "bob")
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		n, err = alice.MarkSeen(ctx, "c1", "alice")
		require.NoError(t, err)
	}
	assert.True(t, f.message(t, m1.MessageID).Seen)
	assert.Equal(t, seenAt, f.message(t, m1.MessageID).SeenAt)
	assert.True(t, f.message(t, m2.MessageID).Seen)

	_, err = f.client("mallory").MarkSeen(ctx, "c1", "mallory")
	assert.Equal(t, errs.NoPermissionError, errs.CodeOf(err))
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedConversation(t, "c1", false, "alice", "bob")
	alice, bob := f.client("alice"), f.client("bob")

	msg, err := alice.Send(ctx, text("c1", "alice", "oops"))
	require.NoError(t, err)

	err = bob.Revoke(ctx, msg.MessageID, "bob")
	assert.True(t, errors.Is(err, errs.ErrPermissionDenied))
	assert.False(t, f.message(t, msg.MessageID).Revoked)

	require.NoError(t, alice.Revoke(ctx, msg.MessageID, "alice"))
	got := f.message(t, msg.MessageID)
	assert.True(t, got.Revoked)
	assert.NotZero(t, got.RevokedAt)
	assert.Equal(t, "oops", got.Content, "payload is kept in the record")

	require.NoError(t, alice.Revoke(ctx, msg.MessageID, "alice"))
	assert.Equal(t, got.RevokedAt, f.message(t, msg.MessageID).RevokedAt)
	assert.Len(t, f.sink.OfType(event.MessageRevoked), 1)

	assert.Equal(t, errs.RecordNotFoundError, errs.CodeOf(alice.Revoke(ctx, "nope", "alice")))
}

func TestRevokeScrubsReplyQuotes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedConversation(t, "c1", false, "alice", "bob")
	alice, bob := f.client("alice"), f.client("bob")

	orig, err := alice.Send(ctx, text("c1", "alice", "secret"))
	require.NoError(t, err)
	req := text("c1", "bob", "got it")
	req.ReplyToID = orig.MessageID
	r1, err := bob.Send(ctx, req)
	require.NoError(t, err)
	r2, err := bob.Send(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, orig.MessageID, f.message(t, r1.MessageID).ReplyToID)

	require.NoError(t, alice.Revoke(ctx, orig.MessageID, "alice"))
	for _, id := range []string{r1.MessageID, r2.MessageID} {
		ref := f.message(t, id).ReplyTo
		require.NotNil(t, ref)
		assert.Empty(t, ref.Content)
		assert.True(t, ref.Revoked)
		assert.Equal(t, orig.MessageID, ref.MessageID)
	}
}

func TestRevokeScrubFailureIsPartial(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedConversation(t, "c1", false, "alice", "bob")
	alice, bob := f.client("alice"), f.client("bob")

	orig, err := alice.Send(ctx, text("c1", "alice", "secret"))
	require.NoError(t, err)
	req := text("c1", "bob", "got it")
	req.ReplyToID = orig.MessageID
	reply, err := bob.Send(ctx, req)
	require.NoError(t, err)

	f.store.SetFault(func(action memstore.Action, coll, id string) error {
		if action == memstore.ActionUpdate && id == reply.MessageID {
			return errors.New("disk full")
		}
		return nil
	})
	err = alice.Revoke(ctx, orig.MessageID, "alice")
	assert.Equal(t, errs.PartialWriteError, errs.CodeOf(err))
	assert.True(t, f.message(t, orig.MessageID).Revoked)
	assert.Equal(t, "secret", f.message(t, reply.MessageID).ReplyTo.Content)

	// 重试补齐引用清理，不再重复发撤回事件
	f.store.SetFault(nil)
	require.NoError(t, alice.Revoke(ctx, orig.MessageID, "alice"))
	assert.True(t, f.message(t, reply.MessageID).ReplyTo.Revoked)
	assert.Len(t, f.sink.OfType(event.MessageRevoked), 1)
}

func TestSoftDeleteForUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedConversation(t, "c1", false, "alice", "bob")
	alice, bob := f.client("alice"), f.client("bob")

	msg, err := alice.Send(ctx, text("c1", "alice", "hello"))
	require.NoError(t, err)

	require.NoError(t, bob.SoftDeleteForUser(ctx, msg.MessageID, "bob"))
	require.NoError(t, bob.SoftDeleteForUser(ctx, msg.MessageID, "bob"))
	assert.Equal(t, []string{"bob"}, f.message(t, msg.MessageID).DeletedFor)

	err = bob.SoftDeleteForUser(ctx, msg.MessageID, "alice")
	assert.Equal(t, errs.NoPermissionError, errs.CodeOf(err), "users delete for themselves only")

	require.NoError(t, alice.SoftDeleteForUser(ctx, msg.MessageID, "alice"))
	assert.Equal(t, []string{"bob", "alice"}, f.message(t, msg.MessageID).DeletedFor)
}

func TestForwardCreatesDistinctCopies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedConversation(t, "src", false, "alice", "bob")
	f.seedConversation(t, "dst", false, "alice", "carol")
	alice := f.client("alice")

	orig, err := alice.Send(ctx, SendRequest{ConversationID: "src", SenderID: "alice", Type: model.MsgImage, Content: "cat.png", URL: "https://blob/cat.png"})
	require.NoError(t, err)
	req := text("src", "alice", "look")
	req.ReplyToID = orig.MessageID
	withReply, err := alice.Send(ctx, req)
	require.NoError(t, err)

	first, err := alice.Forward(ctx, orig, []string{"dst"}, "alice")
	require.NoError(t, err)
	second, err := alice.Forward(ctx, orig, []string{"dst"}, "alice")
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0].MessageID, second[0].MessageID)
	for _, m := range []*model.Message{f.message(t, first[0].MessageID), f.message(t, second[0].MessageID)} {
		assert.Equal(t, orig.Type, m.Type)
		assert.Equal(t, orig.Content, m.Content)
		assert.Equal(t, orig.URL, m.URL)
		assert.Equal(t, "dst", m.ConversationID)
		assert.Equal(t, orig.MessageID, m.ForwardedFrom)
		assert.False(t, m.Seen)
	}

	fw, err := alice.Forward(ctx, withReply, []string{"dst"}, "alice")
	require.NoError(t, err)
	assert.Nil(t, f.message(t, fw[0].MessageID).ReplyTo)
}

func TestForwardPartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedConversation(t, "src", false, "alice", "bob")
	f.seedConversation(t, "ok", false, "alice", "carol")
	f.seedConversation(t, "foreign", false, "dave", "erin")
	alice := f.client("alice")

	orig, err := alice.Send(ctx, text("src", "alice", "fwd me"))
	require.NoError(t, err)

	out, err := alice.Forward(ctx, orig, []string{"ok", "foreign", "src"}, "alice")
	assert.Equal(t, errs.PartialWriteError, errs.CodeOf(err))
	require.Len(t, out, 1)
	assert.Equal(t, "ok", out[0].ConversationID)

	out, err = alice.Forward(ctx, orig, []string{"foreign"}, "alice")
	assert.Equal(t, errs.NoPermissionError, errs.CodeOf(err))
	assert.Empty(t, out)
}

func TestSendSystemNotice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedConversation(t, "g1", true, "alice", "bob", "carol")

	msg, err := f.client("alice").SendSystemNotice(ctx, "g1", "carol joined", model.ActionAdd)
	require.NoError(t, err)
	got := f.message(t, msg.MessageID)
	assert.Equal(t, model.SystemSender, got.SenderID)
	assert.Equal(t, model.MsgSystem, got.Type)
	assert.Equal(t, model.ActionAdd, got.Action)

	_, err = f.client("alice").SendSystemNotice(ctx, "g1", "x", "explode")
	assert.Equal(t, errs.ArgsError, errs.CodeOf(err))
	_, err = f.client("").SendSystemNotice(ctx, "g1", "x", model.ActionAdd)
	assert.Equal(t, errs.NoSessionError, errs.CodeOf(err))
}

func TestStoreFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedConversation(t, "c1", false, "alice", "bob")
	f.store.SetFault(func(action memstore.Action, coll, id string) error {
		if action == memstore.ActionPut && coll == model.CollMessage {
			return errors.New("connection reset")
		}
		return nil
	})
	_, err := f.client("alice").Send(ctx, text("c1", "alice", "hi"))
	assert.True(t, errs.IsRetryable(err))
	assert.False(t, errs.IsPermanent(err))
}

func TestPurgeConversationAndHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedConversation(t, "c1", false, "alice", "bob")
	f.seedConversation(t, "c2", false, "alice", "bob")
	alice := f.client("alice")
	for _, body := range []string{"a", "b", "c"} {
		_, err := alice.Send(ctx, text("c1", "alice", body))
		require.NoError(t, err)
	}
	_, err := alice.Send(ctx, text("c2", "alice", "keep"))
	require.NoError(t, err)

	hist, err := alice.History(ctx, "c1", "alice", 2)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "c", hist[0].Content)

	n, err := alice.PurgeConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	recs, _ := f.store.Query(ctx, model.CollMessage, docstore.Q())
	assert.Len(t, recs, 1)
}
