package view

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"PPChatSync/data/docstore"
	"PPChatSync/data/docstore/memstore"
	"PPChatSync/module/chat/message"
	"PPChatSync/module/chat/model"
	"PPChatSync/module/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wait = 2 * time.Second
const tick = 5 * time.Millisecond

type recorder struct {
	mu     sync.Mutex
	msgs   []RenderedMessage
	roster []RosterEntry
	calls  int
}

func (r *recorder) update(msgs []RenderedMessage, roster []RosterEntry) {
	r.mu.Lock()
	r.msgs, r.roster = msgs, roster
	r.calls++
	r.mu.Unlock()
}

func (r *recorder) state() ([]RenderedMessage, []RosterEntry, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.msgs, r.roster, r.calls
}

func (r *recorder) find(id string) (RenderedMessage, bool) {
	msgs, _, _ := r.state()
	for _, m := range msgs {
		if m.MessageID == id {
			return m, true
		}
	}
	return RenderedMessage{}, false
}

func seedConversation(t *testing.T, s docstore.Store, conv model.Conversation) {
	t.Helper()
	conv.LastMessagePreview = make([]string, len(conv.Members))
	rec, err := docstore.Encode(conv)
	require.NoError(t, err)
	_, err = s.Put(context.Background(), model.CollConversation, conv.ConversationID, rec)
	require.NoError(t, err)
}

func seedProfile(t *testing.T, s docstore.Store, uid, nick string) {
	t.Helper()
	rec, err := docstore.Encode(model.UserProfile{UserID: uid, Nickname: nick, FaceURL: "https://face/" + uid})
	require.NoError(t, err)
	_, err = s.Put(context.Background(), model.CollUser, uid, rec)
	require.NoError(t, err)
}

func direct(id string, users ...string) model.Conversation {
	c := model.Conversation{ConversationID: id}
	for _, u := range users {
		c.Members = append(c.Members, model.Member{UserID: u})
	}
	return c
}

func TestSeenAndRevokeConvergeAcrossClients(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedConversation(t, store, direct("c1", "alice", "bob"))
	aliceMsgs := message.NewManager(store, session.Static("alice"))
	bobMsgs := message.NewManager(store, session.Static("bob"))

	hi, err := aliceMsgs.Send(ctx, message.SendRequest{ConversationID: "c1", SenderID: "alice", Type: model.MsgText, Content: "hi"})
	require.NoError(t, err)

	var aliceView, bobView recorder
	aliceSub, err := NewSynchronizer(store, aliceMsgs).SubscribeToConversation(ctx, "c1", "alice", aliceView.update)
	require.NoError(t, err)
	defer aliceSub.Close()

	require.Eventually(t, func() bool { _, ok := aliceView.find(hi.MessageID); return ok }, wait, tick)
	m, _ := aliceView.find(hi.MessageID)
	assert.False(t, m.Seen, "the sender's own view never marks its own message")

	// B 打开会话 → 自动 markSeen → A 的视图收到 seen=true
	bobSub, err := NewSynchronizer(store, bobMsgs).SubscribeToConversation(ctx, "c1", "bob", bobView.update)
	require.NoError(t, err)
	defer bobSub.Close()
	require.Eventually(t, func() bool { m, ok := aliceView.find(hi.MessageID); return ok && m.Seen }, wait, tick)

	// A 撤回 → 双方都只看到占位文案
	require.NoError(t, aliceMsgs.Revoke(ctx, hi.MessageID, "alice"))
	for _, v := range []*recorder{&aliceView, &bobView} {
		v := v
		require.Eventually(t, func() bool { m, ok := v.find(hi.MessageID); return ok && m.Revoked }, wait, tick)
		m, _ := v.find(hi.MessageID)
		assert.Equal(t, model.RevokedPlaceholder, m.Content)
		assert.NotEqual(t, "hi", m.Content)
	}
}

func TestRevokedQuoteHiddenOutsideWindow(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedConversation(t, store, direct("c1", "alice", "bob"))
	var clock atomic.Int64
	clock.Store(1_000)
	now := message.WithClock(func() time.Time { return time.UnixMilli(clock.Add(1)) })
	aliceMsgs := message.NewManager(store, session.Static("alice"), now)
	bobMsgs := message.NewManager(store, session.Static("bob"), now)

	orig, err := aliceMsgs.Send(ctx, message.SendRequest{ConversationID: "c1", SenderID: "alice", Type: model.MsgText, Content: "secret"})
	require.NoError(t, err)
	reply, err := bobMsgs.Send(ctx, message.SendRequest{ConversationID: "c1", SenderID: "bob", Type: model.MsgText, Content: "ok", ReplyToID: orig.MessageID})
	require.NoError(t, err)
	require.NoError(t, aliceMsgs.Revoke(ctx, orig.MessageID, "alice"))

	raw, err := bobMsgs.History(ctx, "c1", "bob", 1)
	require.NoError(t, err)
	require.Len(t, raw, 1)
	assert.Equal(t, reply.MessageID, raw[0].MessageID)
	assert.Empty(t, raw[0].ReplyTo.Content)

	out := Materialize(raw, "bob")
	require.Len(t, out, 1)
	require.NotNil(t, out[0].ReplyTo)
	assert.Equal(t, model.RevokedPlaceholder, out[0].ReplyTo.Content)
	assert.True(t, out[0].ReplyTo.Revoked)

	// 窗口为 1 的订阅同样看不到原文
	var v recorder
	sub, err := NewSynchronizer(store, bobMsgs, WithWindow(1)).SubscribeToConversation(ctx, "c1", "bob", v.update)
	require.NoError(t, err)
	defer sub.Close()
	require.Eventually(t, func() bool { _, ok := v.find(reply.MessageID); return ok }, wait, tick)
	m, _ := v.find(reply.MessageID)
	assert.NotContains(t, m.ReplyTo.Content, "secret")
}

func TestDeleteForMeIsPerViewer(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedConversation(t, store, direct("c1", "alice", "bob"))
	alice := message.NewManager(store, session.Static("alice"))
	bob := message.NewManager(store, session.Static("bob"))

	m, err := alice.Send(ctx, message.SendRequest{ConversationID: "c1", SenderID: "alice", Type: model.MsgText, Content: "x"})
	require.NoError(t, err)
	require.NoError(t, alice.SoftDeleteForUser(ctx, m.MessageID, "alice"))

	var av, bv recorder
	as, err := NewSynchronizer(store, alice).SubscribeToConversation(ctx, "c1", "alice", av.update)
	require.NoError(t, err)
	defer as.Close()
	bs, err := NewSynchronizer(store, bob).SubscribeToConversation(ctx, "c1", "bob", bv.update)
	require.NoError(t, err)
	defer bs.Close()

	require.Eventually(t, func() bool { _, ok := bv.find(m.MessageID); return ok }, wait, tick)
	require.Eventually(t, func() bool { _, _, n := av.state(); return n >= 2 }, wait, tick)
	_, ok := av.find(m.MessageID)
	assert.False(t, ok)
}

type flakyProfiles struct{ fail map[string]bool }

func (f flakyProfiles) Resolve(_ context.Context, uid string) (*model.UserProfile, error) {
	if f.fail[uid] {
		return nil, errors.New("profile service down")
	}
	return &model.UserProfile{UserID: uid, Nickname: "nick-" + uid}, nil
}

func TestRosterDegradesToUnknownUser(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	conv := direct("g1", "alice", "bob", "carol")
	conv.IsGroup, conv.Admin, conv.ViceAdmin = true, "alice", "bob"
	seedConversation(t, store, conv)
	msgs := message.NewManager(store, session.Static("alice"))

	var v recorder
	sub, err := NewSynchronizer(store, msgs, WithProfiles(flakyProfiles{fail: map[string]bool{"carol": true}})).
		SubscribeToConversation(ctx, "g1", "alice", v.update)
	require.NoError(t, err)
	defer sub.Close()

	require.Eventually(t, func() bool { _, r, _ := v.state(); return len(r) == 3 }, wait, tick)
	_, roster, _ := v.state()
	assert.Equal(t, RosterEntry{UserID: "alice", DisplayName: "nick-alice", IsAdmin: true}, roster[0])
	assert.True(t, roster[1].IsViceAdmin)
	assert.Equal(t, model.UnknownUser, roster[2].DisplayName)
}

func TestRosterFollowsMembershipChanges(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedProfile(t, store, "alice", "Alice")
	seedConversation(t, store, direct("c1", "alice", "bob"))
	msgs := message.NewManager(store, session.Static("alice"))

	var v recorder
	sub, err := NewSynchronizer(store, msgs).SubscribeToConversation(ctx, "c1", "alice", v.update)
	require.NoError(t, err)
	defer sub.Close()
	require.Eventually(t, func() bool { _, r, _ := v.state(); return len(r) == 2 }, wait, tick)
	_, roster, _ := v.state()
	assert.Equal(t, "Alice", roster[0].DisplayName)
	assert.Equal(t, "https://face/alice", roster[0].FaceURL)
	assert.Equal(t, model.UnknownUser, roster[1].DisplayName)

	require.NoError(t, store.Update(ctx, model.CollConversation, "c1", docstore.Record{
		"members":              []model.Member{{UserID: "alice"}},
		"last_message_preview": []string{""},
	}))
	require.Eventually(t, func() bool { _, r, _ := v.state(); return len(r) == 1 }, wait, tick)
}

type failingSeen struct{ calls atomic.Int32 }

func (f *failingSeen) MarkSeen(context.Context, string, string) (int, error) {
	f.calls.Add(1)
	return 0, errors.New("store unavailable")
}

func TestMarkSeenFailureKeepsSubscription(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedConversation(t, store, direct("c1", "alice", "bob"))
	sender := message.NewManager(store, session.Static("bob"))
	seen := &failingSeen{}

	var v recorder
	sub, err := NewSynchronizer(store, seen).SubscribeToConversation(ctx, "c1", "alice", v.update)
	require.NoError(t, err)
	defer sub.Close()

	for _, body := range []string{"one", "two"} {
		m, err := sender.Send(ctx, message.SendRequest{ConversationID: "c1", SenderID: "bob", Type: model.MsgText, Content: body})
		require.NoError(t, err)
		require.Eventually(t, func() bool { _, ok := v.find(m.MessageID); return ok }, wait, tick)
	}
	assert.GreaterOrEqual(t, seen.calls.Load(), int32(2))
}

func TestConversationGoneEndsSubscription(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedConversation(t, store, direct("c1", "alice", "bob"))
	seen := &failingSeen{}

	var ended atomic.Int32
	var v recorder
	sub, err := NewSynchronizer(store, seen, WithOnEnded(func() { ended.Add(1) })).
		SubscribeToConversation(ctx, "c1", "alice", v.update)
	require.NoError(t, err)
	defer sub.Close()
	require.Eventually(t, func() bool { _, roster, _ := v.state(); return len(roster) == 2 }, wait, tick)
	assert.False(t, sub.Ended())

	require.NoError(t, store.Delete(ctx, model.CollConversation, "c1"))
	require.Eventually(t, func() bool { return ended.Load() == 1 }, wait, tick)
	assert.True(t, sub.Ended())
	_, roster, _ := v.state()
	assert.Empty(t, roster)

	// 之后的消息刷新不再 MarkSeen，也不会重复触发结束回调
	before := seen.calls.Load()
	_, err = store.Put(ctx, model.CollMessage, "late", docstore.Record{"conversation_id": "c1", "sender_id": "bob", "type": "text", "content": "x", "created_at": int64(1), "deleted_for": []string{}})
	require.NoError(t, err)
	require.Eventually(t, func() bool { _, ok := v.find("late"); return ok }, wait, tick)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, seen.calls.Load())
	require.NoError(t, store.Delete(ctx, model.CollMessage, "late"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), ended.Load())
}

func TestWindowAndClose(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedConversation(t, store, direct("c1", "alice", "bob"))
	var clock atomic.Int64
	bob := message.NewManager(store, session.Static("bob"), message.WithClock(func() time.Time { return time.UnixMilli(clock.Add(10)) }))
	alice := message.NewManager(store, session.Static("alice"))

	var sent []string
	for _, body := range []string{"a", "b", "c"} {
		m, err := bob.Send(ctx, message.SendRequest{ConversationID: "c1", SenderID: "bob", Type: model.MsgText, Content: body})
		require.NoError(t, err)
		sent = append(sent, m.MessageID)
	}

	var v recorder
	sub, err := NewSynchronizer(store, alice, WithWindow(2)).SubscribeToConversation(ctx, "c1", "alice", v.update)
	require.NoError(t, err)
	require.Eventually(t, func() bool { msgs, _, _ := v.state(); return len(msgs) == 2 }, wait, tick)
	msgs, _, _ := v.state()
	assert.Equal(t, sent[1:], ids(msgs))
	assert.Equal(t, 1, store.Subscribers(model.CollMessage))
	assert.Equal(t, 1, store.Subscribers(model.CollConversation))

	sub.Close()
	sub.Close()
	assert.True(t, sub.Closed())
	assert.Equal(t, 0, store.Subscribers(model.CollMessage))
	assert.Equal(t, 0, store.Subscribers(model.CollConversation))

	time.Sleep(20 * time.Millisecond)
	_, _, calls := v.state()
	_, err = bob.Send(ctx, message.SendRequest{ConversationID: "c1", SenderID: "bob", Type: model.MsgText, Content: "after close"})
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	_, _, after := v.state()
	assert.Equal(t, calls, after)
}

func TestSubscribeValidation(t *testing.T) {
	store := memstore.New()
	s := NewSynchronizer(store, message.NewManager(store, session.Static("a")))
	_, err := s.SubscribeToConversation(context.Background(), "", "a", func([]RenderedMessage, []RosterEntry) {})
	assert.Error(t, err)
	_, err = s.SubscribeToConversation(context.Background(), "c", "a", nil)
	assert.Error(t, err)
}

func TestMemoryCache(t *testing.T) {
	var hits atomic.Int32
	next := resolverFunc(func(_ context.Context, uid string) (*model.UserProfile, error) {
		hits.Add(1)
		return &model.UserProfile{UserID: uid}, nil
	})
	c := NewMemoryCache(next, time.Minute)
	for i := 0; i < 3; i++ {
		_, err := c.Resolve(context.Background(), "u")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), hits.Load())
	c.Invalidate("u")
	_, _ = c.Resolve(context.Background(), "u")
	assert.Equal(t, int32(2), hits.Load())

	c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, _ = c.Resolve(context.Background(), "u")
	assert.Equal(t, int32(3), hits.Load())
}

type resolverFunc func(ctx context.Context, uid string) (*model.UserProfile, error)

func (f resolverFunc) Resolve(ctx context.Context, uid string) (*model.UserProfile, error) {
	return f(ctx, uid)
}
