package message

import (
	"context"

	"PPChatSync/data/docstore"
	"PPChatSync/module/chat/event"
	"PPChatSync/module/chat/model"
	"PPChatSync/module/session"
	"PPChatSync/service/metrics"
	"PPChatSync/tools/errs"
)

// MarkSeen 把会话里所有“不是 reader 发的且未读”的消息置为已读，返回本次推进的条数。
// 幂等、可交换：每次快照刷新都调用也不会重复计数；seen 只会 false→true。
func (m *Manager) MarkSeen(ctx context.Context, convID, readerID string) (advanced int, err error) {
	defer metrics.ObserveMessage("mark_seen", &err)

	if _, err = session.Require(m.ident, readerID); err != nil {
		return 0, err
	}
	conv, err := m.getConversation(ctx, convID)
	if err != nil {
		return 0, err
	}
	if !conv.HasMember(readerID) {
		return 0, errs.ErrPermissionDenied.WrapMsg("reader is not a member", "conversation_id", convID, "reader_id", readerID)
	}

	recs, err := m.store.Query(ctx, model.CollMessage, docstore.Q().Eq("conversation_id", convID).Eq("seen", false))
	if err != nil {
		return 0, docstore.Classify(err, "query unseen", "conversation_id", convID)
	}
	unseen, err := docstore.DecodeAll[model.Message](recs)
	if err != nil {
		return 0, err
	}
	now := m.nowMS()
	for i := range unseen {
		msg := &unseen[i]
		if msg.SenderID == readerID || msg.Seen {
			continue
		}
		err := m.store.Update(ctx, model.CollMessage, msg.MessageID, docstore.Record{"seen": true, "seen_at": now})
		if docstore.IsNotFound(err) {
			continue // 会话被并发拆除
		}
		if err != nil {
			return advanced, docstore.Classify(err, "mark seen", "message_id", msg.MessageID)
		}
		advanced++
	}
	if advanced > 0 {
		metrics.SeenAdvanced.Add(float64(advanced))
		m.publish(ctx, event.Event{Type: event.MessageSeen, ConversationID: convID, ActorID: readerID, Count: advanced})
	}
	return advanced, nil
}

// Revoke 仅发送者可撤回；只打标记不删字段，渲染端负责隐藏 content/url。
// 标记之后再清掉所有回复里的引用快照；清理中途失败返回 PartialWriteFailure，重试 Revoke 会补齐。
func (m *Manager) Revoke(ctx context.Context, messageID, requesterID string) (err error) {
	defer metrics.ObserveMessage("revoke", &err)

	if _, err = session.Require(m.ident, requesterID); err != nil {
		return err
	}
	msg, err := m.getMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != requesterID {
		return errs.ErrPermissionDenied.WrapMsg("only the sender may revoke", "message_id", messageID, "requester_id", requesterID)
	}
	if !msg.Revoked {
		err = m.store.Update(ctx, model.CollMessage, messageID, docstore.Record{"revoked": true, "revoked_at": m.nowMS()})
		if err != nil {
			return docstore.Classify(err, "revoke", "message_id", messageID)
		}
		m.publish(ctx, event.Event{Type: event.MessageRevoked, ConversationID: msg.ConversationID, MessageID: messageID, ActorID: requesterID})
	}
	if err = m.scrubReplies(ctx, msg); err != nil {
		if msg.Revoked {
			return err
		}
		return errs.ErrPartialWrite.WrapErr(err, "revoke committed, reply quotes not scrubbed", "message_id", messageID)
	}
	return nil
}

// scrubReplies 把引用了 orig 的回复里的快照换成已撤回的空壳；已清理过的跳过
func (m *Manager) scrubReplies(ctx context.Context, orig *model.Message) error {
	recs, err := m.store.Query(ctx, model.CollMessage, docstore.Q().Eq("reply_to_id", orig.MessageID))
	if err != nil {
		return docstore.Classify(err, "query replies", "message_id", orig.MessageID)
	}
	replies, err := docstore.DecodeAll[model.Message](recs)
	if err != nil {
		return err
	}
	for i := range replies {
		r := &replies[i]
		if r.ReplyTo == nil || r.ReplyTo.Revoked {
			continue
		}
		ref, err := docstore.Encode(model.ReplyRef{MessageID: orig.MessageID, SenderID: orig.SenderID, Type: orig.Type, Revoked: true})
		if err != nil {
			return err
		}
		err = m.store.Update(ctx, model.CollMessage, r.MessageID, docstore.Record{"reply_to": ref})
		if docstore.IsNotFound(err) {
			continue
		}
		if err != nil {
			return docstore.Classify(err, "scrub reply", "message_id", r.MessageID)
		}
	}
	return nil
}

// SoftDeleteForUser 只对 userID 自己隐藏；deleted_for 只增不减，重复调用是 no-op
func (m *Manager) SoftDeleteForUser(ctx context.Context, messageID, userID string) (err error) {
	defer metrics.ObserveMessage("soft_delete", &err)

	if _, err = session.Require(m.ident, userID); err != nil {
		return err
	}
	msg, err := m.getMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.IsDeletedFor(userID) {
		return nil
	}
	conv, err := m.getConversation(ctx, msg.ConversationID)
	if err != nil {
		return err
	}
	if !conv.HasMember(userID) {
		return errs.ErrPermissionDenied.WrapMsg("not a member", "conversation_id", conv.ConversationID, "user_id", userID)
	}
	if err = m.store.Update(ctx, model.CollMessage, messageID, docstore.Record{"deleted_for": docstore.Union(userID)}); err != nil {
		return docstore.Classify(err, "soft delete", "message_id", messageID)
	}
	m.publish(ctx, event.Event{Type: event.MessageDeleted, ConversationID: msg.ConversationID, MessageID: messageID, ActorID: userID})
	return nil
}

// History 最近 limit 条（按 created_at 倒序取，结果仍是倒序）；渲染前交给 view.Materialize
func (m *Manager) History(ctx context.Context, convID, viewerID string, limit int) ([]model.Message, error) {
	if _, err := session.Require(m.ident, viewerID); err != nil {
		return nil, err
	}
	conv, err := m.getConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.HasMember(viewerID) {
		return nil, errs.ErrPermissionDenied.WrapMsg("not a member", "conversation_id", convID)
	}
	q := docstore.Q().Eq("conversation_id", convID).Sort("created_at", true)
	if limit > 0 {
		q = q.WithLimit(limit)
	}
	recs, err := m.store.Query(ctx, model.CollMessage, q)
	if err != nil {
		return nil, docstore.Classify(err, "history", "conversation_id", convID)
	}
	return docstore.DecodeAll[model.Message](recs)
}

// PurgeConversation 物理删除会话下的全部消息（仅用于整会话拆除）；逐条删除，遇错即停
func (m *Manager) PurgeConversation(ctx context.Context, convID string) (deleted int, err error) {
	if _, err = session.Require(m.ident, ""); err != nil {
		return 0, err
	}
	recs, err := m.store.Query(ctx, model.CollMessage, docstore.Q().Eq("conversation_id", convID))
	if err != nil {
		return 0, docstore.Classify(err, "query messages", "conversation_id", convID)
	}
	for _, rec := range recs {
		id, _ := rec[docstore.IDField].(string)
		if err := m.store.Delete(ctx, model.CollMessage, id); err != nil {
			return deleted, docstore.Classify(err, "delete message", "message_id", id)
		}
		deleted++
	}
	return deleted, nil
}
