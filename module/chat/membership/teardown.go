package membership

import (
	"context"

	"PPChatSync/data/docstore"
	"PPChatSync/logger"
	"PPChatSync/module/chat/event"
	"PPChatSync/module/chat/model"
	"PPChatSync/module/session"
	"PPChatSync/service/metrics"
	"PPChatSync/tools/errs"

	"go.uber.org/zap"
)

// LeaveOrDisband 退出会话：
//   - 最后一个成员退出 → 整会话拆除（消息、link、会话，不留墓碑）
//   - 群主且还有其他成员 → 拒绝，先转让群主
//   - 其他情况等同 RemoveMember(convID, userID, userID)
func (m *Manager) LeaveOrDisband(ctx context.Context, convID, userID string) (err error) {
	defer metrics.ObserveMembership("leave_or_disband", &err)

	if _, err = session.Require(m.ident, userID); err != nil {
		return err
	}
	conv, err := m.getConversation(ctx, convID)
	if err != nil {
		return err
	}
	if !conv.HasMember(userID) {
		return errs.ErrNotFound.WrapMsg("not a member", "conversation_id", convID, "user_id", userID)
	}
	if len(conv.Members) == 1 {
		return m.teardown(ctx, conv, userID, false)
	}
	if conv.IsAdmin(userID) {
		return errs.ErrPermissionDenied.WrapMsg("admin must transfer the role before leaving", "conversation_id", convID)
	}
	return m.RemoveMember(ctx, convID, userID, userID)
}

// DisbandGroup 群主解散：先发 disband 旁白，再删全部消息、link 和会话
func (m *Manager) DisbandGroup(ctx context.Context, convID, requestedBy string) (err error) {
	defer metrics.ObserveMembership("disband_group", &err)

	conv, err := m.adminConversation(ctx, convID, requestedBy)
	if err != nil {
		return err
	}
	if _, err = m.msgs.SendSystemNotice(ctx, convID, "the group will be dissolved", model.ActionDisband); err != nil {
		return err
	}
	return m.teardown(ctx, conv, requestedBy, true)
}

// teardown 顺序：消息 → link → 会话。会话最后删，中途失败时会话仍在，可以重试。
// 第一步就失败且此前没有已提交的写入（committed=false）算干净失败；其余一律 PartialWriteFailure。
func (m *Manager) teardown(ctx context.Context, conv *model.Conversation, actor string, committed bool) error {
	convID := conv.ConversationID

	// 1) 消息
	n, err := m.msgs.PurgeConversation(ctx, convID)
	if err != nil {
		if n == 0 && !committed {
			return err
		}
		return partial(err, "messages", "conversation_id", convID, "deleted", n)
	}
	// 2) link（按会话查，顺带清掉成员表里已没有的悬空 link）
	recs, err := m.store.Query(ctx, model.CollUserConversation, docstore.Q().Eq("conversation_id", convID))
	if err != nil {
		return partial(docstore.Classify(err, "query links"), "links", "conversation_id", convID)
	}
	userIDs := conv.MemberIDs()
	for _, rec := range recs {
		uid, _ := rec["user_id"].(string)
		if conv.IndexOf(uid) < 0 {
			userIDs = append(userIDs, uid)
		}
	}
	for _, uid := range userIDs {
		if err := m.deleteLink(ctx, uid, convID); err != nil {
			return partial(err, "links", "user_id", uid, "conversation_id", convID)
		}
	}
	// 3) 会话
	if err := m.store.Delete(ctx, model.CollConversation, convID); err != nil {
		return partial(docstore.Classify(err, "delete conversation"), "conversation", "conversation_id", convID)
	}
	logger.Info("[membership] conversation torn down", zap.String("conversation_id", convID),
		zap.Int("messages", n), zap.Int("links", len(userIDs)))
	m.publish(ctx, event.Event{Type: event.ConversationEnd, ConversationID: convID, ActorID: actor, Count: n})
	return nil
}

// ListConversations 经 link 索引列出用户的会话（N 次点读），跳过已不存在的会话；按 update_time 倒序
func (m *Manager) ListConversations(ctx context.Context, userID string) ([]*model.Conversation, error) {
	if _, err := session.Require(m.ident, userID); err != nil {
		return nil, err
	}
	recs, err := m.store.Query(ctx, model.CollUserConversation, docstore.Q().Eq("user_id", userID))
	if err != nil {
		return nil, docstore.Classify(err, "list links", "user_id", userID)
	}
	out := make([]*model.Conversation, 0, len(recs))
	for _, rec := range recs {
		convID, _ := rec["conversation_id"].(string)
		conv, err := m.getConversation(ctx, convID)
		if errs.CodeOf(err) == errs.RecordNotFoundError {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	sortByUpdate(out)
	return out, nil
}
