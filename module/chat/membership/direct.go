package membership

import (
	"context"
	"sort"

	"PPChatSync/data/docstore"
	"PPChatSync/module/chat/event"
	"PPChatSync/module/chat/model"
	"PPChatSync/module/session"
	"PPChatSync/service/metrics"
	"PPChatSync/tools/errs"
	"PPChatSync/tools/ids"
)

// FindOrCreateDirectConversation 找 a、b 共有的单聊，没有就新建（会话 + 两条 link）。
//
// 查找与创建之间没有唯一约束：两个客户端同时调用、都没看到对方尚未提交的会话时，
// 会各自建出一个单聊。调用方需要容忍偶发的重复单聊；已存在多个时返回最早创建的那个。
func (m *Manager) FindOrCreateDirectConversation(ctx context.Context, a, b string) (conv *model.Conversation, created bool, err error) {
	defer metrics.ObserveMembership("find_or_create_direct", &err)

	if _, err = session.Require(m.ident, a); err != nil {
		return nil, false, err
	}
	if b == "" || a == b {
		return nil, false, errs.ErrValidation.WrapMsg("direct chat needs two distinct users", "a", a, "b", b)
	}
	ok, err := m.areFriends(ctx, a, b)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, errs.ErrPermissionDenied.WrapMsg("no accepted friend request", "a", a, "b", b)
	}

	if conv, err = m.findDirect(ctx, a, b); err != nil || conv != nil {
		return conv, false, err
	}

	now := m.nowMS()
	conv = &model.Conversation{
		ConversationID:     ids.NewID(),
		IsGroup:            false,
		Members:            []model.Member{m.memberSnapshot(ctx, model.Member{UserID: a}), m.memberSnapshot(ctx, model.Member{UserID: b})},
		LastMessagePreview: []string{"", ""},
		CreateTime:         now,
		UpdateTime:         now,
	}
	// 1) 会话
	if err = m.putConversation(ctx, conv); err != nil {
		return nil, false, err
	}
	// 2) 双方 link
	for _, uid := range []string{a, b} {
		if err = m.putLink(ctx, uid, conv); err != nil {
			return conv, true, partial(err, "link", "user_id", uid, "conversation_id", conv.ConversationID)
		}
	}
	m.publish(ctx, event.Event{Type: event.ConversationNew, ConversationID: conv.ConversationID, ActorID: a, TargetID: b})
	return conv, true, nil
}

func (m *Manager) findDirect(ctx context.Context, a, b string) (*model.Conversation, error) {
	linksA, err := m.store.Query(ctx, model.CollUserConversation, docstore.Q().Eq("user_id", a).Eq("is_group", false))
	if err != nil {
		return nil, docstore.Classify(err, "scan links", "user_id", a)
	}
	if len(linksA) == 0 {
		return nil, nil
	}
	convIDs := make([]string, 0, len(linksA))
	for _, rec := range linksA {
		if id, _ := rec["conversation_id"].(string); id != "" {
			convIDs = append(convIDs, id)
		}
	}
	linksB, err := m.store.Query(ctx, model.CollUserConversation, docstore.Q().Eq("user_id", b).InStrings("conversation_id", convIDs))
	if err != nil {
		return nil, docstore.Classify(err, "scan links", "user_id", b)
	}

	var found []*model.Conversation
	for _, rec := range linksB {
		id, _ := rec["conversation_id"].(string)
		conv, err := m.getConversation(ctx, id)
		if errs.CodeOf(err) == errs.RecordNotFoundError {
			continue // 悬空 link，留给 reconcile
		}
		if err != nil {
			return nil, err
		}
		if !conv.IsGroup {
			found = append(found, conv)
		}
	}
	if len(found) == 0 {
		return nil, nil
	}
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].CreateTime != found[j].CreateTime {
			return found[i].CreateTime < found[j].CreateTime
		}
		return found[i].ConversationID < found[j].ConversationID
	})
	return found[0], nil
}

func sortByUpdate(convs []*model.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].UpdateTime > convs[j].UpdateTime
	})
}
