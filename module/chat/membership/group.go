package membership

import (
	"context"
	"fmt"
	"strings"

	"PPChatSync/data/docstore"
	"PPChatSync/module/chat/event"
	"PPChatSync/module/chat/model"
	"PPChatSync/module/session"
	"PPChatSync/service/metrics"
	"PPChatSync/tools/errs"
	"PPChatSync/tools/ids"
)

// CreateGroup 建群：先写会话，再逐个写 link，最后发一条 update 旁白。
// link 写到一半失败时返回 PartialWriteFailure，已写入的会话不回滚（视为泄漏，等 reconcile 修复）。
func (m *Manager) CreateGroup(ctx context.Context, name string, members []model.Member, admin string) (conv *model.Conversation, err error) {
	defer metrics.ObserveMembership("create_group", &err)

	if _, err = session.Require(m.ident, admin); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.ErrValidation.WrapMsg("group name required")
	}
	list := make([]model.Member, 0, len(members)+1)
	seen := map[string]struct{}{}
	add := func(mem model.Member) {
		if _, dup := seen[mem.UserID]; dup || mem.UserID == "" {
			return
		}
		seen[mem.UserID] = struct{}{}
		list = append(list, m.memberSnapshot(ctx, mem))
	}
	add(model.Member{UserID: admin}) // 群主排第一
	for _, mem := range members {
		add(mem)
	}
	if len(list) < model.MinGroupMembers {
		return nil, errs.ErrValidation.WrapMsg("group needs admin plus at least two members", "members", len(list))
	}

	now := m.nowMS()
	conv = &model.Conversation{
		ConversationID:     ids.NewID(),
		IsGroup:            true,
		Name:               name,
		Members:            list,
		Admin:              admin,
		LastMessagePreview: make([]string, len(list)),
		CreateTime:         now,
		UpdateTime:         now,
	}
	// 1) 会话
	if err = m.putConversation(ctx, conv); err != nil {
		return nil, err
	}
	// 2) 每个成员一条 link
	for i, mem := range list {
		if err = m.putLink(ctx, mem.UserID, conv); err != nil {
			return conv, partial(err, "link", "user_id", mem.UserID, "written", i, "conversation_id", conv.ConversationID)
		}
	}
	// 3) 旁白
	if _, err = m.msgs.SendSystemNotice(ctx, conv.ConversationID, fmt.Sprintf("%s created group \"%s\"", displayName(list[0]), name), model.ActionUpdate); err != nil {
		return conv, partial(err, "notice", "conversation_id", conv.ConversationID)
	}
	m.publish(ctx, event.Event{Type: event.ConversationNew, ConversationID: conv.ConversationID, ActorID: admin, Count: len(list)})
	return conv, nil
}

// AddMember 拉人进群：成员 + 预览槽同时追加，写 link，发 add 旁白。
// 群主/副群主可直接拉人；普通成员只能拉自己的好友。
func (m *Manager) AddMember(ctx context.Context, convID, actor, userID string) (err error) {
	defer metrics.ObserveMembership("add_member", &err)

	if _, err = session.Require(m.ident, actor); err != nil {
		return err
	}
	conv, err := m.getConversation(ctx, convID)
	if err != nil {
		return err
	}
	if err = requireGroup(conv); err != nil {
		return err
	}
	if userID == "" {
		return errs.ErrValidation.WrapMsg("user_id required")
	}
	if !conv.HasMember(actor) {
		return errs.ErrPermissionDenied.WrapMsg("actor is not a member", "conversation_id", convID, "actor", actor)
	}
	if conv.HasMember(userID) {
		return errs.ErrValidation.WrapMsg("already a member", "conversation_id", convID, "user_id", userID)
	}
	if !conv.IsAdmin(actor) && !conv.IsViceAdmin(actor) {
		ok, err := m.areFriends(ctx, actor, userID)
		if err != nil {
			return err
		}
		if !ok {
			return errs.ErrPermissionDenied.WrapMsg("can only add friends", "actor", actor, "user_id", userID)
		}
	}

	mem := m.memberSnapshot(ctx, model.Member{UserID: userID})
	conv.AlignPreview()
	conv.Members = append(conv.Members, mem)
	conv.LastMessagePreview = append(conv.LastMessagePreview, "")

	// 1) 会话成员 + 预览槽
	err = m.store.Update(ctx, model.CollConversation, convID, docstore.Record{
		"members":              conv.Members,
		"last_message_preview": conv.LastMessagePreview,
		"update_time":          m.nowMS(),
	})
	if err != nil {
		return docstore.Classify(err, "update members", "conversation_id", convID)
	}
	// 2) link
	if err = m.putLink(ctx, userID, conv); err != nil {
		return partial(err, "link", "user_id", userID, "conversation_id", convID)
	}
	// 3) 旁白
	if _, err = m.msgs.SendSystemNotice(ctx, convID, displayName(mem)+" joined the group", model.ActionAdd); err != nil {
		return partial(err, "notice", "conversation_id", convID)
	}
	m.publish(ctx, event.Event{Type: event.MemberAdded, ConversationID: convID, ActorID: actor, TargetID: userID})
	return nil
}

// RemoveMember 移除成员（actor == userID 即主动退出）。群主不能被移除，必须先转让。
// 成员与预览槽按同一下标删除，保持对齐。
func (m *Manager) RemoveMember(ctx context.Context, convID, actor, userID string) (err error) {
	defer metrics.ObserveMembership("remove_member", &err)

	if _, err = session.Require(m.ident, actor); err != nil {
		return err
	}
	conv, err := m.getConversation(ctx, convID)
	if err != nil {
		return err
	}
	idx := conv.IndexOf(userID)
	if idx < 0 {
		return errs.ErrNotFound.WrapMsg("not a member", "conversation_id", convID, "user_id", userID)
	}
	if conv.IsAdmin(userID) {
		return errs.ErrPermissionDenied.WrapMsg("admin must transfer the role before leaving", "conversation_id", convID)
	}
	self := actor == userID
	if !self && !(conv.IsGroup && (conv.IsAdmin(actor) || conv.IsViceAdmin(actor))) {
		return errs.ErrPermissionDenied.WrapMsg("only admin or vice admin may remove others", "conversation_id", convID, "actor", actor)
	}

	removed := conv.Members[idx]
	conv.AlignPreview()
	conv.Members = append(conv.Members[:idx:idx], conv.Members[idx+1:]...)
	conv.LastMessagePreview = append(conv.LastMessagePreview[:idx:idx], conv.LastMessagePreview[idx+1:]...)
	fields := docstore.Record{
		"members":              conv.Members,
		"last_message_preview": conv.LastMessagePreview,
		"update_time":          m.nowMS(),
	}
	if conv.IsViceAdmin(userID) {
		fields["vice_admin"] = ""
	}

	// 1) 会话成员 + 预览槽
	if err = m.store.Update(ctx, model.CollConversation, convID, fields); err != nil {
		return docstore.Classify(err, "update members", "conversation_id", convID)
	}
	// 2) link
	if err = m.deleteLink(ctx, userID, convID); err != nil {
		return partial(err, "link", "user_id", userID, "conversation_id", convID)
	}
	// 3) 旁白
	action, text := model.ActionRemove, displayName(removed)+" was removed from the group"
	if self {
		action, text = model.ActionLeave, displayName(removed)+" left the group"
	}
	if _, err = m.msgs.SendSystemNotice(ctx, convID, text, action); err != nil {
		return partial(err, "notice", "conversation_id", convID)
	}
	m.publish(ctx, event.Event{Type: event.MemberRemoved, ConversationID: convID, ActorID: actor, TargetID: userID})
	return nil
}

// TransferAdmin 群主转让；新群主原来是副群主时，副群主位清空
func (m *Manager) TransferAdmin(ctx context.Context, convID, actor, newAdmin string) (err error) {
	defer metrics.ObserveMembership("transfer_admin", &err)

	conv, err := m.adminTarget(ctx, convID, actor, newAdmin)
	if err != nil {
		return err
	}
	if newAdmin == conv.Admin {
		return nil
	}
	fields := docstore.Record{"admin": newAdmin, "update_time": m.nowMS()}
	if conv.IsViceAdmin(newAdmin) {
		fields["vice_admin"] = ""
	}
	if err = m.store.Update(ctx, model.CollConversation, convID, fields); err != nil {
		return docstore.Classify(err, "transfer admin", "conversation_id", convID)
	}
	text := displayName(conv.Members[conv.IndexOf(newAdmin)]) + " is now the group admin"
	if _, err = m.msgs.SendSystemNotice(ctx, convID, text, model.ActionUpdate); err != nil {
		return partial(err, "notice", "conversation_id", convID)
	}
	m.publish(ctx, event.Event{Type: event.AdminChanged, ConversationID: convID, ActorID: actor, TargetID: newAdmin})
	return nil
}

// AppointViceAdmin 设置副群主；userID 为空表示撤销副群主
func (m *Manager) AppointViceAdmin(ctx context.Context, convID, actor, userID string) (err error) {
	defer metrics.ObserveMembership("appoint_vice_admin", &err)

	var conv *model.Conversation
	if userID == "" {
		if conv, err = m.adminConversation(ctx, convID, actor); err != nil {
			return err
		}
	} else if conv, err = m.adminTarget(ctx, convID, actor, userID); err != nil {
		return err
	}
	if userID != "" && conv.IsAdmin(userID) {
		return errs.ErrValidation.WrapMsg("admin cannot also be vice admin")
	}
	if conv.ViceAdmin == userID {
		return nil
	}
	if err = m.store.Update(ctx, model.CollConversation, convID, docstore.Record{"vice_admin": userID, "update_time": m.nowMS()}); err != nil {
		return docstore.Classify(err, "appoint vice admin", "conversation_id", convID)
	}
	text := "vice admin removed"
	if userID != "" {
		text = displayName(conv.Members[conv.IndexOf(userID)]) + " is now vice admin"
	}
	if _, err = m.msgs.SendSystemNotice(ctx, convID, text, model.ActionUpdate); err != nil {
		return partial(err, "notice", "conversation_id", convID)
	}
	m.publish(ctx, event.Event{Type: event.AdminChanged, ConversationID: convID, ActorID: actor, TargetID: userID})
	return nil
}

func (m *Manager) adminConversation(ctx context.Context, convID, actor string) (*model.Conversation, error) {
	if _, err := session.Require(m.ident, actor); err != nil {
		return nil, err
	}
	conv, err := m.getConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if err := requireGroup(conv); err != nil {
		return nil, err
	}
	if err := requireAdmin(conv, actor); err != nil {
		return nil, err
	}
	return conv, nil
}

func (m *Manager) adminTarget(ctx context.Context, convID, actor, target string) (*model.Conversation, error) {
	conv, err := m.adminConversation(ctx, convID, actor)
	if err != nil {
		return nil, err
	}
	if !conv.HasMember(target) {
		return nil, errs.ErrNotFound.WrapMsg("target is not a member", "conversation_id", convID, "user_id", target)
	}
	return conv, nil
}
