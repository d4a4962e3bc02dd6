package message

import (
	"context"
	"strings"

	"PPChatSync/data/docstore"
	"PPChatSync/logger"
	"PPChatSync/module/chat/event"
	"PPChatSync/module/chat/model"
	"PPChatSync/module/session"
	"PPChatSync/service/metrics"
	"PPChatSync/tools/errs"
	"PPChatSync/tools/ids"

	"go.uber.org/zap"
)

type SendRequest struct {
	ConversationID string
	SenderID       string
	Type           model.MsgType
	Content        string
	URL            string
	ReplyToID      string // 可选：被回复的消息
}

func (r *SendRequest) validate() error {
	if r.ConversationID == "" {
		return errs.ErrValidation.WrapMsg("conversation_id required")
	}
	if !r.Type.Valid() {
		return errs.ErrValidation.WrapMsg("unknown message type", "type", r.Type)
	}
	if (r.Type == model.MsgSystem) != (r.SenderID == model.SystemSender) {
		return errs.ErrValidation.WrapMsg("system messages must come from the system sender", "sender_id", r.SenderID, "type", r.Type)
	}
	switch {
	case r.Type == model.MsgText || r.Type == model.MsgSystem:
		if strings.TrimSpace(r.Content) == "" {
			return errs.ErrValidation.WrapMsg("content required", "type", r.Type)
		}
	case r.Type.IsAttachment():
		if strings.TrimSpace(r.URL) == "" {
			return errs.ErrValidation.WrapMsg("url required", "type", r.Type)
		}
	}
	return nil
}

// Send 写入一条新消息：seen=false, revoked=false, deleted_for=[]，created_at 取本地时钟。
// 不分配全局序号，顺序由读端按 created_at 排。
func (m *Manager) Send(ctx context.Context, req SendRequest) (msg *model.Message, err error) {
	defer metrics.ObserveMessage("send", &err)
	return m.send(ctx, req, "")
}

// SendSystemNotice 系统旁白（入群、移出、转让群主、解散……），action 只用于展示层选图标
func (m *Manager) SendSystemNotice(ctx context.Context, convID, text string, action model.Action) (msg *model.Message, err error) {
	defer metrics.ObserveMessage("system_notice", &err)
	if !action.Valid() {
		return nil, errs.ErrValidation.WrapMsg("unknown system action", "action", action)
	}
	return m.send(ctx, SendRequest{
		ConversationID: convID,
		SenderID:       model.SystemSender,
		Type:           model.MsgSystem,
		Content:        text,
	}, action)
}

func (m *Manager) send(ctx context.Context, req SendRequest, action model.Action) (*model.Message, error) {
	actor := req.SenderID
	if actor == model.SystemSender {
		actor = ""
	}
	if _, err := session.Require(m.ident, actor); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	conv, err := m.getConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if req.SenderID != model.SystemSender && !conv.HasMember(req.SenderID) {
		return nil, errs.ErrPermissionDenied.WrapMsg("sender is not a member", "conversation_id", conv.ConversationID, "sender_id", req.SenderID)
	}

	msg := m.newMessage(conv.ConversationID, req.SenderID, req.Type, req.Content, req.URL)
	msg.Action = action
	if req.ReplyToID != "" {
		if msg.ReplyTo, err = m.replySnapshot(ctx, conv.ConversationID, req.ReplyToID); err != nil {
			return nil, err
		}
		msg.ReplyToID = msg.ReplyTo.MessageID
	}
	if err = m.write(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Forward 对每个目标会话写一条新消息（不是引用）：发送者是转发人，type/content/url 照抄，不带 reply。
// 逐个写入，中途失败返回已写成功的部分；已撤回的源消息不做拦截。
func (m *Manager) Forward(ctx context.Context, source *model.Message, targetConversationIDs []string, forwarderID string) (out []*model.Message, err error) {
	defer metrics.ObserveMessage("forward", &err)

	if _, err = session.Require(m.ident, forwarderID); err != nil {
		return nil, err
	}
	if source == nil || source.Type == model.MsgSystem {
		return nil, errs.ErrValidation.WrapMsg("cannot forward this message")
	}
	if len(targetConversationIDs) == 0 {
		return nil, errs.ErrValidation.WrapMsg("no forward targets")
	}
	probe := SendRequest{ConversationID: "-", SenderID: forwarderID, Type: source.Type, Content: source.Content, URL: source.URL}
	if err = probe.validate(); err != nil {
		return nil, err
	}

	for _, target := range targetConversationIDs {
		conv, err := m.getConversation(ctx, target)
		if err == nil && !conv.HasMember(forwarderID) {
			err = errs.ErrPermissionDenied.WrapMsg("forwarder is not a member", "conversation_id", target)
		}
		if err == nil {
			msg := m.newMessage(target, forwarderID, source.Type, source.Content, source.URL)
			msg.ForwardedFrom = source.MessageID
			if err = m.write(ctx, msg); err == nil {
				out = append(out, msg)
				continue
			}
		}
		if len(out) > 0 {
			return out, errs.ErrPartialWrite.WrapErr(err, "forward stopped", "target", target, "delivered", len(out))
		}
		return nil, err
	}
	return out, nil
}

func (m *Manager) newMessage(convID, senderID string, typ model.MsgType, content, url string) *model.Message {
	return &model.Message{
		MessageID:      ids.NewID(),
		ConversationID: convID,
		SenderID:       senderID,
		SenderSeq:      m.seq(),
		Type:           typ,
		Content:        content,
		URL:            url,
		CreatedAt:      m.nowMS(),
		DeletedFor:     []string{},
	}
}

func (m *Manager) replySnapshot(ctx context.Context, convID, replyToID string) (*model.ReplyRef, error) {
	target, err := m.getMessage(ctx, replyToID)
	if err != nil {
		return nil, err
	}
	if target.ConversationID != convID {
		return nil, errs.ErrValidation.WrapMsg("reply target belongs to another conversation", "reply_to", replyToID)
	}
	ref := &model.ReplyRef{MessageID: target.MessageID, SenderID: target.SenderID, Type: target.Type}
	if target.Revoked {
		ref.Revoked = true
	} else {
		ref.Content = target.Content
	}
	return ref, nil
}

func (m *Manager) write(ctx context.Context, msg *model.Message) error {
	rec, err := docstore.Encode(msg)
	if err != nil {
		return err
	}
	if _, err := m.store.Put(ctx, model.CollMessage, msg.MessageID, rec); err != nil {
		return docstore.Classify(err, "put message", "conversation_id", msg.ConversationID)
	}
	m.refreshPreview(ctx, msg)
	m.publish(ctx, event.Event{Type: event.MessageSent, ConversationID: msg.ConversationID, MessageID: msg.MessageID, ActorID: msg.SenderID})
	return nil
}

// refreshPreview 用最新消息覆盖每个成员的预览槽，长度跟随当前成员数；失败只记日志（消息本身已提交）
func (m *Manager) refreshPreview(ctx context.Context, msg *model.Message) {
	conv, err := m.getConversation(ctx, msg.ConversationID)
	if err != nil {
		logger.Warn("[message] preview refresh skipped", zap.String("conversation_id", msg.ConversationID), zap.Error(err))
		return
	}
	text := model.PreviewText(msg)
	preview := make([]string, len(conv.Members))
	for i := range preview {
		preview[i] = text
	}
	err = m.store.Update(ctx, model.CollConversation, conv.ConversationID, docstore.Record{
		"last_message_preview": preview,
		"update_time":          msg.CreatedAt,
	})
	if err != nil {
		logger.Warn("[message] preview refresh failed", zap.String("conversation_id", conv.ConversationID), zap.Error(err))
	}
}
