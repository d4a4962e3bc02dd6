// Package reconcile repairs the conversation ↔ link index pairing that
// non-transactional membership writes can leave broken.
package reconcile

import (
	"context"
	"time"

	"PPChatSync/data/docstore"
	"PPChatSync/logger"
	"PPChatSync/module/chat/model"
	"PPChatSync/service/metrics"
	"PPChatSync/tools/safe"

	"go.uber.org/zap"
)

type Report struct {
	Conversations int `json:"conversations"`
	Links         int `json:"links"`

	DanglingLinks   []string `json:"dangling_links"`   // 会话已不存在
	StaleLinks      []string `json:"stale_links"`      // 用户已不在成员表
	MissingLinks    []string `json:"missing_links"`    // 成员缺 link
	MisalignedConvs []string `json:"misaligned_convs"` // 预览槽长度不对
	DryRun          bool     `json:"dry_run"`
}

func (r *Report) Repairs() int {
	return len(r.DanglingLinks) + len(r.StaleLinks) + len(r.MissingLinks) + len(r.MisalignedConvs)
}

type Sweeper struct {
	store docstore.Store
	now   func() int64
}

func NewSweeper(store docstore.Store) *Sweeper {
	safe.MustNotNil(store, "store")
	return &Sweeper{store: store, now: func() int64 { return time.Now().UnixMilli() }}
}

// Sweep 全量比对会话与 link；dryRun 只出报告不写。遇到写错误立即返回（报告里是已完成的部分）。
func (s *Sweeper) Sweep(ctx context.Context, dryRun bool) (*Report, error) {
	rep := &Report{DryRun: dryRun}

	// 先读 link 再读会话：扫描期间新建的会话只会被看成“缺 link”，不会被当成悬空
	linkRecs, err := s.store.Query(ctx, model.CollUserConversation, docstore.Q())
	if err != nil {
		return rep, docstore.Classify(err, "scan links")
	}
	links, err := docstore.DecodeAll[model.UserConversationLink](linkRecs)
	if err != nil {
		return rep, err
	}
	convRecs, err := s.store.Query(ctx, model.CollConversation, docstore.Q())
	if err != nil {
		return rep, docstore.Classify(err, "scan conversations")
	}
	convs, err := docstore.DecodeAll[model.Conversation](convRecs)
	if err != nil {
		return rep, err
	}
	rep.Conversations, rep.Links = len(convs), len(links)

	byID := make(map[string]*model.Conversation, len(convs))
	for i := range convs {
		byID[convs[i].ConversationID] = &convs[i]
	}
	have := make(map[string]bool, len(links))

	// 1) 悬空 / 过期 link
	for _, l := range links {
		have[model.LinkID(l.UserID, l.ConversationID)] = true
		conv, ok := byID[l.ConversationID]
		var bucket *[]string
		switch {
		case !ok:
			bucket = &rep.DanglingLinks
		case !conv.HasMember(l.UserID):
			bucket = &rep.StaleLinks
		default:
			continue
		}
		// 删除前按最新会话复核，扫描快照可能已过期
		cur, err := s.current(ctx, l.ConversationID)
		if err != nil {
			return rep, err
		}
		if cur != nil && cur.HasMember(l.UserID) {
			continue
		}
		*bucket = append(*bucket, l.LinkID)
		if dryRun {
			continue
		}
		if err := s.store.Delete(ctx, model.CollUserConversation, l.LinkID); err != nil {
			return rep, docstore.Classify(err, "delete link", "link_id", l.LinkID)
		}
	}

	// 2) 成员缺 link、预览槽错位
	for i := range convs {
		conv := &convs[i]
		for _, uid := range conv.MemberIDs() {
			id := model.LinkID(uid, conv.ConversationID)
			if have[id] {
				continue
			}
			ok, err := s.stillMissing(ctx, conv.ConversationID, uid, id)
			if err != nil {
				return rep, err
			}
			if !ok {
				continue
			}
			rep.MissingLinks = append(rep.MissingLinks, id)
			if dryRun {
				continue
			}
			rec, err := docstore.Encode(model.NewLink(uid, conv.ConversationID, conv.IsGroup, s.now()))
			if err != nil {
				return rep, err
			}
			if _, err := s.store.Put(ctx, model.CollUserConversation, id, rec); err != nil {
				return rep, docstore.Classify(err, "put link", "link_id", id)
			}
		}
		if conv.PreviewAligned() {
			continue
		}
		rep.MisalignedConvs = append(rep.MisalignedConvs, conv.ConversationID)
		if dryRun {
			continue
		}
		conv.AlignPreview()
		if err := s.store.Update(ctx, model.CollConversation, conv.ConversationID, docstore.Record{"last_message_preview": conv.LastMessagePreview}); err != nil {
			return rep, docstore.Classify(err, "align preview", "conversation_id", conv.ConversationID)
		}
	}

	if !dryRun {
		metrics.ReconcileRepairs.WithLabelValues("dangling_link").Add(float64(len(rep.DanglingLinks)))
		metrics.ReconcileRepairs.WithLabelValues("stale_link").Add(float64(len(rep.StaleLinks)))
		metrics.ReconcileRepairs.WithLabelValues("missing_link").Add(float64(len(rep.MissingLinks)))
		metrics.ReconcileRepairs.WithLabelValues("preview").Add(float64(len(rep.MisalignedConvs)))
	}
	logger.Info("[reconcile] sweep done", zap.Bool("dry_run", dryRun), zap.Int("conversations", rep.Conversations),
		zap.Int("links", rep.Links), zap.Int("repairs", rep.Repairs()))
	return rep, nil
}

// current 重新读取会话；不存在返回 nil
func (s *Sweeper) current(ctx context.Context, convID string) (*model.Conversation, error) {
	rec, err := s.store.Get(ctx, model.CollConversation, convID)
	if docstore.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, docstore.Classify(err, "reload conversation", "conversation_id", convID)
	}
	var conv model.Conversation
	if err := docstore.Decode(rec, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// stillMissing link 仍不存在且用户仍是成员时才需要补；并发写入已补上的不覆盖
func (s *Sweeper) stillMissing(ctx context.Context, convID, uid, linkID string) (bool, error) {
	_, err := s.store.Get(ctx, model.CollUserConversation, linkID)
	if err == nil {
		return false, nil
	}
	if !docstore.IsNotFound(err) {
		return false, docstore.Classify(err, "reload link", "link_id", linkID)
	}
	cur, err := s.current(ctx, convID)
	if err != nil || cur == nil {
		return false, err
	}
	return cur.HasMember(uid), nil
}
