package api

import (
	"net/http"
	"strconv"

	"PPChatSync/module/chat/media"
	"PPChatSync/module/chat/message"
	"PPChatSync/module/chat/model"
	"PPChatSync/module/chat/view"
	"PPChatSync/module/session"
	"PPChatSync/tools/errs"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleHistory(c *gin.Context) {
	limit := s.deps.Window
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeErr(c, errs.ErrValidation.WrapMsg("limit must be a positive integer", "limit", v))
			return
		}
		limit = min(n, s.deps.Window)
	}
	cl := s.clientsFor(c)
	raw, err := cl.msgs.History(c.Request.Context(), c.Param("id"), cl.uid, limit)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": view.Materialize(raw, cl.uid)})
}

type sendReq struct {
	Type      model.MsgType `json:"type"`
	Content   string        `json:"content"`
	URL       string        `json:"url"`
	ReplyToID string        `json:"reply_to_id"`
}

func (s *Server) handleSend(c *gin.Context) {
	var req sendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Type == "" {
		req.Type = model.MsgText
	}
	if req.Type == model.MsgSystem {
		writeErr(c, errs.ErrValidation.WrapMsg("clients cannot send system messages"))
		return
	}
	cl := s.clientsFor(c)
	msg, err := cl.msgs.Send(c.Request.Context(), message.SendRequest{
		ConversationID: c.Param("id"),
		SenderID:       cl.uid,
		Type:           req.Type,
		Content:        req.Content,
		URL:            req.URL,
		ReplyToID:      req.ReplyToID,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": renderOne(msg, cl.uid)})
}

// handleAttachment multipart: type + file
func (s *Server) handleAttachment(c *gin.Context) {
	typ := model.MsgType(c.PostForm("type"))
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeErr(c, errs.ErrInternalServer.WrapErr(err, "open upload"))
		return
	}
	defer f.Close()

	cl := s.clientsFor(c)
	up := media.NewUploader(s.deps.Store, s.deps.Blobs, cl.msgs, session.Static(cl.uid), s.deps.Limits)
	msg, err := up.SendAttachment(c.Request.Context(), media.AttachmentRequest{
		ConversationID: c.Param("id"),
		SenderID:       cl.uid,
		Type:           typ,
		Filename:       fh.Filename,
		Size:           fh.Size,
		Body:           f,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": renderOne(msg, cl.uid)})
}

func (s *Server) handleMarkSeen(c *gin.Context) {
	cl := s.clientsFor(c)
	n, err := cl.msgs.MarkSeen(c.Request.Context(), c.Param("id"), cl.uid)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"advanced": n})
}

func (s *Server) handleRevoke(c *gin.Context) {
	cl := s.clientsFor(c)
	if err := cl.msgs.Revoke(c.Request.Context(), c.Param("id"), cl.uid); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSoftDelete(c *gin.Context) {
	cl := s.clientsFor(c)
	if err := cl.msgs.SoftDeleteForUser(c.Request.Context(), c.Param("id"), cl.uid); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type forwardReq struct {
	Targets []string `json:"targets" binding:"required"`
}

// handleForward 源消息必须对转发人可见：是源会话成员且没有删除过这条消息
func (s *Server) handleForward(c *gin.Context) {
	var req forwardReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	cl := s.clientsFor(c)
	src, err := cl.msgs.Get(ctx, c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	if _, err := s.requireMember(ctx, src.ConversationID, cl.uid); err != nil {
		writeErr(c, err)
		return
	}
	if src.IsDeletedFor(cl.uid) {
		writeErr(c, errs.ErrNotFound.WrapMsg("message deleted", "message_id", src.MessageID))
		return
	}

	out, err := cl.msgs.Forward(ctx, src, req.Targets, cl.uid)
	items := make([]view.RenderedMessage, 0, len(out))
	for _, m := range out {
		items = append(items, renderOne(m, cl.uid))
	}
	if err != nil && len(out) == 0 {
		writeErr(c, err)
		return
	}
	if err != nil {
		// 部分成功：带回已送达的消息，客户端据此提示剩余目标
		c.JSON(HTTPStatus(err), gin.H{"items": items, "error": bodyOf(err)})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"items": items})
}

func renderOne(m *model.Message, viewerID string) view.RenderedMessage {
	return view.Materialize([]model.Message{*m}, viewerID)[0]
}
