package api

import (
	"context"
	"net/http"

	"PPChatSync/data/docstore"
	"PPChatSync/module/chat/model"
	"PPChatSync/tools/errs"
	"PPChatSync/tools/security"

	"github.com/gin-gonic/gin"
)

type signInReq struct {
	UserID string `json:"user_id" binding:"required"`
}

func (s *Server) handleDevSignIn(c *gin.Context) {
	var req signInReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	token, exp, err := security.Issue(s.deps.JWT, req.UserID)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expire_at": exp.UnixMilli(), "user_id": req.UserID})
}

func (s *Server) handleListConversations(c *gin.Context) {
	cl := s.clientsFor(c)
	convs, err := cl.group.ListConversations(c.Request.Context(), cl.uid)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": convs})
}

type directReq struct {
	PeerID string `json:"peer_id" binding:"required"`
}

func (s *Server) handleDirect(c *gin.Context) {
	var req directReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cl := s.clientsFor(c)
	conv, created, err := cl.group.FindOrCreateDirectConversation(c.Request.Context(), cl.uid, req.PeerID)
	if err != nil {
		writeErr(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"conversation": conv, "created": created})
}

func (s *Server) handleLeave(c *gin.Context) {
	cl := s.clientsFor(c)
	if err := cl.group.LeaveOrDisband(c.Request.Context(), c.Param("id"), cl.uid); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type createGroupReq struct {
	Name    string `json:"name"`
	Members []any  `json:"members" binding:"required"` // 用户ID 或 {user_id, display_name}
}

func (s *Server) handleCreateGroup(c *gin.Context) {
	var req createGroupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	members, err := model.NormalizeMembers(req.Members)
	if err != nil {
		writeErr(c, err)
		return
	}
	cl := s.clientsFor(c)
	conv, err := cl.group.CreateGroup(c.Request.Context(), req.Name, members, cl.uid)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"conversation": conv})
}

type userReq struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleAddMember(c *gin.Context) {
	var req userReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cl := s.clientsFor(c)
	if err := cl.group.AddMember(c.Request.Context(), c.Param("id"), cl.uid, req.UserID); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRemoveMember(c *gin.Context) {
	cl := s.clientsFor(c)
	if err := cl.group.RemoveMember(c.Request.Context(), c.Param("id"), cl.uid, c.Param("uid")); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleTransferAdmin(c *gin.Context) {
	var req userReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cl := s.clientsFor(c)
	if err := cl.group.TransferAdmin(c.Request.Context(), c.Param("id"), cl.uid, req.UserID); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// user_id 为空表示撤销副群主
func (s *Server) handleAppointVice(c *gin.Context) {
	var req userReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cl := s.clientsFor(c)
	if err := cl.group.AppointViceAdmin(c.Request.Context(), c.Param("id"), cl.uid, req.UserID); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDisband(c *gin.Context) {
	cl := s.clientsFor(c)
	if err := cl.group.DisbandGroup(c.Request.Context(), c.Param("id"), cl.uid); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// requireMember 读接口（历史、订阅、转发源）的成员校验
func (s *Server) requireMember(ctx context.Context, convID, uid string) (*model.Conversation, error) {
	rec, err := s.deps.Store.Get(ctx, model.CollConversation, convID)
	if err != nil {
		return nil, docstore.Classify(err, "get conversation", "conversation_id", convID)
	}
	var conv model.Conversation
	if err := docstore.Decode(rec, &conv); err != nil {
		return nil, err
	}
	if !conv.HasMember(uid) {
		return nil, errs.ErrPermissionDenied.WrapMsg("not a member", "conversation_id", convID)
	}
	return &conv, nil
}
