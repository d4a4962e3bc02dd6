package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"PPChatSync/data/blobstore"
	"PPChatSync/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// handleMediaGet 附件下载地址的落点；对象路径里带 uuid，不做鉴权
func (s *Server) handleMediaGet(c *gin.Context) {
	p := strings.TrimPrefix(c.Param("path"), "/")
	if p == "" || strings.Contains(p, "..") {
		c.Status(http.StatusBadRequest)
		return
	}
	rc, err := s.deps.Blobs.Open(c.Request.Context(), p)
	if errors.Is(err, blobstore.ErrNotFound) {
		c.Status(http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Error("[api] open media", zap.String("path", p), zap.Error(err))
		c.Status(http.StatusServiceUnavailable)
		return
	}
	defer rc.Close()

	ct := mime.TypeByExtension(path.Ext(p))
	if ct == "" {
		ct = "application/octet-stream"
	}
	c.Header("Content-Type", ct)
	c.Header("Cache-Control", "private, max-age=86400")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		logger.Debug("[api] media copy aborted", zap.String("path", p), zap.Error(err))
	}
}
