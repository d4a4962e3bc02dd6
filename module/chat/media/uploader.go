// Package media turns a local attachment into a chat message: size/type
// pre-check, blob upload under the conversation's prefix, then a regular Send
// carrying the retrieval URL.
package media

import (
	"context"
	"io"
	"path"
	"strings"

	"PPChatSync/data/blobstore"
	"PPChatSync/data/docstore"
	"PPChatSync/logger"
	"PPChatSync/module/chat/message"
	"PPChatSync/module/chat/model"
	"PPChatSync/module/session"
	"PPChatSync/tools/errs"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Limits 每类附件的大小上限与扩展名白名单；白名单为空表示不限扩展名
type Limits struct {
	MaxImageBytes int64    `mapstructure:"max_image_bytes"`
	MaxVideoBytes int64    `mapstructure:"max_video_bytes"`
	MaxFileBytes  int64    `mapstructure:"max_file_bytes"`
	ImageExt      []string `mapstructure:"image_ext"`
	VideoExt      []string `mapstructure:"video_ext"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxImageBytes: 10 << 20,
		MaxVideoBytes: 100 << 20,
		MaxFileBytes:  50 << 20,
		ImageExt:      []string{".jpg", ".jpeg", ".png", ".gif", ".webp"},
		VideoExt:      []string{".mp4", ".mov", ".webm"},
	}
}

func (l Limits) check(t model.MsgType, filename string, size int64) error {
	var max int64
	var exts []string
	switch t {
	case model.MsgImage:
		max, exts = l.MaxImageBytes, l.ImageExt
	case model.MsgVideo:
		max, exts = l.MaxVideoBytes, l.VideoExt
	case model.MsgFile:
		max = l.MaxFileBytes
	default:
		return errs.ErrValidation.WrapMsg("not an attachment type", "type", t)
	}
	if size <= 0 {
		return errs.ErrValidation.WrapMsg("empty attachment", "filename", filename)
	}
	if max > 0 && size > max {
		return errs.ErrValidation.WrapMsg("attachment too large",
			"filename", filename, "size", humanize.IBytes(uint64(size)), "limit", humanize.IBytes(uint64(max)))
	}
	if len(exts) > 0 {
		ext := strings.ToLower(path.Ext(filename))
		ok := false
		for _, e := range exts {
			if strings.EqualFold(e, ext) {
				ok = true
				break
			}
		}
		if !ok {
			return errs.ErrValidation.WrapMsg("extension not allowed", "filename", filename, "type", t)
		}
	}
	return nil
}

type AttachmentRequest struct {
	ConversationID string
	SenderID       string
	Type           model.MsgType
	Filename       string
	Size           int64
	Body           io.Reader
	Progress       blobstore.ProgressFunc // 可为 nil
}

type Sender interface {
	Send(ctx context.Context, req message.SendRequest) (*model.Message, error)
}

type Uploader struct {
	store  docstore.Store
	blobs  blobstore.Store
	sender Sender
	ident  session.Identity
	limits Limits
}

func NewUploader(store docstore.Store, blobs blobstore.Store, sender Sender, ident session.Identity, limits Limits) *Uploader {
	return &Uploader{store: store, blobs: blobs, sender: sender, ident: ident, limits: limits}
}

// ObjectPath conversations/<conv>/<uuid>-<filename>
func ObjectPath(convID, filename string) string {
	return "conversations/" + convID + "/" + uuid.NewString() + "-" + path.Base(filename)
}

// SendAttachment 1) 会话与限额预检 2) 上传 3) 取下载地址 4) 作为普通消息发送
func (u *Uploader) SendAttachment(ctx context.Context, req AttachmentRequest) (*model.Message, error) {
	if _, err := session.Require(u.ident, req.SenderID); err != nil {
		return nil, err
	}
	if req.ConversationID == "" || strings.TrimSpace(req.Filename) == "" || req.Body == nil {
		return nil, errs.ErrValidation.WrapMsg("conversation_id, filename and body required")
	}
	if err := u.limits.check(req.Type, req.Filename, req.Size); err != nil {
		return nil, err
	}

	// 1) 非成员不浪费一次上传
	rec, err := u.store.Get(ctx, model.CollConversation, req.ConversationID)
	if err != nil {
		return nil, docstore.Classify(err, "load conversation", "conversation_id", req.ConversationID)
	}
	var conv model.Conversation
	if err := docstore.Decode(rec, &conv); err != nil {
		return nil, errs.ErrInternalServer.WrapErr(err, "decode conversation")
	}
	if !conv.HasMember(req.SenderID) {
		return nil, errs.ErrPermissionDenied.WrapMsg("sender is not a member", "conversation_id", req.ConversationID)
	}

	// 2)
	objPath := ObjectPath(req.ConversationID, req.Filename)
	body := &boundedReader{r: req.Body, limit: req.Size}
	if err := u.blobs.Upload(ctx, objPath, body, req.Size, req.Progress); err != nil {
		if errors.Is(err, errOversize) {
			return nil, errs.ErrValidation.WrapMsg("attachment larger than declared size", "filename", req.Filename)
		}
		return nil, errs.ErrStoreUnavailable.WrapErr(err, "upload attachment", "path", objPath)
	}

	// 3)
	url, err := u.blobs.RetrievalURL(ctx, objPath)
	if err != nil {
		return nil, errs.ErrStoreUnavailable.WrapErr(err, "resolve attachment url", "path", objPath)
	}

	// 4)
	content := ""
	if req.Type == model.MsgFile {
		content = path.Base(req.Filename)
	}
	msg, err := u.sender.Send(ctx, message.SendRequest{
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		Type:           req.Type,
		Content:        content,
		URL:            url,
	})
	if err != nil {
		logger.Warn("[media] blob uploaded but message not sent", zap.String("path", objPath), zap.Error(err))
		return nil, err
	}
	logger.Info("[media] attachment sent",
		zap.String("conversation_id", req.ConversationID),
		zap.String("message_id", msg.MessageID),
		zap.String("size", humanize.IBytes(uint64(body.n))))
	return msg, nil
}

var errOversize = errors.New("media: body exceeds declared size")

// boundedReader 实际字节数超过声明大小即报错
type boundedReader struct {
	r     io.Reader
	limit int64
	n     int64
}

func (b *boundedReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	b.n += int64(n)
	if b.n > b.limit {
		return n, errOversize
	}
	return n, err
}
