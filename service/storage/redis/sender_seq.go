package redis

import (
	"context"
	"sync/atomic"
	"time"

	"PPChatSync/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const seqKeyPrefix = "ppsync:seq:"

func SeqKey(senderID string) string { return seqKeyPrefix + senderID }

// 只升不降：计数落后于 floor 时先抬到 floor，再 INCR 取新号
var nextSeqLua = redis.NewScript(`
local k = KEYS[1]
local floor = tonumber(ARGV[1])
local v = redis.call('GET', k)
if (not v) or (tonumber(v) < floor) then
  redis.call('SET', k, floor)
end
return redis.call('INCR', k)
`)

// SenderSeq 跨进程的发送端单调序号（同毫秒排序兜底）。
// Redis 不可用时退化为微秒时间戳，并记下 floor，恢复后的计数不会回退到它之下。
type SenderSeq struct {
	rdb   redis.Scripter
	floor atomic.Int64
	now   func() time.Time
}

func NewSenderSeq(rdb redis.Scripter) *SenderSeq {
	return &SenderSeq{rdb: rdb, now: time.Now}
}

func (s *SenderSeq) Next(ctx context.Context, senderID string) (int64, error) {
	return nextSeqLua.Run(ctx, s.rdb, []string{SeqKey(senderID)}, s.floor.Load()).Int64()
}

// Func 绑定一个发送者，给 message.WithSeq 用
func (s *SenderSeq) Func(ctx context.Context, senderID string) func() int64 {
	return func() int64 {
		v, err := s.Next(ctx, senderID)
		if err == nil {
			return v
		}
		v = s.now().UnixMicro()
		s.raiseFloor(v)
		logger.Warn("[redis] sender seq fallback", zap.String("sender_id", senderID), zap.Error(err))
		return v
	}
}

func (s *SenderSeq) raiseFloor(v int64) {
	for {
		cur := s.floor.Load()
		if v <= cur || s.floor.CompareAndSwap(cur, v) {
			return
		}
	}
}
