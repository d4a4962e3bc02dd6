package ids

import (
	"sync"
	"time"
)

const (
	nodeBits  = 10
	countBits = 12
	maxNode   = 1<<nodeBits - 1
	maxCount  = 1<<countBits - 1
)

var seqEpochMS = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

// Seq 发送端本地序号，布局是 毫秒(41) | 节点(10) | 计数(12)，同一实例严格递增。
// 只用于同毫秒消息的排序兜底，不保证跨进程唯一。
type Seq struct {
	mu     sync.Mutex
	node   int64
	lastMS int64
	count  int64
	nowMS  func() int64
}

func NewSeq(node int64) *Seq {
	if node < 0 || node > maxNode {
		node = 1
	}
	return &Seq{node: node, nowMS: func() int64 { return time.Now().UnixMilli() }}
}

// Next 时钟回拨或同毫秒计数用完时借用下一毫秒，从不阻塞
func (s *Seq) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := s.nowMS() - seqEpochMS
	switch {
	case ms > s.lastMS:
		s.lastMS, s.count = ms, 0
	case s.count < maxCount:
		s.count++
	default:
		s.lastMS++
		s.count = 0
	}
	return s.lastMS<<(nodeBits+countBits) | s.node<<countBits | s.count
}

var defaultSeq = NewSeq(1)

// NextSeq 进程级默认序号源
func NextSeq() int64 {
	return defaultSeq.Next()
}
