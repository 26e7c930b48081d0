package hub

import (
	"sync"

	"github.com/meetscribe/voice-service/internal/model"
)

// StatusMessage 下发给客户端的状态消息
type StatusMessage struct {
	Type     string `json:"type"`
	FileID   string `json:"file_id,omitempty"`
	Status   string `json:"status,omitempty"`
	Progress int    `json:"progress,omitempty"`
	Message  string `json:"message,omitempty"`
}

// ControlMessage 客户端上行控制消息
type ControlMessage struct {
	Type   string `json:"type"`
	FileID string `json:"file_id"`
}

type lastSeen struct {
	progress int
	status   string
}

// Session 单个客户端连接的会话。出站队列有界，慢消费者丢事件；
// 去重状态仅在事件成功入队后推进，丢弃不会破坏一致性。
type Session struct {
	mu      sync.Mutex
	out     chan StatusMessage
	subs    map[string]struct{}
	seen    map[string]lastSeen
	closed  bool
	closeFn sync.Once
}

// NewSession 创建会话；bufferSize 为出站队列容量
func NewSession(bufferSize int) *Session {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Session{
		out:  make(chan StatusMessage, bufferSize),
		subs: make(map[string]struct{}),
		seen: make(map[string]lastSeen),
	}
}

// Outbound 出站消息流；会话关闭后该通道关闭
func (s *Session) Outbound() <-chan StatusMessage {
	return s.out
}

// Subscribe 登记文件订阅
func (s *Session) Subscribe(fileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[fileID] = struct{}{}
}

// Unsubscribe 取消文件订阅
func (s *Session) Unsubscribe(fileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, fileID)
}

// Subscribed 是否订阅了指定文件
func (s *Session) Subscribed(fileID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[fileID]
	return ok
}

// Send 直接投递一条消息（connected/subscribed 等应答），满则丢弃
func (s *Session) Send(msg StatusMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.out <- msg:
		return true
	default:
		return false
	}
}

// offer 按会话去重后投递状态事件。
// 投递条件：进度严格增加，或状态变化，或终态；否则抑制。
func (s *Session) offer(ev model.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	terminal := model.IsTerminal(ev.Status) || ev.Status == "deleted"
	prev, known := s.seen[ev.FileID]
	if known && !terminal &&
		ev.Progress <= prev.progress && ev.Status == prev.status {
		return
	}

	msg := StatusMessage{
		Type:     "file_status",
		FileID:   ev.FileID,
		Status:   ev.Status,
		Progress: ev.Progress,
		Message:  ev.Message,
	}
	select {
	case s.out <- msg:
		// 仅在成功入队后推进去重状态，丢弃的事件留待下次重新同步
		if terminal {
			delete(s.seen, ev.FileID)
		} else {
			s.seen[ev.FileID] = lastSeen{progress: ev.Progress, status: ev.Status}
		}
	default:
	}
}

// close 释放会话资源，幂等
func (s *Session) close() {
	s.closeFn.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.out)
		s.mu.Unlock()
	})
}
