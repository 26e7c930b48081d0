package hub

import (
	"github.com/meetscribe/voice-service/internal/model"
	"go.uber.org/zap"
)

// Hub 状态事件扇出中心。生产者统一经 Publish 入队，
// 专职协程把事件分发给所有在线会话，逐会话去重。
type Hub struct {
	logger   *zap.Logger
	events   chan model.ProgressEvent
	attach   chan *Session
	detach   chan *Session
	sessions map[*Session]struct{}
	count    chan chan int
	quit     chan struct{}
	stopped  chan struct{}
}

// New 创建并启动分发协程。queueSize 为发布队列容量。
func New(queueSize int, logger *zap.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = 1024
	}
	h := &Hub{
		logger:   logger,
		events:   make(chan model.ProgressEvent, queueSize),
		attach:   make(chan *Session),
		detach:   make(chan *Session),
		sessions: make(map[*Session]struct{}),
		count:    make(chan chan int),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go h.run()
	return h
}

// Publish 投递事件。队列满时丢弃并告警，绝不反压生产者。
func (h *Hub) Publish(ev model.ProgressEvent) {
	select {
	case h.events <- ev:
	case <-h.quit:
	default:
		h.logger.Warn("hub event queue full, dropping event",
			zap.String("file_id", ev.FileID),
			zap.String("status", ev.Status))
	}
}

// Attach 接入会话，幂等
func (h *Hub) Attach(s *Session) {
	select {
	case h.attach <- s:
	case <-h.quit:
	}
}

// Detach 摘除会话并释放其未决发送，幂等
func (h *Hub) Detach(s *Session) {
	select {
	case h.detach <- s:
	case <-h.quit:
	}
}

// SessionCount 当前在线会话数
func (h *Hub) SessionCount() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.quit:
		return 0
	}
}

// Close 停止分发并关闭所有会话
func (h *Hub) Close() {
	close(h.quit)
	<-h.stopped
}

func (h *Hub) run() {
	defer close(h.stopped)
	for {
		select {
		case <-h.quit:
			for s := range h.sessions {
				s.close()
			}
			return
		case s := <-h.attach:
			h.sessions[s] = struct{}{}
		case s := <-h.detach:
			if _, ok := h.sessions[s]; ok {
				delete(h.sessions, s)
				s.close()
			}
		case reply := <-h.count:
			reply <- len(h.sessions)
		case ev := <-h.events:
			for s := range h.sessions {
				s.offer(ev)
			}
		}
	}
}
