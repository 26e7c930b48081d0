package progress

import (
	"sync"
	"time"

	"github.com/meetscribe/voice-service/internal/model"
)

// PublishFunc 事件出口，由调用方接到 Hub
type PublishFunc func(model.ProgressEvent)

// Options 插值节奏参数
type Options struct {
	MinStep   time.Duration // 每 1% 的最小间隔
	MaxStep   time.Duration // 每 1% 的最大间隔
	DrainStep time.Duration // 快排空模式下每 1% 的间隔
}

// DefaultOptions 默认节奏
func DefaultOptions() Options {
	return Options{
		MinStep:   50 * time.Millisecond,
		MaxStep:   500 * time.Millisecond,
		DrainStep: 2 * time.Millisecond,
	}
}

// Tracker 单个任务的进度插值器。
// 工作协程通过 SetTarget 投递稀疏的原始进度，后台协程把 current 以
// 1% 步长平滑推进到 target，每一步经去重后发布为 ProgressEvent。
// 进度只增不减；终态事件保证最后发出且只发一次。
type Tracker struct {
	fileID  string
	publish PublishFunc
	opts    Options

	mu        sync.Mutex
	current   int
	target    int
	message   string
	etaMillis int64
	draining  bool

	finalStatus  string
	finalMessage string

	lastProgress int
	lastStatus   string
	finished     bool

	kick    chan struct{}
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewTracker 创建并启动插值协程
func NewTracker(fileID string, publish PublishFunc, opts Options) *Tracker {
	if opts.MinStep <= 0 {
		opts.MinStep = DefaultOptions().MinStep
	}
	if opts.MaxStep < opts.MinStep {
		opts.MaxStep = DefaultOptions().MaxStep
	}
	if opts.DrainStep <= 0 {
		opts.DrainStep = DefaultOptions().DrainStep
	}
	t := &Tracker{
		fileID:       fileID,
		publish:      publish,
		opts:         opts,
		lastProgress: -1,
		kick:         make(chan struct{}, 1),
		quit:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	go t.run()
	return t
}

// SetTarget 投递新的目标进度，从不阻塞。目标只会上调；
// 终态状态（completed/error）触发快排空，排空后发出终态事件。
func (t *Tracker) SetTarget(progress int, status, message string, etaMillis int64) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	t.mu.Lock()
	if progress > t.target {
		t.target = progress
	}
	t.message = message
	t.etaMillis = etaMillis
	if model.IsTerminal(status) {
		t.finalStatus = status
		t.finalMessage = message
		t.draining = true
	}
	t.mu.Unlock()

	select {
	case t.kick <- struct{}{}:
	default:
	}
}

// Terminate 跳过插值，立即发出唯一的终态事件并停止协程。
// 取消（回 uploaded、进度 0）与失败路径使用。
func (t *Tracker) Terminate(status string, progress int, message string) {
	t.finish(model.ProgressEvent{
		FileID:   t.fileID,
		Status:   status,
		Progress: progress,
		Message:  message,
	})
}

// Close 无事件拆除，所有退出路径的兜底。若终态事件已发出则为空操作。
func (t *Tracker) Close() {
	t.once.Do(func() {
		close(t.quit)
	})
	<-t.stopped
}

// Done 插值协程退出后关闭
func (t *Tracker) Done() <-chan struct{} {
	return t.stopped
}

func (t *Tracker) finish(ev model.ProgressEvent) {
	t.once.Do(func() {
		t.emit(ev, true)
		close(t.quit)
	})
	<-t.stopped
}

func (t *Tracker) run() {
	defer close(t.stopped)
	for {
		select {
		case <-t.quit:
			return
		case <-t.kick:
		}

		if done := t.advance(); done {
			return
		}

		t.mu.Lock()
		final := t.finalStatus
		msg := t.finalMessage
		caughtUp := t.current >= t.target
		t.mu.Unlock()

		if final != "" && caughtUp {
			t.finishAsync(model.ProgressEvent{
				FileID:   t.fileID,
				Status:   final,
				Progress: 100,
				Message:  msg,
			})
			return
		}
	}
}

// finishAsync run 协程内部的终态出口，不等待 stopped 以免自我死锁
func (t *Tracker) finishAsync(ev model.ProgressEvent) {
	t.once.Do(func() {
		t.emit(ev, true)
		close(t.quit)
	})
}

// advance 把 current 逐步推向 target，返回 true 表示协程应退出
func (t *Tracker) advance() bool {
	for {
		t.mu.Lock()
		if t.current >= t.target {
			t.mu.Unlock()
			return false
		}
		t.current++
		ev := model.ProgressEvent{
			FileID:   t.fileID,
			Status:   model.StateProcessing,
			Progress: t.current,
			Message:  t.message,
		}
		sleep := t.stepSleepLocked()
		t.mu.Unlock()

		t.emit(ev, false)

		select {
		case <-t.quit:
			return true
		case <-time.After(sleep):
		}
	}
}

// stepSleepLocked 每 1% 的睡眠时长：
// max(MinStep, min(MaxStep, eta / 剩余步数))，快排空模式固定 DrainStep。
func (t *Tracker) stepSleepLocked() time.Duration {
	if t.draining {
		return t.opts.DrainStep
	}
	remaining := t.target - t.current
	if remaining < 1 {
		remaining = 1
	}
	per := t.opts.MinStep
	if t.etaMillis > 0 {
		per = time.Duration(t.etaMillis/int64(remaining)) * time.Millisecond
	}
	if per < t.opts.MinStep {
		per = t.opts.MinStep
	}
	if per > t.opts.MaxStep {
		per = t.opts.MaxStep
	}
	return per
}

// emit 去重后发布：进度与状态都未变化的事件被抑制；终态事件强制发出
func (t *Tracker) emit(ev model.ProgressEvent, force bool) {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return
	}
	if !force && ev.Progress == t.lastProgress && ev.Status == t.lastStatus {
		t.mu.Unlock()
		return
	}
	if force {
		t.finished = true
	}
	t.lastProgress = ev.Progress
	t.lastStatus = ev.Status
	t.mu.Unlock()

	if t.publish != nil {
		t.publish(ev)
	}
}
