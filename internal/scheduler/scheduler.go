package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/meetscribe/voice-service/internal/config"
	"github.com/meetscribe/voice-service/internal/history"
	"github.com/meetscribe/voice-service/internal/metrics"
	"github.com/meetscribe/voice-service/internal/model"
	"github.com/meetscribe/voice-service/internal/progress"
	"github.com/meetscribe/voice-service/internal/registry"
	"github.com/meetscribe/voice-service/internal/runner"
	"go.uber.org/zap"
)

// ErrQueueFull 调度队列已满
var ErrQueueFull = errors.New("transcription queue full")

// Transcriber 外部识别端
type Transcriber interface {
	Transcribe(path, hotword, language string, cancelled runner.CancelFunc, onProgress runner.ProgressFunc) ([]model.Segment, error)
}

// Renderer 转录文档渲染
type Renderer interface {
	RenderTranscriptDoc(rec *model.FileRecord) (string, error)
}

// Publisher 状态事件出口
type Publisher interface {
	Publish(ev model.ProgressEvent)
}

// Notifier 终态通知（webhook 等），可为 nil
type Notifier interface {
	Notify(rec *model.FileRecord)
}

type job struct {
	fileID   string
	language string
	hotword  string
	done     chan struct{}
}

// JobHandle 入队返回的任务句柄
type JobHandle struct {
	fileID string
	s      *Scheduler
	done   chan struct{}
}

// FileID 任务对应的文件 ID
func (h *JobHandle) FileID() string {
	return h.fileID
}

// Done 任务进入终态后关闭
func (h *JobHandle) Done() <-chan struct{} {
	return h.done
}

// Cancel 协作式取消，幂等。未开跑的任务在被取走时直接回退。
func (h *JobHandle) Cancel() {
	h.s.Cancel(h.fileID)
}

// WaitResult 批量等待的三分区结果
type WaitResult struct {
	Completed []string
	Failed    []string
	Pending   []string
}

// Scheduler 转录调度器：固定 W 个工作协程按 FIFO 消费任务队列，
// 驱动外部识别端，落盘结果并广播状态。
type Scheduler struct {
	cfg         *config.WorkerConfig
	trackerOpts progress.Options
	reg         *registry.Registry
	store       *history.Store
	pub         Publisher
	transcriber Transcriber
	renderer    Renderer
	notifier    Notifier
	logger      *zap.Logger

	queue chan *job
	quit  chan struct{}
	wg    sync.WaitGroup
}

// New 创建调度器（未启动）
func New(
	cfg *config.WorkerConfig,
	trackerCfg *config.TrackerConfig,
	reg *registry.Registry,
	store *history.Store,
	pub Publisher,
	transcriber Transcriber,
	renderer Renderer,
	notifier Notifier,
	logger *zap.Logger,
) *Scheduler {
	opts := progress.DefaultOptions()
	if trackerCfg != nil {
		if trackerCfg.MinStep > 0 {
			opts.MinStep = trackerCfg.MinStep
		}
		if trackerCfg.MaxStep > 0 {
			opts.MaxStep = trackerCfg.MaxStep
		}
		if trackerCfg.DrainStep > 0 {
			opts.DrainStep = trackerCfg.DrainStep
		}
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Scheduler{
		cfg:         cfg,
		trackerOpts: opts,
		reg:         reg,
		store:       store,
		pub:         pub,
		transcriber: transcriber,
		renderer:    renderer,
		notifier:    notifier,
		logger:      logger,
		queue:       make(chan *job, queueSize),
		quit:        make(chan struct{}),
	}
}

// Start 启动工作协程池
func (s *Scheduler) Start() {
	workers := s.cfg.MaxConcurrent
	if workers <= 0 {
		workers = 12
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.logger.Info("transcription scheduler started", zap.Int("workers", workers))
}

// Stop 停止接收并等待在途任务结束
func (s *Scheduler) Stop() {
	close(s.quit)
	s.wg.Wait()
}

// Enqueue 接受任务。被接受的文件立即对外呈现 processing，
// 同一文件同一时刻至多一个在途任务。
func (s *Scheduler) Enqueue(fileID, language, hotword string) (*JobHandle, error) {
	rec, err := s.reg.MarkProcessing(fileID)
	if err != nil {
		return nil, err
	}

	j := &job{
		fileID:   fileID,
		language: language,
		hotword:  hotword,
		done:     make(chan struct{}),
	}

	select {
	case s.queue <- j:
	default:
		// 回滚接受标记，保持记录可再次入队
		s.reg.Update(fileID, func(r *model.FileRecord) error {
			r.Status = model.StateUploaded
			r.Progress = 0
			return nil
		})
		return nil, fmt.Errorf("%w: %s", ErrQueueFull, fileID)
	}

	metrics.QueuedJobs.Inc()
	s.pub.Publish(model.ProgressEvent{
		FileID:   fileID,
		Status:   model.StateProcessing,
		Progress: 0,
		Message:  "任务已加入队列",
	})
	s.logger.Info("job enqueued",
		zap.String("file_id", fileID),
		zap.String("language", rec.Language))
	return &JobHandle{fileID: fileID, s: s, done: j.done}, nil
}

// Cancel 置取消标记，幂等；记录不存在时为空操作
func (s *Scheduler) Cancel(fileID string) {
	if _, err := s.reg.SetCancelled(fileID); err != nil {
		s.logger.Debug("cancel on unknown file", zap.String("file_id", fileID))
		return
	}
	s.logger.Info("cancellation requested", zap.String("file_id", fileID))
}

// Wait 阻塞等待一批任务进入终态，超时返回三分区结果。
// 超时后任务继续运行，只是调用方先行返回。
func (s *Scheduler) Wait(handles []*JobHandle, timeout time.Duration) WaitResult {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	pending := make(map[string]*JobHandle, len(handles))
	order := make([]string, 0, len(handles))
	for _, h := range handles {
		pending[h.fileID] = h
		order = append(order, h.fileID)
	}

	expired := false
	for len(pending) > 0 && !expired {
		progressed := false
		for id, h := range pending {
			select {
			case <-h.done:
				delete(pending, id)
				progressed = true
			default:
			}
		}
		if len(pending) == 0 {
			break
		}
		if progressed {
			continue
		}
		select {
		case <-deadline.C:
			expired = true
		case <-time.After(100 * time.Millisecond):
		}
	}

	var res WaitResult
	for _, id := range order {
		if _, stillPending := pending[id]; stillPending {
			res.Pending = append(res.Pending, id)
			continue
		}
		rec, err := s.reg.Get(id)
		if err != nil {
			res.Failed = append(res.Failed, id)
			continue
		}
		switch rec.Status {
		case model.StateCompleted:
			res.Completed = append(res.Completed, id)
		default:
			// error 以及取消后回到 uploaded 都算失败侧
			res.Failed = append(res.Failed, id)
		}
	}
	return res
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()
	for {
		select {
		case <-s.quit:
			return
		case j := <-s.queue:
			metrics.QueuedJobs.Dec()
			s.process(j)
		}
	}
}

// process 单任务工作流程：取消复查、识别、落盘、广播终态
func (s *Scheduler) process(j *job) {
	defer close(j.done)

	metrics.ActiveJobs.Inc()
	defer metrics.ActiveJobs.Dec()

	// 开跑前复查取消：被取消的任务从未运行，直接回退
	if s.reg.IsCancelled(j.fileID) {
		s.revertToUploaded(j.fileID, "")
		s.pub.Publish(model.ProgressEvent{
			FileID:   j.fileID,
			Status:   model.StateUploaded,
			Progress: 0,
			Message:  "转录已取消",
		})
		metrics.JobsTotal.WithLabelValues("cancelled").Inc()
		return
	}

	rec, err := s.reg.Get(j.fileID)
	if err != nil {
		s.logger.Warn("job for unknown file", zap.String("file_id", j.fileID))
		return
	}

	tracker := progress.NewTracker(j.fileID, s.pub.Publish, s.trackerOpts)
	defer tracker.Close()

	s.logger.Info("transcription started",
		zap.String("file_id", j.fileID),
		zap.String("path", rec.StoredPath),
		zap.String("language", j.language))

	segments, err := s.transcriber.Transcribe(
		rec.StoredPath,
		j.hotword,
		j.language,
		func() bool { return s.reg.IsCancelled(j.fileID) },
		func(stage string, p int, msg string, etaMillis int64) {
			// 轮询接口可见的原始进度，只进不退
			s.reg.Update(j.fileID, func(r *model.FileRecord) error {
				if p > r.Progress {
					r.Progress = p
				}
				return nil
			})
			tracker.SetTarget(p, model.StateProcessing, msg, etaMillis)
		},
	)

	switch {
	case errors.Is(err, runner.ErrCancelled),
		err == nil && s.reg.IsCancelled(j.fileID):
		// 识别端未及时响应取消时丢弃其结果
		s.revertToUploaded(j.fileID, "")
		tracker.Terminate(model.StateUploaded, 0, "转录已取消")
		metrics.JobsTotal.WithLabelValues("cancelled").Inc()
		s.logger.Info("transcription cancelled", zap.String("file_id", j.fileID))

	case err != nil:
		s.reg.Update(j.fileID, func(r *model.FileRecord) error {
			r.Status = model.StateError
			r.Progress = 0
			r.ErrorMessage = err.Error()
			return nil
		})
		tracker.Terminate(model.StateError, 0, err.Error())
		metrics.JobsTotal.WithLabelValues("error").Inc()
		s.logger.Error("transcription failed",
			zap.String("file_id", j.fileID),
			zap.Error(err))
		s.notify(j.fileID)

	default:
		s.complete(j, rec, segments, tracker)
	}
}

func (s *Scheduler) complete(j *job, rec *model.FileRecord, segments []model.Segment, tracker *progress.Tracker) {
	docRec := rec.Clone()
	docRec.Segments = segments
	docRec.Language = j.language

	docPath := ""
	if s.renderer != nil {
		p, err := s.renderer.RenderTranscriptDoc(docRec)
		if err != nil {
			// 文档渲染失败不吞掉转录结果
			s.logger.Warn("transcript document rendering failed",
				zap.String("file_id", j.fileID), zap.Error(err))
		} else {
			docPath = p
		}
	}

	now := model.Now()
	updated, err := s.reg.Update(j.fileID, func(r *model.FileRecord) error {
		r.Status = model.StateCompleted
		r.Progress = 100
		r.Segments = segments
		r.Language = j.language
		r.TranscriptDocPath = docPath
		r.CompleteTime = &now
		r.ErrorMessage = ""
		r.Cancelled = false
		return nil
	})
	if err != nil {
		s.logger.Error("failed to commit transcription result",
			zap.String("file_id", j.fileID), zap.Error(err))
		tracker.Terminate(model.StateError, 0, "failed to commit result")
		metrics.JobsTotal.WithLabelValues("error").Inc()
		return
	}

	if err := s.store.Save(s.reg.CompletedSnapshot()); err != nil {
		s.logger.Error("failed to persist history",
			zap.String("file_id", j.fileID), zap.Error(err))
	}

	// 先排空再发终态，保证 completed 事件最后到达
	tracker.SetTarget(100, model.StateCompleted, "转录完成", 0)
	<-tracker.Done()

	metrics.JobsTotal.WithLabelValues("completed").Inc()
	s.logger.Info("transcription completed",
		zap.String("file_id", j.fileID),
		zap.Int("segments", len(updated.Segments)))
	s.notify(j.fileID)
}

// revertToUploaded 取消路径：回到 uploaded，进度清零
func (s *Scheduler) revertToUploaded(fileID, message string) {
	s.reg.Update(fileID, func(r *model.FileRecord) error {
		r.Status = model.StateUploaded
		r.Progress = 0
		r.Cancelled = false
		r.ErrorMessage = message
		return nil
	})
}

func (s *Scheduler) notify(fileID string) {
	if s.notifier == nil {
		return
	}
	rec, err := s.reg.Get(fileID)
	if err != nil {
		return
	}
	go s.notifier.Notify(rec)
}
