package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/meetscribe/voice-service/internal/model"
	"go.uber.org/zap"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("file not found")
	// ErrDuplicateID 重复文件 ID
	ErrDuplicateID = errors.New("duplicate file id")
	// ErrProcessing 记录正在转录且未取消，禁止删除
	ErrProcessing = errors.New("file is processing")
	// ErrAlreadyProcessing 同一文件已有在途任务
	ErrAlreadyProcessing = errors.New("file already processing")
	// ErrProgressRegression 进度回退被拒绝
	ErrProgressRegression = errors.New("progress regression rejected")
	// ErrInvalidTransition 非法状态迁移
	ErrInvalidTransition = errors.New("invalid state transition")
)

// ListFilter 列表过滤条件
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}

// Statistics 全量状态计数（不受过滤影响）
type Statistics struct {
	Total      int `json:"total"`
	Uploaded   int `json:"uploaded"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Error      int `json:"error"`
}

// Registry 文件注册表，进程内所有 FileRecord 的唯一事实来源。
// 所有操作在单把互斥锁下完成，对外只返回快照拷贝。
type Registry struct {
	mu         sync.Mutex
	files      map[string]*model.FileRecord
	processing map[string]struct{}
	completed  map[string]struct{}
	logger     *zap.Logger
}

// New 创建注册表
func New(logger *zap.Logger) *Registry {
	return &Registry{
		files:      make(map[string]*model.FileRecord),
		processing: make(map[string]struct{}),
		completed:  make(map[string]struct{}),
		logger:     logger,
	}
}

// Add 登记新上传的文件记录
func (r *Registry) Add(rec *model.FileRecord) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.ID == "" {
		return "", fmt.Errorf("%w: empty id", ErrNotFound)
	}
	if _, ok := r.files[rec.ID]; ok {
		return "", fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
	}
	stored := rec.Clone()
	if stored.Status == "" {
		stored.Status = model.StateUploaded
	}
	r.files[stored.ID] = stored
	r.reindex(stored)
	return stored.ID, nil
}

// Get 按 ID 取快照
func (r *Registry) Get(id string) (*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec.Clone(), nil
}

// List 过滤分页列表，返回过滤后总数与全量状态计数。
// 排序：processing > uploaded > completed > error，再按上传时间倒序。
func (r *Registry) List(f ListFilter) ([]*model.FileRecord, int, Statistics) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := r.statsLocked()

	all := make([]*model.FileRecord, 0, len(r.files))
	for _, rec := range r.files {
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		all = append(all, rec)
	}
	total := len(all)
	sort.Slice(all, func(i, j int) bool {
		pi, pj := statePriority(all[i].Status), statePriority(all[j].Status)
		if pi != pj {
			return pi < pj
		}
		return all[i].UploadTime.Time().After(all[j].UploadTime.Time())
	})

	if f.Offset > len(all) {
		f.Offset = len(all)
	}
	all = all[f.Offset:]
	if f.Limit > 0 && f.Limit < len(all) {
		all = all[:f.Limit]
	}

	out := make([]*model.FileRecord, len(all))
	for i, rec := range all {
		out[i] = rec.Clone()
	}
	return out, total, stats
}

func statePriority(status string) int {
	switch status {
	case model.StateProcessing:
		return 0
	case model.StateUploaded:
		return 1
	case model.StateCompleted:
		return 2
	case model.StateError:
		return 3
	}
	return 4
}

// Update 在锁内对记录的拷贝执行变更闭包，校验不变式后提交。
// 闭包返回错误或校验失败时不落任何变更。
func (r *Registry) Update(id string, mut func(*model.FileRecord) error) (*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	next := old.Clone()
	if err := mut(next); err != nil {
		return nil, err
	}
	if err := validateTransition(old, next); err != nil {
		r.logger.Warn("rejected registry mutation",
			zap.String("file_id", id),
			zap.String("from", old.Status),
			zap.String("to", next.Status),
			zap.Error(err))
		return nil, err
	}

	r.files[id] = next
	r.reindex(next)
	return next.Clone(), nil
}

func validateTransition(old, next *model.FileRecord) error {
	if next.ID != old.ID {
		return fmt.Errorf("%w: id is immutable", ErrInvalidTransition)
	}
	// 进度回退：仅允许伴随状态迁移（取消回 uploaded）或进入 error
	if next.Progress < old.Progress &&
		next.Status == old.Status &&
		next.Status != model.StateError {
		return fmt.Errorf("%w: %d -> %d", ErrProgressRegression, old.Progress, next.Progress)
	}
	// 终态稳定：completed/error 之后仅允许 error -> processing（重转录）
	if model.IsTerminal(old.Status) && next.Status != old.Status {
		if !(old.Status == model.StateError && next.Status == model.StateProcessing) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, old.Status, next.Status)
		}
	}
	return nil
}

// MarkProcessing 原子地把记录置为 processing 并清理上一轮残留。
// 同一文件已在途时返回 ErrAlreadyProcessing。
func (r *Registry) MarkProcessing(id string) (*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if old.Status == model.StateProcessing {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyProcessing, id)
	}
	if old.Status == model.StateCompleted {
		return nil, fmt.Errorf("%w: completed -> processing", ErrInvalidTransition)
	}

	next := old.Clone()
	next.Status = model.StateProcessing
	next.Progress = 0
	next.Cancelled = false
	next.ErrorMessage = ""
	r.files[id] = next
	r.reindex(next)
	return next.Clone(), nil
}

// SetCancelled 置取消标记，工作协程轮询感知
func (r *Registry) SetCancelled(id string) (*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rec.Cancelled = true
	return rec.Clone(), nil
}

// IsCancelled 读取取消标记；记录不存在视同已取消
func (r *Registry) IsCancelled(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.files[id]
	if !ok {
		return true
	}
	return rec.Cancelled
}

// Remove 删除记录。processing 且未取消时拒绝。
func (r *Registry) Remove(id string) (*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if rec.Status == model.StateProcessing && !rec.Cancelled {
		return nil, fmt.Errorf("%w: %s", ErrProcessing, id)
	}
	delete(r.files, id)
	delete(r.processing, id)
	delete(r.completed, id)
	return rec, nil
}

// ClearNonProcessing 删除所有非 processing 记录，返回被删除的记录
func (r *Registry) ClearNonProcessing() []*model.FileRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := make([]*model.FileRecord, 0, len(r.files))
	for id, rec := range r.files {
		if rec.Status == model.StateProcessing && !rec.Cancelled {
			continue
		}
		removed = append(removed, rec)
		delete(r.files, id)
		delete(r.processing, id)
		delete(r.completed, id)
	}
	return removed
}

// MergeHistory 把历史记录并入内存目录，绝不覆盖在途或在场记录
func (r *Registry) MergeHistory(records []*model.FileRecord) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for _, rec := range records {
		if rec == nil || rec.ID == "" {
			continue
		}
		if _, ok := r.files[rec.ID]; ok {
			continue
		}
		stored := rec.Clone()
		r.files[stored.ID] = stored
		r.reindex(stored)
		added++
	}
	return added
}

// CompletedSnapshot 当前 completed 子集的快照，按完成时间升序
func (r *Registry) CompletedSnapshot() []*model.FileRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*model.FileRecord, 0, len(r.completed))
	for id := range r.completed {
		if rec, ok := r.files[id]; ok {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].CompleteTime, out[j].CompleteTime
		if ti == nil {
			return false
		}
		if tj == nil {
			return true
		}
		return ti.Time().Before(tj.Time())
	})
	return out
}

// Stats 全量状态计数
func (r *Registry) Stats() Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statsLocked()
}

// ProcessingCount 在途任务数
func (r *Registry) ProcessingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.processing)
}

func (r *Registry) statsLocked() Statistics {
	stats := Statistics{Total: len(r.files)}
	for _, rec := range r.files {
		switch rec.Status {
		case model.StateUploaded:
			stats.Uploaded++
		case model.StateProcessing:
			stats.Processing++
		case model.StateCompleted:
			stats.Completed++
		case model.StateError:
			stats.Error++
		}
	}
	return stats
}

func (r *Registry) reindex(rec *model.FileRecord) {
	if rec.Status == model.StateProcessing {
		r.processing[rec.ID] = struct{}{}
	} else {
		delete(r.processing, rec.ID)
	}
	if rec.Status == model.StateCompleted {
		r.completed[rec.ID] = struct{}{}
	} else {
		delete(r.completed, rec.ID)
	}
}
