package runner

import "errors"

// ErrCancelled 协作式取消：cancelCheck 命中后由识别端抛出
var ErrCancelled = errors.New("transcription cancelled")

// CancelFunc 取消探测，识别端在各阶段边界轮询
type CancelFunc func() bool

// ProgressFunc 阶段进度回调。etaMillis 为到达该进度的预估剩余毫秒数，0 表示未知。
type ProgressFunc func(stage string, progress int, message string, etaMillis int64)
