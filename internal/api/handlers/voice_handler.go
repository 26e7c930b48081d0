package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/meetscribe/voice-service/internal/config"
	"github.com/meetscribe/voice-service/internal/history"
	"github.com/meetscribe/voice-service/internal/hub"
	"github.com/meetscribe/voice-service/internal/model"
	"github.com/meetscribe/voice-service/internal/registry"
	"github.com/meetscribe/voice-service/internal/scheduler"
	"github.com/meetscribe/voice-service/internal/storage"
	"github.com/meetscribe/voice-service/internal/summary"
	"go.uber.org/zap"
)

// VoiceHandler 语音转录接口处理器
type VoiceHandler struct {
	cfg        *config.Config
	reg        *registry.Registry
	store      *history.Store
	sched      *scheduler.Scheduler
	hub        *hub.Hub
	summarizer *summary.Orchestrator
	logger     *zap.Logger
}

// NewVoiceHandler 创建处理器
func NewVoiceHandler(
	cfg *config.Config,
	reg *registry.Registry,
	store *history.Store,
	sched *scheduler.Scheduler,
	h *hub.Hub,
	summarizer *summary.Orchestrator,
	logger *zap.Logger,
) *VoiceHandler {
	return &VoiceHandler{
		cfg:        cfg,
		reg:        reg,
		store:      store,
		sched:      sched,
		hub:        h,
		summarizer: summarizer,
		logger:     logger,
	}
}

// fileInfo 上传响应中的文件信息
type fileInfo struct {
	FileID       string          `json:"file_id"`
	OriginalName string          `json:"original_name"`
	StoredName   string          `json:"stored_name"`
	Size         int64           `json:"size"`
	UploadTime   model.Timestamp `json:"upload_time"`
	Status       string          `json:"status"`
	Progress     int             `json:"progress"`
}

// Upload 接收一个或多个 audio_file 表单分片
func (h *VoiceHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid multipart form"})
		return
	}
	parts := form.File["audio_file"]
	if len(parts) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "no audio_file provided"})
		return
	}

	// 先整体校验，再逐个落盘，避免半截批次
	for _, part := range parts {
		ext := strings.ToLower(filepath.Ext(part.Filename))
		if !h.allowedExtension(ext) {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   fmt.Sprintf("unsupported file extension: %s", ext),
			})
			return
		}
		if part.Size > h.cfg.Storage.MaxUploadBytes {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   fmt.Sprintf("file too large: %s", part.Filename),
			})
			return
		}
	}

	infos := make([]fileInfo, 0, len(parts))
	ids := make([]string, 0, len(parts))
	for _, part := range parts {
		src, err := part.Open()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to read upload"})
			return
		}

		fileID := uuid.New().String()
		storedName, storedPath, size, err := storage.SaveUpload(
			h.cfg.Storage.UploadDir, part.Filename, fileID, src)
		src.Close()
		if err != nil {
			h.logger.Error("failed to store upload",
				zap.String("name", part.Filename), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to store upload"})
			return
		}

		rec := &model.FileRecord{
			ID:           fileID,
			OriginalName: part.Filename,
			StoredName:   storedName,
			StoredPath:   storedPath,
			Size:         size,
			UploadTime:   model.Now(),
			Status:       model.StateUploaded,
			Language:     model.DefaultLanguage,
		}
		if _, err := h.reg.Add(rec); err != nil {
			storage.RemoveArtifacts(storedPath)
			h.logger.Error("failed to register upload",
				zap.String("file_id", fileID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to register upload"})
			return
		}

		h.logger.Info("file uploaded",
			zap.String("file_id", fileID),
			zap.String("name", part.Filename),
			zap.Int64("size", size))

		infos = append(infos, fileInfo{
			FileID:       rec.ID,
			OriginalName: rec.OriginalName,
			StoredName:   rec.StoredName,
			Size:         rec.Size,
			UploadTime:   rec.UploadTime,
			Status:       rec.Status,
			Progress:     rec.Progress,
		})
		ids = append(ids, fileID)
	}

	resp := gin.H{
		"success":  true,
		"message":  fmt.Sprintf("成功上传 %d 个文件", len(infos)),
		"files":    infos,
		"file_ids": ids,
	}
	// 单文件时保留旧字段
	if len(infos) == 1 {
		resp["file"] = infos[0]
		resp["file_id"] = ids[0]
	}
	c.JSON(http.StatusOK, resp)
}

func (h *VoiceHandler) allowedExtension(ext string) bool {
	for _, allowed := range h.cfg.Storage.AllowedExtensions {
		if strings.EqualFold(allowed, ext) {
			return true
		}
	}
	return false
}

// transcribeRequest 转录请求
type transcribeRequest struct {
	FileID   string          `json:"file_id"`
	FileIDs  json.RawMessage `json:"file_ids"`
	Language string          `json:"language"`
	Hotword  string          `json:"hotword"`
	Wait     *bool           `json:"wait"`
	Timeout  float64         `json:"timeout"` // 秒
}

// fileResult 批量转录中单个文件的结果
type fileResult struct {
	FileID       string          `json:"file_id"`
	Status       string          `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Transcript   []model.Segment `json:"transcript,omitempty"`
}

// Transcribe 提交一批转录任务，可选阻塞等待终态
func (h *VoiceHandler) Transcribe(c *gin.Context) {
	var req transcribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	ids, err := parseFileIDs(req.FileID, req.FileIDs)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if len(ids) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "file_id or file_ids required"})
		return
	}

	language := req.Language
	if language == "" {
		language = model.DefaultLanguage
	}
	if !model.ValidLanguage(language) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "unsupported language: " + language})
		return
	}

	var handles []*scheduler.JobHandle
	var failed []string
	failReasons := make(map[string]string)
	for _, id := range ids {
		handle, err := h.sched.Enqueue(id, language, req.Hotword)
		if err != nil {
			failed = append(failed, id)
			failReasons[id] = enqueueErrorMessage(err)
			continue
		}
		handles = append(handles, handle)
	}

	if len(handles) == 0 {
		// 全部失败：未知文件一律 404，其余 409
		status := http.StatusConflict
		allUnknown := true
		for _, id := range failed {
			if failReasons[id] != "file not found" {
				allUnknown = false
				break
			}
		}
		if allUnknown {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{
			"success":          false,
			"error":            "no file accepted for transcription",
			"failed_file_ids":  failed,
			"file_ids":         []string{},
			"pending_file_ids": []string{},
		})
		return
	}

	wait := true
	if req.Wait != nil {
		wait = *req.Wait
	}

	if !wait {
		accepted := make([]string, 0, len(handles))
		for _, handle := range handles {
			accepted = append(accepted, handle.FileID())
		}
		c.JSON(http.StatusOK, gin.H{
			"success":         true,
			"status":          model.StateProcessing,
			"message":         "转录任务已提交",
			"file_ids":        accepted,
			"failed_file_ids": failed,
		})
		return
	}

	timeout := h.cfg.Worker.DefaultWaitTimeout
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout * float64(time.Second))
	}

	res := h.sched.Wait(handles, timeout)
	res.Failed = append(failed, res.Failed...)

	results := make([]fileResult, 0, len(ids))
	for _, id := range ids {
		fr := fileResult{FileID: id}
		if reason, ok := failReasons[id]; ok {
			fr.Status = model.StateError
			fr.ErrorMessage = reason
			results = append(results, fr)
			continue
		}
		rec, err := h.reg.Get(id)
		if err != nil {
			fr.Status = model.StateError
			fr.ErrorMessage = "file not found"
			results = append(results, fr)
			continue
		}
		fr.Status = rec.Status
		fr.ErrorMessage = rec.ErrorMessage
		if rec.Status == model.StateCompleted {
			fr.Transcript = segmentsWithoutWords(rec.Segments)
		}
		results = append(results, fr)
	}

	overall := model.StateCompleted
	switch {
	case len(res.Pending) > 0:
		overall = model.StateProcessing
	case len(res.Completed) == 0:
		overall = model.StateError
	}

	resp := gin.H{
		"success":          len(res.Completed) > 0,
		"status":           overall,
		"file_ids":         emptyIfNil(res.Completed),
		"failed_file_ids":  emptyIfNil(res.Failed),
		"pending_file_ids": emptyIfNil(res.Pending),
		"results":          results,
	}
	// 单文件提交时在顶层平铺结果
	if len(ids) == 1 {
		resp["status"] = results[0].Status
		if results[0].Transcript != nil {
			resp["transcript"] = results[0].Transcript
		}
		if results[0].ErrorMessage != "" {
			resp["error_message"] = results[0].ErrorMessage
		}
	}
	c.JSON(http.StatusOK, resp)
}

func enqueueErrorMessage(err error) string {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return "file not found"
	case errors.Is(err, registry.ErrAlreadyProcessing):
		return "file already processing"
	default:
		return err.Error()
	}
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func segmentsWithoutWords(segments []model.Segment) []model.Segment {
	out := make([]model.Segment, len(segments))
	for i, seg := range segments {
		out[i] = seg.WithoutWords()
	}
	return out
}

// Stop 置取消标记
func (h *VoiceHandler) Stop(c *gin.Context) {
	fileID := c.Param("file_id")
	if _, err := h.reg.Get(fileID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "file not found"})
		return
	}
	h.sched.Cancel(fileID)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "已请求停止转录",
		"file_id": fileID,
	})
}

// Status 旧版状态查询
func (h *VoiceHandler) Status(c *gin.Context) {
	rec, err := h.reg.Get(c.Param("file_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "file not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"file_id":       rec.ID,
		"status":        rec.Status,
		"progress":      rec.Progress,
		"error_message": rec.ErrorMessage,
	})
}

// Result 旧版结果查询，返回含词级时间戳的转录
func (h *VoiceHandler) Result(c *gin.Context) {
	rec, err := h.reg.Get(c.Param("file_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "file not found"})
		return
	}
	if rec.Status != model.StateCompleted {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "transcription not completed",
			"status":  rec.Status,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"file_id":    rec.ID,
		"status":     rec.Status,
		"transcript": rec.Segments,
	})
}

// parseFileIDs 归一化 file_id / file_ids 组合。file_ids 容忍四种形态：
// JSON 数组、JSON 字符串包数组、Python 字面量列表字符串、单个裸 ID。
func parseFileIDs(single string, raw json.RawMessage) ([]string, error) {
	var ids []string
	if single != "" {
		ids = append(ids, single)
	}

	if len(raw) > 0 && string(raw) != "null" {
		var arr []string
		if err := json.Unmarshal(raw, &arr); err == nil {
			ids = append(ids, arr...)
		} else {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, fmt.Errorf("invalid file_ids")
			}
			parsed, err := parseIDListString(s)
			if err != nil {
				return nil, err
			}
			ids = append(ids, parsed...)
		}
	}

	// 去重保序
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

func parseIDListString(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if !strings.HasPrefix(s, "[") {
		// 单个裸 ID
		return []string{s}, nil
	}

	// JSON 数组字符串
	var arr []string
	if err := json.Unmarshal([]byte(s), &arr); err == nil {
		return arr, nil
	}

	// Python 字面量列表："['a', 'b']"
	inner := strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if strings.TrimSpace(inner) == "" {
		return nil, nil
	}
	var out []string
	for _, part := range strings.Split(inner, ",") {
		part = strings.TrimSpace(part)
		part = strings.Trim(part, `'"`)
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("invalid file_ids list: %s", s)
	}
	return out, nil
}
