package handlers

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/meetscribe/voice-service/internal/model"
	"github.com/meetscribe/voice-service/internal/registry"
	"github.com/meetscribe/voice-service/internal/storage"
	"github.com/meetscribe/voice-service/internal/summary"
	"go.uber.org/zap"
)

// downloadURLs 客户端可用的下载地址，绝不暴露服务器路径
type downloadURLs struct {
	Audio      string `json:"audio"`
	Transcript string `json:"transcript,omitempty"`
	Summary    string `json:"summary,omitempty"`
}

// fileEntry 文件列表条目
type fileEntry struct {
	FileID        string           `json:"file_id"`
	OriginalName  string           `json:"original_name"`
	StoredName    string           `json:"stored_name"`
	Size          int64            `json:"size"`
	UploadTime    model.Timestamp  `json:"upload_time"`
	CompleteTime  *model.Timestamp `json:"complete_time,omitempty"`
	Status        string           `json:"status"`
	Progress      int              `json:"progress"`
	Language      string           `json:"language"`
	ErrorMessage  string           `json:"error_message,omitempty"`
	HasTranscript bool             `json:"has_transcript"`
	HasSummary    bool             `json:"has_summary"`
	DownloadURLs  downloadURLs     `json:"download_urls"`
}

func buildEntry(rec *model.FileRecord) fileEntry {
	entry := fileEntry{
		FileID:        rec.ID,
		OriginalName:  rec.OriginalName,
		StoredName:    rec.StoredName,
		Size:          rec.Size,
		UploadTime:    rec.UploadTime,
		CompleteTime:  rec.CompleteTime,
		Status:        rec.Status,
		Progress:      rec.Progress,
		Language:      rec.Language,
		ErrorMessage:  rec.ErrorMessage,
		HasTranscript: len(rec.Segments) > 0,
		HasSummary:    rec.Summary != nil,
		DownloadURLs: downloadURLs{
			Audio: "/api/voice/audio/" + rec.ID,
		},
	}
	if rec.TranscriptDocPath != "" {
		entry.DownloadURLs.Transcript = "/api/voice/download_transcript/" + rec.ID
	}
	if rec.SummaryDocPath != "" {
		entry.DownloadURLs.Summary = "/api/voice/download_summary/" + rec.ID
	}
	return entry
}

// ListFiles 文件列表：过滤、分页、可并入历史
func (h *VoiceHandler) ListFiles(c *gin.Context) {
	status := c.Query("status")
	if status != "" {
		switch status {
		case model.StateUploaded, model.StateProcessing, model.StateCompleted, model.StateError:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid status filter"})
			return
		}
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	if boolQuery(c, "include_history") {
		added := h.reg.MergeHistory(h.store.Load())
		if added > 0 {
			h.logger.Info("merged history records", zap.Int("count", added))
		}
	}

	records, total, stats := h.reg.List(registry.ListFilter{
		Status: status,
		Limit:  limit,
		Offset: offset,
	})

	entries := make([]fileEntry, len(records))
	for i, rec := range records {
		entries[i] = buildEntry(rec)
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"files":      entries,
		"statistics": stats,
		"pagination": gin.H{
			"total":    total,
			"limit":    limit,
			"offset":   offset,
			"has_more": offset+len(entries) < total,
		},
	})
}

// GetFile 文件详情，可选携带转录与纪要
func (h *VoiceHandler) GetFile(c *gin.Context) {
	rec, err := h.reg.Get(c.Param("file_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "file not found"})
		return
	}

	resp := gin.H{
		"success": true,
		"file":    buildEntry(rec),
	}
	if len(rec.Segments) > 0 {
		resp["statistics"] = segmentStatistics(rec.Segments)
	}
	if boolQuery(c, "include_transcript") && len(rec.Segments) > 0 {
		resp["transcript"] = rec.Segments
	}
	if boolQuery(c, "include_summary") && rec.Summary != nil {
		resp["summary"] = rec.Summary
	}
	c.JSON(http.StatusOK, resp)
}

func segmentStatistics(segments []model.Segment) gin.H {
	speakers := make([]string, 0, 4)
	seen := make(map[string]struct{})
	var duration float64
	for _, seg := range segments {
		if _, ok := seen[seg.Speaker]; !ok {
			seen[seg.Speaker] = struct{}{}
			speakers = append(speakers, seg.Speaker)
		}
		duration += seg.EndTime - seg.StartTime
	}
	return gin.H{
		"segment_count":  len(segments),
		"speech_seconds": duration,
		"speakers":       speakers,
	}
}

// patchRequest 文件操作请求
type patchRequest struct {
	Action   string `json:"action" binding:"required"`
	Language string `json:"language"`
	Hotword  string `json:"hotword"`
	Prompt   string `json:"prompt"`
	Model    string `json:"model"`
}

// PatchFile action ∈ {retranscribe, generate_summary}
func (h *VoiceHandler) PatchFile(c *gin.Context) {
	fileID := c.Param("file_id")
	var req patchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	switch req.Action {
	case "retranscribe":
		h.retranscribe(c, fileID, req)
	case "generate_summary":
		h.generateSummary(c, fileID, req.Prompt, req.Model)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid action: " + req.Action})
	}
}

func (h *VoiceHandler) retranscribe(c *gin.Context, fileID string, req patchRequest) {
	rec, err := h.reg.Get(fileID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "file not found"})
		return
	}

	language := req.Language
	if language == "" {
		language = rec.Language
	}
	if !model.ValidLanguage(language) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "unsupported language: " + language})
		return
	}

	if _, err := h.sched.Enqueue(fileID, language, req.Hotword); err != nil {
		switch {
		case errors.Is(err, registry.ErrAlreadyProcessing):
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": "file is already processing"})
		case errors.Is(err, registry.ErrInvalidTransition):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "file cannot be retranscribed in its current state"})
		default:
			h.logger.Error("retranscribe enqueue failed",
				zap.String("file_id", fileID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to enqueue"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"status":  model.StateProcessing,
		"message": "已重新提交转录",
		"file_id": fileID,
	})
}

func (h *VoiceHandler) generateSummary(c *gin.Context, fileID, prompt, modelKey string) {
	sum, err := h.summarizer.Generate(fileID, prompt, modelKey)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "file not found"})
		case errors.Is(err, summary.ErrNoSegments):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "file has no transcript yet"})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"file_id": fileID,
		"summary": sum,
	})
}

// GenerateSummary 旧版纪要生成入口，语义同 PATCH generate_summary
func (h *VoiceHandler) GenerateSummary(c *gin.Context) {
	var req struct {
		Prompt string `json:"prompt"`
		Model  string `json:"model"`
	}
	// 允许空 body
	c.ShouldBindJSON(&req)
	h.generateSummary(c, c.Param("file_id"), req.Prompt, req.Model)
}

// DeleteSummary 清除纪要与纪要文档
func (h *VoiceHandler) DeleteSummary(c *gin.Context) {
	fileID := c.Param("file_id")
	if err := h.summarizer.Delete(fileID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "file not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "纪要已删除", "file_id": fileID})
}

// DeleteFile 删除记录与落盘产物；特殊 ID _clear_all 清空非在途记录
func (h *VoiceHandler) DeleteFile(c *gin.Context) {
	fileID := c.Param("file_id")

	if fileID == "_clear_all" {
		removed := h.reg.ClearNonProcessing()
		for _, rec := range removed {
			storage.RemoveArtifacts(rec.StoredPath, rec.TranscriptDocPath, rec.SummaryDocPath)
		}
		if err := h.store.Clear(); err != nil {
			h.logger.Error("failed to clear history", zap.Error(err))
		}
		h.logger.Info("cleared all records", zap.Int("count", len(removed)))
		c.JSON(http.StatusOK, gin.H{
			"success":       true,
			"message":       "已清空记录",
			"deleted_count": len(removed),
		})
		return
	}

	rec, err := h.reg.Remove(fileID)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "file not found"})
		case errors.Is(err, registry.ErrProcessing):
			c.JSON(http.StatusConflict, gin.H{
				"success": false,
				"error":   "file is processing, stop it before deleting",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		}
		return
	}

	storage.RemoveArtifacts(rec.StoredPath, rec.TranscriptDocPath, rec.SummaryDocPath)
	if rec.Status == model.StateCompleted {
		if err := h.store.Save(h.reg.CompletedSnapshot()); err != nil {
			h.logger.Error("failed to persist history after delete", zap.Error(err))
		}
	}
	h.hub.Publish(model.ProgressEvent{
		FileID:  fileID,
		Status:  "deleted",
		Message: "文件已删除",
	})

	h.logger.Info("file deleted", zap.String("file_id", fileID))
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "文件已删除", "file_id": fileID})
}

// Audio 音频流；?download=1 强制附件下载
func (h *VoiceHandler) Audio(c *gin.Context) {
	rec, err := h.reg.Get(c.Param("file_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "file not found"})
		return
	}
	if rec.StoredPath == "" || !fileExists(rec.StoredPath) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "audio file missing"})
		return
	}
	if c.Query("download") == "1" {
		c.FileAttachment(rec.StoredPath, rec.OriginalName)
		return
	}
	c.File(rec.StoredPath)
}

// DownloadTranscript 转录文档下载
func (h *VoiceHandler) DownloadTranscript(c *gin.Context) {
	h.downloadDoc(c, func(rec *model.FileRecord) string { return rec.TranscriptDocPath })
}

// DownloadSummary 纪要文档下载
func (h *VoiceHandler) DownloadSummary(c *gin.Context) {
	h.downloadDoc(c, func(rec *model.FileRecord) string { return rec.SummaryDocPath })
}

func (h *VoiceHandler) downloadDoc(c *gin.Context, pathOf func(*model.FileRecord) string) {
	rec, err := h.reg.Get(c.Param("file_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "file not found"})
		return
	}
	path := pathOf(rec)
	if path == "" || !fileExists(path) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "document not found"})
		return
	}
	c.FileAttachment(path, filepath.Base(path))
}

// History 旧版历史列表
func (h *VoiceHandler) History(c *gin.Context) {
	records := h.store.Load()
	entries := make([]fileEntry, len(records))
	for i, rec := range records {
		entries[i] = buildEntry(rec)
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"files":   entries,
		"count":   len(entries),
	})
}

// LanguagesHandler 支持的语言闭集
func (h *VoiceHandler) LanguagesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"languages": model.Languages(),
		"default":   model.DefaultLanguage,
	})
}

// TranscriptFiles 磁盘上的转录文档清单
func (h *VoiceHandler) TranscriptFiles(c *gin.Context) {
	entries, err := os.ReadDir(h.cfg.Storage.TranscriptDir)
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusOK, gin.H{"success": true, "files": []gin.H{}})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to read transcript dir"})
		return
	}

	files := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".docx") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, gin.H{
			"name":          entry.Name(),
			"size":          info.Size(),
			"modified_time": model.Timestamp(info.ModTime()),
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "files": files})
}

func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func boolQuery(c *gin.Context, key string) bool {
	v := strings.ToLower(c.Query(key))
	return v == "true" || v == "1" || v == "yes"
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
