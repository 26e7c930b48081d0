package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/meetscribe/voice-service/internal/model"
	"go.uber.org/zap"
)

// document 历史文件线上格式。completed_files 由 files 派生，
// 仅为兼容旧客户端而保留。
type document struct {
	Files          []*model.FileRecord `json:"files"`
	CompletedFiles []string            `json:"completed_files"`
}

// Store 已完成记录的持久化存储，单个 JSON 文件
type Store struct {
	path   string
	logger *zap.Logger
}

// NewStore 创建历史存储
func NewStore(path string, logger *zap.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// Path 历史文件路径
func (s *Store) Path() string {
	return s.path
}

// Load 读取历史记录。文件缺失返回空；内容损坏告警后按空处理，绝不中断进程。
func (s *Store) Load() []*model.FileRecord {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read history file",
				zap.String("path", s.path), zap.Error(err))
		}
		return nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("corrupt history file, treating as empty",
			zap.String("path", s.path), zap.Error(err))
		return nil
	}

	out := make([]*model.FileRecord, 0, len(doc.Files))
	for _, rec := range doc.Files {
		if rec == nil || rec.ID == "" {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Save 原子写入：先写临时文件再重命名，保证崩溃时不产生半截文件
func (s *Store) Save(records []*model.FileRecord) error {
	doc := document{
		Files:          records,
		CompletedFiles: make([]string, 0, len(records)),
	}
	if doc.Files == nil {
		doc.Files = []*model.FileRecord{}
	}
	for _, rec := range records {
		doc.CompletedFiles = append(doc.CompletedFiles, rec.ID)
	}

	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create history dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".history-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write history: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close history: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace history: %w", err)
	}
	return nil
}

// Clear 重置为空文档
func (s *Store) Clear() error {
	return s.Save(nil)
}
