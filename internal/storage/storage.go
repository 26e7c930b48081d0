package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ShortID 去掉连字符后的 UUID 前 8 位，用作文件名后缀
func ShortID(fileID string) string {
	s := strings.ReplaceAll(fileID, "-", "")
	if len(s) > 8 {
		s = s[:8]
	}
	return s
}

// timestampMicros "YYYYMMDD_HHMMSS_ffffff"，微秒级时间戳
func timestampMicros(t time.Time) string {
	return fmt.Sprintf("%s_%06d", t.Format("20060102_150405"), t.Nanosecond()/1000)
}

// StoredName 上传文件的落盘名：<原名>_<微秒时间戳>_<id8><扩展名>。
// 时间戳加 ID 后缀保证并发批量上传永不重名。
func StoredName(originalName, fileID string, t time.Time) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	base := strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName))
	base = sanitize(base)
	if base == "" {
		base = "audio"
	}
	return fmt.Sprintf("%s_%s_%s%s", base, timestampMicros(t), ShortID(fileID), ext)
}

// ArtifactName 生成文档的落盘名：<前缀>_<微秒时间戳>_<id8>.docx
func ArtifactName(prefix, fileID string, t time.Time) string {
	return fmt.Sprintf("%s_%s_%s.docx", prefix, timestampMicros(t), ShortID(fileID))
}

func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' ||
			r == '"' || r == '<' || r == '>' || r == '|':
			b.WriteRune('_')
		case r == ' ':
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "._")
}

// SaveUpload 把上传流写入目录，返回落盘名、绝对路径与字节数
func SaveUpload(dir, originalName, fileID string, src io.Reader) (string, string, int64, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", 0, fmt.Errorf("failed to create upload dir: %w", err)
	}

	storedName := StoredName(originalName, fileID, time.Now())
	path := filepath.Join(dir, storedName)

	dst, err := os.Create(path)
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to create upload file: %w", err)
	}
	written, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", "", 0, fmt.Errorf("failed to write upload file: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return storedName, abs, written, nil
}

// RemoveArtifacts 尽力删除一组文件，忽略不存在
func RemoveArtifacts(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			// 删除失败不阻断调用方，由下一次清理兜底
			continue
		}
	}
}
