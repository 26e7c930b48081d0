package model

import (
	"fmt"
	"strings"
	"time"
)

// TimeLayout 对外接口与历史文件统一使用的本地时间格式
const TimeLayout = "2006-01-02 15:04:05"

// Timestamp 按 TimeLayout 序列化的时间
type Timestamp time.Time

// Now 当前本地时间
func Now() Timestamp {
	return Timestamp(time.Now())
}

// Time 转回 time.Time
func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

func (t Timestamp) String() string {
	return time.Time(t).Format(TimeLayout)
}

// MarshalJSON 输出 "YYYY-MM-DD HH:MM:SS"
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", t.String())), nil
}

// UnmarshalJSON 解析 TimeLayout，兼容 RFC3339 旧记录；空值保持零值
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*t = Timestamp{}
		return nil
	}
	if parsed, err := time.ParseInLocation(TimeLayout, s, time.Local); err == nil {
		*t = Timestamp(parsed)
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q", s)
	}
	*t = Timestamp(parsed)
	return nil
}
