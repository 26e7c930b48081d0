package model

// 文件生命周期状态
const (
	StateUploaded   = "uploaded"
	StateProcessing = "processing"
	StateCompleted  = "completed"
	StateError      = "error"
)

// IsTerminal 是否为终态（completed / error）
func IsTerminal(status string) bool {
	return status == StateCompleted || status == StateError
}

// Word 词级时间戳
type Word struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment 带说话人标注的转录片段
type Segment struct {
	Speaker   string  `json:"speaker"`
	Text      string  `json:"text"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Words     []Word  `json:"words,omitempty"`
}

// WithoutWords 去掉词级时间戳的浅拷贝（面向列表响应）
func (s Segment) WithoutWords() Segment {
	s.Words = nil
	return s
}

// Summary 会议纪要生成结果
type Summary struct {
	Text        string    `json:"text"`
	Model       string    `json:"model"`
	Status      string    `json:"status"` // success / error
	Error       string    `json:"error,omitempty"`
	GeneratedAt Timestamp `json:"generated_at"`
}

// FileRecord 音频文件记录，注册表与历史存储的基本单元
type FileRecord struct {
	ID           string     `json:"file_id"`
	OriginalName string     `json:"original_name"`
	StoredName   string     `json:"stored_name"`
	StoredPath   string     `json:"stored_path"`
	Size         int64      `json:"size"`
	UploadTime   Timestamp  `json:"upload_time"`
	CompleteTime *Timestamp `json:"complete_time,omitempty"`

	Status       string `json:"status"`
	Progress     int    `json:"progress"` // 0-100
	Language     string `json:"language"`
	Hotword      string `json:"hotword,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// Cancelled 由停止请求置位，工作协程协作式轮询；不持久化
	Cancelled bool `json:"-"`

	Segments          []Segment `json:"segments,omitempty"`
	TranscriptDocPath string    `json:"transcript_doc,omitempty"`
	SummaryDocPath    string    `json:"summary_doc,omitempty"`
	Summary           *Summary  `json:"summary,omitempty"`
}

// Clone 深拷贝，调用方持有的快照与注册表内部状态互不影响
func (r *FileRecord) Clone() *FileRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.CompleteTime != nil {
		t := *r.CompleteTime
		cp.CompleteTime = &t
	}
	if r.Segments != nil {
		cp.Segments = make([]Segment, len(r.Segments))
		for i, seg := range r.Segments {
			cp.Segments[i] = seg
			if seg.Words != nil {
				cp.Segments[i].Words = append([]Word(nil), seg.Words...)
			}
		}
	}
	if r.Summary != nil {
		s := *r.Summary
		cp.Summary = &s
	}
	return &cp
}

// ProgressEvent 进度事件，由 Tracker 产生、经 Hub 扇出
type ProgressEvent struct {
	FileID   string `json:"file_id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
}
