package model

// Language 支持的识别语言
type Language struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// DefaultLanguage 未指定语言时的默认值
const DefaultLanguage = "zh"

var languages = []Language{
	{Code: "zh", Name: "中文", Description: "普通话识别"},
	{Code: "zh-dialect", Name: "中文（含方言）", Description: "普通话及常见方言识别"},
	{Code: "zh-en", Name: "中英混合", Description: "中英文混说识别"},
	{Code: "en", Name: "English", Description: "英文识别"},
}

// Languages 语言闭集的拷贝
func Languages() []Language {
	out := make([]Language, len(languages))
	copy(out, languages)
	return out
}

// ValidLanguage 校验语言代码
func ValidLanguage(code string) bool {
	for _, l := range languages {
		if l.Code == code {
			return true
		}
	}
	return false
}
