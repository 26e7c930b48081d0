package summary

import (
	"regexp"
	"strings"
)

// 确认式开场白，逐行从头部剥离
var confirmationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(好的|好|明白了|收到|没问题)[，,。！!]?\s*`),
	regexp.MustCompile(`^我(会|将)(为您|帮您)?.*?(整理|总结|生成).*?[:：]?\s*$`),
	regexp.MustCompile(`^以下是.*?(纪要|总结|整理).*?[:：]?\s*$`),
	regexp.MustCompile(`^根据.*?(转录|会议)内容.*?[:：]?\s*$`),
}

var (
	reCodeFence  = regexp.MustCompile("(?m)^```.*$")
	reHeading    = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	reBold       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reBoldAlt    = regexp.MustCompile(`__(.+?)__`)
	reItalic     = regexp.MustCompile(`\*(.+?)\*`)
	reInlineCode = regexp.MustCompile("`(.+?)`")
	reListMarker = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	reNumMarker  = regexp.MustCompile(`(?m)^\s*\d+[.、]\s+`)
	reHRule      = regexp.MustCompile(`(?m)^\s*(-{3,}|\*{3,}|_{3,})\s*$`)
	reBlankRuns  = regexp.MustCompile(`\n{3,}`)
	reTitleLine  = regexp.MustCompile(`(?m)^会议纪要\s*$\n?`)
)

// Clean 清洗模型回复：剥离确认式开场白与 markdown 标记。
// 模式集为启发式，按需微调。
func Clean(raw string) string {
	text := strings.TrimSpace(raw)

	// 从头部逐行剥离确认语，遇到首个正文行即停
	lines := strings.Split(text, "\n")
	start := 0
	for start < len(lines) {
		line := strings.TrimSpace(lines[start])
		if line == "" {
			start++
			continue
		}
		matched := false
		rescan := false
		for _, p := range confirmationPatterns {
			if loc := p.FindStringIndex(line); loc != nil {
				rest := strings.TrimSpace(line[loc[1]:])
				if rest == "" {
					matched = true
				} else {
					// 剥掉前缀后重新审视剩余部分
					lines[start] = rest
					rescan = true
				}
				break
			}
		}
		if matched {
			start++
			continue
		}
		if !rescan {
			break
		}
	}
	text = strings.Join(lines[start:], "\n")

	text = reCodeFence.ReplaceAllString(text, "")
	text = reHeading.ReplaceAllString(text, "")
	text = reBold.ReplaceAllString(text, "$1")
	text = reBoldAlt.ReplaceAllString(text, "$1")
	text = reItalic.ReplaceAllString(text, "$1")
	text = reInlineCode.ReplaceAllString(text, "$1")
	text = reListMarker.ReplaceAllString(text, "")
	text = reNumMarker.ReplaceAllString(text, "")
	text = reHRule.ReplaceAllString(text, "")
	text = reTitleLine.ReplaceAllString(text, "")
	text = reBlankRuns.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}
