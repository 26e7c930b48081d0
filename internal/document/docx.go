package document

import (
	"archive/zip"
	"fmt"
	"os"
	"strings"
)

// paragraph 文档段落
type paragraph struct {
	text string
	bold bool
	size int // 半磅；0 为默认字号
}

const contentTypesXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`

const relsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`

// writeDocx 生成最小可用的 OOXML 文档包
func writeDocx(path string, paras []paragraph) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	parts := []struct {
		name string
		body string
	}{
		{"[Content_Types].xml", contentTypesXML},
		{"_rels/.rels", relsXML},
		{"word/document.xml", documentXML(paras)},
	}
	for _, part := range parts {
		w, err := zw.Create(part.name)
		if err != nil {
			zw.Close()
			return fmt.Errorf("failed to create %s: %w", part.name, err)
		}
		if _, err := w.Write([]byte(part.body)); err != nil {
			zw.Close()
			return fmt.Errorf("failed to write %s: %w", part.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize document: %w", err)
	}
	return f.Sync()
}

func documentXML(paras []paragraph) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	b.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paras {
		b.WriteString("<w:p>")
		if p.text != "" {
			b.WriteString("<w:r>")
			if p.bold || p.size > 0 {
				b.WriteString("<w:rPr>")
				if p.bold {
					b.WriteString("<w:b/>")
				}
				if p.size > 0 {
					fmt.Fprintf(&b, `<w:sz w:val="%d"/>`, p.size)
				}
				b.WriteString("</w:rPr>")
			}
			fmt.Fprintf(&b, `<w:t xml:space="preserve">%s</w:t>`, escapeXML(p.text))
			b.WriteString("</w:r>")
		}
		b.WriteString("</w:p>")
	}
	b.WriteString("</w:body></w:document>")
	return b.String()
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

func escapeXML(s string) string {
	return xmlEscaper.Replace(s)
}
