// Package parsertest builds small but valid document fixtures for tests.
package parsertest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
	"testing"
)

// PDF returns a PDF with one page per entry, each page drawing its text
// in Helvetica.
func PDF(tb testing.TB, pages ...string) []byte {
	tb.Helper()
	if len(pages) == 0 {
		tb.Fatal("parsertest.PDF: at least one page required")
	}

	// 1 catalog, 2 page tree, 3 font, then a page and a content stream per page
	var objects []string
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	objects = append(objects,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	)
	for i, text := range pages {
		content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", escapePDF(text))
		objects = append(objects,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] "+
				"/Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		)
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func escapePDF(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}

// DOCX returns a Word document with one plain-text run per paragraph.
func DOCX(tb testing.TB, paragraphs ...string) []byte {
	tb.Helper()
	xmlParas := make([]string, len(paragraphs))
	for i, p := range paragraphs {
		if p != "" {
			xmlParas[i] = `<w:r><w:t xml:space="preserve">` + escapeXML(p) + `</w:t></w:r>`
		}
	}
	return DOCXFromXML(tb, xmlParas...)
}

func escapeXML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

// DOCXFromXML returns a Word document whose w:p elements hold the given
// raw WordprocessingML.
func DOCXFromXML(tb testing.TB, paragraphs ...string) []byte {
	tb.Helper()

	var body strings.Builder
	for _, p := range paragraphs {
		body.WriteString("<w:p>" + p + "</w:p>")
	}

	files := []struct{ name, body string }{
		{"[Content_Types].xml", `<?xml version="1.0" encoding="UTF-8"?>` +
			`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
			`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/></Types>`},
		{"word/document.xml", `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
			`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
			body.String() + `</w:body></w:document>`},
		{"word/_rels/document.xml.rels", `<?xml version="1.0" encoding="UTF-8"?>` +
			`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`},
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f.name)
		if err != nil {
			tb.Fatalf("parsertest.DOCX: %v", err)
		}
		if _, err := w.Write([]byte(f.body)); err != nil {
			tb.Fatalf("parsertest.DOCX: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		tb.Fatalf("parsertest.DOCX: %v", err)
	}
	return buf.Bytes()
}
