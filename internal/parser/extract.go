package parser

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// FileType is a supported document format.
type FileType string

const (
	FileTypePDF  FileType = "pdf"
	FileTypeDOCX FileType = "docx"
	FileTypeXLSX FileType = "xlsx"
	FileTypeText FileType = "txt"
)

var (
	// ErrUnsupportedFormat means neither the content nor the file name
	// identify a format we can read.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrExtractionFailed means the format was recognised but no text
	// could be read from it.
	ErrExtractionFailed = errors.New("text extraction failed")
)

const (
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var mimeTypes = map[string]FileType{
	"application/pdf":    FileTypePDF,
	mimeDOCX:             FileTypeDOCX,
	"application/msword": FileTypeDOCX,
	mimeXLSX:             FileTypeXLSX,
}

var extensions = map[string]FileType{
	".pdf":      FileTypePDF,
	".docx":     FileTypeDOCX,
	".doc":      FileTypeDOCX,
	".xlsx":     FileTypeXLSX,
	".txt":      FileTypeText,
	".md":       FileTypeText,
	".markdown": FileTypeText,
}

type formatFunc func(data []byte) (string, error)

// Extractor turns raw document bytes into plain text.
type Extractor struct {
	formats map[FileType]formatFunc
}

// NewExtractor returns an Extractor with every supported format registered.
func NewExtractor() *Extractor {
	return &Extractor{
		formats: map[FileType]formatFunc{
			FileTypePDF:  extractPDF,
			FileTypeDOCX: extractDOCX,
			FileTypeXLSX: extractXLSX,
			FileTypeText: decodeText,
		},
	}
}

// Extract detects the format of data and returns its trimmed text.
// Errors wrap ErrUnsupportedFormat or ErrExtractionFailed.
func (e *Extractor) Extract(data []byte, filename string) (string, FileType, error) {
	ft, err := DetectType(data, filename)
	if err != nil {
		return "", "", err
	}

	fn, ok := e.formats[ft]
	if !ok {
		return "", ft, fmt.Errorf("%s: %w", filename, ErrUnsupportedFormat)
	}

	text, err := safeExtract(fn, data)
	if err != nil {
		return "", ft, fmt.Errorf("%s: %w: %v", filename, ErrExtractionFailed, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ft, fmt.Errorf("%s: %w: no text content", filename, ErrExtractionFailed)
	}
	return text, ft, nil
}

// DetectType sniffs the content type and falls back to the file extension
// when sniffing yields nothing we support.
func DetectType(data []byte, filename string) (FileType, error) {
	if ft, ok := sniff(data); ok {
		return ft, nil
	}
	if ft, ok := extensions[strings.ToLower(filepath.Ext(filename))]; ok {
		return ft, nil
	}
	return "", fmt.Errorf("%s: %w", filename, ErrUnsupportedFormat)
}

// IsSupported reports whether filename has an extension we can ingest.
func IsSupported(filename string) bool {
	_, ok := extensions[strings.ToLower(filepath.Ext(filename))]
	return ok
}

func sniff(data []byte) (FileType, bool) {
	if len(data) == 0 {
		return "", false
	}
	m := mimetype.Detect(data)
	for mt := m; mt != nil; mt = mt.Parent() {
		for name, ft := range mimeTypes {
			if mt.Is(name) {
				return ft, true
			}
		}
	}
	if strings.HasPrefix(m.String(), "text/") {
		return FileTypeText, true
	}
	return "", false
}

// safeExtract converts panics from format libraries on malformed input
// into errors.
func safeExtract(fn formatFunc, data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed document: %v", r)
		}
	}()
	return fn(data)
}
