package server

import (
	"context"
	"io"
	"mime/multipart"
)

// File is one uploaded file stream. Reader is only valid until the next
// call to Files.Next.
type File struct {
	// MultipartIndex is the 1-based position of the part within the
	// request, matching the multipartIndex of UploadInfo input values.
	MultipartIndex int
	Name           string
	ContentType    string
	Reader         io.Reader
}

// Files is a lazy, single-pass sequence of the file parts following the
// JSON body of a multipart request. Parts are consumed in request order;
// there is no rewinding.
type Files struct {
	mr   *multipart.Reader
	next int
}

func newFiles(mr *multipart.Reader) *Files {
	return &Files{mr: mr, next: 1}
}

// Next returns the next file part, or io.EOF when the request has no
// more parts.
func (f *Files) Next() (*File, error) {
	part, err := f.mr.NextPart()
	if err != nil {
		return nil, err
	}
	file := &File{
		MultipartIndex: f.next,
		Name:           part.FileName(),
		ContentType:    part.Header.Get("Content-Type"),
		Reader:         part,
	}
	f.next++
	return file, nil
}

type filesKey struct{}

// NewFilesContext attaches the request's file sequence to the context.
func NewFilesContext(ctx context.Context, files *Files) context.Context {
	return context.WithValue(ctx, filesKey{}, files)
}

// FilesFromContext returns the request's file sequence, or nil for
// non-multipart requests.
func FilesFromContext(ctx context.Context) *Files {
	files, _ := ctx.Value(filesKey{}).(*Files)
	return files
}

// UploadInfo is the input-value shape referencing an uploaded file part.
type UploadInfo struct {
	Type           string `json:"_type"`
	MultipartIndex int    `json:"multipartIndex"`
	Name           string `json:"name"`
	Mime           string `json:"mime"`
	Size           int64  `json:"size"`
}

// AsUploadInfo interprets a decoded input value as an UploadInfo
// reference.
func AsUploadInfo(v any) (*UploadInfo, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	if t, _ := m["_type"].(string); t != "UploadInfo" {
		return nil, false
	}
	info := &UploadInfo{Type: "UploadInfo"}
	switch idx := m["multipartIndex"].(type) {
	case float64:
		info.MultipartIndex = int(idx)
	case int:
		info.MultipartIndex = idx
	default:
		return nil, false
	}
	info.Name, _ = m["name"].(string)
	info.Mime, _ = m["mime"].(string)
	if size, ok := m["size"].(float64); ok {
		info.Size = int64(size)
	}
	return info, true
}
