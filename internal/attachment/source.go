package attachment

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
)

// Source is a local file handle staged for upload.
type Source interface {
	Name() string
	ContentType() string
	Size() int64
	Open() (io.ReadCloser, error)
}

// previewer is implemented by sources that can be shown before upload.
type previewer interface {
	PreviewURL() string
}

const maxInlinePreview = 256 << 10

type fileSource struct {
	path        string
	contentType string
	size        int64
}

// OpenFile stages a file from disk. The content type comes from the file
// extension, falling back to sniffing the first bytes.
func OpenFile(path string) (Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, errors.New("attachment: " + path + " is a directory")
	}

	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct, err = sniff(path)
		if err != nil {
			return nil, err
		}
	}
	return &fileSource{path: path, contentType: ct, size: info.Size()}, nil
}

func sniff(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	return http.DetectContentType(head[:n]), nil
}

func (f *fileSource) Name() string                 { return filepath.Base(f.path) }
func (f *fileSource) ContentType() string          { return f.contentType }
func (f *fileSource) Size() int64                  { return f.size }
func (f *fileSource) Open() (io.ReadCloser, error) { return os.Open(f.path) }

func (f *fileSource) PreviewURL() string {
	abs, err := filepath.Abs(f.path)
	if err != nil {
		return ""
	}
	return "file://" + filepath.ToSlash(abs)
}

type memorySource struct {
	name        string
	contentType string
	data        []byte
}

// NewMemorySource stages bytes already held in memory, such as a multipart
// upload or a finished voice recording. An empty contentType is sniffed.
func NewMemorySource(name, contentType string, data []byte) Source {
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return &memorySource{name: name, contentType: contentType, data: data}
}

func (m *memorySource) Name() string        { return m.name }
func (m *memorySource) ContentType() string { return m.contentType }
func (m *memorySource) Size() int64         { return int64(len(m.data)) }

func (m *memorySource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.data)), nil
}

func (m *memorySource) PreviewURL() string {
	if len(m.data) > maxInlinePreview {
		return ""
	}
	return "data:" + m.contentType + ";base64," + base64.StdEncoding.EncodeToString(m.data)
}
