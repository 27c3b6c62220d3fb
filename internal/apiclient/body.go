package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strings"
)

// FormData is a multipart body. The client drops the default JSON content
// type and sends the writer's boundary instead.
type FormData struct {
	fields []formField
	files  []formFile
}

type formField struct {
	name  string
	value string
}

type formFile struct {
	field    string
	filename string
	mimeType string
	data     []byte
}

func NewFormData() *FormData { return &FormData{} }

func (f *FormData) Set(name, value string) *FormData {
	f.fields = append(f.fields, formField{name: name, value: value})
	return f
}

func (f *FormData) AddFile(field, filename, mimeType string, data []byte) *FormData {
	f.files = append(f.files, formFile{field: field, filename: filename, mimeType: mimeType, data: data})
	return f
}

func (f *FormData) encode() ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, fld := range f.fields {
		if err := w.WriteField(fld.name, fld.value); err != nil {
			return nil, "", err
		}
	}
	for _, file := range f.files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, escapeQuotes(file.field), escapeQuotes(file.filename)))
		ct := file.mimeType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(file.data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }

// encodeBody buffers the body so every retry attempt can resend it. The
// returned content type is non-empty only when it must override the defaults.
func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return b, "", nil
	case string:
		return []byte(b), "", nil
	case *FormData:
		return b.encode()
	case io.Reader:
		raw, err := io.ReadAll(b)
		if err != nil {
			return nil, "", fmt.Errorf("apiclient: read body: %w", err)
		}
		return raw, "", nil
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("apiclient: encode body: %w", err)
		}
		return raw, "", nil
	}
}
