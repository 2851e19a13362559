package render

import (
	"errors"
	"io"
	"net/http"
	"strings"
)

// ErrUpload indica corpo de upload ausente, inválido ou acima do limite.
var ErrUpload = errors.New("upload inválido")

const multipartOverhead = 64 << 10

// Upload é o arquivo recebido em uma requisição.
type Upload struct {
	io.ReadCloser
	Filename    string
	ContentType string
}

// ReadUpload devolve o campo multipart "file" ou, sem multipart, o corpo bruto
// (nome opcional em ?filename=). Os demais campos do form ficam em r.FormValue.
func ReadUpload(w http.ResponseWriter, r *http.Request, limit int64) (*Upload, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
		if err := r.ParseMultipartForm(limit); err != nil {
			return nil, &uploadError{msg: "arquivo inválido ou maior que o limite", cause: err}
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, &uploadError{msg: "campo file obrigatório", cause: err}
		}
		if header.Size > limit {
			_ = file.Close()
			return nil, &uploadError{msg: "arquivo maior que o limite", cause: &http.MaxBytesError{Limit: limit}}
		}
		ct := header.Header.Get("Content-Type")
		if ct == "" {
			ct = "application/octet-stream"
		}
		return &Upload{ReadCloser: file, Filename: header.Filename, ContentType: ct}, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, limit)
	return &Upload{
		ReadCloser:  r.Body,
		Filename:    r.URL.Query().Get("filename"),
		ContentType: r.Header.Get("Content-Type"),
	}, nil
}

// UploadError responde 400 (ou 413 quando o limite foi excedido).
func UploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		Error(w, http.StatusRequestEntityTooLarge, "VALIDATION", "arquivo maior que o limite", nil)
		return
	}
	Error(w, http.StatusBadRequest, "VALIDATION", err.Error(), nil)
}

type uploadError struct {
	msg   string
	cause error
}

func (e *uploadError) Error() string        { return e.msg }
func (e *uploadError) Unwrap() error        { return e.cause }
func (e *uploadError) Is(target error) bool { return target == ErrUpload }
