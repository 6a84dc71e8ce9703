package handler

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"document-portal/internal/apperr"
	"document-portal/internal/model"
	"document-portal/internal/transport/http/response"
)

type uploadLimit int64

func (l uploadLimit) read(fh *multipart.FileHeader) (model.UploadedDocument, error) {
	if l > 0 && fh.Size > int64(l) {
		return model.UploadedDocument{}, errTooLarge{name: fh.Filename, limit: int64(l)}
	}
	f, err := fh.Open()
	if err != nil {
		return model.UploadedDocument{}, apperr.Validation("upload", fmt.Sprintf("open %q failed: %v", fh.Filename, err))
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return model.UploadedDocument{}, apperr.Validation("upload", fmt.Sprintf("read %q failed: %v", fh.Filename, err))
	}
	return model.NewUploadedDocument(fh.Filename, data), nil
}

// files reads every part named field of the multipart form.
func (l uploadLimit) files(c *gin.Context, field string) ([]model.UploadedDocument, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, apperr.Validation("upload", "multipart form expected")
	}
	headers := form.File[field]
	if len(headers) == 0 {
		return nil, apperr.Validation("upload", fmt.Sprintf("no files in field %q", field))
	}
	docs := make([]model.UploadedDocument, 0, len(headers))
	for _, fh := range headers {
		doc, err := l.read(fh)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (l uploadLimit) file(c *gin.Context, field string) (model.UploadedDocument, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return model.UploadedDocument{}, apperr.Validation("upload", fmt.Sprintf("file field %q is required", field))
	}
	return l.read(fh)
}

type errTooLarge struct {
	name  string
	limit int64
}

func (e errTooLarge) Error() string {
	return fmt.Sprintf("%q exceeds the %d MB upload limit", e.name, e.limit>>20)
}

func writeUploadError(c *gin.Context, err error) {
	if tl, ok := err.(errTooLarge); ok {
		response.Error(c, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge, tl.Error())
		return
	}
	response.FromError(c, err)
}
