package api

import (
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

type APIFile struct {
	ID          ID         `json:"id"`
	DisplayName *string    `json:"display_name"`
	Filename    *string    `json:"filename"`
	ContentType *string    `json:"content-type"`
	URL         *string    `json:"url"`
	Size        *int64     `json:"size"`
	CreatedAt   *time.Time `json:"created_at"`
}

// FileUploadTarget is the leg-one response: where to send the bytes and which
// form params must accompany them.
type FileUploadTarget struct {
	UploadURL    string            `json:"upload_url"`
	UploadParams map[string]string `json:"upload_params"`
}

// PostFileUploadTargetRequest asks the server for a signed upload target.
func PostFileUploadTargetRequest(ctx Context, name string, size int64, parentFolderID string) Request {
	form := url.Values{
		"name":         {name},
		"size":         {strconv.FormatInt(size, 10)},
		"on_duplicate": {"rename"},
	}
	if parentFolderID != "" {
		form.Set("parent_folder_id", parentFolderID)
	}
	return Request{Method: http.MethodPost, Path: ctx.PathComponent() + "/files", Form: form}
}

// NewUploadRequest builds the leg-two multipart POST against the signed
// target. The target may point at a different host than the primary API, so
// no auth header is attached; upload_params are written before the file part,
// which must come last. The body streams through a pipe so arbitrarily large
// files never buffer in memory.
func NewUploadRequest(ctx context.Context, target FileUploadTarget, filename string, body io.Reader) (*http.Request, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeUploadBody(mw, target, filename, body)
		if cerr := mw.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.UploadURL, pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

func writeUploadBody(mw *multipart.Writer, target FileUploadTarget, filename string, body io.Reader) error {
	for key, value := range target.UploadParams {
		if err := mw.WriteField(key, value); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, body)
	return err
}
