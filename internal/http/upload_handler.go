package httpserver

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	httperrors "github.com/afromemo/afromemo/internal/http/errors"
)

// MaxUploadSize is the largest accepted poster.
const MaxUploadSize = 5 << 20

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

type uploadResponse struct {
	Filename string `json:"filename"`
	Size     string `json:"size"`
}

// Upload stores a poster sent as the multipart field "file" under a random name.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	// Leave room for the multipart envelope around the file.
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize+64<<10)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httperrors.Write(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		httperrors.BadRequestError(w, r, err, "Missing file")
		return
	}
	defer file.Close()
	if header.Size > MaxUploadSize {
		httperrors.Write(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		httperrors.BadRequestError(w, r, err, "Empty file")
		return
	}
	ext, ok := imageExtensions[http.DetectContentType(head[:n])]
	if !ok {
		httperrors.Write(w, http.StatusUnsupportedMediaType, "Only images are accepted")
		return
	}

	if err := os.MkdirAll(h.cfg.UploadDir, 0o755); err != nil {
		httperrors.InternalError(w, r, err, "create upload dir")
		return
	}
	name := uuid.NewString() + ext
	path := filepath.Join(h.cfg.UploadDir, name)
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		httperrors.InternalError(w, r, err, "create upload file")
		return
	}
	written, err := io.Copy(dst, io.MultiReader(bytes.NewReader(head[:n]), file))
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		httperrors.InternalError(w, r, err, fmt.Sprintf("write upload %s", name))
		return
	}

	httperrors.LogInfo(r, "poster uploaded", "file", name, "size", written)
	httperrors.OK(w, http.StatusCreated, "File uploaded", uploadResponse{
		Filename: "/uploads/" + name,
		Size:     humanize.Bytes(uint64(written)),
	})
}
