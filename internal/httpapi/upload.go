package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"pdf_gateway/internal/utils"
)

// Upload errors map one-to-one onto client-facing responses.
var (
	ErrMissingFile         = errors.New("File not found")
	ErrUnsupportedFileType = errors.New("Only PDF files are supported")
	ErrFileTooLarge        = errors.New("File is too large")
	ErrMultipart           = errors.New("Failed to parse upload")
	ErrUploadIO            = errors.New("Failed to persist upload")
)

// SavedUpload is a multipart PDF spooled to a temp file, plus the
// optional mode and engine fields some routes accept.
type SavedUpload struct {
	TempPath     string
	OriginalName string
	Size         int64
	Mode         string
	Engine       string
}

// saveUpload streams the "file" part of a multipart request to a temp
// file, enforcing the byte cap as it copies so an oversized body never
// lands on disk in full. The optional "mode" and "engine" parts are
// collected on the way.
func saveUpload(r *http.Request, maxBytes int64) (*SavedUpload, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, ErrMultipart
	}

	var saved *SavedUpload
	upload := &SavedUpload{}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			cleanupUpload(saved)
			return nil, ErrMultipart
		}

		switch part.FormName() {
		case "file":
			if saved != nil {
				continue
			}

			originalName := part.FileName()
			if originalName == "" {
				originalName = "document.pdf"
			}

			isPDF := part.Header.Get("Content-Type") == "application/pdf" ||
				strings.HasSuffix(strings.ToLower(originalName), ".pdf")
			if !isPDF {
				return nil, ErrUnsupportedFileType
			}

			tempPath := filepath.Join(os.TempDir(), fmt.Sprintf(
				"gateway-upload-%s-%d.pdf", uuid.NewString(), time.Now().UnixMilli()))

			file, err := os.Create(tempPath)
			if err != nil {
				return nil, ErrUploadIO
			}

			written, err := io.Copy(file, io.LimitReader(part, maxBytes+1))
			closeErr := file.Close()
			if err != nil {
				_ = os.Remove(tempPath)
				return nil, ErrMultipart
			}
			if closeErr != nil {
				_ = os.Remove(tempPath)
				return nil, ErrUploadIO
			}
			if written > maxBytes {
				_ = os.Remove(tempPath)
				return nil, ErrFileTooLarge
			}

			upload.TempPath = tempPath
			upload.OriginalName = originalName
			upload.Size = written
			saved = upload

		case "mode":
			value, err := readPartValue(part)
			if err != nil {
				cleanupUpload(saved)
				return nil, ErrMultipart
			}
			upload.Mode = value

		case "engine":
			value, err := readPartValue(part)
			if err != nil {
				cleanupUpload(saved)
				return nil, ErrMultipart
			}
			upload.Engine = value
		}
	}

	if saved == nil {
		return nil, ErrMissingFile
	}
	return saved, nil
}

func readPartValue(part io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, 1024))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func cleanupUpload(upload *SavedUpload) {
	if upload != nil && upload.TempPath != "" {
		removeFileIfExists(upload.TempPath)
	}
}

func removeFileIfExists(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		utils.NewLogger("upload").Error("failed to delete temp file", "path", path, "error", err)
	}
}

// respondUploadError maps upload failures to their HTTP statuses.
func respondUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrMissingFile),
		errors.Is(err, ErrUnsupportedFileType),
		errors.Is(err, ErrMultipart):
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrFileTooLarge):
		utils.RespondWithError(w, http.StatusRequestEntityTooLarge, err.Error())
	default:
		utils.RespondWithError(w, http.StatusInternalServerError, ErrUploadIO.Error())
	}
}
