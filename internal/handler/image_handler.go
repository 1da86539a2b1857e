package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/fortuna-lending/loan-engine/internal/middleware"
	"github.com/fortuna-lending/loan-engine/internal/service"
)

// ImageHandler handles manual-proof evidence uploads: the multipart file a
// borrower attaches to a manual repayment submission.
type ImageHandler struct {
	imageService *service.ImageService
}

func NewImageHandler(imageService *service.ImageService) *ImageHandler {
	return &ImageHandler{imageService: imageService}
}

// UploadResponse is the body of a successful image upload.
type UploadResponse struct {
	ID            string `json:"id"`
	ThumbnailPath string `json:"thumbnailPath"`
	DisplayPath   string `json:"displayPath"`
	OriginalPath  string `json:"originalPath"`
	EvidenceURL   string `json:"evidenceUrl"`
}

// UploadManualProof handles POST /images/manual-proof. The returned
// EvidenceURL is what the borrower then passes as
// SubmitManualProofRequest.EvidenceURL.
func (h *ImageHandler) UploadManualProof(c echo.Context) error {
	if h.imageService == nil || !h.imageService.IsEnabled() {
		return Fail(c, http.StatusServiceUnavailable, "image uploads are disabled (storage not configured)")
	}

	file, err := c.FormFile("file")
	if err != nil {
		return FailValidation(c, "no file provided", []FieldError{{Field: "file", Message: "file is required"}})
	}

	src, err := file.Open()
	if err != nil {
		log.Error().Err(err).Msg("failed to open uploaded file")
		return Fail(c, http.StatusInternalServerError, "failed to process file")
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		log.Error().Err(err).Msg("failed to read uploaded file")
		return Fail(c, http.StatusInternalServerError, "failed to read file")
	}

	accountID := middleware.GetAccountID(c)
	metadata, err := h.imageService.ProcessAndUpload(c.Request().Context(), accountID, service.EntityTypeManualProof, uuid.New(), data, file.Filename)
	if err != nil {
		if errors.Is(err, service.ErrImageTooLarge) || errors.Is(err, service.ErrInvalidFormat) ||
			errors.Is(err, service.ErrImageTooSmall) || errors.Is(err, service.ErrInvalidImageData) {
			return FailValidation(c, err.Error(), []FieldError{{Field: "file", Message: err.Error()}})
		}
		log.Error().Err(err).Msg("failed to process and upload image")
		return Fail(c, http.StatusInternalServerError, "failed to upload image")
	}

	url, err := h.imageService.GeneratePresignedURL(c.Request().Context(), metadata.DisplayPath)
	if err != nil {
		log.Warn().Err(err).Msg("failed to generate presigned url")
	}

	return OK(c, http.StatusCreated, "evidence uploaded", UploadResponse{
		ID:            metadata.ID,
		ThumbnailPath: metadata.ThumbnailPath,
		DisplayPath:   metadata.DisplayPath,
		OriginalPath:  metadata.OriginalPath,
		EvidenceURL:   url,
	})
}
