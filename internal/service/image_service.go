package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/fortuna-lending/loan-engine/internal/repository/storage"
)

// EntityTypeManualProof scopes uploaded evidence under the manual-proof
// segment of an account's object prefix.
const EntityTypeManualProof = "manual_proof"

const (
	MaxImageSize   = 5 * 1024 * 1024 // 5MB
	MinImageWidth  = 50
	MinImageHeight = 50
	ThumbnailWidth = 200
	DisplayWidth   = 800
	JPEGQuality    = 85
)

var (
	ErrImageTooLarge             = errors.New("file too large. Maximum size is 5MB")
	ErrInvalidFormat             = errors.New("invalid format. Supported: JPEG, PNG, WebP")
	ErrImageTooSmall             = errors.New("image too small. Minimum 50x50 pixels")
	ErrInvalidImageData          = errors.New("invalid image data")
	ErrImageStorageNotConfigured = errors.New("image storage not configured")
)

// AllowedImageFormats lists the MIME types a receipt upload may carry.
var AllowedImageFormats = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// AllowedExtensions maps accepted filename extensions to their content
// types.
var AllowedExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// rendition is one stored size of an uploaded receipt.
type rendition struct {
	name     string
	maxWidth int // 0 keeps the original dimensions
}

// renditions lists every size stored per receipt. Each one lands at
// <accountID>/<entityType>/<entityID>/<imageID>_<name>.jpg, so all
// renditions of one receipt share the <imageID> base path.
var renditions = []rendition{
	{name: "thumb", maxWidth: ThumbnailWidth},
	{name: "display", maxWidth: DisplayWidth},
	{name: "original", maxWidth: 0},
}

// ImageMetadata carries the object paths of one receipt's stored
// renditions. Paths, not URLs: the bucket is private and presigned URLs
// are generated on demand.
type ImageMetadata struct {
	ID            string `json:"id"`
	ThumbnailPath string `json:"thumbnailPath"`
	DisplayPath   string `json:"displayPath"`
	OriginalPath  string `json:"originalPath"`
}

// ImageService validates, normalizes, and stores manual repayment proof
// evidence: the bank-transfer receipts and supporting photos a borrower
// attaches to a Payment awaiting operator verification.
type ImageService struct {
	storage storage.ObjectStore
}

// NewImageService creates a new ImageService. A nil store disables
// uploads without disabling the routes that would use them.
func NewImageService(storage storage.ObjectStore) *ImageService {
	return &ImageService{storage: storage}
}

// IsEnabled indicates whether uploads/deletes are supported (storage configured).
func (s *ImageService) IsEnabled() bool {
	return s != nil && s.storage != nil
}

// ValidateImage rejects a receipt that is oversized, of an unsupported
// format, undecodable, or too small to read.
func (s *ImageService) ValidateImage(data []byte, filename string) error {
	_, err := s.validateAndDecode(data, filename)
	return err
}

// validateAndDecode checks size, extension, and decodability, and returns
// the decoded image so ProcessAndUpload does not decode twice.
func (s *ImageService) validateAndDecode(data []byte, filename string) (image.Image, error) {
	if len(data) > MaxImageSize {
		return nil, ErrImageTooLarge
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := AllowedExtensions[ext]; !ok {
		return nil, ErrInvalidFormat
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, ErrInvalidImageData
	}

	bounds := img.Bounds()
	if bounds.Dx() < MinImageWidth || bounds.Dy() < MinImageHeight {
		return nil, ErrImageTooSmall
	}

	return img, nil
}

// ProcessAndUpload validates a receipt, re-encodes every rendition as
// JPEG, and stores them under the owning account's prefix. A failed
// upload deletes whatever renditions already landed so a receipt is
// either fully stored or absent.
func (s *ImageService) ProcessAndUpload(ctx context.Context, accountID uuid.UUID, entityType string, entityID uuid.UUID, data []byte, filename string) (*ImageMetadata, error) {
	if !s.IsEnabled() {
		return nil, ErrImageStorageNotConfigured
	}

	img, err := s.validateAndDecode(data, filename)
	if err != nil {
		return nil, err
	}

	imageID := uuid.New().String()
	paths := make(map[string]string, len(renditions))

	for _, r := range renditions {
		processed := img
		if r.maxWidth > 0 && img.Bounds().Dx() > r.maxWidth {
			// Width-bound resize; height follows the aspect ratio.
			processed = imaging.Resize(img, r.maxWidth, 0, imaging.Lanczos)
		}

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, processed, &jpeg.Options{Quality: JPEGQuality}); err != nil {
			return nil, fmt.Errorf("encode %s rendition: %w", r.name, err)
		}

		objectPath := fmt.Sprintf("%s/%s/%s/%s_%s.jpg", accountID, entityType, entityID, imageID, r.name)
		path, err := s.storage.Upload(ctx, objectPath, bytes.NewReader(buf.Bytes()), "image/jpeg", int64(buf.Len()))
		if err != nil {
			s.deletePaths(ctx, paths)
			return nil, fmt.Errorf("upload %s rendition: %w", r.name, err)
		}
		paths[r.name] = path
	}

	return &ImageMetadata{
		ID:            imageID,
		ThumbnailPath: paths["thumb"],
		DisplayPath:   paths["display"],
		OriginalPath:  paths["original"],
	}, nil
}

// deletePaths best-effort removes already-stored renditions after a
// partial upload failure.
func (s *ImageService) deletePaths(ctx context.Context, paths map[string]string) {
	for _, path := range paths {
		_ = s.storage.Delete(ctx, path)
	}
}

// DeleteByPath removes a single stored rendition by its object path.
func (s *ImageService) DeleteByPath(ctx context.Context, objectPath string) error {
	if objectPath == "" {
		return nil
	}
	if !s.IsEnabled() {
		return ErrImageStorageNotConfigured
	}
	return s.storage.Delete(ctx, objectPath)
}

// DeleteAllVariants removes every stored rendition of the receipt the
// given object path belongs to, best effort per rendition.
func (s *ImageService) DeleteAllVariants(ctx context.Context, objectPath string) error {
	if objectPath == "" {
		return nil
	}
	if !s.IsEnabled() {
		return ErrImageStorageNotConfigured
	}

	basePath := s.extractBasePath(objectPath)
	if basePath == "" {
		return nil
	}

	for _, r := range renditions {
		_ = s.storage.Delete(ctx, basePath+"_"+r.name+".jpg")
	}
	return nil
}

// extractBasePath strips the rendition suffix from an object path,
// leaving <accountID>/<entityType>/<entityID>/<imageID> shared by every
// rendition of the same receipt. Paths that do not carry a known
// rendition suffix return "".
func (s *ImageService) extractBasePath(objectPath string) string {
	for _, r := range renditions {
		suffix := "_" + r.name + ".jpg"
		if strings.HasSuffix(objectPath, suffix) {
			return strings.TrimSuffix(objectPath, suffix)
		}
	}
	return ""
}

// GeneratePresignedURL returns a time-limited read URL for a stored
// rendition; the evidence bucket itself is never publicly readable.
func (s *ImageService) GeneratePresignedURL(ctx context.Context, objectPath string) (string, error) {
	if objectPath == "" {
		return "", nil
	}
	if !s.IsEnabled() {
		return "", ErrImageStorageNotConfigured
	}
	return s.storage.GeneratePresignedURL(ctx, objectPath, 2*time.Hour)
}

// GetContentType resolves a filename's extension to its content type,
// falling back to application/octet-stream for anything unrecognized.
func GetContentType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ct, ok := AllowedExtensions[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

// IsValidImageFormat reports whether contentType is an accepted image
// MIME type.
func IsValidImageFormat(contentType string) bool {
	return AllowedImageFormats[contentType]
}
