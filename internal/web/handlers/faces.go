package handlers

import (
	"context"
	"errors"
	"image"
	"net/http"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/facematch"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/faceservice"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/imaging"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/logging"
)

// FaceExtractor turns a photo into a normalized face embedding.
type FaceExtractor interface {
	ExtractEmbedding(ctx context.Context, imageData []byte, checkQuality bool) (*faceservice.Extraction, error)
}

// Notifier delivers account emails.
type Notifier interface {
	SendVerificationCode(ctx context.Context, to, code, name string) error
	SendApprovalNotification(ctx context.Context, to, name string) error
}

// FaceIndex is the recognizer surface handlers use.
type FaceIndex interface {
	Add(ctx context.Context, p *database.Person, embeddings [][]float32) error
	Recognize(ctx context.Context, embedding []float32, strict bool) (faceservice.Recognition, error)
	Sync(ctx context.Context) error
	Rebuild(ctx context.Context) error
	Stats(ctx context.Context) (faceservice.Stats, error)
}

// DuplicateFinder looks for enrolled persons resembling new faces.
type DuplicateFinder interface {
	FindDuplicatesAny(ctx context.Context, embeddings [][]float32) ([]facematch.Duplicate, error)
}

// faceFailure is one photo that produced no usable embedding.
type faceFailure struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// extractAll returns the embeddings of every photo with a usable face.
func extractAll(ctx context.Context, faces FaceExtractor, images [][]byte, checkQuality bool) ([][]float32, []faceFailure) {
	var embeddings [][]float32
	var failed []faceFailure
	for i, data := range images {
		ext, err := faces.ExtractEmbedding(ctx, data, checkQuality)
		if err != nil {
			failed = append(failed, faceFailure{Index: i, Error: faceErrorMessage(err)})
			continue
		}
		embeddings = append(embeddings, ext.Embedding)
	}
	return embeddings, failed
}

// faceErrorMessage is the client-facing text for an extraction error.
func faceErrorMessage(err error) string {
	var qe *faceservice.QualityError
	switch {
	case errors.Is(err, faceservice.ErrNoFace):
		return "No face detected"
	case errors.As(err, &qe):
		return qe.Report.Reason
	case isBadImage(err):
		return errInvalidImage
	}
	return "Face processing failed"
}

// faceErrorStatus maps an extraction error to an HTTP status.
func faceErrorStatus(err error) int {
	var qe *faceservice.QualityError
	if errors.Is(err, faceservice.ErrNoFace) || errors.As(err, &qe) || isBadImage(err) {
		return http.StatusBadRequest
	}
	return http.StatusServiceUnavailable
}

func isBadImage(err error) bool {
	return errors.Is(err, imaging.ErrEmptyImage) || errors.Is(err, image.ErrFormat)
}

// findDuplicates extracts embeddings without quality gates and searches for
// similar enrolled persons. Failures only cost the duplicate hint.
func findDuplicates(ctx context.Context, faces FaceExtractor, dups DuplicateFinder, images [][]byte) []facematch.Duplicate {
	if faces == nil || dups == nil {
		return nil
	}
	embeddings, _ := extractAll(ctx, faces, images, false)
	if len(embeddings) == 0 {
		return nil
	}
	found, err := dups.FindDuplicatesAny(ctx, embeddings)
	if err != nil {
		logging.Warn("duplicate search failed", "error", err)
		return nil
	}
	return found
}
