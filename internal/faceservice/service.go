package faceservice

import (
	"context"
	"errors"
	"fmt"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/imaging"
)

// FaceDetector is the part of the embedding client the service needs.
type FaceDetector interface {
	DetectFaces(ctx context.Context, imageData []byte) (*FaceResponse, error)
}

// QualityError reports a face that failed CheckQuality.
type QualityError struct {
	Report QualityReport
}

func (e *QualityError) Error() string {
	return e.Report.Reason
}

// Extraction is the embedding of the most confident face in a photo.
type Extraction struct {
	Embedding []float32      `json:"-"`
	BBox      []float64      `json:"bbox"`
	DetScore  float64        `json:"det_score"`
	Quality   *QualityReport `json:"quality,omitempty"`
}

// Service extracts normalized face embeddings from photos.
type Service struct {
	detector FaceDetector
	dim      int
}

// NewService creates a face service. dim is the expected embedding dimension.
func NewService(detector FaceDetector, dim int) *Service {
	if dim <= 0 {
		dim = database.EmbeddingDim
	}
	return &Service{detector: detector, dim: dim}
}

// ExtractEmbedding decodes the image, asks the embedding server for faces and
// returns the L2-normalized embedding of the face with the highest detection
// score. With checkQuality the face crop must pass CheckQuality.
func (s *Service) ExtractEmbedding(ctx context.Context, imageData []byte, checkQuality bool) (*Extraction, error) {
	img, _, err := imaging.Decode(imageData)
	if err != nil {
		return nil, err
	}

	resp, err := s.detector.DetectFaces(ctx, imageData)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}
	face, err := resp.Best()
	if err != nil {
		return nil, err
	}
	if len(face.Embedding) != s.dim {
		return nil, fmt.Errorf("%w: expected %d, got %d", database.ErrDimensionMismatch, s.dim, len(face.Embedding))
	}

	out := &Extraction{
		Embedding: database.Normalize(face.Embedding),
		BBox:      face.BBox,
		DetScore:  face.DetScore,
	}
	if checkQuality {
		report := CheckQuality(Crop(img, face.BBox))
		out.Quality = &report
		if !report.OK {
			return nil, &QualityError{Report: report}
		}
	}
	return out, nil
}

// ExtractMany runs ExtractEmbedding over every image and keeps the
// successful embeddings. The per-image errors are returned alongside.
func (s *Service) ExtractMany(ctx context.Context, images [][]byte, checkQuality bool) ([][]float32, []error) {
	var embeddings [][]float32
	errs := make([]error, len(images))
	for i, data := range images {
		ext, err := s.ExtractEmbedding(ctx, data, checkQuality)
		if err != nil {
			errs[i] = err
			continue
		}
		embeddings = append(embeddings, ext.Embedding)
	}
	return embeddings, errs
}

// IsNoFace reports whether err means the photo had no usable face.
func IsNoFace(err error) bool {
	return errors.Is(err, ErrNoFace)
}
