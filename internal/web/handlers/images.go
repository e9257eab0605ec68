package handlers

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/faceservice"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/imaging"
)

const (
	errInvalidImage  = "Invalid image data"
	minEnrollPhotos  = 3
	minDirectFaces   = 2
	qualityGood      = "good"
	qualityPoor      = "poor"
	maxStoredImageMB = 10
)

var errImageTooLarge = errors.New("image too large")

// ImageStore keeps uploaded enrollment photos on disk under a flat
// directory with random names.
type ImageStore struct {
	dir string
}

// NewImageStore creates a store rooted at dir (UPLOAD_FOLDER).
func NewImageStore(dir string) *ImageStore {
	return &ImageStore{dir: dir}
}

// Save writes data and returns the stored file name.
func (s *ImageStore) Save(data []byte, mime string) (string, error) {
	if len(data) > maxStoredImageMB<<20 {
		return "", errImageTooLarge
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	name := uuid.NewString() + imaging.Extension(mime)
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return name, nil
}

// Load reads a file written by Save. Names with path components are rejected.
func (s *ImageStore) Load(name string) ([]byte, error) {
	if name == "" || filepath.Base(name) != name || strings.HasPrefix(name, ".") {
		return nil, fmt.Errorf("invalid image name %q", name)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return data, nil
}

// Remove deletes stored files, ignoring errors.
func (s *ImageStore) Remove(names ...string) {
	for _, name := range names {
		if filepath.Base(name) == name {
			_ = os.Remove(filepath.Join(s.dir, name))
		}
	}
}

// uploadedImage is a decoded data URL.
type uploadedImage struct {
	data []byte
	mime string
}

// decodeUploads decodes every data URL; any invalid entry fails the batch.
func decodeUploads(urls []string) ([]uploadedImage, error) {
	out := make([]uploadedImage, 0, len(urls))
	for i, u := range urls {
		data, mime, err := imaging.DecodeDataURL(u)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i+1, err)
		}
		out = append(out, uploadedImage{data: data, mime: mime})
	}
	return out, nil
}

// repeatHashBits is the largest pHash distance at which two uploads count as
// the same shot.
const repeatHashBits = 4

// scoreUploads rates each photo with the frame scorer and a perceptual hash,
// and marks photos that repeat an earlier one.
func scoreUploads(images []uploadedImage) ([]database.ImageQuality, error) {
	scores := make([]database.ImageQuality, 0, len(images))
	hashes := make([]uint64, 0, len(images))
	for i, img := range images {
		decoded, _, err := imaging.Decode(img.data)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i+1, err)
		}
		fs := faceservice.ScoreFrame(decoded)
		hash := imaging.PHash(decoded)
		q := database.ImageQuality{
			Index:      i,
			Blur:       fs.BlurScore,
			Brightness: fs.Brightness,
			Quality:    qualityPoor,
			Hash:       imaging.FormatHash(hash),
		}
		if fs.Acceptable {
			q.Quality = qualityGood
		}
		for j, prev := range hashes {
			if imaging.HammingDistance(hash, prev) <= repeatHashBits {
				q.RepeatOf = &j
				break
			}
		}
		hashes = append(hashes, hash)
		scores = append(scores, q)
	}
	return scores, nil
}

// saveUploads stores every image, removing the ones already written if a
// later write fails.
func (s *ImageStore) saveUploads(images []uploadedImage) ([]string, error) {
	names := make([]string, 0, len(images))
	for _, img := range images {
		name, err := s.Save(img.data, img.mime)
		if err != nil {
			s.Remove(names...)
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}
