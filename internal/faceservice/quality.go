package faceservice

import (
	"image"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/imaging"
)

// Quality gate limits for a face crop.
const (
	MinFaceSize      = 80
	MinBrightness    = 40.0
	MaxBrightness    = 220.0
	MinBlurVariance  = 100.0
	MinContrastStd   = 20.0
	AcceptableScore  = 60.0
	frameAnalysisMax = 640
)

// Quality failure messages shown to users.
const (
	MsgFaceTooSmall = "Face too small (min 80x80)"
	MsgTooDark      = "Image too dark"
	MsgOverexposed  = "Image overexposed"
	MsgTooBlurry    = "Image too blurry"
	MsgLowContrast  = "Low contrast"
)

// QualityReport is the outcome of CheckQuality.
type QualityReport struct {
	OK           bool    `json:"ok"`
	Reason       string  `json:"reason,omitempty"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	Brightness   float64 `json:"brightness"`
	Contrast     float64 `json:"contrast"`
	BlurVariance float64 `json:"blur_variance"`
}

// CheckQuality applies the face crop gates in order: size, brightness,
// sharpness, contrast. The first failing gate sets Reason.
func CheckQuality(img image.Image) QualityReport {
	b := img.Bounds()
	r := QualityReport{Width: b.Dx(), Height: b.Dy()}
	if r.Width < MinFaceSize || r.Height < MinFaceSize {
		r.Reason = MsgFaceTooSmall
		return r
	}

	gray := imaging.ToGray(img)
	r.Brightness, r.Contrast = gray.MeanStd()
	r.BlurVariance = gray.LaplacianVariance()

	switch {
	case r.Brightness < MinBrightness:
		r.Reason = MsgTooDark
	case r.Brightness > MaxBrightness:
		r.Reason = MsgOverexposed
	case r.BlurVariance < MinBlurVariance:
		r.Reason = MsgTooBlurry
	case r.Contrast < MinContrastStd:
		r.Reason = MsgLowContrast
	default:
		r.OK = true
	}
	return r
}

// FrameScore rates a whole camera frame or enrollment photo on a 0..100 scale.
type FrameScore struct {
	BlurScore       float64 `json:"blur_score"`
	BrightnessScore float64 `json:"brightness_score"`
	Brightness      float64 `json:"brightness"`
	Overall         float64 `json:"overall_score"`
	Acceptable      bool    `json:"is_acceptable"`
}

// ScoreFrame scores sharpness and exposure. Large frames are downscaled first.
func ScoreFrame(img image.Image) FrameScore {
	gray := imaging.ToGray(imaging.Fit(img, frameAnalysisMax))
	mean, _ := gray.MeanStd()

	s := FrameScore{
		BlurScore:  min(100, gray.LaplacianVariance()/10),
		Brightness: mean,
	}
	if mean > 50 && mean < 200 {
		s.BrightnessScore = 100
	} else {
		s.BrightnessScore = mean / 255 * 100
	}
	s.Overall = (s.BlurScore + s.BrightnessScore) / 2
	s.Acceptable = s.Overall > AcceptableScore
	return s
}

// Crop returns the part of img inside bbox [x1, y1, x2, y2], clipped to
// the image. A malformed bbox returns img unchanged.
func Crop(img image.Image, bbox []float64) image.Image {
	if len(bbox) != 4 {
		return img
	}
	rect := image.Rect(int(bbox[0]), int(bbox[1]), int(bbox[2]), int(bbox[3])).
		Add(img.Bounds().Min).
		Intersect(img.Bounds())
	if rect.Empty() {
		return img
	}
	if sub, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return sub.SubImage(rect)
	}
	return img
}
