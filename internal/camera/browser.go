package camera

import (
	"image"
	"maps"
	"strings"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/imaging"
)

// CaptureQuality is the canvas.toDataURL quality used for photo capture.
const CaptureQuality = 0.92

// PermissionState mirrors the Permissions API state for "camera".
type PermissionState string

const (
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
	PermissionPrompt  PermissionState = "prompt"
	PermissionUnknown PermissionState = "unknown"
)

// ParsePermissionState maps unrecognized values, including browsers without
// the Permissions API, to PermissionUnknown.
func ParsePermissionState(s string) PermissionState {
	switch PermissionState(strings.ToLower(strings.TrimSpace(s))) {
	case PermissionGranted:
		return PermissionGranted
	case PermissionDenied:
		return PermissionDenied
	case PermissionPrompt:
		return PermissionPrompt
	}
	return PermissionUnknown
}

// Facing modes accepted by getUserMedia.
const (
	FacingUser        = "user"
	FacingEnvironment = "environment"
)

// Range is an ideal/max constraint pair.
type Range struct {
	Ideal int `json:"ideal"`
	Max   int `json:"max"`
}

// VideoConstraints is the video member of a MediaStreamConstraints object.
// Width, Height and FrameRate are omitted in the fallback form.
type VideoConstraints struct {
	FacingMode string `json:"facingMode"`
	Width      *Range `json:"width,omitempty"`
	Height     *Range `json:"height,omitempty"`
	FrameRate  *Range `json:"frameRate,omitempty"`
}

// Constraints is passed verbatim to navigator.mediaDevices.getUserMedia.
type Constraints struct {
	Video VideoConstraints `json:"video"`
	Audio bool             `json:"audio"`
}

// NormalizeFacing returns "environment" for that value and "user" otherwise.
func NormalizeFacing(facing string) string {
	if strings.EqualFold(strings.TrimSpace(facing), FacingEnvironment) {
		return FacingEnvironment
	}
	return FacingUser
}

// DefaultConstraints returns the first constraints tried for a device class.
func DefaultConstraints(facing string, mobile bool) Constraints {
	c := Constraints{Video: VideoConstraints{FacingMode: NormalizeFacing(facing)}}
	if mobile {
		c.Video.Width = &Range{Ideal: 640, Max: 1280}
		c.Video.Height = &Range{Ideal: 480, Max: 720}
		c.Video.FrameRate = &Range{Ideal: 24, Max: 30}
	} else {
		c.Video.Width = &Range{Ideal: 1280, Max: 1920}
		c.Video.Height = &Range{Ideal: 720, Max: 1080}
		c.Video.FrameRate = &Range{Ideal: 30, Max: 60}
	}
	return c
}

// FallbackConstraints keeps only the facing mode. Clients retry with it after
// an overconstrained error.
func FallbackConstraints(facing string) Constraints {
	return Constraints{Video: VideoConstraints{FacingMode: NormalizeFacing(facing)}}
}

// IsMobileUserAgent reports whether ua belongs to a phone or tablet browser.
func IsMobileUserAgent(ua string) bool {
	ua = strings.ToLower(ua)
	for _, marker := range []string{"iphone", "ipad", "ipod", "android", "mobile", "webos", "blackberry", "iemobile", "opera mini"} {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}

// Platform groups user agents by the permission remediation they need.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformDesktop Platform = "desktop"
)

// DetectPlatform classifies a user agent.
func DetectPlatform(ua string) Platform {
	lower := strings.ToLower(ua)
	switch {
	case strings.Contains(lower, "iphone"), strings.Contains(lower, "ipad"), strings.Contains(lower, "ipod"):
		return PlatformIOS
	case strings.Contains(lower, "android"):
		return PlatformAndroid
	}
	return PlatformDesktop
}

// ErrorKind is the classified cause of a failed camera start.
type ErrorKind string

const (
	ErrorPermissionDenied ErrorKind = "permission_denied"
	ErrorNotFound         ErrorKind = "not_found"
	ErrorBusy             ErrorKind = "busy"
	ErrorOverconstrained  ErrorKind = "overconstrained"
	ErrorUnsupported      ErrorKind = "unsupported"
	ErrorUnknown          ErrorKind = "unknown"
)

// CameraError is what the client shows the user.
type CameraError struct {
	Kind        ErrorKind `json:"kind"`
	Name        string    `json:"name"`
	Message     string    `json:"message"`
	Remediation string    `json:"remediation,omitempty"`
	Retryable   bool      `json:"retryable"`
}

// Error implements error.
func (e CameraError) Error() string {
	if e.Remediation == "" {
		return e.Message
	}
	return e.Message + " " + e.Remediation
}

var errorKinds = map[string]ErrorKind{
	"NotAllowedError":             ErrorPermissionDenied,
	"PermissionDeniedError":       ErrorPermissionDenied,
	"SecurityError":               ErrorPermissionDenied,
	"NotFoundError":               ErrorNotFound,
	"DevicesNotFoundError":        ErrorNotFound,
	"NotReadableError":            ErrorBusy,
	"TrackStartError":             ErrorBusy,
	"AbortError":                  ErrorBusy,
	"OverconstrainedError":        ErrorOverconstrained,
	"ConstraintNotSatisfiedError": ErrorOverconstrained,
	"TypeError":                   ErrorUnsupported,
	"NotSupportedError":           ErrorUnsupported,
}

// ErrorKinds returns a copy of the browser error name table.
func ErrorKinds() map[string]ErrorKind {
	return maps.Clone(errorKinds)
}

// ErrorMessages is the user-facing text per kind.
var ErrorMessages = map[ErrorKind]string{
	ErrorPermissionDenied: "Camera access was denied.",
	ErrorNotFound:         "No camera was found on this device.",
	ErrorBusy:             "The camera is already in use by another application.",
	ErrorOverconstrained:  "The camera does not support the requested settings.",
	ErrorUnsupported:      "Camera access is not supported by this browser. Use a recent browser over HTTPS.",
	ErrorUnknown:          "Could not start the camera.",
}

// PermissionRemediation tells the user how to re-enable camera access.
var PermissionRemediation = map[Platform]string{
	PlatformIOS:     "Open Settings > Safari > Camera, choose Allow, then reload this page.",
	PlatformAndroid: "Tap the lock icon in the address bar, open Permissions, allow Camera, then reload this page.",
	PlatformDesktop: "Click the camera icon in the address bar, allow access, then reload this page.",
}

// ClassifyError maps a browser error name (DOMException.name) to a
// CameraError with text suited to the user's platform.
func ClassifyError(name, userAgent string) CameraError {
	name = strings.TrimSpace(name)
	kind, ok := errorKinds[name]
	if !ok {
		kind = ErrorUnknown
	}

	e := CameraError{Kind: kind, Name: name, Message: ErrorMessages[kind]}
	switch kind {
	case ErrorPermissionDenied:
		e.Remediation = PermissionRemediation[DetectPlatform(userAgent)]
	case ErrorNotFound:
		e.Remediation = "Connect a camera and try again."
	case ErrorBusy:
		e.Remediation = "Close other apps or tabs using the camera and try again."
		e.Retryable = true
	case ErrorOverconstrained:
		e.Retryable = true
	case ErrorUnknown:
		e.Retryable = true
	}
	return e
}

// EncodeDataURL renders a captured frame the way the client does.
func EncodeDataURL(img image.Image) (string, error) {
	return imaging.EncodeDataURL(img, CaptureQuality)
}

// DecodeDataURL returns the JPEG bytes of a captured photo.
func DecodeDataURL(s string) ([]byte, error) {
	data, _, err := imaging.DecodeDataURL(s)
	return data, err
}
