package static

import (
	"bytes"
	"embed"
	"encoding/json"
	htmltemplate "html/template"
	"io"
	"sync"
	"text/template"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/camera"
)

//go:embed camera-manager.js.tmpl index.html.tmpl
var files embed.FS

// scriptData is rendered into camera-manager.js.
type scriptData struct {
	Desktop        camera.Constraints
	Mobile         camera.Constraints
	Messages       map[camera.ErrorKind]string
	Remediation    map[camera.Platform]string
	ErrorKinds     map[string]camera.ErrorKind
	CaptureQuality float64
}

var funcs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
}

var cameraScript = sync.OnceValues(func() ([]byte, error) {
	tmpl, err := template.New("camera-manager.js.tmpl").Funcs(funcs).ParseFS(files, "camera-manager.js.tmpl")
	if err != nil {
		return nil, err
	}
	data := scriptData{
		Desktop:        camera.DefaultConstraints(camera.FacingUser, false),
		Mobile:         camera.DefaultConstraints(camera.FacingUser, true),
		Messages:       camera.ErrorMessages,
		Remediation:    camera.PermissionRemediation,
		ErrorKinds:     camera.ErrorKinds(),
		CaptureQuality: camera.CaptureQuality,
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
})

// CameraManagerJS returns the browser camera script with the server's
// constraint defaults and error catalog baked in. It is rendered once.
func CameraManagerJS() ([]byte, error) {
	return cameraScript()
}

var landing = htmltemplate.Must(htmltemplate.ParseFS(files, "index.html.tmpl"))

// PageData fills the landing page.
type PageData struct {
	Title   string
	Version string
}

// RenderLanding writes the landing page.
func RenderLanding(w io.Writer, data PageData) error {
	return landing.Execute(w, data)
}
