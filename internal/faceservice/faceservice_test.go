package faceservice

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database/mock"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/facematch"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/imaging"
)

func unit(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

// noisy returns a 0..255 pattern that passes every quality gate.
func noisy(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			v := uint8(60 + (x*37+y*91)%140)
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func flat(w, h int, v uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func jpegBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	data, err := imaging.EncodeJPEG(img, 95)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

type fakeDetector struct {
	resp *FaceResponse
	err  error
}

func (f *fakeDetector) DetectFaces(ctx context.Context, imageData []byte) (*FaceResponse, error) {
	return f.resp, f.err
}

func TestEmbeddingClientDetectFaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("missing file part: %v", err)
		}
		file.Close()
		if header.Header.Get("Content-Type") != "image/jpeg" {
			t.Errorf("part content type = %q", header.Header.Get("Content-Type"))
		}
		json.NewEncoder(w).Encode(FaceResponse{
			FacesCount: 2,
			Faces: []FaceDetection{
				{FaceIndex: 0, Dim: 3, Embedding: []float32{1, 0, 0}, DetScore: 0.6},
				{FaceIndex: 1, Dim: 3, Embedding: []float32{0, 1, 0}, DetScore: 0.9},
			},
		})
	}))
	defer srv.Close()

	client := NewEmbeddingClient(srv.URL+"/", 5*time.Second)
	resp, err := client.DetectFaces(context.Background(), jpegBytes(t, noisy(16, 16)))
	if err != nil {
		t.Fatalf("DetectFaces: %v", err)
	}
	best, err := resp.Best()
	if err != nil || best.FaceIndex != 1 {
		t.Errorf("Best = %+v (%v), want face 1", best, err)
	}
}

func TestEmbeddingClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewEmbeddingClient(srv.URL, time.Second)
	if _, err := client.DetectFaces(context.Background(), []byte("12345678")); err == nil {
		t.Error("expected error on 500")
	}
	if err := client.Health(context.Background()); err == nil {
		t.Error("expected unhealthy server")
	}
}

func TestCheckQuality(t *testing.T) {
	tests := []struct {
		name   string
		img    image.Image
		reason string
	}{
		{"too small", noisy(60, 120), MsgFaceTooSmall},
		{"too dark", flat(100, 100, 10), MsgTooDark},
		{"overexposed", flat(100, 100, 250), MsgOverexposed},
		{"blurry", flat(100, 100, 128), MsgTooBlurry},
		{"good", noisy(100, 100), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := CheckQuality(tt.img)
			if r.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q (report %+v)", r.Reason, tt.reason, r)
			}
			if r.OK != (tt.reason == "") {
				t.Errorf("OK = %v", r.OK)
			}
		})
	}
}

func TestScoreFrame(t *testing.T) {
	good := ScoreFrame(noisy(200, 150))
	if good.BrightnessScore != 100 || good.BlurScore != 100 || !good.Acceptable {
		t.Errorf("expected sharp, well exposed frame to be acceptable: %+v", good)
	}

	dark := ScoreFrame(flat(200, 150, 20))
	if dark.BlurScore != 0 || dark.Acceptable {
		t.Errorf("expected flat dark frame to be rejected: %+v", dark)
	}
	want := 20.0 / 255 * 100
	if dark.BrightnessScore < want-0.5 || dark.BrightnessScore > want+0.5 {
		t.Errorf("BrightnessScore = %v, want about %v", dark.BrightnessScore, want)
	}
}

func TestCrop(t *testing.T) {
	img := noisy(200, 200)
	got := Crop(img, []float64{10, 20, 110, 140}).Bounds()
	if got.Dx() != 100 || got.Dy() != 120 {
		t.Errorf("crop = %v", got)
	}
	if Crop(img, []float64{1, 2}) != image.Image(img) {
		t.Error("expected malformed bbox to return the image")
	}
}

func TestServiceExtractEmbedding(t *testing.T) {
	data := jpegBytes(t, noisy(200, 200))
	emb := []float32{3, 4, 0}

	t.Run("normalizes best face", func(t *testing.T) {
		svc := NewService(&fakeDetector{resp: &FaceResponse{Faces: []FaceDetection{
			{Embedding: emb, BBox: []float64{0, 0, 150, 150}, DetScore: 0.99},
		}}}, 3)
		ext, err := svc.ExtractEmbedding(context.Background(), data, true)
		if err != nil {
			t.Fatalf("ExtractEmbedding: %v", err)
		}
		if ext.Embedding[0] < 0.59 || ext.Embedding[0] > 0.61 {
			t.Errorf("expected normalized embedding, got %v", ext.Embedding)
		}
		if ext.Quality == nil || !ext.Quality.OK {
			t.Errorf("expected passing quality report, got %+v", ext.Quality)
		}
	})

	t.Run("no face", func(t *testing.T) {
		svc := NewService(&fakeDetector{resp: &FaceResponse{}}, 3)
		_, err := svc.ExtractEmbedding(context.Background(), data, false)
		if !IsNoFace(err) {
			t.Errorf("expected ErrNoFace, got %v", err)
		}
	})

	t.Run("small face fails quality", func(t *testing.T) {
		svc := NewService(&fakeDetector{resp: &FaceResponse{Faces: []FaceDetection{
			{Embedding: emb, BBox: []float64{0, 0, 40, 40}, DetScore: 0.9},
		}}}, 3)
		_, err := svc.ExtractEmbedding(context.Background(), data, true)
		var qe *QualityError
		if !errors.As(err, &qe) || qe.Error() != MsgFaceTooSmall {
			t.Errorf("expected quality error, got %v", err)
		}
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		svc := NewService(&fakeDetector{resp: &FaceResponse{Faces: []FaceDetection{{Embedding: emb}}}}, 512)
		_, err := svc.ExtractEmbedding(context.Background(), data, false)
		if !errors.Is(err, database.ErrDimensionMismatch) {
			t.Errorf("expected dimension mismatch, got %v", err)
		}
	})

	t.Run("undecodable image", func(t *testing.T) {
		svc := NewService(&fakeDetector{}, 3)
		if _, err := svc.ExtractEmbedding(context.Background(), []byte("not an image"), false); err == nil {
			t.Error("expected decode error")
		}
	})
}

func TestRecognizer(t *testing.T) {
	ctx := context.Background()
	persons := mock.NewMockPersonStore()
	rec := NewRecognizer(persons, nil, 0, 0)

	uid := int64(7)
	alice := &database.Person{Name: "Alice", UserID: &uid}
	if err := rec.Add(ctx, alice, [][]float32{unit(8, 0), unit(8, 0)}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	bob := &database.Person{Name: "Bob"}
	if err := rec.Add(ctx, bob, [][]float32{unit(8, 1)}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := rec.Recognize(ctx, unit(8, 0), false)
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if !got.Matched() || got.Match.PersonID != alice.ID || *got.Match.UserID != uid {
		t.Errorf("expected Alice, got %+v", got)
	}

	// Halfway between Alice and Bob: similarity ~0.71 for both.
	mid := []float32{1, 1, 0, 0, 0, 0, 0, 0}
	got, _ = rec.Recognize(ctx, mid, false)
	if got.Matched() || got.Outcome != facematch.OutcomeBelowThreshold {
		t.Errorf("expected below threshold, got %s", got.Outcome)
	}

	// Alice ~0.74, Bob ~0.67: over a 0.7 threshold but within the margin.
	near := []float32{1, 0.9, 0.05, 0, 0, 0, 0, 0}
	loose := NewRecognizer(persons, nil, 0.7, 0)
	got, _ = loose.Recognize(ctx, near, false)
	if got.Outcome != facematch.OutcomeAmbiguous {
		t.Errorf("expected ambiguous, got %s", got.Outcome)
	}
	got, _ = loose.Recognize(ctx, unit(8, 0), true)
	if !got.Matched() {
		t.Errorf("expected strict match for an exact face, got %s", got.Outcome)
	}

	stats, err := rec.Stats(ctx)
	if err != nil || stats.Persons != 2 || stats.Embeddings != 3 || stats.IndexEnabled {
		t.Errorf("Stats = %+v (%v)", stats, err)
	}
	if err := rec.Sync(ctx); err != nil {
		t.Errorf("Sync without index: %v", err)
	}
}

func TestDuplicateChecker(t *testing.T) {
	ctx := context.Background()
	persons := mock.NewMockPersonStore()
	persons.AddPerson(database.Person{Name: "Alice"}, unit(8, 0), unit(8, 0))
	persons.AddPerson(database.Person{Name: "Bob"}, unit(8, 1))

	checker := NewDuplicateChecker(persons, 0, 0)
	dups, err := checker.FindDuplicates(ctx, unit(8, 0))
	if err != nil {
		t.Fatalf("FindDuplicates: %v", err)
	}
	if len(dups) != 1 || dups[0].PersonName != "Alice" || !dups[0].IsHighMatch || dups[0].Confidence < 99.9 {
		t.Errorf("expected one high Alice match, got %+v", dups)
	}

	merged, err := checker.FindDuplicatesAny(ctx, [][]float32{unit(8, 0), unit(8, 1)})
	if err != nil || len(merged) != 2 {
		t.Errorf("expected both persons, got %+v (%v)", merged, err)
	}
}

func TestRecognizerLeavesInputsUntouched(t *testing.T) {
	ctx := context.Background()
	rec := NewRecognizer(mock.NewMockPersonStore(), nil, 0, 0)

	photo := []float32{3, 4, 0}
	if err := rec.Add(ctx, &database.Person{Name: "Dana"}, [][]float32{photo}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	query := []float32{6, 8, 0}
	if _, err := rec.Recognize(ctx, query, false); err != nil {
		t.Fatalf("Recognize: %v", err)
	}

	if photo[0] != 3 || photo[1] != 4 {
		t.Errorf("Add modified its embedding: %v", photo)
	}
	if query[0] != 6 || query[1] != 8 {
		t.Errorf("Recognize modified its embedding: %v", query)
	}
}
