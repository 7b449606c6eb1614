package tesseract_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/vishguard/pkg/provider/ocr"
	"github.com/MrWong99/vishguard/pkg/provider/ocr/tesseract"
)

func TestNew_EmptyURL(t *testing.T) {
	if _, err := tesseract.New(""); err == nil {
		t.Fatal("expected error for empty server URL")
	}
}

func TestExtract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tesseract" {
			http.NotFound(w, r)
			return
		}
		var opts struct {
			Languages []string `json:"languages"`
		}
		if err := json.Unmarshal([]byte(r.FormValue("options")), &opts); err != nil {
			t.Errorf("options: %v", err)
		}
		if len(opts.Languages) != 2 || opts.Languages[1] != "deu" {
			t.Errorf("languages = %v", opts.Languages)
		}
		if _, hdr, err := r.FormFile("file"); err != nil || hdr.Filename != "sms.png" {
			t.Errorf("file: %v", err)
		}
		w.Write([]byte(`{"data":{"stdout":"Your parcel is on hold.\nClick here\n","stderr":"","exit":{"code":0}}}`))
	}))
	defer srv.Close()

	x, err := tesseract.New(srv.URL, tesseract.WithLanguages("eng", "deu"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	text, err := x.Extract(context.Background(), ocr.Image{Name: "sms.png", Data: []byte{0x89, 'P', 'N', 'G'}})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if text != "Your parcel is on hold.\nClick here" {
		t.Errorf("text = %q", text)
	}
}

func TestExtract_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"http error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad", http.StatusBadRequest)
		}},
		{"nonzero exit", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data":{"stdout":"","stderr":"Error in pixReadMem","exit":{"code":1}}}`))
		}},
		{"bad json", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			x, _ := tesseract.New(srv.URL)
			if _, err := x.Extract(context.Background(), ocr.Image{Name: "a.png", Data: []byte{1}}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestIsImageFile(t *testing.T) {
	if !ocr.IsImageFile("SCREEN.PNG") || ocr.IsImageFile("call.wav") {
		t.Error("IsImageFile extension matching is wrong")
	}
}
