// Package testutil provides test fixtures for the tile engine: a
// configurable mock image origin and deterministic image generators.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockOrigin is a configurable mock image provider for testing. It serves
// encoded images at registered paths and asset lookup documents at
// /asset/<id>, and counts the requests it receives.
type MockOrigin struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	// Tracking
	requestCount int
	pathCounts   map[string]int
}

// NewMockOrigin creates a new mock origin server.
func NewMockOrigin() *MockOrigin {
	mock := &MockOrigin{
		handlers:   make(map[string]http.HandlerFunc),
		pathCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.pathCounts[r.URL.Path]++
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}
		http.NotFound(w, r)
	}))

	return mock
}

// URL returns the mock server base URL.
func (m *MockOrigin) URL() string {
	return m.server.URL
}

// AssetLookupURL returns the base URL for asset lookups on this mock.
func (m *MockOrigin) AssetLookupURL() string {
	return m.server.URL + "/asset/"
}

// Close shuts down the mock server.
func (m *MockOrigin) Close() {
	m.server.Close()
}

// Reset clears all request tracking.
func (m *MockOrigin) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.pathCounts = make(map[string]int)
}

// RequestCount returns the total number of requests received.
func (m *MockOrigin) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// PathCount returns the number of requests received for a specific path.
func (m *MockOrigin) PathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathCounts[path]
}

// SetHandler registers a custom handler for a path.
func (m *MockOrigin) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// ServeJPEG registers a JPEG-encoded image at path.
func (m *MockOrigin) ServeJPEG(path string, img image.Image) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		panic(fmt.Sprintf("testutil: encode jpeg: %v", err))
	}
	m.serveBytes(path, "image/jpeg", buf.Bytes(), 0)
}

// ServePNG registers a PNG-encoded image at path.
func (m *MockOrigin) ServePNG(path string, img image.Image) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(fmt.Sprintf("testutil: encode png: %v", err))
	}
	m.serveBytes(path, "image/png", buf.Bytes(), 0)
}

// ServeSlowJPEG registers a JPEG that responds only after delay, for
// exercising per-call timeouts.
func (m *MockOrigin) ServeSlowJPEG(path string, img image.Image, delay time.Duration) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		panic(fmt.Sprintf("testutil: encode jpeg: %v", err))
	}
	m.serveBytes(path, "image/jpeg", buf.Bytes(), delay)
}

func (m *MockOrigin) serveBytes(path, contentType string, data []byte, delay time.Duration) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if delay > 0 {
			time.Sleep(delay)
		}
		w.Header().Set("Content-Type", contentType)
		w.Write(data)
	})
}

// SetAssetDocument registers an asset lookup document listing the given
// rendition hrefs for assetID.
func (m *MockOrigin) SetAssetDocument(assetID string, hrefs []string) {
	type item struct {
		Href string `json:"href"`
	}
	items := make([]item, len(hrefs))
	for i, href := range hrefs {
		items[i] = item{Href: href}
	}
	doc := map[string]any{
		"collection": map[string]any{"items": items},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		panic(fmt.Sprintf("testutil: marshal asset document: %v", err))
	}
	m.serveBytes("/asset/"+assetID, "application/json", data, 0)
}

// SetAssetError makes the asset lookup for assetID fail with the given
// status code.
func (m *MockOrigin) SetAssetError(assetID string, statusCode int) {
	m.SetHandler("/asset/"+assetID, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(statusCode), statusCode)
	})
}

// GradientImage generates a deterministic test image: a diagonal gradient
// with enough structure that crops of different regions differ.
func GradientImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8((x * 255) / max(width, 1)),
				G: uint8((y * 255) / max(height, 1)),
				B: uint8(((x + y) * 255) / max(width+height, 1)),
				A: 255,
			})
		}
	}
	return img
}

// TranslucentImage generates the gradient with a half-transparent alpha
// channel, for exercising alpha normalization.
func TranslucentImage(width, height int) *image.NRGBA {
	img := GradientImage(width, height)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 128
	}
	return img
}

// BrightSpotImage generates a mostly dark image with one bright square, for
// exercising the label detector.
func BrightSpotImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.NRGBA{R: 10, G: 10, B: 20, A: 255}
			if x >= width/4 && x < width/2 && y >= height/4 && y < height/2 {
				c = color.NRGBA{R: 250, G: 250, B: 240, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}
