// Package source fetches and decodes full-resolution source images by
// external reference, with a best-effort thumbnail-to-original resolution
// protocol and a small in-process pool of decoded images.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"github.com/gigaview/tile-engine/pkg/geometry"
)

// ErrSourceUnavailable indicates the image could not be fetched or decoded
// after the fallback chain was exhausted. Callers map it to an absent tile,
// not a server error.
var ErrSourceUnavailable = errors.New("source image unavailable")

const (
	// DefaultFetchTimeout bounds a single origin fetch. It is deliberately
	// shorter than the HTTP client timeout so one slow origin cannot stall
	// the whole pipeline; a timeout takes the same fallback path as a fetch
	// error.
	DefaultFetchTimeout = 10 * time.Second

	// DefaultClientTimeout is the outer bound on any single HTTP call,
	// including the asset lookup.
	DefaultClientTimeout = 30 * time.Second

	// DefaultPoolCapacity bounds the decoded image pool.
	DefaultPoolCapacity = 3

	// defaultAssetLookupURL is the provider endpoint that maps an asset ID
	// to its available renditions.
	defaultAssetLookupURL = "https://images-api.nasa.gov/asset/"

	// defaultProviderHost identifies references eligible for the asset
	// lookup. Thumbnail markers on foreign hosts are coincidental and get
	// fetched as-is.
	defaultProviderHost = "nasa.gov"
)

// Markers the provider embeds in rendition filenames.
const (
	markerThumb    = "~thumb"
	markerMobile   = "~mobile"
	markerOriginal = "~orig"
)

// SourceImage is a decoded, dimension-known source image. The decoded pixels
// are owned by the resolver's pool; callers must treat Image as read-only.
type SourceImage struct {
	// OriginalRef is the reference the caller asked for.
	OriginalRef string

	// ResolvedRef is the reference actually fetched, after any
	// thumbnail-to-original resolution.
	ResolvedRef string

	Width    int
	Height   int
	MaxLevel int

	// Image holds the decoded pixels, normalized to NRGBA with opaque alpha.
	Image *image.NRGBA
}

// Config holds resolver configuration.
type Config struct {
	// AssetLookupURL is the base URL of the provider's asset lookup; the
	// asset ID is appended. Empty disables original resolution.
	AssetLookupURL string

	// ProviderHost gates thumbnail resolution: only references whose host
	// contains this value are sent to the asset lookup. Empty means the
	// default provider.
	ProviderHost string

	// FetchTimeout bounds a single image fetch.
	FetchTimeout time.Duration

	// PoolCapacity bounds the decoded image pool.
	PoolCapacity int

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client

	Logger zerolog.Logger
}

// Resolver fetches full source images with original-resolution fallback and
// pools decoded results. Safe for concurrent use.
type Resolver struct {
	httpClient     *http.Client
	assetLookupURL string
	providerHost   string
	fetchTimeout   time.Duration
	pool           *pool
	logger         zerolog.Logger
}

// NewResolver creates a resolver. Zero-value config fields take defaults.
func NewResolver(cfg Config) *Resolver {
	if cfg.AssetLookupURL == "" {
		cfg.AssetLookupURL = defaultAssetLookupURL
	}
	if cfg.ProviderHost == "" {
		cfg.ProviderHost = defaultProviderHost
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.PoolCapacity <= 0 {
		cfg.PoolCapacity = DefaultPoolCapacity
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultClientTimeout}
	}
	return &Resolver{
		httpClient:     cfg.HTTPClient,
		assetLookupURL: cfg.AssetLookupURL,
		providerHost:   cfg.ProviderHost,
		fetchTimeout:   cfg.FetchTimeout,
		pool:           newPool(cfg.PoolCapacity),
		logger:         cfg.Logger,
	}
}

// Resolve produces a decoded source image for ref.
//
// When ref matches the provider's thumbnail pattern, the resolver first asks
// the asset lookup for an original-resolution rendition and fetches that. Any
// failure along the resolved path (lookup, fetch, timeout, decode) falls back
// to fetching ref directly — exactly one hop, no recursion. Returns
// ErrSourceUnavailable when the fallback is exhausted too.
func (r *Resolver) Resolve(ctx context.Context, ref string) (*SourceImage, error) {
	actual := ref
	if resolved, ok := r.resolveOriginal(ctx, ref); ok {
		actual = resolved
	}

	if img, ok := r.pool.get(actual); ok {
		PoolHits.Inc()
		return img, nil
	}

	start := time.Now()
	decoded, err := r.fetchDecode(ctx, actual)
	if err != nil && actual != ref {
		r.logger.Warn().Err(err).
			Str("resolved", actual).
			Str("original", ref).
			Msg("Original-resolution fetch failed, falling back to provided reference")
		Fetches.WithLabelValues("fallback").Inc()

		if img, ok := r.pool.get(ref); ok {
			PoolHits.Inc()
			return img, nil
		}
		actual = ref
		decoded, err = r.fetchDecode(ctx, actual)
	}
	if err != nil {
		Fetches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	FetchDuration.Observe(time.Since(start).Seconds())
	Fetches.WithLabelValues("ok").Inc()

	img := &SourceImage{
		OriginalRef: ref,
		ResolvedRef: actual,
		Width:       decoded.Bounds().Dx(),
		Height:      decoded.Bounds().Dy(),
		Image:       decoded,
	}
	img.MaxLevel = geometry.MaxLevel(img.Width, img.Height)

	r.pool.put(actual, img)

	r.logger.Debug().
		Str("ref", actual).
		Int("width", img.Width).
		Int("height", img.Height).
		Int("max_level", img.MaxLevel).
		Msg("Source image decoded")

	return img, nil
}

// PoolSize returns the current number of pooled decoded images.
func (r *Resolver) PoolSize() int {
	return r.pool.len()
}

// resolveOriginal maps a thumbnail reference to its original-resolution
// rendition via the provider's asset lookup. Returns ok=false when ref does
// not match the thumbnail pattern or the lookup yields nothing usable; the
// caller then proceeds with ref as-is.
func (r *Resolver) resolveOriginal(ctx context.Context, ref string) (string, bool) {
	if r.assetLookupURL == "" || !r.isProviderThumbnail(ref) {
		return "", false
	}
	assetID := extractAssetID(ref)
	if assetID == "" {
		return "", false
	}

	r.logger.Info().Str("asset_id", assetID).Msg("Resolving original-resolution rendition")

	reqCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, r.assetLookupURL+assetID, nil)
	if err != nil {
		return "", false
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.Warn().Err(err).Str("asset_id", assetID).Msg("Asset lookup failed, using provided reference")
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false
	}

	var doc struct {
		Collection struct {
			Items []struct {
				Href string `json:"href"`
			} `json:"items"`
		} `json:"collection"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		r.logger.Warn().Err(err).Str("asset_id", assetID).Msg("Asset lookup returned malformed document")
		return "", false
	}

	for _, item := range doc.Collection.Items {
		if strings.Contains(item.Href, markerOriginal) && hasRasterExtension(item.Href) {
			r.logger.Info().Str("resolved", item.Href).Msg("Resolved to original rendition")
			return item.Href, true
		}
	}
	return "", false
}

// fetchDecode fetches ref with the per-call timeout and decodes it into the
// normalized color representation.
func (r *Resolver) fetchDecode(ctx context.Context, ref string) (*image.NRGBA, error) {
	reqCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	r.logger.Info().Str("ref", ref).Msg("Fetching full source image")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", ref, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}

	decoded, err := imaging.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", ref, err)
	}

	return normalizeOpaque(decoded), nil
}

// normalizeOpaque converts a decoded image to NRGBA and discards its alpha
// channel. Every source enters the pipeline in one opaque color
// representation, so dynamic tiles always encode as JPEG regardless of the
// source format.
func normalizeOpaque(img image.Image) *image.NRGBA {
	nrgba := imaging.Clone(img)
	for i := 3; i < len(nrgba.Pix); i += 4 {
		nrgba.Pix[i] = 0xff
	}
	return nrgba
}

// isProviderThumbnail reports whether ref is a reduced-resolution rendition
// hosted by the configured provider. Foreign hosts are fetched as-is even
// when their paths happen to contain a thumbnail marker.
func (r *Resolver) isProviderThumbnail(ref string) bool {
	if !strings.Contains(ref, markerThumb) && !strings.Contains(ref, markerMobile) {
		return false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return strings.Contains(u.Hostname(), r.providerHost)
}

// extractAssetID pulls the asset identifier out of a rendition URL of the
// form .../image/<id>/<id>~thumb.jpg.
func extractAssetID(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	segments := strings.Split(u.Path, "/")
	for i, seg := range segments {
		if seg == "image" && i+1 < len(segments) && segments[i+1] != "" {
			return segments[i+1]
		}
	}
	return ""
}

func hasRasterExtension(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasSuffix(lower, ".jpg") ||
		strings.HasSuffix(lower, ".jpeg") ||
		strings.HasSuffix(lower, ".png")
}
