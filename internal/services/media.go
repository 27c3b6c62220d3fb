package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"golang.org/x/image/draw"

	"github.com/yungbote/verdant-edge/internal/config"
	"github.com/yungbote/verdant-edge/internal/kvstore"
	"github.com/yungbote/verdant-edge/internal/platform/logger"
)

const (
	MediaUploadsKey  = "media_uploads"
	mediaBlobPrefix  = "media_blob_"
	progressStepSize = 10
)

var (
	ErrFileTooLarge    = errors.New("file too large")
	ErrUnsupportedType = errors.New("file type not allowed")
	ErrMediaNotFound   = errors.New("media not found")
	ErrEmptyFile       = errors.New("file is empty")
	ErrContentMismatch = errors.New("file content does not match its type")
)

type MediaFile struct {
	Name string
	// Type is the declared MIME type; detected from content when empty.
	Type string
	Data []byte
}

type Progress struct {
	Loaded     int64 `json:"loaded"`
	Total      int64 `json:"total"`
	Percentage int   `json:"percentage"`
}

// UploadOptions override the configured limits. Zero values keep the
// defaults.
type UploadOptions struct {
	MaxSize      int64
	AllowedTypes []string
	Compress     bool
	MaxWidth     int
	MaxHeight    int
	Quality      float64
	OnProgress   func(Progress)
}

type UploadResult struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	FileName   string    `json:"fileName"`
	Size       int64     `json:"size"`
	MIMEType   string    `json:"mimeType"`
	UploadedAt time.Time `json:"uploadedAt"`
}

type StoredMedia struct {
	UploadResult
	Data []byte
}

type MediaService interface {
	Upload(ctx context.Context, f MediaFile, opts UploadOptions) (*UploadResult, error)
	Open(ctx context.Context, id string) (*StoredMedia, error)
	List(ctx context.Context) ([]UploadResult, error)
	Delete(ctx context.Context, id string) error
}

type mediaService struct {
	log      *logger.Logger
	store    kvstore.Store
	cfg      config.MediaConfig
	baseURL  string
	interval time.Duration
	now      func() time.Time
	mu       sync.Mutex
}

// NewMediaService stores uploads in store and hands back URLs under
// publicBaseURL that resolve through Open.
func NewMediaService(store kvstore.Store, cfg config.MediaConfig, publicBaseURL string, baseLog *logger.Logger) MediaService {
	return &mediaService{
		log:      baseLog.With("service", "MediaService"),
		store:    store,
		cfg:      cfg,
		baseURL:  strings.TrimRight(publicBaseURL, "/"),
		interval: cfg.ProgressInterval.Duration,
		now:      time.Now,
	}
}

type mediaBlob struct {
	Data []byte `json:"data"`
}

func (s *mediaService) Upload(ctx context.Context, f MediaFile, opts UploadOptions) (*UploadResult, error) {
	opts = s.withDefaults(opts)
	size := int64(len(f.Data))
	if size == 0 {
		return nil, ErrEmptyFile
	}
	if opts.MaxSize > 0 && size > opts.MaxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, size, opts.MaxSize)
	}

	detected := mimetype.Detect(f.Data)
	declared := strings.ToLower(strings.TrimSpace(f.Type))
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	if declared == "" {
		declared = strings.SplitN(detected.String(), ";", 2)[0]
	}
	if !typeAllowed(declared, opts.AllowedTypes) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, declared)
	}
	if !detected.Is(declared) && family(detected.String()) != family(declared) {
		return nil, fmt.Errorf("%w: declared %s, detected %s", ErrContentMismatch, declared, detected.String())
	}
	// Within a family the content decides the stored type.
	mediaType := declared
	if !detected.Is(declared) {
		mediaType = strings.SplitN(detected.String(), ";", 2)[0]
		if !typeAllowed(mediaType, opts.AllowedTypes) {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mediaType)
		}
	}

	data := f.Data
	if opts.Compress && (mediaType == "image/jpeg" || mediaType == "image/png") {
		out, err := compressImage(f.Data, mediaType, opts.MaxWidth, opts.MaxHeight, opts.Quality)
		if err != nil {
			s.log.Warn("Image compression failed, storing original", "file", f.Name, "error", err)
		} else {
			data = out
		}
	}

	if err := s.simulateProgress(ctx, size, opts.OnProgress); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	name := path.Base(strings.TrimSpace(f.Name))
	if name == "." || name == "/" {
		name = id
	}
	res := UploadResult{
		ID:         id,
		URL:        s.baseURL + "/_edge/media/" + id,
		FileName:   name,
		Size:       int64(len(data)),
		MIMEType:   mediaType,
		UploadedAt: s.now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := kvstore.SetJSON(ctx, s.store, mediaBlobPrefix+id, mediaBlob{Data: data}); err != nil {
		return nil, err
	}
	var list []UploadResult
	if _, err := kvstore.GetJSON(ctx, s.store, MediaUploadsKey, &list); err != nil {
		return nil, err
	}
	list = append(list, res)
	if err := kvstore.SetJSON(ctx, s.store, MediaUploadsKey, list); err != nil {
		return nil, err
	}
	s.log.Info("Media uploaded", "id", id, "mime", declared, "size", res.Size)
	return &res, nil
}

func (s *mediaService) Open(ctx context.Context, id string) (*StoredMedia, error) {
	list, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range list {
		if m.ID != id {
			continue
		}
		var blob mediaBlob
		found, err := kvstore.GetJSON(ctx, s.store, mediaBlobPrefix+id, &blob)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, ErrMediaNotFound
		}
		return &StoredMedia{UploadResult: m, Data: blob.Data}, nil
	}
	return nil, ErrMediaNotFound
}

func (s *mediaService) List(ctx context.Context) ([]UploadResult, error) {
	var list []UploadResult
	if _, err := kvstore.GetJSON(ctx, s.store, MediaUploadsKey, &list); err != nil {
		return nil, err
	}
	if list == nil {
		list = []UploadResult{}
	}
	return list, nil
}

func (s *mediaService) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []UploadResult
	if _, err := kvstore.GetJSON(ctx, s.store, MediaUploadsKey, &list); err != nil {
		return err
	}
	kept := list[:0]
	for _, m := range list {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	if len(kept) == len(list) {
		return ErrMediaNotFound
	}
	if err := kvstore.SetJSON(ctx, s.store, MediaUploadsKey, kept); err != nil {
		return err
	}
	return s.store.Delete(ctx, mediaBlobPrefix+id)
}

func (s *mediaService) withDefaults(o UploadOptions) UploadOptions {
	if o.MaxSize == 0 {
		o.MaxSize = s.cfg.MaxBytes
	}
	if len(o.AllowedTypes) == 0 {
		o.AllowedTypes = s.cfg.AllowedTypes
	}
	if o.MaxWidth <= 0 {
		o.MaxWidth = s.cfg.MaxWidth
	}
	if o.MaxHeight <= 0 {
		o.MaxHeight = s.cfg.MaxHeight
	}
	if o.Quality <= 0 || o.Quality > 1 {
		o.Quality = s.cfg.Quality
	}
	if o.Quality <= 0 || o.Quality > 1 {
		o.Quality = 0.8
	}
	return o
}

// simulateProgress reports progress in fixed steps on a ticker. Percentages
// never decrease and the last event is always 100.
func (s *mediaService) simulateProgress(ctx context.Context, total int64, fn func(Progress)) error {
	if fn == nil {
		return ctx.Err()
	}
	var tick <-chan time.Time
	if s.interval > 0 {
		t := time.NewTicker(s.interval)
		defer t.Stop()
		tick = t.C
	}
	for pct := progressStepSize; pct <= 100; pct += progressStepSize {
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		fn(Progress{Loaded: total * int64(pct) / 100, Total: total, Percentage: pct})
	}
	return nil
}

// typeAllowed matches exact types and "major/*" wildcards. An empty list
// allows everything.
func typeAllowed(mime string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == mime || a == "*/*" {
			return true
		}
		if strings.HasSuffix(a, "/*") && family(mime) == strings.TrimSuffix(a, "/*") {
			return true
		}
	}
	return false
}

func family(mime string) string {
	major, _, _ := strings.Cut(mime, "/")
	return major
}

// compressImage fits src into maxW x maxH keeping its aspect ratio and
// re-encodes it in its own format.
func compressImage(src []byte, mime string, maxW, maxH int, quality float64) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxW > 0 && maxH > 0 && (w > maxW || h > maxH) {
		ratio := math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h))
		nw := max(1, int(math.Round(float64(w)*ratio)))
		nh := max(1, int(math.Round(float64(h)*ratio)))
		dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	switch mime {
	case "image/jpeg":
		q := int(math.Round(quality * 100))
		q = min(100, max(1, q))
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: q})
	case "image/png":
		err = (&png.Encoder{CompressionLevel: png.BestCompression}).Encode(&buf, img)
	default:
		return nil, fmt.Errorf("cannot compress %s", mime)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
