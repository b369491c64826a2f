package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/fathima-sithara/order-messaging/internal/domain"
	"github.com/fathima-sithara/order-messaging/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ObjectStore is the binary storage collaborator.
type ObjectStore interface {
	// Put stores data under key and returns its durable URL.
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)
	// BaseURL is the prefix every URL returned by Put starts with. The rest of
	// the URL is the key with each segment path-escaped.
	BaseURL() string
}

var DefaultAllowedTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"application/pdf",
	"text/plain",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.oasis.opendocument.text",
}

const (
	keyPrefix   = "attachments/"
	thumbSuffix = "_thumb.jpg"
)

type Config struct {
	MaxBytes       int64
	AllowedTypes   []string
	ThumbnailWidth int
	// MaxThumbnailPixels bounds the decoded size of an image we thumbnail.
	// Larger images are stored without a thumbnail.
	MaxThumbnailPixels int64
}

// Uploader validates attachments and writes them to the object store.
type Uploader struct {
	store   ObjectStore
	cfg     Config
	allowed map[string]bool
	metrics *metrics.Metrics
	log     *zap.SugaredLogger
}

func NewUploader(store ObjectStore, cfg Config, m *metrics.Metrics, log *zap.SugaredLogger) *Uploader {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10 << 20
	}
	if len(cfg.AllowedTypes) == 0 {
		cfg.AllowedTypes = DefaultAllowedTypes
	}
	if cfg.ThumbnailWidth <= 0 {
		cfg.ThumbnailWidth = 320
	}
	if cfg.MaxThumbnailPixels <= 0 {
		cfg.MaxThumbnailPixels = 50_000_000
	}
	allowed := make(map[string]bool, len(cfg.AllowedTypes))
	for _, t := range cfg.AllowedTypes {
		allowed[strings.ToLower(t)] = true
	}
	return &Uploader{store: store, cfg: cfg, allowed: allowed, metrics: m, log: log}
}

func (u *Uploader) MaxBytes() int64 { return u.cfg.MaxBytes }

// File is an attachment as received from the caller. Size is the declared
// size, or -1 when unknown.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Upload validates f and stores it under the order. It fails with
// ErrInvalidAttachment before any storage I/O when the file is rejected and
// with ErrUploadFailed when storage fails.
func (u *Uploader) Upload(ctx context.Context, orderID string, f File) (*domain.Attachment, error) {
	att, data, err := u.validate(f)
	if err != nil {
		u.metrics.Upload("rejected")
		return nil, err
	}

	key := keyPrefix + orderID + "/" + uuid.NewString() + "_" + att.Name
	location, err := u.store.Put(ctx, key, att.MimeType, data)
	if err != nil {
		u.metrics.Upload("failed")
		u.log.Warnw("attachment put failed", "key", key, "err", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrUploadFailed, err)
	}
	att.URL = location

	if strings.HasPrefix(att.MimeType, "image/") {
		att.ThumbnailURL = u.thumbnail(ctx, key, data)
	}
	u.metrics.Upload("ok")
	return att, nil
}

func (u *Uploader) validate(f File) (*domain.Attachment, []byte, error) {
	if f.Size > u.cfg.MaxBytes {
		return nil, nil, fmt.Errorf("%w (%d > %d bytes)", domain.ErrAttachmentTooBig, f.Size, u.cfg.MaxBytes)
	}
	if f.Body == nil {
		return nil, nil, fmt.Errorf("%w: no content", domain.ErrInvalidAttachment)
	}
	data, err := io.ReadAll(io.LimitReader(f.Body, u.cfg.MaxBytes+1))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read: %v", domain.ErrInvalidAttachment, err)
	}
	if int64(len(data)) > u.cfg.MaxBytes {
		return nil, nil, fmt.Errorf("%w (over %d bytes)", domain.ErrAttachmentTooBig, u.cfg.MaxBytes)
	}
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("%w: empty file", domain.ErrInvalidAttachment)
	}

	mt := normalizeType(f.ContentType)
	if mt == "" || mt == "application/octet-stream" {
		mt = normalizeType(http.DetectContentType(data))
	}
	if !u.allowed[mt] {
		return nil, nil, fmt.Errorf("%w: type %q not allowed", domain.ErrInvalidAttachment, mt)
	}

	return &domain.Attachment{
		Name:     sanitizeName(f.Name),
		MimeType: mt,
		Size:     int64(len(data)),
	}, data, nil
}

// Verify checks a reference from an earlier upload before a send reuses it.
// Only objects stored in the order's folder are accepted.
func (u *Uploader) Verify(ctx context.Context, orderID string, ref *domain.Attachment) error {
	if ref == nil || ref.URL == "" || ref.Name == "" || orderID == "" {
		return fmt.Errorf("%w: incomplete attachment reference", domain.ErrInvalidAttachment)
	}
	if !u.allowed[normalizeType(ref.MimeType)] {
		return fmt.Errorf("%w: type %q not allowed", domain.ErrInvalidAttachment, ref.MimeType)
	}
	key, ok := u.keyOf(orderID, ref.URL)
	if !ok {
		return fmt.Errorf("%w: unknown attachment reference", domain.ErrInvalidAttachment)
	}
	if ref.ThumbnailURL != "" && ref.ThumbnailURL != ref.URL+thumbSuffix {
		return fmt.Errorf("%w: unknown thumbnail reference", domain.ErrInvalidAttachment)
	}

	found, err := u.store.Exists(ctx, key)
	if err != nil {
		u.log.Warnw("attachment lookup failed", "key", key, "err", err)
		return fmt.Errorf("%w: %v", domain.ErrUploadFailed, err)
	}
	if !found {
		return fmt.Errorf("%w: attachment not uploaded", domain.ErrInvalidAttachment)
	}
	return nil
}

// keyOf maps a URL issued by Put back to its key when it lies directly in the
// order's folder.
func (u *Uploader) keyOf(orderID, rawURL string) (string, bool) {
	base := strings.TrimRight(u.store.BaseURL(), "/") + "/"
	if !strings.HasPrefix(rawURL, base) {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimPrefix(rawURL, base))
	if err != nil {
		return "", false
	}
	name, ok := strings.CutPrefix(key, keyPrefix+orderID+"/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return key, true
}

// thumbnail is best effort: any failure leaves the attachment without one.
func (u *Uploader) thumbnail(ctx context.Context, key string, data []byte) string {
	conf, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	if int64(conf.Width)*int64(conf.Height) > u.cfg.MaxThumbnailPixels {
		u.log.Debugw("image too large to thumbnail", "key", key, "width", conf.Width, "height", conf.Height)
		return ""
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	if img.Bounds().Dx() > u.cfg.ThumbnailWidth {
		img = imaging.Resize(img, u.cfg.ThumbnailWidth, 0, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
		return ""
	}
	thumbURL, err := u.store.Put(ctx, key+thumbSuffix, "image/jpeg", buf.Bytes())
	if err != nil {
		u.log.Debugw("thumbnail put failed", "key", key, "err", err)
		return ""
	}
	return thumbURL
}

func normalizeType(ct string) string {
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	if mt == "image/jpg" {
		mt = "image/jpeg"
	}
	return strings.ToLower(mt)
}

func sanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return name
}
