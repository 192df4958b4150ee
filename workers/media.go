package workers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"realty_pipeline/models"
	"realty_pipeline/services"
)

// Uploader is the object-storage capability the photo worker needs.
type Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
}

// PhotoWorker drains the listing photo queue: download, content-hash,
// upload, mark uploaded or failed.
type PhotoWorker struct {
	photos     *services.PhotoService
	uploader   Uploader
	httpClient *http.Client
	logFn      LogFunc
	trigger    chan struct{}
}

func NewPhotoWorker(photos *services.PhotoService, uploader Uploader, client *http.Client) *PhotoWorker {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &PhotoWorker{
		photos:     photos,
		uploader:   uploader,
		httpClient: client,
		logFn:      NoOpLogger,
		trigger:    make(chan struct{}, 1),
	}
}

func (w *PhotoWorker) SetLogFunc(fn LogFunc) {
	if fn != nil {
		w.logFn = fn
	}
}

// Trigger requests an immediate batch without waiting for the ticker.
func (w *PhotoWorker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Run starts the photo worker loop.
func (w *PhotoWorker) Run(ctx context.Context, batchSize int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Photo worker stopping")
			return
		case <-w.trigger:
			w.processBatch(ctx, batchSize)
		case <-ticker.C:
			w.processBatch(ctx, batchSize)
		}
	}
}

func (w *PhotoWorker) processBatch(ctx context.Context, batchSize int) {
	photos, err := w.photos.GetPending(ctx, batchSize)
	if err != nil {
		log.Printf("Photo worker: query error: %v", err)
		return
	}
	if len(photos) == 0 {
		return
	}

	log.Printf("Photo worker: processing %d photos", len(photos))

	var processed, failed int
	for i := range photos {
		p := &photos[i]

		result := w.process(ctx, p)
		if result.err != nil {
			log.Printf("Photo worker: failed %s: %v", p.OriginalURL, result.err)
			failed++
			if err := w.photos.MarkFailed(ctx, p.ID, p.Attempts+1); err != nil {
				log.Printf("Photo worker: failed to mark %s: %v", p.ID, err)
			}
			continue
		}

		if err := w.photos.MarkUploaded(ctx, p.ID, result.s3Key, result.contentHash); err != nil {
			log.Printf("Photo worker: failed to update %s: %v", p.ID, err)
			failed++
			continue
		}

		processed++
		log.Printf("Photo worker: uploaded %s -> %s (%d bytes)", p.ID, result.s3Key, result.size)

		// Rate limit between downloads
		time.Sleep(200 * time.Millisecond)
	}

	if processed > 0 || failed > 0 {
		w.logFn(models.LogLevelInfo, "photo_worker",
			fmt.Sprintf("processed %d, failed %d", processed, failed))
	}
}

type photoResult struct {
	s3Key       string
	contentHash string
	size        int64
	err         error
}

func (w *PhotoWorker) process(ctx context.Context, photo *models.ListingPhoto) photoResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, photo.OriginalURL, nil)
	if err != nil {
		return photoResult{err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "image/*,*/*")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return photoResult{err: fmt.Errorf("download: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return photoResult{err: fmt.Errorf("download status: %d", resp.StatusCode)}
	}

	// 25MB cap; listing photos are far smaller.
	data, err := io.ReadAll(io.LimitReader(resp.Body, 25*1024*1024))
	if err != nil {
		return photoResult{err: fmt.Errorf("read body: %w", err)}
	}

	hash := sha256.Sum256(data)
	contentHash := hex.EncodeToString(hash[:])
	ext := guessExtension(photo.OriginalURL, resp.Header.Get("Content-Type"))
	key := fmt.Sprintf("%s/%s%s", contentHash[:2], contentHash, ext)

	if w.uploader != nil {
		contentType := resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "image/jpeg"
		}
		if err := w.uploader.Upload(ctx, key, bytes.NewReader(data), contentType); err != nil {
			return photoResult{err: fmt.Errorf("upload: %w", err)}
		}
	}

	return photoResult{s3Key: key, contentHash: contentHash, size: int64(len(data))}
}

// guessExtension determines file extension from URL or content-type
func guessExtension(url, contentType string) string {
	ext := strings.ToLower(path.Ext(url))
	if i := strings.IndexByte(ext, '?'); i >= 0 {
		ext = ext[:i]
	}
	if isImageExt(ext) {
		return ext
	}

	switch contentType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func isImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	}
	return false
}

// NoOpUploader drains the reader and skips the actual upload. Used
// when object storage is not configured.
type NoOpUploader struct{}

func (u *NoOpUploader) Upload(ctx context.Context, key string, data io.Reader, contentType string) error {
	io.Copy(io.Discard, data)
	return nil
}

func NewNoOpUploader() *NoOpUploader {
	return &NoOpUploader{}
}
