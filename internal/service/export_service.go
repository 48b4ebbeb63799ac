package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/memoire-api/pkg/export"
	"github.com/noah-isme/memoire-api/pkg/storage"
)

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*storage.StoredFile, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type urlSigner interface {
	Generate(subject, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (subject, relPath string, expiresAt time.Time, err error)
}

type datasetRenderer interface {
	Render(format export.Format, data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	FileName     string
	Token        string
	URL          string
	Format       export.Format
	ExpiresAt    time.Time
}

// ExportService renders datasets, persists the files and signs download links.
type ExportService struct {
	storage  fileStorage
	signer   urlSigner
	renderer datasetRenderer
	logger   *zap.Logger
	cfg      ExportConfig
	now      func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(storage fileStorage, signer urlSigner, renderer datasetRenderer, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if renderer == nil {
		renderer = export.NewRenderer()
	}
	return &ExportService{
		storage:  storage,
		signer:   signer,
		renderer: renderer,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Generate renders data in format, stores it and returns a signed link bound to subject.
func (s *ExportService) Generate(_ context.Context, subject, name string, format export.Format, data export.Dataset, title string) (*ExportResult, error) {
	payload, err := s.renderer.Render(format, data, title)
	if err != nil {
		return nil, fmt.Errorf("render %s export: %w", format, err)
	}

	filename := s.buildFilename(name, format)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(subject, relPath)
	if err != nil {
		return nil, err
	}
	signedURL := strings.TrimRight(s.cfg.APIPrefix, "/")
	if signedURL == "" {
		signedURL = "/api/v1"
	}
	signedURL = fmt.Sprintf("%s/archives/exports/download?token=%s", signedURL, token)

	s.logger.Info("export generated",
		zap.String("subject", subject),
		zap.String("format", string(format)),
		zap.String("path", relPath),
		zap.Int("bytes", len(payload)),
	)
	return &ExportResult{
		RelativePath: relPath,
		FileName:     filename,
		Token:        token,
		URL:          signedURL,
		Format:       format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (subject, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*storage.StoredFile, error) {
	return s.storage.Open(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(name string, format export.Format) string {
	timestamp := s.now().UTC().Format("20060102_150405")
	return fmt.Sprintf("%s_%s.%s", sanitizeFilename(name), timestamp, format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
