package dto

import "time"

// CreateArchiveRequest asks for a snapshot of a closed academic year.
type CreateArchiveRequest struct {
	AcademicYear string `json:"academic_year" validate:"required"`
	Comment      string `json:"comment"`
}

// ExportArchiveRequest selects the export format.
type ExportArchiveRequest struct {
	Format string `json:"format" validate:"required,oneof=csv pdf xlsx"`
}

// ArchiveExportResponse points to a rendered export file.
type ArchiveExportResponse struct {
	AcademicYear string    `json:"academic_year"`
	Format       string    `json:"format"`
	FileName     string    `json:"file_name"`
	DownloadURL  string    `json:"download_url"`
	ExpiresAt    time.Time `json:"expires_at"`
}
