package model

// Document is an uploaded PDF as confirmed by the server. It is never
// mutated; a newer successful upload replaces it.
type Document struct {
	ID       int64  `json:"document_id"`
	Filename string `json:"filename"`
}

// UploadStatus describes the upload lifecycle.
type UploadStatus string

const (
	UploadIdle      UploadStatus = "idle"
	UploadUploading UploadStatus = "uploading"
	UploadSuccess   UploadStatus = "success"
	UploadError     UploadStatus = "error"
)

// UploadState is a snapshot of the upload controller. Progress is 0..100;
// Filename is set while uploading and after success, Error only in the
// error state.
type UploadState struct {
	Status   UploadStatus `json:"status"`
	Progress int          `json:"progress"`
	Filename string       `json:"filename,omitempty"`
	Error    string       `json:"error,omitempty"`
}
