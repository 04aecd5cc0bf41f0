package models

// AcquireRequest is the body for POST /api/session/acquire.
type AcquireRequest struct {
	Owner string `json:"owner" binding:"required"`
}

// SendRequest is the body for POST /api/session/{id}/send.
//
// File handling:
//   - MergePaths: text files whose contents are merged and embedded directly
//     into the message text. No limit on count. Read as UTF-8 with a
//     single-byte fallback and prepended to the message with filename
//     headers. NOT uploaded as files.
//   - FilePaths: binary files uploaded individually via the browser (images,
//     PDFs, ...). Maximum 9 per call.
type SendRequest struct {
	Message    string   `json:"message"`
	MergePaths []string `json:"merge_paths"`
	FilePaths  []string `json:"file_paths"`
}
