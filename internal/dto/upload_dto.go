package dto

import "time"

// UploadResponse is returned after an attachment is stored; it can be sent back as an attachment.
type UploadResponse struct {
	URL        string    `json:"url"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	Size       int64     `json:"size"`
	Checksum   string    `json:"checksum"`
	UploadedAt time.Time `json:"uploadedAt"`
}
