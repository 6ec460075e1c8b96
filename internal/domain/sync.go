package domain

// SyncMode selects how much a sync transfers.
type SyncMode int

const (
	// SyncWithoutAttachments transfers messages but leaves attachment bodies
	// for an explicit download.
	SyncWithoutAttachments SyncMode = iota
	// SyncWithAttachments also downloads every attachment body.
	SyncWithAttachments
)

func (m SyncMode) String() string {
	if m == SyncWithAttachments {
		return "with_attachments"
	}
	return "without_attachments"
}

// SyncProgress is a snapshot of a running sync. It is replaced as a whole on
// every progress report.
type SyncProgress struct {
	MessagesProcessed    int   `json:"messages_processed"`
	MessagesTotal        int   `json:"messages_total"`
	AttachmentsProcessed int   `json:"attachments_processed"`
	AttachmentsTotal     int   `json:"attachments_total"`
	BytesUploaded        int64 `json:"bytes_uploaded"`
	BytesToUpload        int64 `json:"bytes_to_upload"`
	BytesDownloaded      int64 `json:"bytes_downloaded"`
	BytesToDownload      int64 `json:"bytes_to_download"`
}

// MessageSyncRatio is the share of messages processed, in [0,1].
func (p SyncProgress) MessageSyncRatio() float64 {
	return ratio(int64(p.MessagesProcessed), int64(p.MessagesTotal))
}

// AttachmentDownloadRatio is the share of attachment bytes downloaded, in [0,1].
func (p SyncProgress) AttachmentDownloadRatio() float64 {
	return ratio(p.BytesDownloaded, p.BytesToDownload)
}

// MessageUploadRatio is the share of outgoing bytes uploaded, in [0,1].
func (p SyncProgress) MessageUploadRatio() float64 {
	return ratio(p.BytesUploaded, p.BytesToUpload)
}

// ratio returns done/total clamped to [0,1]; a zero or negative total yields 0.
func ratio(done, total int64) float64 {
	if total <= 0 || done <= 0 {
		return 0
	}
	if done >= total {
		return 1
	}
	return float64(done) / float64(total)
}
