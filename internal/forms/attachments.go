package forms

import (
	"errors"
	"fmt"
)

// Attachment limits for ticket creation.
const (
	MaxAttachmentSize  = 2 << 20 // per file
	MaxAttachmentCount = 5
	MaxAttachmentTotal = 8 << 20 // combined
)

var (
	ErrAttachmentTooLarge = errors.New("each image must be 2 MB or smaller")
	ErrTooManyAttachments = fmt.Errorf("at most %d images are allowed", MaxAttachmentCount)
	ErrAttachmentsTotal   = errors.New("combined image size must be 8 MB or smaller")
)

// AttachmentFile is a candidate upload.
type AttachmentFile struct {
	Name string
	Size int64
}

// AttachmentBatch accumulates accepted files for ticket creation.
// Adding is all-or-nothing per call: if any file in the new batch
// violates a rule, the whole batch is rejected and previously
// accepted files stay untouched.
type AttachmentBatch struct {
	files []AttachmentFile
	total int64
}

// Add validates and accepts the given files.
func (b *AttachmentBatch) Add(files ...AttachmentFile) error {
	if len(b.files)+len(files) > MaxAttachmentCount {
		return ErrTooManyAttachments
	}
	var added int64
	for _, f := range files {
		if f.Size > MaxAttachmentSize {
			return ErrAttachmentTooLarge
		}
		added += f.Size
	}
	if b.total+added > MaxAttachmentTotal {
		return ErrAttachmentsTotal
	}
	b.files = append(b.files, files...)
	b.total += added
	return nil
}

// Remove drops the file at index i, ignoring out-of-range indices.
func (b *AttachmentBatch) Remove(i int) {
	if i < 0 || i >= len(b.files) {
		return
	}
	b.total -= b.files[i].Size
	b.files = append(b.files[:i], b.files[i+1:]...)
}

// Files returns the accepted files in insertion order.
func (b *AttachmentBatch) Files() []AttachmentFile {
	out := make([]AttachmentFile, len(b.files))
	copy(out, b.files)
	return out
}

// TotalSize returns the combined size of accepted files.
func (b *AttachmentBatch) TotalSize() int64 { return b.total }

// Len returns the number of accepted files.
func (b *AttachmentBatch) Len() int { return len(b.files) }
