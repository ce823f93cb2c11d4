/**
 * MIME detection from magic bytes. Upload metadata is unreliable (browsers
 * and proxies frequently report application/octet-stream), so the content
 * itself is authoritative.
 */

package pdfutil

import "bytes"

const (
	MimePDF  = "application/pdf"
	MimePNG  = "image/png"
	MimeJPEG = "image/jpeg"
)

// DetectMimeType detects the actual MIME type from file content magic bytes.
// Returns "" when the content matches no known signature.
func DetectMimeType(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	// PDF: %PDF-
	if bytes.HasPrefix(data, []byte("%PDF")) {
		return MimePDF
	}

	// PNG: 0x89 'P' 'N' 'G' 0x0D 0x0A 0x1A 0x0A
	if len(data) >= 8 && bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}) {
		return MimePNG
	}

	// JPEG: 0xFF 0xD8 0xFF
	if bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}) {
		return MimeJPEG
	}

	// GIF: 'G' 'I' 'F' '8' ('7' or '9') 'a'
	if bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")) {
		return "image/gif"
	}

	// WebP: 'R' 'I' 'F' 'F' .... 'W' 'E' 'B' 'P'
	if len(data) > 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP" {
		return "image/webp"
	}

	return ""
}

// Supported reports whether the pipeline can split and reassemble documents
// of this MIME type.
func Supported(mimeType string) bool {
	switch mimeType {
	case MimePDF, MimePNG, MimeJPEG:
		return true
	}
	return false
}
