package validation

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/username/payfolio/src/logger"
)

// AllowedReportContentTypes is a map for quick lookup of allowed
// client-declared MIME types for report uploads (CSV or HTML).
var AllowedReportContentTypes = map[string]bool{
	"text/csv":                 true,
	"text/html":                true,
	"application/csv":          true,
	"application/vnd.ms-excel": true, // Often used for CSV by older Excel
	"text/plain":               true, // CSVs are often plain text
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": false, // .xlsx explicitly disallow
}

// ValidateReportContentType checks the Content-Type header provided by the client.
func ValidateReportContentType(contentType string) error {
	normalized := strings.ToLower(strings.Split(contentType, ";")[0])
	if allowed, exists := AllowedReportContentTypes[normalized]; !exists || !allowed {
		logger.L.Warn("Disallowed client-declared Content-Type", "contentType", contentType)
		return fmt.Errorf("client-declared file type '%s' is not allowed for report upload", contentType)
	}
	return nil
}

// isBinaryContent checks if a buffer contains binary control characters
// (like null bytes) which indicate the file is not valid text-based CSV/HTML.
func isBinaryContent(buf []byte) bool {
	if bytes.IndexByte(buf, 0) != -1 {
		return true
	}
	if !utf8.Valid(buf) {
		return true
	}
	return false
}

// ValidateReportContentByMagicBytes checks the actual file content signature
// and inspects the content to ensure it is text-based CSV/HTML.
func ValidateReportContentByMagicBytes(file io.ReadSeeker) (string, error) {
	if file == nil {
		return "", fmt.Errorf("file is nil")
	}

	// Read first 1024 bytes (1KB) for detection
	buffer := make([]byte, 1024)
	n, err := file.Read(buffer)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read file for content type checking: %w", err)
	}

	// IMPORTANT: Reset the file read pointer so the extractor can read the full file.
	if _, seekErr := file.Seek(0, io.SeekStart); seekErr != nil {
		return "", fmt.Errorf("failed to reset file read pointer: %w", seekErr)
	}

	if n == 0 {
		return "", fmt.Errorf("file is empty")
	}

	if isBinaryContent(buffer[:n]) {
		logger.L.Warn("File rejected: binary content detected in text upload")
		return "application/octet-stream", fmt.Errorf("file appears to be binary or executable, not text/CSV/HTML")
	}

	detectedContentType := http.DetectContentType(buffer[:n])
	detectedContentType = strings.ToLower(strings.Split(detectedContentType, ";")[0])

	allowedDetectedTypes := map[string]bool{
		"text/plain":      true,
		"text/csv":        true,
		"text/html":       true,
		"application/csv": true,
	}

	if !allowedDetectedTypes[detectedContentType] {
		logger.L.Warn("Disallowed detected file content type", "detectedContentType", detectedContentType)
		return detectedContentType, fmt.Errorf("detected file content type '%s' is not allowed", detectedContentType)
	}

	logger.L.Debug("File content type validated", "detectedContentType", detectedContentType)
	return detectedContentType, nil
}

// proofSignatures maps a payment-proof extension to its magic-byte prefix.
var proofSignatures = map[string][]byte{
	"pdf":  []byte("%PDF"),
	"jpg":  {0xFF, 0xD8, 0xFF},
	"jpeg": {0xFF, 0xD8, 0xFF},
	"png":  {0x89, 0x50, 0x4E, 0x47},
}

// ValidateProofContent checks that a payment proof's bytes match its
// declared extension (pdf, jpg, jpeg or png).
func ValidateProofContent(file io.ReadSeeker, extension string) error {
	sig, ok := proofSignatures[strings.ToLower(extension)]
	if !ok {
		return fmt.Errorf("proof file type '%s' is not allowed (use pdf, jpg, jpeg or png)", extension)
	}

	buffer := make([]byte, 8)
	n, err := file.Read(buffer)
	if err != nil && err != io.EOF {
		return fmt.Errorf("failed to read proof file for content checking: %w", err)
	}
	if _, seekErr := file.Seek(0, io.SeekStart); seekErr != nil {
		return fmt.Errorf("failed to reset proof file read pointer: %w", seekErr)
	}
	if n < len(sig) || !bytes.HasPrefix(buffer[:n], sig) {
		logger.L.Warn("Proof rejected: content does not match declared type", "extension", extension)
		return fmt.Errorf("proof file content does not match its '%s' extension", extension)
	}
	return nil
}
