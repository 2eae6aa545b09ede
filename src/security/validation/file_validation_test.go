package validation

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/payfolio/src/logger"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

func TestValidateReportContentType(t *testing.T) {
	assert.NoError(t, ValidateReportContentType("text/csv"))
	assert.NoError(t, ValidateReportContentType("text/html; charset=utf-8"))
	assert.NoError(t, ValidateReportContentType("TEXT/PLAIN"))
	assert.Error(t, ValidateReportContentType("application/pdf"))
	assert.Error(t, ValidateReportContentType("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"))
}

func TestValidateReportContentByMagicBytes(t *testing.T) {
	_, err := ValidateReportContentByMagicBytes(bytes.NewReader([]byte("Date,Total_Amount_Charged\n2024-01-01,10\n")))
	assert.NoError(t, err)

	_, err = ValidateReportContentByMagicBytes(bytes.NewReader([]byte("<html><table></table></html>")))
	assert.NoError(t, err)

	// Binary payloads must be rejected no matter what the client declared.
	_, err = ValidateReportContentByMagicBytes(bytes.NewReader([]byte{0x00, 0x01, 0x02, 0x03}))
	assert.Error(t, err)

	_, err = ValidateReportContentByMagicBytes(bytes.NewReader(nil))
	assert.Error(t, err)
}

func TestValidateReportContentResetsReader(t *testing.T) {
	content := []byte("a,b\n1,2\n")
	reader := bytes.NewReader(content)

	_, err := ValidateReportContentByMagicBytes(reader)
	require.NoError(t, err)

	rest := make([]byte, len(content))
	n, _ := reader.Read(rest)
	assert.Equal(t, len(content), n, "reader must be rewound for the extractor")
}

func TestValidateProofContent(t *testing.T) {
	assert.NoError(t, ValidateProofContent(bytes.NewReader([]byte("%PDF-1.7 rest")), "pdf"))
	assert.NoError(t, ValidateProofContent(bytes.NewReader([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}), "jpg"))
	assert.NoError(t, ValidateProofContent(bytes.NewReader([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D}), "png"))

	// Extension/content mismatch.
	assert.Error(t, ValidateProofContent(bytes.NewReader([]byte("%PDF-1.7")), "png"))
	// Disallowed extension.
	assert.Error(t, ValidateProofContent(bytes.NewReader([]byte("%PDF-1.7")), "exe"))
	// Truncated signature.
	assert.Error(t, ValidateProofContent(bytes.NewReader([]byte{0x89}), "png"))
}
