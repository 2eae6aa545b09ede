package services

import (
	"bytes"
	"encoding/base64"
	"image/png"

	"github.com/pquerna/otp/totp"
)

type MFAService struct{}

func NewMFAService() *MFAService {
	return &MFAService{}
}

// GenerateMFASecret creates a new TOTP secret and returns it together with
// the enrollment QR code as a base64 PNG for the frontend to display.
func (s *MFAService) GenerateMFASecret(username string) (secret string, qrCodeBase64 string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "Payfolio",
		AccountName: username,
	})
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	img, err := key.Image(200, 200)
	if err != nil {
		return "", "", err
	}

	err = png.Encode(&buf, img)
	if err != nil {
		return "", "", err
	}

	qrCodeBase64 = base64.StdEncoding.EncodeToString(buf.Bytes())
	return key.Secret(), qrCodeBase64, nil
}

func (s *MFAService) ValidateToken(secret string, token string) bool {
	return totp.Validate(token, secret)
}
