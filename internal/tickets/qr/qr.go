package qr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"ms-booking/internal/models"

	"github.com/skip2/go-qrcode"
)

var ErrInvalidPayload = errors.New("invalid QR payload")

// Payload is what a ticket's QR code carries once decrypted.
type Payload struct {
	TicketID string `json:"ticket_id"`
	EventID  string `json:"event_id"`
	Code     string `json:"code"`
}

type QRGenerator struct {
	secret []byte
}

func NewQRGenerator(secret string) *QRGenerator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &QRGenerator{secret: hashed[:]}
}

// Encode returns the encrypted, URL-safe payload for ticket.
func (q *QRGenerator) Encode(ticket models.Ticket) (string, error) {
	data, err := json.Marshal(Payload{TicketID: ticket.ID, EventID: ticket.EventID, Code: ticket.VerificationCode})
	if err != nil {
		return "", err
	}
	return encryptAES(data, q.secret)
}

// Decode reverses Encode. Tampered or foreign payloads fail with
// ErrInvalidPayload.
func (q *QRGenerator) Decode(encoded string) (*Payload, error) {
	data, err := decryptAES(encoded, q.secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.Code == "" || p.EventID == "" {
		return nil, ErrInvalidPayload
	}
	return &p, nil
}

// PNG renders the ticket's encrypted payload as a 256px QR image.
func (q *QRGenerator) PNG(ticket models.Ticket) ([]byte, error) {
	encrypted, err := q.Encode(ticket)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(encrypted, qrcode.Medium, 256)
}

func encryptAES(data []byte, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, data, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func decryptAES(encoded string, key []byte) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(raw) < gcm.NonceSize() {
		return nil, errors.New("payload too short")
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	return gcm.Open(nil, nonce, sealed, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
