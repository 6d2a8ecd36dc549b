package qr

import (
	"bytes"
	"testing"

	"ms-booking/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTicket() models.Ticket {
	return models.Ticket{ID: "ticket-1", EventID: "event-1", VerificationCode: "ABCDEFGH2345"}
}

func TestEncodeDecode(t *testing.T) {
	q := NewQRGenerator("test-secret-key")

	encoded, err := q.Encode(testTicket())
	require.NoError(t, err)
	assert.NotContains(t, encoded, "ABCDEFGH2345")

	p, err := q.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, Payload{TicketID: "ticket-1", EventID: "event-1", Code: "ABCDEFGH2345"}, *p)

	// fresh nonce per encoding
	again, err := q.Encode(testTicket())
	require.NoError(t, err)
	assert.NotEqual(t, encoded, again)
}

func TestDecode_Rejects(t *testing.T) {
	q := NewQRGenerator("test-secret-key")
	encoded, err := q.Encode(testTicket())
	require.NoError(t, err)

	_, err = NewQRGenerator("another-secret").Decode(encoded)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	tampered := []byte(encoded)
	tampered[len(tampered)-2] ^= 0x01
	_, err = q.Decode(string(tampered))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	for _, raw := range []string{"", "ABCDEFGH2345", "!!not-base64!!"} {
		_, err = q.Decode(raw)
		assert.ErrorIs(t, err, ErrInvalidPayload, raw)
	}
}

func TestPNG(t *testing.T) {
	png, err := NewQRGenerator("test-secret-key").PNG(testTicket())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
}
