package upload

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"

	"github.com/rcliao/consult-recorder/internal/model"
)

// ticketClaims is the signed payload carried in a write destination.
type ticketClaims struct {
	Session string `json:"sid"`
	Chunk   int    `json:"idx"`
	Mime    string `json:"mime"`
	jwt.StandardClaims
}

// TicketSigner mints and verifies HMAC-signed ticket tokens.
type TicketSigner struct {
	key []byte
}

// NewTicketSigner creates a signer. An empty key is replaced by a random one,
// so tickets do not outlive the process.
func NewTicketSigner(key []byte) (*TicketSigner, error) {
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
	}
	return &TicketSigner{key: key}, nil
}

// Sign returns the token for ticket t.
func (s *TicketSigner) Sign(t *model.Ticket) (string, error) {
	claims := ticketClaims{
		Session: t.SessionID,
		Chunk:   t.ChunkIndex,
		Mime:    t.MimeType,
		StandardClaims: jwt.StandardClaims{
			Id:        t.ID,
			ExpiresAt: t.ExpiresAt.Unix(),
			IssuedAt:  time.Now().Unix(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign ticket: %w", err)
	}
	return token, nil
}

// Verify parses token and returns the ticket it was minted for.
// Returns model.ErrTicketExpired or model.ErrTicketInvalid.
func (s *TicketSigner) Verify(token string) (*model.Ticket, error) {
	var claims ticketClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return s.key, nil
	})
	if err != nil {
		var verr *jwt.ValidationError
		if errors.As(err, &verr) && verr.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, model.ErrTicketExpired
		}
		return nil, model.ErrTicketInvalid
	}
	if claims.Id == "" || claims.Session == "" || claims.Chunk < 0 {
		return nil, model.ErrTicketInvalid
	}
	return &model.Ticket{
		ID:          claims.Id,
		SessionID:   claims.Session,
		ChunkIndex:  claims.Chunk,
		MimeType:    claims.Mime,
		Token:       token,
		StoragePath: model.ChunkKey(claims.Session, claims.Chunk),
		ExpiresAt:   time.Unix(claims.ExpiresAt, 0).UTC(),
	}, nil
}
