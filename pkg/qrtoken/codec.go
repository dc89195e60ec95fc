package qrtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/hkdf"

	appErrors "github.com/noah-isme/dronexam-api/pkg/errors"
)

const (
	// Version is the only record layout the codec emits and accepts.
	Version byte = 1

	// MaxTTL bounds exp - iat.
	MaxTTL = time.Hour

	// DefaultClockSkew tolerates scanners whose clocks run slightly behind the issuer.
	DefaultClockSkew = 30 * time.Second

	// MaxPreviousKeys is how many retired keys a ring keeps for verification.
	MaxPreviousKeys = 2

	macSize    = sha256.Size
	recordSize = 1 + 8 + 8 + 8 + 8
	tokenSize  = recordSize + macSize

	minSecretLength = 32
	hkdfInfo        = "dronexam/qrtoken/v1"
)

// Claims is the decoded content of a verified token.
type Claims struct {
	ScheduleID  int64     `json:"schedule_id"`
	CandidateID int64     `json:"candidate_id"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	// KeyID identifies the ring key that verified the signature.
	KeyID string `json:"-"`
}

// Key is an HMAC key derived from a configured secret.
type Key struct {
	ID  string
	mac []byte
}

// DeriveKey expands secret into an HMAC-SHA256 key and a short identifier.
func DeriveKey(secret string) (Key, error) {
	if len(secret) < minSecretLength {
		return Key{}, fmt.Errorf("qrtoken: secret must be at least %d bytes", minSecretLength)
	}
	reader := hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo))
	material := make([]byte, macSize+4)
	if _, err := io.ReadFull(reader, material); err != nil {
		return Key{}, fmt.Errorf("qrtoken: derive key: %w", err)
	}
	return Key{ID: hex.EncodeToString(material[macSize:]), mac: material[:macSize]}, nil
}

// Ring holds the signing key and the keys still accepted for verification.
// A Ring is immutable; rotation swaps in a new one.
type Ring struct {
	current  Key
	previous []Key
}

// NewRing derives the signing key from current and verify-only keys from previous.
func NewRing(current string, previous ...string) (*Ring, error) {
	cur, err := DeriveKey(current)
	if err != nil {
		return nil, err
	}
	if len(previous) > MaxPreviousKeys {
		return nil, fmt.Errorf("qrtoken: at most %d previous secrets, got %d", MaxPreviousKeys, len(previous))
	}
	ring := &Ring{current: cur}
	for _, secret := range previous {
		key, err := DeriveKey(secret)
		if err != nil {
			return nil, err
		}
		ring.previous = append(ring.previous, key)
	}
	return ring, nil
}

// CurrentKeyID returns the identifier of the signing key.
func (r *Ring) CurrentKeyID() string { return r.current.ID }

func (r *Ring) verify(record, sig []byte) (string, bool) {
	if hmac.Equal(sign(r.current, record), sig) {
		return r.current.ID, true
	}
	for _, key := range r.previous {
		if hmac.Equal(sign(key, record), sig) {
			return key.ID, true
		}
	}
	return "", false
}

// Codec encodes and verifies QR tokens. It holds no per-token state and is
// safe for concurrent use.
type Codec struct {
	ring atomic.Pointer[Ring]
	ttl  time.Duration
	skew time.Duration
}

// NewCodec constructs a codec. ttl must be within (0, MaxTTL].
func NewCodec(ring *Ring, ttl, skew time.Duration) (*Codec, error) {
	if ring == nil {
		return nil, fmt.Errorf("qrtoken: key ring required")
	}
	if ttl <= 0 || ttl > MaxTTL {
		return nil, fmt.Errorf("qrtoken: ttl %s out of range", ttl)
	}
	if skew < 0 {
		skew = DefaultClockSkew
	}
	c := &Codec{ttl: ttl, skew: skew}
	c.ring.Store(ring)
	return c, nil
}

// TTL returns the configured token lifetime.
func (c *Codec) TTL() time.Duration { return c.ttl }

// Rotate makes secret the signing key and keeps the old signing key plus
// the newest verify-only keys, up to MaxPreviousKeys.
func (c *Codec) Rotate(secret string) error {
	key, err := DeriveKey(secret)
	if err != nil {
		return err
	}
	for {
		old := c.ring.Load()
		previous := append([]Key{old.current}, old.previous...)
		if len(previous) > MaxPreviousKeys {
			previous = previous[:MaxPreviousKeys]
		}
		next := &Ring{current: key, previous: previous}
		if c.ring.CompareAndSwap(old, next) {
			return nil
		}
	}
}

// Encode returns the URL-safe base64 token binding scheduleID to candidateID.
func (c *Codec) Encode(scheduleID, candidateID int64, now time.Time) (string, Claims, error) {
	if scheduleID <= 0 || candidateID <= 0 {
		return "", Claims{}, appErrors.Clone(appErrors.ErrValidation, "schedule and candidate ids must be positive")
	}
	// iat is rounded up to whole seconds so the token stays valid for the full ttl from now.
	iat := now.Unix()
	if now.Nanosecond() > 0 {
		iat++
	}
	exp := iat + int64(c.ttl/time.Second)

	buf := make([]byte, tokenSize)
	buf[0] = Version
	binary.BigEndian.PutUint64(buf[1:9], uint64(scheduleID))
	binary.BigEndian.PutUint64(buf[9:17], uint64(candidateID))
	binary.BigEndian.PutUint64(buf[17:25], uint64(iat))
	binary.BigEndian.PutUint64(buf[25:33], uint64(exp))

	ring := c.ring.Load()
	copy(buf[recordSize:], sign(ring.current, buf[:recordSize]))

	claims := Claims{
		ScheduleID:  scheduleID,
		CandidateID: candidateID,
		IssuedAt:    time.Unix(iat, 0).UTC(),
		ExpiresAt:   time.Unix(exp, 0).UTC(),
		KeyID:       ring.current.ID,
	}
	return base64.RawURLEncoding.EncodeToString(buf), claims, nil
}

// Decode verifies token at now and returns its claims.
func (c *Codec) Decode(token string, now time.Time) (Claims, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != tokenSize {
		return Claims{}, appErrors.ErrTokenMalformed
	}
	if raw[0] != Version {
		return Claims{}, appErrors.Clone(appErrors.ErrTokenMalformed, "unsupported token version")
	}

	record, sig := raw[:recordSize], raw[recordSize:]
	keyID, ok := c.ring.Load().verify(record, sig)
	if !ok {
		return Claims{}, appErrors.ErrTokenSignatureInvalid
	}

	sid := int64(binary.BigEndian.Uint64(record[1:9]))
	cid := int64(binary.BigEndian.Uint64(record[9:17]))
	iat := int64(binary.BigEndian.Uint64(record[17:25]))
	exp := int64(binary.BigEndian.Uint64(record[25:33]))
	if sid <= 0 || cid <= 0 || exp <= iat || time.Duration(exp-iat)*time.Second > MaxTTL {
		return Claims{}, appErrors.ErrTokenMalformed
	}

	issuedAt := time.Unix(iat, 0).UTC()
	expiresAt := time.Unix(exp, 0).UTC()
	if !now.Before(expiresAt) {
		return Claims{}, appErrors.ErrTokenExpired
	}
	if now.Before(issuedAt.Add(-c.skew)) {
		return Claims{}, appErrors.ErrTokenNotYetValid
	}

	return Claims{
		ScheduleID:  sid,
		CandidateID: cid,
		IssuedAt:    issuedAt,
		ExpiresAt:   expiresAt,
		KeyID:       keyID,
	}, nil
}

func sign(key Key, record []byte) []byte {
	mac := hmac.New(sha256.New, key.mac)
	_, _ = mac.Write(record)
	return mac.Sum(nil)
}
