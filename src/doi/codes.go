package doi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const CodeValidity = 24 * time.Hour

var (
	ErrWeakSecret = errors.New("doi secret must be at least 16 characters")

	codePattern = regexp.MustCompile(`^\d{4}$`)
)

type (
	// Code is a short confirmation code shown after registration.
	Code struct {
		Code      string    `json:"code"`
		Timestamp time.Time `json:"timestamp"`
		ExpiresAt time.Time `json:"expiresAt"`
	}

	CodeGenerator struct {
		secret []byte
		now    func() time.Time
		random io.Reader
	}
)

func NewCodeGenerator(secret string) (*CodeGenerator, error) {
	if len(secret) < 16 {
		return nil, ErrWeakSecret
	}
	return &CodeGenerator{secret: []byte(secret), now: time.Now, random: rand.Reader}, nil
}

// Generate derives a 4-digit code (1000-9999) from an HMAC over the secret,
// the time, the session id and a random nonce.
func (g *CodeGenerator) Generate(sessionID string) (Code, error) {
	if sessionID == "" {
		sessionID = "default"
	}
	nonce := make([]byte, 4)
	if _, err := io.ReadFull(g.random, nonce); err != nil {
		return Code{}, fmt.Errorf("read nonce: %w", err)
	}
	now := g.now()

	mac := hmac.New(sha256.New, g.secret)
	fmt.Fprintf(mac, "%s:%d:%s:%s", g.secret, now.UnixMilli(), sessionID, hex.EncodeToString(nonce))
	sum := mac.Sum(nil)

	n := binary.BigEndian.Uint32(sum[:4])
	return Code{
		Code:      strconv.Itoa(int(1000 + n%9000)),
		Timestamp: now,
		ExpiresAt: now.Add(CodeValidity),
	}, nil
}

// ValidateCode checks the format only: four digits in 1000-9999.
func ValidateCode(code string) bool {
	code = strings.TrimSpace(code)
	if !codePattern.MatchString(code) {
		return false
	}
	n, err := strconv.Atoi(code)
	return err == nil && n >= 1000 && n <= 9999
}
