// Package credential decodes the candidate token handed to a session.
package credential

import (
	"errors"
	"strings"
	"time"

	appErr "codeassess/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

// Config controls token verification. An empty Secret decodes without verifying the signature.
type Config struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// Credential is the decoded view of a candidate token.
type Credential struct {
	Token       string
	SessionID   string
	CandidateID string
	ExpiresAt   time.Time
}

type claims struct {
	AssessmentID string `json:"assessment_id"`
	CandidateID  string `json:"candidate_id"`
	jwt.RegisteredClaims
}

// Decoder extracts the expiry instant from candidate tokens.
type Decoder struct {
	secret []byte
	issuer string
	parser *jwt.Parser
}

func NewDecoder(cfg Config) *Decoder {
	return &Decoder{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		// Expired tokens still decode: an elapsed window must submit, not fail to start.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS512.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
}

// Decode parses the token once. A missing or non-numeric exp yields MalformedCredential.
func (d *Decoder) Decode(raw string) (Credential, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	if raw == "" {
		return Credential{}, appErr.New(appErr.MalformedCredential).WithMessage("credential is empty")
	}

	c := &claims{}
	var err error
	if len(d.secret) == 0 {
		_, _, err = d.parser.ParseUnverified(raw, c)
	} else {
		_, err = d.parser.ParseWithClaims(raw, c, func(token *jwt.Token) (interface{}, error) {
			return d.secret, nil
		})
	}
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrTokenUnverifiable) {
			return Credential{}, appErr.Wrap(err, appErr.TokenInvalid)
		}
		return Credential{}, appErr.Wrapf(err, appErr.MalformedCredential, "credential is malformed")
	}

	if c.ExpiresAt == nil {
		return Credential{}, appErr.New(appErr.MalformedCredential).WithMessage("credential has no expiry")
	}
	if d.issuer != "" && c.Issuer != d.issuer {
		return Credential{}, appErr.New(appErr.TokenInvalid).WithDetail("issuer", c.Issuer)
	}

	sessionID := c.AssessmentID
	if sessionID == "" {
		sessionID = c.ID
	}
	candidateID := c.CandidateID
	if candidateID == "" {
		candidateID = c.Subject
	}
	return Credential{
		Token:       raw,
		SessionID:   sessionID,
		CandidateID: candidateID,
		ExpiresAt:   c.ExpiresAt.Time,
	}, nil
}
