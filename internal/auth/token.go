// internal/auth/token.go
package auth

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Token failure classes. Every one is handled the same way at login (debug
// log, handle left unbound), but tests and logs distinguish them.
var (
	ErrBadToken   = errors.New("token could not be verified")
	ErrBadIssuer  = errors.New("token issuer not accepted")
	ErrNoGameData = errors.New("token has no game_data claim")
)

// Service is a thin facade over the JWT library. It verifies inbound HS256
// login tokens against a shared secret and an issuer allowlist, and signs
// outbound join tokens (matchmaking server only).
type Service struct {
	secret     []byte
	issuers    map[string]bool
	signIssuer string
}

// NewService builds a Service. issuers is the allowlist for inbound tokens;
// signIssuer is stamped on tokens this service signs.
func NewService(secret string, issuers []string, signIssuer string) *Service {
	allowed := make(map[string]bool, len(issuers))
	for _, iss := range issuers {
		allowed[iss] = true
	}
	return &Service{
		secret:     []byte(secret),
		issuers:    allowed,
		signIssuer: signIssuer,
	}
}

// VerifyLogin checks token's signature, algorithm, and issuer, and returns
// the raw game_data claim. Expiry and other registered claims pass through
// the library's standard validation unchanged.
func (s *Service) VerifyLogin(token string) (json.RawMessage, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadToken, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrBadToken
	}
	iss, err := claims.GetIssuer()
	if err != nil || !s.issuers[iss] {
		return nil, fmt.Errorf("%w: %q", ErrBadIssuer, iss)
	}

	gameData, ok := claims["game_data"]
	if !ok {
		return nil, ErrNoGameData
	}
	raw, err := json.Marshal(gameData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoGameData, err)
	}
	return raw, nil
}

// SignJoin issues a join token for one matched session: claims are the
// configured issuer, the group id, the matchmaker's group data, and the
// per-member game_data payload the game server's login path consumes.
func (s *Service) SignJoin(groupID string, data json.RawMessage, gameData any) (string, error) {
	var dataVal any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &dataVal); err != nil {
			return "", fmt.Errorf("group data is not valid json: %w", err)
		}
	}
	claims := jwt.MapClaims{
		"iss":       s.signIssuer,
		"id":        groupID,
		"data":      dataVal,
		"game_data": gameData,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
