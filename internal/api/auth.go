package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	sessionCookieKey         = "duet_session"
	defaultSessionExpiration = time.Hour * 24
)

const (
	participantClaim = "participant-id"
	roomClaim        = "room-id"
	expClaim         = "exp"
)

type contextKey string

const sessionKey contextKey = "session"

// SessionClaims is the identity bound to a device by the join flow.
type SessionClaims struct {
	RoomId        string
	ParticipantId string
}

func SessionFromContext(ctx context.Context) (SessionClaims, bool) {
	sess, ok := ctx.Value(sessionKey).(SessionClaims)

	return sess, ok
}

func WithSession(ctx context.Context, sess SessionClaims) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

func (s *DuetApp) createSessionToken(sess SessionClaims, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		participantClaim: sess.ParticipantId,
		roomClaim:        sess.RoomId,
		expClaim:         time.Now().Add(exp).Unix(),
	})

	return token.SignedString(s.signingKey)
}

func (s *DuetApp) extractSessionFromToken(tokenString string) (SessionClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return s.signingKey, nil
	})
	if err != nil {
		return SessionClaims{}, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return SessionClaims{}, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return SessionClaims{}, fmt.Errorf("invalid token claims")
	}

	participantId, ok := claims[participantClaim].(string)
	if !ok || participantId == "" {
		return SessionClaims{}, fmt.Errorf("invalid participant id claim")
	}

	roomId, ok := claims[roomClaim].(string)
	if !ok || roomId == "" {
		return SessionClaims{}, fmt.Errorf("invalid room id claim")
	}

	return SessionClaims{RoomId: roomId, ParticipantId: participantId}, nil
}

func createSessionCookie(tokenString string, exp time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     sessionCookieKey,
		Value:    tokenString,
		Path:     "/",
		Expires:  time.Now().Add(exp),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}
