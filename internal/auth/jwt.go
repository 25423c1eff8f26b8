package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// SessionTTL is how long a dashboard session token stays valid.
const SessionTTL = 24 * time.Hour

// GenerateSessionToken creates a signed token identifying the account.
func GenerateSessionToken(account string, secret []byte) (string, int64, error) {
	expirationTime := time.Now().Add(SessionTTL).Unix()
	claims := jwt.MapClaims{
		"sub": account,
		"exp": expirationTime,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedToken, err := token.SignedString(secret)
	if err != nil {
		return "", 0, err
	}
	return signedToken, expirationTime, nil
}

// ValidateSessionToken verifies the token signature and expiry and
// returns the account it identifies.
func ValidateSessionToken(tokenString string, secret []byte) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		if sub, ok := claims["sub"].(string); ok && sub != "" {
			return sub, nil
		}
	}
	return "", errors.New("invalid token")
}
