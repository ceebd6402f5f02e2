package logins

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Common association-token errors, matching the sentinel-error-per-package
// convention used throughout this module.
var (
	ErrAssociationTokenInvalid  = errors.New("association token invalid")
	ErrAssociationTokenMismatch = errors.New("association token does not match association pair")
)

// AssociationClaims is the JWT claim set an external sync manager signs to
// vouch for a (global_sync_id, collection_sync_id) pair. It mirrors the
// key/uid pair the original sync token server hands out (token.rs's
// TokenserverToken), but verification here never talks to a network: the
// caller supplies the verification key out of band, the same way it already
// supplies the Encryptor and the Clock.
type AssociationClaims struct {
	GlobalSyncID     string `json:"global_sync_id"`
	CollectionSyncID string `json:"collection_sync_id"`
	jwt.RegisteredClaims
}

// VerifyAssociationToken checks that tokenString is a validly signed JWT
// (HMAC family only; callers who need RSA/ECDSA should verify separately
// and call Connect directly) whose claims name exactly the given
// (globalSyncID, collectionSyncID) pair. It never writes anything to the
// store — ConnectVerified is the entry point that also persists the result.
func VerifyAssociationToken(tokenString string, key []byte, globalSyncID, collectionSyncID string) error {
	claims := &AssociationClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrAssociationTokenInvalid, t.Header["alg"])
		}
		return key, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAssociationTokenInvalid, err)
	}
	if !token.Valid {
		return ErrAssociationTokenInvalid
	}
	if claims.GlobalSyncID != globalSyncID || claims.CollectionSyncID != collectionSyncID {
		return ErrAssociationTokenMismatch
	}
	return nil
}

// ConnectVerified builds a Connected Association the same way Connect does,
// but only after checking tokenString against key. Use this when the sync
// manager handing down the id pair is untrusted input (e.g. arriving over
// the CLI or an admin endpoint) rather than a trusted in-process caller.
func ConnectVerified(globalSyncID, collectionSyncID, tokenString string, key []byte) (Association, error) {
	if err := VerifyAssociationToken(tokenString, key, globalSyncID, collectionSyncID); err != nil {
		return Association{}, err
	}
	return Connect(globalSyncID, collectionSyncID), nil
}
