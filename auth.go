package scserver

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultAuthAlgorithm = "HS256"

// JWTAuthEngine is the default auth engine. Tokens are JWTs signed with
// an HMAC key. Verification failures come back as the typed auth errors
// of this package, which is what the server's token classification
// expects from any engine.
type JWTAuthEngine struct{}

func (JWTAuthEngine) VerifyToken(signedToken string, key []byte, opts *VerifyOptions) (AuthToken, error) {
	if signedToken == "" {
		return nil, &AuthTokenInvalidError{Message: "No auth token was provided"}
	}

	algorithms := []string{defaultAuthAlgorithm}
	if opts != nil && len(opts.Algorithms) > 0 {
		algorithms = opts.Algorithms
	}

	token, err := jwt.Parse(signedToken, func(t *jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods(algorithms))
	if err != nil {
		classified := classifyJWTError(token, err)
		// A not-yet-valid token is still returned so the caller can keep
		// it assigned while reporting the condition.
		var notBefore *AuthTokenNotBeforeError
		if errors.As(classified, &notBefore) && token != nil {
			if claims, ok := token.Claims.(jwt.MapClaims); ok {
				return AuthToken(claims), classified
			}
		}
		return nil, classified
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, &AuthTokenInvalidError{Message: "Auth token carried no claims"}
	}
	return AuthToken(claims), nil
}

// SignToken signs the token with the configured HMAC algorithm. When an
// expiry is requested and the token has no exp claim yet, the exp claim
// is written into the given token so the plain and signed forms agree.
func (JWTAuthEngine) SignToken(token AuthToken, key []byte, opts *SignOptions) (string, error) {
	algorithm := defaultAuthAlgorithm
	if opts != nil && opts.Algorithm != "" {
		algorithm = opts.Algorithm
	}
	method := jwt.GetSigningMethod(algorithm)
	if method == nil {
		return "", &InvalidOptionsError{Message: "Unknown auth token algorithm: " + algorithm}
	}
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return "", &InvalidOptionsError{Message: "The default auth engine only supports HMAC algorithms"}
	}

	if token == nil {
		token = AuthToken{}
	}
	now := time.Now()
	if opts != nil && opts.ExpiresIn > 0 {
		if _, ok := token["exp"]; !ok {
			token["exp"] = now.Add(opts.ExpiresIn).Unix()
		}
	}
	if _, ok := token["iat"]; !ok {
		token["iat"] = now.Unix()
	}

	return jwt.NewWithClaims(method, jwt.MapClaims(token)).SignedString(key)
}

// classifyJWTError maps golang-jwt failures onto the token error
// taxonomy: expired and malformed tokens must be dropped, not-yet-valid
// tokens are kept, anything else is an engine failure.
func classifyJWTError(token *jwt.Token, err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		expired := &AuthTokenExpiredError{Message: err.Error()}
		if token != nil {
			if claims, ok := token.Claims.(jwt.MapClaims); ok {
				if exp, expErr := claims.GetExpirationTime(); expErr == nil && exp != nil {
					expired.ExpiredAt = exp.Time
				}
			}
		}
		return expired
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		notBefore := &AuthTokenNotBeforeError{Message: err.Error()}
		if token != nil {
			if claims, ok := token.Claims.(jwt.MapClaims); ok {
				if nbf, nbfErr := claims.GetNotBefore(); nbfErr == nil && nbf != nil {
					notBefore.Date = nbf.Time
				}
			}
		}
		return notBefore
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return &AuthTokenInvalidError{Message: err.Error()}
	}
	return &AuthTokenError{Message: err.Error()}
}
