package password

import "errors"

var (
	// ErrPasswordTooShort is returned by Hash when the plaintext is below the configured minimum.
	ErrPasswordTooShort = errors.New("password too short")
	// ErrPasswordTooLong is returned when the plaintext exceeds the configured maximum.
	ErrPasswordTooLong = errors.New("password too long")
	// ErrUnsupportedHash is returned when a stored hash matches no known algorithm.
	ErrUnsupportedHash = errors.New("unsupported password hash")
	// ErrMalformedHash is returned when a stored hash cannot be parsed.
	ErrMalformedHash = errors.New("malformed password hash")
)
