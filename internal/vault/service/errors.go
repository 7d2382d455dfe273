package service

import "errors"

var (
	ErrInvalidCredential = errors.New("invalid username or password")
	ErrNoPendingLogin    = errors.New("no pending login for this session")

	ErrInvalidCode         = errors.New("invalid TOTP code")
	ErrInvalidBackupCode   = errors.New("invalid backup code")
	ErrTOTPAlreadyEnabled  = errors.New("TOTP already enabled for this user")
	ErrTOTPNotEnabled      = errors.New("TOTP not enabled for this user")
	ErrNoPendingEnrollment = errors.New("no pending TOTP enrollment")

	ErrChallengeExpired  = errors.New("challenge expired")
	ErrChallengeNotFound = errors.New("challenge not found")

	ErrDuplicateCredential = errors.New("passkey already registered")
	ErrAttestationInvalid  = errors.New("passkey response failed verification")
	ErrUnknownCredential   = errors.New("unknown passkey credential")
	ErrReplayDetected      = errors.New("passkey signature counter did not advance")

	ErrWeakPassword   = errors.New("password must be at least 8 characters")
	ErrUsernameTaken  = errors.New("username already exists")
	ErrInvalidRequest = errors.New("invalid request")
)
