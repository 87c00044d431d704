package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/argon2"

	"github.com/castlewood/storefront/internal/apperror"
	"github.com/castlewood/storefront/internal/mailer"
)

// sessionKeyPrefix is the Redis key prefix for session data.
const sessionKeyPrefix = "session:"

// sessionTokenBytes is the number of random bytes in a session token.
// 32 bytes = 256 bits of entropy, hex-encoded to 64 characters.
const sessionTokenBytes = 32

// resetTokenBytes is the number of random bytes in a password reset token.
const resetTokenBytes = 32

// argon2id parameters following OWASP recommendations for argon2id:
// memory=64MB, iterations=3, parallelism=4. These are the tunable work
// factor: raise them as hardware gets faster.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // 64 MB in KiB
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// AuthService defines the business logic contract for authentication.
// Handlers call these methods -- they never touch the repository directly.
type AuthService interface {
	Signup(ctx context.Context, input SignupInput) (*User, error)
	Login(ctx context.Context, input LoginInput) (token string, user *User, err error)
	ValidateSession(ctx context.Context, token string) (*Session, error)
	DestroySession(ctx context.Context, token string) error

	// Password reset flow, in order of use: request a link, open the link,
	// submit the new password.
	InitiatePasswordReset(ctx context.Context, email string) error
	ValidateResetToken(ctx context.Context, token string) (userID string, err error)
	ResetPassword(ctx context.Context, token, userID, newPassword string) error
}

// authService implements AuthService with argon2id hashing and Redis sessions.
type authService struct {
	repo          UserRepository
	redis         *redis.Client
	mail          mailer.Mailer
	baseURL       string
	sessionTTL    time.Duration
	resetTokenTTL time.Duration
}

// NewAuthService creates a new auth service with the given dependencies.
// baseURL is the public origin used to build reset links.
func NewAuthService(repo UserRepository, rdb *redis.Client, mail mailer.Mailer, baseURL string, sessionTTL, resetTokenTTL time.Duration) AuthService {
	return &authService{
		repo:          repo,
		redis:         rdb,
		mail:          mail,
		baseURL:       strings.TrimRight(baseURL, "/"),
		sessionTTL:    sessionTTL,
		resetTokenTTL: resetTokenTTL,
	}
}

// Signup creates a new user account. It validates uniqueness, hashes the
// password with argon2id, and persists the user with an empty cart.
//
// The EmailExists check is a courtesy to skip expensive hashing for obvious
// duplicates; the authoritative duplicate signal is the Conflict returned by
// repo.Create when the unique constraint fires, which also settles the race
// between two concurrent signups for the same address.
func (s *authService) Signup(ctx context.Context, input SignupInput) (*User, error) {
	email := normalizeEmail(input.Email)

	exists, err := s.repo.EmailExists(ctx, email)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("checking email: %w", err))
	}
	if exists {
		return nil, apperror.NewConflict("an account with this email already exists")
	}

	// Hash the password with argon2id (memory-hard, GPU-resistant).
	hash, err := hashPassword(input.Password)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}

	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Cart:         json.RawMessage(EmptyCart),
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, user); err != nil {
		if isConflict(err) {
			// Lost the race against a concurrent signup.
			return nil, err
		}
		return nil, apperror.NewInternal(fmt.Errorf("creating user: %w", err))
	}

	slog.Info("user signed up",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)

	return user, nil
}

// Login authenticates a user by email and password. On success it creates a
// new session in Redis and returns the session token for the cookie.
//
// An unknown email and a wrong password produce the same Unauthorized error
// so the response never reveals whether the account exists.
func (s *authService) Login(ctx context.Context, input LoginInput) (string, *User, error) {
	user, err := s.repo.FindByEmail(ctx, normalizeEmail(input.Email))
	if err != nil {
		if isNotFound(err) {
			return "", nil, apperror.NewUnauthorized("invalid email or password")
		}
		return "", nil, apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}

	// Verify the password against the stored argon2id hash.
	if !verifyPassword(input.Password, user.PasswordHash) {
		return "", nil, apperror.NewUnauthorized("invalid email or password")
	}

	token, err := s.createSession(ctx, user)
	if err != nil {
		return "", nil, apperror.NewInternal(fmt.Errorf("creating session: %w", err))
	}

	// Update the user's last login timestamp (fire-and-forget, non-critical).
	if err := s.repo.UpdateLastLogin(ctx, user.ID); err != nil {
		slog.Warn("failed to update last login",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
	}

	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)

	return token, user, nil
}

// ValidateSession looks up a session token in Redis and returns the session
// data if it exists and hasn't expired.
func (s *authService) ValidateSession(ctx context.Context, token string) (*Session, error) {
	key := sessionKeyPrefix + token

	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, apperror.NewUnauthorized("session expired or invalid")
	}
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("reading session from Redis: %w", err))
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("unmarshaling session: %w", err))
	}

	return &session, nil
}

// DestroySession removes a session from Redis, effectively logging the user out.
func (s *authService) DestroySession(ctx context.Context, token string) error {
	key := sessionKeyPrefix + token

	if err := s.redis.Del(ctx, key).Err(); err != nil {
		return apperror.NewInternal(fmt.Errorf("deleting session from Redis: %w", err))
	}

	return nil
}

// createSession generates a random session token, stores the session record
// in Redis with the configured TTL, and returns the token. Only the user id
// is stored -- handlers re-fetch the user so session data can never go stale.
func (s *authService) createSession(ctx context.Context, user *User) (string, error) {
	token, err := generateToken(sessionTokenBytes)
	if err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}

	session := Session{
		UserID:    user.ID,
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(session)
	if err != nil {
		return "", fmt.Errorf("marshaling session: %w", err)
	}

	key := sessionKeyPrefix + token
	if err := s.redis.Set(ctx, key, data, s.sessionTTL).Err(); err != nil {
		return "", fmt.Errorf("storing session in Redis: %w", err)
	}

	return token, nil
}

// --- Password Reset ---

// InitiatePasswordReset opens a reset window for the account with the given
// email and dispatches the reset link by mail. For an unknown email it
// returns nil with no side effects, so the caller's response is identical
// either way and the endpoint cannot be used to enumerate accounts.
//
// The email is sent from a goroutine after the token is stored: the HTTP
// response must not wait on (or fail with) the mail server.
func (s *authService) InitiatePasswordReset(ctx context.Context, email string) error {
	// Generate the token before anything else. If the system's entropy
	// source is broken we want to fail the request, not send a dead link.
	token, err := generateToken(resetTokenBytes)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("generating reset token: %w", err))
	}

	user, err := s.repo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if isNotFound(err) {
			slog.Debug("password reset requested for unknown email")
			return nil
		}
		return apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}

	expiresAt := time.Now().UTC().Add(s.resetTokenTTL)
	if err := s.repo.SaveResetToken(ctx, user.ID, hashToken(token), expiresAt); err != nil {
		return apperror.NewInternal(fmt.Errorf("saving reset token: %w", err))
	}

	slog.Info("password reset initiated",
		slog.String("user_id", user.ID),
	)

	// Detach from the request context: the user already got their response,
	// and a disconnect must not cancel the delivery.
	go s.sendResetEmail(context.WithoutCancel(ctx), user.Email, token)

	return nil
}

// sendResetEmail delivers the reset link. Failures are logged, never
// surfaced -- the HTTP response has already been sent by the time this runs.
func (s *authService) sendResetEmail(ctx context.Context, email, token string) {
	if s.mail == nil || !s.mail.IsConfigured() {
		slog.Warn("mail not configured, skipping reset email")
		return
	}

	link := s.baseURL + "/reset/" + token
	body := fmt.Sprintf(
		"You requested a password reset.\r\n\r\n"+
			"Open this link to set a new password:\r\n\r\n%s\r\n\r\n"+
			"The link expires in one hour. If you did not request a reset,\r\n"+
			"you can ignore this email.\r\n",
		link,
	)

	if err := s.mail.SendMail(ctx, []string{email}, "Password reset", body); err != nil {
		slog.Error("failed to send reset email",
			slog.Any("error", err),
		)
	}
}

// ValidateResetToken checks a reset link's token and returns the owning
// user's id for the new-password form. Unknown and expired tokens are
// indistinguishable to the caller.
func (s *authService) ValidateResetToken(ctx context.Context, token string) (string, error) {
	user, err := s.repo.FindByValidResetToken(ctx, hashToken(token), time.Now().UTC())
	if err != nil {
		if isNotFound(err) {
			return "", apperror.NewBadRequest("invalid or expired reset link")
		}
		return "", apperror.NewInternal(fmt.Errorf("finding reset token: %w", err))
	}
	return user.ID, nil
}

// ResetPassword consumes a reset token and sets a new password. The token
// must be unexpired AND belong to the given user id; any mismatch yields
// the same generic error. Consumption clears the token, so a second submit
// with the same link fails.
func (s *authService) ResetPassword(ctx context.Context, token, userID, newPassword string) error {
	user, err := s.repo.FindByValidResetTokenForUser(ctx, hashToken(token), userID, time.Now().UTC())
	if err != nil {
		if isNotFound(err) {
			return apperror.NewBadRequest("invalid or expired reset link")
		}
		return apperror.NewInternal(fmt.Errorf("finding reset token: %w", err))
	}

	hash, err := hashPassword(newPassword)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}

	if err := s.repo.UpdatePasswordAndClearResetToken(ctx, user.ID, hash); err != nil {
		return apperror.NewInternal(fmt.Errorf("updating password: %w", err))
	}

	slog.Info("password reset completed",
		slog.String("user_id", user.ID),
	)

	return nil
}

// --- Password Hashing (argon2id) ---

// hashPassword creates an argon2id hash of the given password. The output
// format is: $argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
// This format is compatible with most argon2 libraries and allows self-
// contained verification without separate salt storage.
func hashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	// Encode to the standard PHC string format.
	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads, b64Salt, b64Hash)

	return encoded, nil
}

// verifyPassword checks a plaintext password against an argon2id hash string.
// Returns true if the password matches. A mismatch or a malformed hash is a
// plain false, never an error.
func verifyPassword(password, encodedHash string) bool {
	// Parse the encoded hash to extract parameters, salt, and hash.
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return false
	}

	var memory uint32
	var iterations uint32
	var parallelism uint8
	_, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism)
	if err != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}

	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	// Compute the hash of the provided password with the same parameters.
	computedHash := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(expectedHash)))

	// Constant-time comparison to prevent timing attacks.
	return subtle.ConstantTimeCompare(expectedHash, computedHash) == 1
}

// --- Helpers ---

// normalizeEmail lowercases and trims an email address. Applied at every
// entry point so the unique constraint sees one canonical form.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// generateToken creates a cryptographically random hex-encoded token of n
// random bytes. The only failure mode is the secure RNG itself being
// unavailable, which is fatal for the request.
func generateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// hashToken returns the hex-encoded SHA-256 of a token. Reset tokens are
// stored hashed so a leaked database dump cannot be replayed as live links.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// isNotFound reports whether err is an apperror.AppError with a 404 code.
func isNotFound(err error) bool {
	var appErr *apperror.AppError
	return errors.As(err, &appErr) && appErr.Code == http.StatusNotFound
}

// isConflict reports whether err is an apperror.AppError with a 409 code.
func isConflict(err error) bool {
	var appErr *apperror.AppError
	return errors.As(err, &appErr) && appErr.Code == http.StatusConflict
}
