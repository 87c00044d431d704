package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/castlewood/storefront/internal/apperror"
)

// --- Mock Repository ---

// mockUserRepo implements UserRepository for testing.
type mockUserRepo struct {
	createFn                  func(ctx context.Context, user *User) error
	findByIDFn                func(ctx context.Context, id string) (*User, error)
	findByEmailFn             func(ctx context.Context, email string) (*User, error)
	emailExistsFn             func(ctx context.Context, email string) (bool, error)
	updateLastLoginFn         func(ctx context.Context, id string) error
	saveResetTokenFn          func(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	findByValidResetTokenFn   func(ctx context.Context, tokenHash string, now time.Time) (*User, error)
	findByValidResetForUserFn func(ctx context.Context, tokenHash, userID string, now time.Time) (*User, error)
	updatePasswordFn          func(ctx context.Context, userID, passwordHash string) error
}

func (m *mockUserRepo) Create(ctx context.Context, user *User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, apperror.NewNotFound("user not found")
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, apperror.NewNotFound("user not found")
}

func (m *mockUserRepo) EmailExists(ctx context.Context, email string) (bool, error) {
	if m.emailExistsFn != nil {
		return m.emailExistsFn(ctx, email)
	}
	return false, nil
}

func (m *mockUserRepo) UpdateLastLogin(ctx context.Context, id string) error {
	if m.updateLastLoginFn != nil {
		return m.updateLastLoginFn(ctx, id)
	}
	return nil
}

func (m *mockUserRepo) SaveResetToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	if m.saveResetTokenFn != nil {
		return m.saveResetTokenFn(ctx, userID, tokenHash, expiresAt)
	}
	return nil
}

func (m *mockUserRepo) FindByValidResetToken(ctx context.Context, tokenHash string, now time.Time) (*User, error) {
	if m.findByValidResetTokenFn != nil {
		return m.findByValidResetTokenFn(ctx, tokenHash, now)
	}
	return nil, apperror.NewNotFound("token not found")
}

func (m *mockUserRepo) FindByValidResetTokenForUser(ctx context.Context, tokenHash, userID string, now time.Time) (*User, error) {
	if m.findByValidResetForUserFn != nil {
		return m.findByValidResetForUserFn(ctx, tokenHash, userID, now)
	}
	return nil, apperror.NewNotFound("token not found")
}

func (m *mockUserRepo) UpdatePasswordAndClearResetToken(ctx context.Context, userID, passwordHash string) error {
	if m.updatePasswordFn != nil {
		return m.updatePasswordFn(ctx, userID, passwordHash)
	}
	return nil
}

// --- Mock Mailer ---

// mockMailer implements mailer.Mailer for testing. Reset emails are sent
// from a goroutine, so every delivery is announced on the sent channel and
// capture fields are read only after receiving from it.
type mockMailer struct {
	sendMailFn func(ctx context.Context, to []string, subject, body string) error
	configured bool

	sent chan sentMail
}

type sentMail struct {
	to      []string
	subject string
	body    string
}

func newMockMailer() *mockMailer {
	return &mockMailer{
		configured: true,
		sent:       make(chan sentMail, 4),
	}
}

func (m *mockMailer) SendMail(ctx context.Context, to []string, subject, body string) error {
	var err error
	if m.sendMailFn != nil {
		err = m.sendMailFn(ctx, to, subject, body)
	}
	m.sent <- sentMail{to: to, subject: subject, body: body}
	return err
}

func (m *mockMailer) IsConfigured() bool {
	return m.configured
}

// waitForMail blocks until an email is delivered or the timeout hits.
func (m *mockMailer) waitForMail(t *testing.T) sentMail {
	t.Helper()
	select {
	case msg := <-m.sent:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for email delivery")
		return sentMail{}
	}
}

// assertNoMail verifies no email arrives within a short grace window.
func (m *mockMailer) assertNoMail(t *testing.T) {
	t.Helper()
	select {
	case msg := <-m.sent:
		t.Fatalf("expected no email, got one to %v", msg.to)
	case <-time.After(50 * time.Millisecond):
	}
}

// --- Test Helpers ---

// newTestAuthService creates an authService with a mock repo and no Redis.
// Session tests use newTestAuthServiceWithRedis instead.
func newTestAuthService(repo *mockUserRepo) *authService {
	return &authService{
		repo:          repo,
		baseURL:       "https://shop.example.com",
		sessionTTL:    24 * time.Hour,
		resetTokenTTL: time.Hour,
	}
}

// newTestAuthServiceWithRedis creates an authService backed by an in-memory
// miniredis instance for session tests.
func newTestAuthServiceWithRedis(t *testing.T, repo *mockUserRepo) (*authService, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	svc := newTestAuthService(repo)
	svc.redis = rdb
	return svc, mr
}

// assertAppError checks that err is an *apperror.AppError with the expected code.
func assertAppError(t *testing.T, err error, expectedCode int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %d, got nil", expectedCode)
	}
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *apperror.AppError, got %T: %v", err, err)
	}
	if appErr.Code != expectedCode {
		t.Errorf("expected status %d, got %d (message: %s)", expectedCode, appErr.Code, appErr.Message)
	}
}

// --- Signup Tests ---

func TestSignup_Success(t *testing.T) {
	repo := &mockUserRepo{
		emailExistsFn: func(ctx context.Context, email string) (bool, error) {
			return false, nil
		},
		createFn: func(ctx context.Context, user *User) error {
			if user.Email != "alice@example.com" {
				t.Errorf("expected email alice@example.com, got %s", user.Email)
			}
			if user.PasswordHash == "" {
				t.Error("expected password hash to be set")
			}
			if string(user.Cart) != EmptyCart {
				t.Errorf("expected empty cart, got %s", user.Cart)
			}
			return nil
		},
	}

	svc := newTestAuthService(repo)
	user, err := svc.Signup(context.Background(), SignupInput{
		Email:    "Alice@Example.com",
		Password: "secure-password-123",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user == nil {
		t.Fatal("expected user, got nil")
	}
	if user.ID == "" {
		t.Error("expected user ID to be generated")
	}
	// The stored hash must not be the plaintext, and must verify.
	if user.PasswordHash == "secure-password-123" {
		t.Error("expected password to be hashed, not stored as plaintext")
	}
	if !verifyPassword("secure-password-123", user.PasswordHash) {
		t.Error("expected password to verify against stored hash")
	}
}

func TestSignup_DuplicateEmail(t *testing.T) {
	repo := &mockUserRepo{
		emailExistsFn: func(ctx context.Context, email string) (bool, error) {
			return true, nil
		},
	}

	svc := newTestAuthService(repo)
	_, err := svc.Signup(context.Background(), SignupInput{
		Email:    "taken@example.com",
		Password: "secure-password-123",
	})
	assertAppError(t, err, 409)
}

func TestSignup_DuplicateRace(t *testing.T) {
	// EmailExists says free, but a concurrent signup wins the insert and the
	// unique constraint fires. The Conflict from Create must pass through.
	repo := &mockUserRepo{
		emailExistsFn: func(ctx context.Context, email string) (bool, error) {
			return false, nil
		},
		createFn: func(ctx context.Context, user *User) error {
			return apperror.NewConflict("an account with this email already exists")
		},
	}

	svc := newTestAuthService(repo)
	_, err := svc.Signup(context.Background(), SignupInput{
		Email:    "raced@example.com",
		Password: "secure-password-123",
	})
	assertAppError(t, err, 409)
}

func TestSignup_EmailCheckError(t *testing.T) {
	repo := &mockUserRepo{
		emailExistsFn: func(ctx context.Context, email string) (bool, error) {
			return false, errors.New("db connection lost")
		},
	}

	svc := newTestAuthService(repo)
	_, err := svc.Signup(context.Background(), SignupInput{
		Email:    "test@example.com",
		Password: "secure-password-123",
	})
	assertAppError(t, err, 500)
}

func TestSignup_CreateError(t *testing.T) {
	repo := &mockUserRepo{
		createFn: func(ctx context.Context, user *User) error {
			return errors.New("db write error")
		},
	}

	svc := newTestAuthService(repo)
	_, err := svc.Signup(context.Background(), SignupInput{
		Email:    "test@example.com",
		Password: "secure-password-123",
	})
	assertAppError(t, err, 500)
}

func TestSignup_EmailNormalization(t *testing.T) {
	var capturedEmail string
	repo := &mockUserRepo{
		createFn: func(ctx context.Context, user *User) error {
			capturedEmail = user.Email
			return nil
		},
	}

	svc := newTestAuthService(repo)
	_, err := svc.Signup(context.Background(), SignupInput{
		Email:    "  Alice@EXAMPLE.com  ",
		Password: "secure-password-123",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if capturedEmail != "alice@example.com" {
		t.Errorf("expected normalized email alice@example.com, got %s", capturedEmail)
	}
}

// --- Login Tests ---

// storedUser returns a user with a real argon2id hash for the given password.
func storedUser(t *testing.T, id, email, password string) *User {
	t.Helper()
	hash, err := hashPassword(password)
	if err != nil {
		t.Fatalf("hashPassword failed: %v", err)
	}
	return &User{ID: id, Email: email, PasswordHash: hash}
}

func TestLogin_Success(t *testing.T) {
	lastLoginUpdated := false
	repo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*User, error) {
			return storedUser(t, "user-123", "alice@example.com", "correct-password"), nil
		},
		updateLastLoginFn: func(ctx context.Context, id string) error {
			lastLoginUpdated = true
			return nil
		},
	}

	svc, _ := newTestAuthServiceWithRedis(t, repo)
	token, user, err := svc.Login(context.Background(), LoginInput{
		Email:    "alice@example.com",
		Password: "correct-password",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token == "" {
		t.Fatal("expected session token")
	}
	if user.ID != "user-123" {
		t.Errorf("expected user-123, got %s", user.ID)
	}
	if !lastLoginUpdated {
		t.Error("expected last login to be updated")
	}

	// The returned token must resolve to a session holding only the user id.
	session, err := svc.ValidateSession(context.Background(), token)
	if err != nil {
		t.Fatalf("expected valid session, got: %v", err)
	}
	if session.UserID != "user-123" {
		t.Errorf("expected session user-123, got %s", session.UserID)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	repo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*User, error) {
			return storedUser(t, "user-123", "alice@example.com", "correct-password"), nil
		},
	}

	svc, _ := newTestAuthServiceWithRedis(t, repo)
	_, _, err := svc.Login(context.Background(), LoginInput{
		Email:    "alice@example.com",
		Password: "wrong-password",
	})
	assertAppError(t, err, 401)
}

func TestLogin_UnknownEmail(t *testing.T) {
	repo := &mockUserRepo{} // FindByEmail defaults to NotFound.

	svc, _ := newTestAuthServiceWithRedis(t, repo)
	_, _, err := svc.Login(context.Background(), LoginInput{
		Email:    "nobody@example.com",
		Password: "any-password",
	})
	assertAppError(t, err, 401)
}

func TestLogin_SameErrorForUnknownEmailAndWrongPassword(t *testing.T) {
	// The two failure modes must be indistinguishable to the client.
	repoKnown := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*User, error) {
			return storedUser(t, "user-123", "alice@example.com", "correct-password"), nil
		},
	}
	repoUnknown := &mockUserRepo{}

	svcKnown, _ := newTestAuthServiceWithRedis(t, repoKnown)
	svcUnknown, _ := newTestAuthServiceWithRedis(t, repoUnknown)

	_, _, errWrongPassword := svcKnown.Login(context.Background(), LoginInput{
		Email: "alice@example.com", Password: "wrong",
	})
	_, _, errUnknownEmail := svcUnknown.Login(context.Background(), LoginInput{
		Email: "nobody@example.com", Password: "wrong",
	})

	var appErr1, appErr2 *apperror.AppError
	if !errors.As(errWrongPassword, &appErr1) || !errors.As(errUnknownEmail, &appErr2) {
		t.Fatalf("expected AppErrors, got %v and %v", errWrongPassword, errUnknownEmail)
	}
	if appErr1.Message != appErr2.Message || appErr1.Code != appErr2.Code {
		t.Errorf("expected identical errors, got %q(%d) and %q(%d)",
			appErr1.Message, appErr1.Code, appErr2.Message, appErr2.Code)
	}
}

func TestLogin_LastLoginFailureIsNotFatal(t *testing.T) {
	repo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*User, error) {
			return storedUser(t, "user-123", "alice@example.com", "correct-password"), nil
		},
		updateLastLoginFn: func(ctx context.Context, id string) error {
			return errors.New("db write error")
		},
	}

	svc, _ := newTestAuthServiceWithRedis(t, repo)
	token, _, err := svc.Login(context.Background(), LoginInput{
		Email:    "alice@example.com",
		Password: "correct-password",
	})
	if err != nil {
		t.Fatalf("expected login to succeed despite last-login failure, got: %v", err)
	}
	if token == "" {
		t.Error("expected session token")
	}
}

// --- Session Tests ---

func TestValidateSession_InvalidToken(t *testing.T) {
	svc, _ := newTestAuthServiceWithRedis(t, &mockUserRepo{})

	_, err := svc.ValidateSession(context.Background(), "no-such-token")
	assertAppError(t, err, 401)
}

func TestValidateSession_Expired(t *testing.T) {
	repo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*User, error) {
			return storedUser(t, "user-123", "alice@example.com", "correct-password"), nil
		},
	}

	svc, mr := newTestAuthServiceWithRedis(t, repo)
	token, _, err := svc.Login(context.Background(), LoginInput{
		Email:    "alice@example.com",
		Password: "correct-password",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Advance miniredis past the session TTL so the key expires.
	mr.FastForward(svc.sessionTTL + time.Minute)

	_, err = svc.ValidateSession(context.Background(), token)
	assertAppError(t, err, 401)
}

func TestSessionTTL(t *testing.T) {
	repo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*User, error) {
			return storedUser(t, "user-123", "alice@example.com", "correct-password"), nil
		},
	}

	svc, mr := newTestAuthServiceWithRedis(t, repo)
	token, _, err := svc.Login(context.Background(), LoginInput{
		Email:    "alice@example.com",
		Password: "correct-password",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ttl := mr.TTL(sessionKeyPrefix + token)
	if ttl <= 0 || ttl > svc.sessionTTL {
		t.Errorf("expected TTL in (0, %v], got %v", svc.sessionTTL, ttl)
	}
}

func TestDestroySession(t *testing.T) {
	repo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*User, error) {
			return storedUser(t, "user-123", "alice@example.com", "correct-password"), nil
		},
	}

	svc, _ := newTestAuthServiceWithRedis(t, repo)
	token, _, err := svc.Login(context.Background(), LoginInput{
		Email:    "alice@example.com",
		Password: "correct-password",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := svc.DestroySession(context.Background(), token); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The token must be dead immediately.
	_, err = svc.ValidateSession(context.Background(), token)
	assertAppError(t, err, 401)
}

func TestDestroySession_UnknownTokenIsNoop(t *testing.T) {
	svc, _ := newTestAuthServiceWithRedis(t, &mockUserRepo{})

	if err := svc.DestroySession(context.Background(), "never-existed"); err != nil {
		t.Fatalf("expected nil error for unknown token, got: %v", err)
	}
}

// --- Password Hashing Tests ---

func TestHashAndVerifyPassword(t *testing.T) {
	password := "my-secret-password-123"

	hash, err := hashPassword(password)
	if err != nil {
		t.Fatalf("hashPassword failed: %v", err)
	}
	if hash == "" {
		t.Fatal("expected non-empty hash")
	}

	// Correct password should verify.
	if !verifyPassword(password, hash) {
		t.Error("expected correct password to verify")
	}

	// Wrong password should not verify.
	if verifyPassword("wrong-password", hash) {
		t.Error("expected wrong password to fail verification")
	}
}

func TestVerifyPassword_InvalidHash(t *testing.T) {
	tests := []struct {
		name string
		hash string
	}{
		{"empty string", ""},
		{"random text", "not-a-hash"},
		{"too few parts", "$argon2id$v=19$m=65536"},
		{"corrupted salt", "$argon2id$v=19$m=65536,t=3,p=4$!!!invalid$aGFzaA"},
		{"corrupted hash", "$argon2id$v=19$m=65536,t=3,p=4$c2FsdA$!!!invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if verifyPassword("password", tt.hash) {
				t.Error("expected invalid hash to fail verification")
			}
		})
	}
}

func TestHashPassword_UniqueSalts(t *testing.T) {
	hash1, err := hashPassword("same-password")
	if err != nil {
		t.Fatalf("hashPassword failed: %v", err)
	}
	hash2, err := hashPassword("same-password")
	if err != nil {
		t.Fatalf("hashPassword failed: %v", err)
	}
	if hash1 == hash2 {
		t.Error("expected different salts to produce different hashes")
	}
}

// --- Password Reset Tests ---

func TestInitiatePasswordReset_Success(t *testing.T) {
	var capturedTokenHash string
	mail := newMockMailer()
	repo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*User, error) {
			return &User{ID: "user-123", Email: "alice@example.com"}, nil
		},
		saveResetTokenFn: func(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
			if userID != "user-123" {
				t.Errorf("expected user-123, got %s", userID)
			}
			if tokenHash == "" {
				t.Error("expected non-empty token hash")
			}
			capturedTokenHash = tokenHash
			// Verify expiry is roughly 1 hour from now.
			untilExpiry := time.Until(expiresAt)
			if untilExpiry < 55*time.Minute || untilExpiry > 65*time.Minute {
				t.Errorf("expected expiry ~1 hour, got %v", untilExpiry)
			}
			return nil
		},
	}

	svc := newTestAuthService(repo)
	svc.mail = mail

	err := svc.InitiatePasswordReset(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := mail.waitForMail(t)
	if len(msg.to) != 1 || msg.to[0] != "alice@example.com" {
		t.Errorf("expected email to alice@example.com, got %v", msg.to)
	}
	if msg.subject == "" {
		t.Error("expected non-empty subject")
	}

	// The emailed link must carry the raw token, and the database only its
	// hash. Extract the token from the link and check the pair matches.
	linkPrefix := svc.baseURL + "/reset/"
	idx := strings.Index(msg.body, linkPrefix)
	if idx < 0 {
		t.Fatalf("expected reset link with prefix %s in body:\n%s", linkPrefix, msg.body)
	}
	rest := msg.body[idx+len(linkPrefix):]
	rawToken := rest
	if end := strings.IndexAny(rest, "\r\n"); end >= 0 {
		rawToken = rest[:end]
	}
	if len(rawToken) != resetTokenBytes*2 {
		t.Errorf("expected %d-char hex token in link, got %d", resetTokenBytes*2, len(rawToken))
	}
	if hashToken(rawToken) != capturedTokenHash {
		t.Error("expected stored hash to be SHA-256 of the emailed token")
	}
	if strings.Contains(msg.body, capturedTokenHash) {
		t.Error("expected the stored hash never to appear in the email")
	}
}

func TestInitiatePasswordReset_UnknownEmail(t *testing.T) {
	mail := newMockMailer()
	repo := &mockUserRepo{} // FindByEmail defaults to NotFound.

	svc := newTestAuthService(repo)
	svc.mail = mail

	// Should return nil (no error) to prevent email enumeration.
	err := svc.InitiatePasswordReset(context.Background(), "unknown@example.com")
	if err != nil {
		t.Fatalf("expected nil error for unknown email, got: %v", err)
	}

	mail.assertNoMail(t)
}

func TestInitiatePasswordReset_TokenStorageError(t *testing.T) {
	repo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*User, error) {
			return &User{ID: "user-123", Email: "alice@example.com"}, nil
		},
		saveResetTokenFn: func(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
			return errors.New("db error")
		},
	}

	svc := newTestAuthService(repo)
	err := svc.InitiatePasswordReset(context.Background(), "alice@example.com")
	assertAppError(t, err, 500)
}

func TestInitiatePasswordReset_NoMailer(t *testing.T) {
	var tokenStored bool
	repo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*User, error) {
			return &User{ID: "user-123", Email: "alice@example.com"}, nil
		},
		saveResetTokenFn: func(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
			tokenStored = true
			return nil
		},
	}

	// No mailer configured -- should still succeed (token stored, no email).
	svc := newTestAuthService(repo)
	err := svc.InitiatePasswordReset(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tokenStored {
		t.Error("expected token to be stored even without a mailer")
	}
}

func TestInitiatePasswordReset_EmailNormalization(t *testing.T) {
	var capturedEmail string
	repo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*User, error) {
			capturedEmail = email
			return &User{ID: "user-123", Email: email}, nil
		},
	}

	svc := newTestAuthService(repo)
	_ = svc.InitiatePasswordReset(context.Background(), "  ALICE@Example.COM  ")
	if capturedEmail != "alice@example.com" {
		t.Errorf("expected normalized email, got %s", capturedEmail)
	}
}

func TestValidateResetToken_Valid(t *testing.T) {
	plainToken := "abcdef1234567890abcdef1234567890abcdef1234567890abcdef1234567890"
	expectedHash := hashToken(plainToken)

	repo := &mockUserRepo{
		findByValidResetTokenFn: func(ctx context.Context, tokenHash string, now time.Time) (*User, error) {
			if tokenHash != expectedHash {
				t.Errorf("expected hash %s, got %s", expectedHash, tokenHash)
			}
			return &User{ID: "user-123", Email: "alice@example.com"}, nil
		},
	}

	svc := newTestAuthService(repo)
	userID, err := svc.ValidateResetToken(context.Background(), plainToken)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "user-123" {
		t.Errorf("expected user-123, got %s", userID)
	}
}

func TestValidateResetToken_NotFound(t *testing.T) {
	repo := &mockUserRepo{} // FindByValidResetToken defaults to NotFound.

	svc := newTestAuthService(repo)
	_, err := svc.ValidateResetToken(context.Background(), "invalid-token")
	assertAppError(t, err, 400)
}

func TestResetPassword_Success(t *testing.T) {
	var updatedHash string

	repo := &mockUserRepo{
		findByValidResetForUserFn: func(ctx context.Context, tokenHash, userID string, now time.Time) (*User, error) {
			if userID != "user-123" {
				return nil, apperror.NewNotFound("token not found")
			}
			return &User{ID: "user-123", Email: "alice@example.com"}, nil
		},
		updatePasswordFn: func(ctx context.Context, userID, passwordHash string) error {
			if userID != "user-123" {
				t.Errorf("expected user-123, got %s", userID)
			}
			updatedHash = passwordHash
			return nil
		},
	}

	svc := newTestAuthService(repo)
	err := svc.ResetPassword(context.Background(), "valid-token", "user-123", "new-secure-password")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Password hash should have been updated.
	if updatedHash == "" {
		t.Error("expected password hash to be updated")
	}
	// Verify the new hash works with the new password.
	if !verifyPassword("new-secure-password", updatedHash) {
		t.Error("expected new password to verify against updated hash")
	}
}

func TestResetPassword_InvalidToken(t *testing.T) {
	repo := &mockUserRepo{} // Defaults to NotFound.

	svc := newTestAuthService(repo)
	err := svc.ResetPassword(context.Background(), "bad-token", "user-123", "new-password")
	assertAppError(t, err, 400)
}

func TestResetPassword_UserMismatch(t *testing.T) {
	// A valid token submitted with a different user id must be rejected with
	// the same error as an invalid token.
	repo := &mockUserRepo{
		findByValidResetForUserFn: func(ctx context.Context, tokenHash, userID string, now time.Time) (*User, error) {
			if userID != "user-123" {
				return nil, apperror.NewNotFound("token not found")
			}
			return &User{ID: "user-123"}, nil
		},
	}

	svc := newTestAuthService(repo)
	err := svc.ResetPassword(context.Background(), "valid-token", "someone-else", "new-password")
	assertAppError(t, err, 400)
}

func TestResetPassword_UpdatePasswordError(t *testing.T) {
	repo := &mockUserRepo{
		findByValidResetForUserFn: func(ctx context.Context, tokenHash, userID string, now time.Time) (*User, error) {
			return &User{ID: "user-123"}, nil
		},
		updatePasswordFn: func(ctx context.Context, userID, passwordHash string) error {
			return errors.New("db write error")
		},
	}

	svc := newTestAuthService(repo)
	err := svc.ResetPassword(context.Background(), "valid-token", "user-123", "new-password")
	assertAppError(t, err, 500)
}

// --- Token Helper Tests ---

func TestHashToken_Deterministic(t *testing.T) {
	token := "test-token-12345"
	hash1 := hashToken(token)
	hash2 := hashToken(token)
	if hash1 != hash2 {
		t.Error("expected hashToken to be deterministic")
	}
}

func TestHashToken_DifferentInputs(t *testing.T) {
	hash1 := hashToken("token-a")
	hash2 := hashToken("token-b")
	if hash1 == hash2 {
		t.Error("expected different tokens to produce different hashes")
	}
}

func TestHashToken_Length(t *testing.T) {
	hash := hashToken("any-token")
	// SHA-256 = 32 bytes = 64 hex characters.
	if len(hash) != 64 {
		t.Errorf("expected 64-char hex hash, got %d chars", len(hash))
	}
}

func TestGenerateToken_Length(t *testing.T) {
	token, err := generateToken(sessionTokenBytes)
	if err != nil {
		t.Fatalf("generateToken failed: %v", err)
	}
	if len(token) != sessionTokenBytes*2 {
		t.Errorf("expected %d-char hex token, got %d", sessionTokenBytes*2, len(token))
	}
}

func TestGenerateToken_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := generateToken(sessionTokenBytes)
		if err != nil {
			t.Fatalf("generateToken failed: %v", err)
		}
		if seen[token] {
			t.Fatalf("token collision after %d iterations", i)
		}
		seen[token] = true
	}
}
