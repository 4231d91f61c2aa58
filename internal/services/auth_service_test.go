package services

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/medigate/backend/internal/anomaly"
	"github.com/medigate/backend/internal/auth"
	"github.com/medigate/backend/internal/config"
	"github.com/medigate/backend/internal/models"
	pkgauth "github.com/medigate/backend/pkg/auth"
	pkglogger "github.com/medigate/backend/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockUserRepo implements UserRepository backed by a map
type mockUserRepo struct {
	byEmail map[string]*models.User
	byID    map[string]*models.User
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{
		byEmail: make(map[string]*models.User),
		byID:    make(map[string]*models.User),
	}
}

func (m *mockUserRepo) add(user *models.User) {
	m.byEmail[user.Email] = user
	m.byID[user.ID] = user
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User) (*models.User, error) {
	user.ID = "user-" + user.Email
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	m.add(user)
	return user, nil
}

func (m *mockUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := m.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return user, nil
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	user, ok := m.byEmail[email]
	if !ok {
		return nil, models.ErrNotFound
	}
	return user, nil
}

// mockAttemptRepo implements LoginAttemptRepository in memory
type mockAttemptRepo struct {
	attempts []*models.LoginAttempt
}

func (m *mockAttemptRepo) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	m.attempts = append(m.attempts, attempt)
	return nil
}

func (m *mockAttemptRepo) GetFailedAttemptCount(ctx context.Context, email string, since time.Time) (int, error) {
	count := 0
	for _, a := range m.attempts {
		if a.Email == email && !a.Success && !a.AttemptTime.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *mockAttemptRepo) GetFailedAttemptCountByIP(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	count := 0
	for _, a := range m.attempts {
		if a.IPAddress == ipAddress && !a.Success && !a.AttemptTime.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *mockAttemptRepo) DeleteFailedByEmail(ctx context.Context, email string) error {
	kept := m.attempts[:0]
	for _, a := range m.attempts {
		if a.Email == email && !a.Success {
			continue
		}
		kept = append(kept, a)
	}
	m.attempts = kept
	return nil
}

// mockChallengeRepo implements MFAChallengeRepository in memory
type mockChallengeRepo struct {
	challenges []*models.MFAChallenge
	nextID     int
}

func (m *mockChallengeRepo) Create(ctx context.Context, challenge *models.MFAChallenge) error {
	m.nextID++
	challenge.ID = "challenge-" + string(rune('a'+m.nextID))
	m.challenges = append(m.challenges, challenge)
	return nil
}

func (m *mockChallengeRepo) GetLatestByUser(ctx context.Context, userID string) (*models.MFAChallenge, error) {
	var latest *models.MFAChallenge
	for _, c := range m.challenges {
		if c.UserID != userID {
			continue
		}
		if latest == nil || c.SentAt.After(latest.SentAt) {
			latest = c
		}
	}
	return latest, nil
}

func (m *mockChallengeRepo) GetActiveByUserAndCode(ctx context.Context, userID, code string, now time.Time) (*models.MFAChallenge, error) {
	for _, c := range m.challenges {
		if c.UserID == userID && c.Code == code && c.ExpiresAt.After(now) {
			return c, nil
		}
	}
	return nil, nil
}

func (m *mockChallengeRepo) DeleteByUser(ctx context.Context, userID string) error {
	kept := m.challenges[:0]
	for _, c := range m.challenges {
		if c.UserID != userID {
			kept = append(kept, c)
		}
	}
	m.challenges = kept
	return nil
}

// mockFlaggedIPRepo implements FlaggedIPRepository in memory
type mockFlaggedIPRepo struct {
	flagged map[string]*models.FlaggedIP
}

func newMockFlaggedIPRepo() *mockFlaggedIPRepo {
	return &mockFlaggedIPRepo{flagged: make(map[string]*models.FlaggedIP)}
}

func (m *mockFlaggedIPRepo) Flag(ctx context.Context, f *models.FlaggedIP) error {
	if _, ok := m.flagged[f.IPAddress]; !ok {
		m.flagged[f.IPAddress] = f
	}
	return nil
}

func (m *mockFlaggedIPRepo) IsFlagged(ctx context.Context, ipAddress string) (bool, error) {
	_, ok := m.flagged[ipAddress]
	return ok, nil
}

// mockEmailService records sent codes
type mockEmailService struct {
	sentTo    []string
	sentCodes []string
}

func (m *mockEmailService) SendMFACode(ctx context.Context, email, code string, expiresAt time.Time) error {
	m.sentTo = append(m.sentTo, email)
	m.sentCodes = append(m.sentCodes, code)
	return nil
}

type authFixture struct {
	svc        *AuthService
	users      *mockUserRepo
	attempts   *mockAttemptRepo
	challenges *mockChallengeRepo
	flaggedIPs *mockFlaggedIPRepo
	flags      *anomaly.FlagStore
	email      *mockEmailService
	clock      *time.Time
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	f := &authFixture{
		users:      newMockUserRepo(),
		attempts:   &mockAttemptRepo{},
		challenges: &mockChallengeRepo{},
		flaggedIPs: newMockFlaggedIPRepo(),
		flags:      anomaly.NewFlagStore(),
		email:      &mockEmailService{},
	}

	security := config.SecurityConfig{
		BruteForceThreshold: 20,
		BruteForceWindow:    time.Minute,
		LockoutThreshold:    10,
		LockoutWindow:       10 * time.Minute,
		MFACodeExpiry:       5 * time.Minute,
		MFAResendCooldown:   time.Minute,
	}

	tm := auth.NewTokenManager("test-secret-at-least-16", 7*24*time.Hour)
	f.svc = NewAuthService(
		f.users, f.attempts, f.challenges, f.flaggedIPs, f.flags,
		f.email, tm, security, logger, pkglogger.NewAuditLogger(logger),
	)

	now := time.Now()
	f.clock = &now
	f.svc.now = func() time.Time { return *f.clock }

	return f
}

func (f *authFixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func (f *authFixture) seedUser(t *testing.T, email, password string) *models.User {
	t.Helper()
	hash, err := pkgauth.HashPassword(password)
	require.NoError(t, err)
	user := &models.User{
		ID:           "user-" + email,
		Name:         "Test User",
		Email:        email,
		PasswordHash: hash,
		Role:         models.RolePatient,
	}
	f.users.add(user)
	return user
}

func TestAuthServiceLogin_IssuesChallengeNotToken(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "pat@example.com", "Str0ngPass")
	ctx := context.Background()

	resp, err := f.svc.Login(ctx, "pat@example.com", "Str0ngPass", "192.168.1.10")
	require.NoError(t, err)

	assert.True(t, resp.RequiresMFA)
	assert.Equal(t, "user-pat@example.com", resp.UserID)
	require.Len(t, f.email.sentCodes, 1)
	assert.Len(t, f.email.sentCodes[0], 6)
}

func TestAuthServiceLogin_WrongPasswordRecordsFailure(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "pat@example.com", "Str0ngPass")
	ctx := context.Background()

	_, err := f.svc.Login(ctx, "pat@example.com", "wrong-password", "192.168.1.10")
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	count, _ := f.attempts.GetFailedAttemptCount(ctx, "pat@example.com", time.Time{})
	assert.Equal(t, 1, count)
}

func TestAuthServiceLogin_UnknownUserRecordsFailure(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.svc.Login(ctx, "nobody@example.com", "whatever", "192.168.1.10")
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	count, _ := f.attempts.GetFailedAttemptCountByIP(ctx, "192.168.1.10", time.Time{})
	assert.Equal(t, 1, count)
}

func TestAuthServiceLogin_AccountLockoutAfterThreshold(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "pat@example.com", "Str0ngPass")
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := f.svc.Login(ctx, "pat@example.com", "wrong-password", "192.168.1.10")
		require.ErrorIs(t, err, models.ErrUnauthorized)
	}

	// The correct password is refused while the account is locked
	_, err := f.svc.Login(ctx, "pat@example.com", "Str0ngPass", "192.168.1.10")
	assert.ErrorIs(t, err, models.ErrAccountLocked)

	// The lockout window is trailing; it releases on its own
	f.advance(11 * time.Minute)
	_, err = f.svc.Login(ctx, "pat@example.com", "Str0ngPass", "192.168.1.10")
	assert.NoError(t, err)
}

func TestAuthServiceLogAttempt_BruteForceFlagsIP(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	for i := 0; i < 19; i++ {
		require.NoError(t, f.svc.LogAttempt(ctx, "victim@example.com", "203.0.113.7", false))
	}
	assert.False(t, f.flags.IsFlagged("203.0.113.7"))

	require.NoError(t, f.svc.LogAttempt(ctx, "victim@example.com", "203.0.113.7", false))

	assert.True(t, f.flags.IsFlagged("203.0.113.7"))
	persisted, _ := f.flaggedIPs.IsFlagged(ctx, "203.0.113.7")
	assert.True(t, persisted)
}

func TestAuthServiceLogAttempt_FlagReasonDescribesBurst(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		require.NoError(t, f.svc.LogAttempt(ctx, "victim@example.com", "203.0.113.7", false))
	}

	// Operators see the reason via the flagged-ips listing; it names the
	// burst, not an internal code
	entry, ok := f.flags.Get("203.0.113.7")
	require.True(t, ok)
	assert.Equal(t, "Brute-force suspected: 20 failed attempts in 1m0s.", entry.Reason)
	assert.Equal(t, entry.Reason, f.flaggedIPs.flagged["203.0.113.7"].Reason)
}

func TestAuthServiceLogin_FlaggedIPIsBlocked(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "pat@example.com", "Str0ngPass")
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		require.NoError(t, f.svc.LogAttempt(ctx, "other@example.com", "203.0.113.7", false))
	}

	_, err := f.svc.Login(ctx, "pat@example.com", "Str0ngPass", "203.0.113.7")
	assert.ErrorIs(t, err, models.ErrIPBlocked)

	// The live check clears once the failure burst leaves the window
	f.advance(2 * time.Minute)
	_, err = f.svc.Login(ctx, "pat@example.com", "Str0ngPass", "203.0.113.7")
	assert.NoError(t, err)
}

func TestAuthServiceVerifyMFA_Succeeds(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "pat@example.com", "Str0ngPass")
	ctx := context.Background()

	_, err := f.svc.Login(ctx, "pat@example.com", "Str0ngPass", "192.168.1.10")
	require.NoError(t, err)

	resp, err := f.svc.VerifyMFA(ctx, user.ID, f.email.sentCodes[0], "192.168.1.10")
	require.NoError(t, err)

	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "pat@example.com", resp.User.Email)
}

func TestAuthServiceVerifyMFA_CodeIsSingleUse(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "pat@example.com", "Str0ngPass")
	ctx := context.Background()

	_, err := f.svc.Login(ctx, "pat@example.com", "Str0ngPass", "192.168.1.10")
	require.NoError(t, err)

	code := f.email.sentCodes[0]
	_, err = f.svc.VerifyMFA(ctx, user.ID, code, "192.168.1.10")
	require.NoError(t, err)

	_, err = f.svc.VerifyMFA(ctx, user.ID, code, "192.168.1.10")
	assert.ErrorIs(t, err, models.ErrMFACodeInvalid)
}

func TestAuthServiceVerifyMFA_ExpiredCodeRejected(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "pat@example.com", "Str0ngPass")
	ctx := context.Background()

	_, err := f.svc.Login(ctx, "pat@example.com", "Str0ngPass", "192.168.1.10")
	require.NoError(t, err)

	f.advance(6 * time.Minute)

	_, err = f.svc.VerifyMFA(ctx, user.ID, f.email.sentCodes[0], "192.168.1.10")
	assert.ErrorIs(t, err, models.ErrMFACodeInvalid)
}

func TestAuthServiceVerifyMFA_WrongCodeRejected(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "pat@example.com", "Str0ngPass")
	ctx := context.Background()

	_, err := f.svc.Login(ctx, "pat@example.com", "Str0ngPass", "192.168.1.10")
	require.NoError(t, err)

	wrong := "000000"
	if f.email.sentCodes[0] == wrong {
		wrong = "000001"
	}
	_, err = f.svc.VerifyMFA(ctx, user.ID, wrong, "192.168.1.10")
	assert.ErrorIs(t, err, models.ErrMFACodeInvalid)
}

func TestAuthServiceVerifyMFA_UnknownUser(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.VerifyMFA(context.Background(), "missing-user", "123456", "192.168.1.10")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAuthServiceVerifyMFA_ClearsFailedAttempts(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "pat@example.com", "Str0ngPass")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.svc.Login(ctx, "pat@example.com", "wrong-password", "192.168.1.10")
		require.ErrorIs(t, err, models.ErrUnauthorized)
	}

	_, err := f.svc.Login(ctx, "pat@example.com", "Str0ngPass", "192.168.1.10")
	require.NoError(t, err)

	// The streak persists through the password check and only clears on
	// MFA verification
	count, _ := f.attempts.GetFailedAttemptCount(ctx, "pat@example.com", time.Time{})
	require.Equal(t, 5, count)

	_, err = f.svc.VerifyMFA(ctx, user.ID, f.email.sentCodes[0], "192.168.1.10")
	require.NoError(t, err)

	count, _ = f.attempts.GetFailedAttemptCount(ctx, "pat@example.com", time.Time{})
	assert.Equal(t, 0, count)
}

func TestAuthServiceResendMFA_CooldownSuppressesResend(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "pat@example.com", "Str0ngPass")
	ctx := context.Background()

	_, err := f.svc.Login(ctx, "pat@example.com", "Str0ngPass", "192.168.1.10")
	require.NoError(t, err)
	require.Len(t, f.email.sentCodes, 1)

	f.advance(30 * time.Second)
	require.NoError(t, f.svc.ResendMFA(ctx, user.ID))
	assert.Len(t, f.email.sentCodes, 1)

	f.advance(31 * time.Second)
	require.NoError(t, f.svc.ResendMFA(ctx, user.ID))
	assert.Len(t, f.email.sentCodes, 2)
}

func TestAuthServiceResendMFA_ReplacesStaleCode(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "pat@example.com", "Str0ngPass")
	ctx := context.Background()

	_, err := f.svc.Login(ctx, "pat@example.com", "Str0ngPass", "192.168.1.10")
	require.NoError(t, err)

	f.advance(61 * time.Second)
	require.NoError(t, f.svc.ResendMFA(ctx, user.ID))
	require.Len(t, f.email.sentCodes, 2)

	// The superseded code is no longer a valid credential
	oldCode := f.email.sentCodes[0]
	_, err = f.svc.VerifyMFA(ctx, user.ID, oldCode, "192.168.1.10")
	assert.ErrorIs(t, err, models.ErrMFACodeInvalid)

	// The fresh code carries its own 5-minute expiry; at this point the
	// original issuance is already more than 5 minutes in the past
	f.advance(4*time.Minute + 30*time.Second)
	resp, err := f.svc.VerifyMFA(ctx, user.ID, f.email.sentCodes[1], "192.168.1.10")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
}

func TestAuthServiceVerifyMFA_RecordsLoginSuccess(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "pat@example.com", "Str0ngPass")
	ctx := context.Background()

	_, err := f.svc.Login(ctx, "pat@example.com", "Str0ngPass", "192.168.1.10")
	require.NoError(t, err)

	successRows := func() int {
		n := 0
		for _, a := range f.attempts.attempts {
			if a.Email == "pat@example.com" && a.Success {
				n++
			}
		}
		return n
	}

	// Passing the password check alone is not a completed login
	require.Equal(t, 0, successRows())

	_, err = f.svc.VerifyMFA(ctx, user.ID, f.email.sentCodes[0], "192.168.1.10")
	require.NoError(t, err)
	assert.Equal(t, 1, successRows())
}

func TestAuthServiceResendMFA_UnknownUserIsSilent(t *testing.T) {
	f := newAuthFixture(t)

	err := f.svc.ResendMFA(context.Background(), "missing-user")
	assert.NoError(t, err)
	assert.Empty(t, f.email.sentTo)
}

func TestAuthServiceSignup_CreatesUserAndToken(t *testing.T) {
	f := newAuthFixture(t)

	resp, err := f.svc.Signup(context.Background(), "New Patient", "new@example.com", "Str0ngPass", models.RolePatient)
	require.NoError(t, err)

	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, models.RolePatient, resp.User.Role)
}

func TestAuthServiceSignup_DuplicateEmail(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "taken@example.com", "Str0ngPass")

	_, err := f.svc.Signup(context.Background(), "Other", "taken@example.com", "Str0ngPass", models.RolePatient)
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestAuthServiceSignup_RejectsAdminRole(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Signup(context.Background(), "Sneaky", "sneaky@example.com", "Str0ngPass", models.RoleAdmin)
	assert.Error(t, err)
}
