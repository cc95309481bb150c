package service

import (
	"testing"
	"time"

	"portal/internal/config"
	"portal/internal/dbtest"
	"portal/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testConfig() config.Config {
	return config.Config{
		JWTSecret:             "test-secret",
		Env:                   "dev",
		AccessTokenTTLMinutes: 15,
		AdminName:             dbtest.AdminName,
		BaselineRank:          dbtest.Baseline,
		MeetingStatuses:       []string{"pending", "approved", "rejected", "done"},
		OnlineWindowSeconds:   60,
	}
}

func newUserService(t *testing.T) (*UserService, *gorm.DB) {
	t.Helper()
	gdb := dbtest.Open(t)
	return NewUserService(gdb, testConfig()), gdb
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func TestRegisterAndLogin_BaselineRank(t *testing.T) {
	svc, _ := newUserService(t)

	require.NoError(t, svc.Register("alice", "Alice A.", "pw1"))

	res, err := svc.Login("alice", "pw1")
	require.NoError(t, err)
	assert.Equal(t, "alice", res.User.Username)
	assert.Equal(t, dbtest.Baseline, res.User.Rank)
	assert.Equal(t, "Alice A.", res.User.FullName)
	assert.Equal(t, 4, res.User.Level)
	assert.Empty(t, res.User.Permissions)
	assert.NotEmpty(t, res.Token)
}

func TestRegister_Duplicate(t *testing.T) {
	svc, _ := newUserService(t)

	require.NoError(t, svc.Register("alice", "Alice", "pw1"))
	assert.ErrorIs(t, svc.Register("alice", "Other", "pw2"), ErrUsernameTaken)
}

func TestRegister_UniqueViolationFromPostgres(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer sqlDB.Close()

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
	})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`INSERT INTO "users"`).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})

	svc := NewUserService(gdb, testConfig())
	assert.ErrorIs(t, svc.Register("alice", "Alice", "pw1"), ErrUsernameTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc, _ := newUserService(t)
	require.NoError(t, svc.Register("alice", "Alice", "pw1"))

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"wrong password", "alice", "nope"},
		{"unknown user", "bob", "pw1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(tt.username, tt.password)
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		})
	}
}

func TestLogin_ActiveBanReportsRemainingSeconds(t *testing.T) {
	svc, _ := newUserService(t)
	require.NoError(t, svc.Register("alice", "Alice", "pw1"))

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc.now = fixedClock(now)
	require.NoError(t, svc.Kick(KickRequest{Username: "alice", Reason: "spam", AdminName: "admin", IsBan: true, Minutes: 10}))

	svc.now = fixedClock(now.Add(1500 * time.Millisecond))
	_, err := svc.Login("alice", "pw1")
	require.ErrorIs(t, err, ErrBanned)

	var banErr *BanError
	require.ErrorAs(t, err, &banErr)
	// 600s - 1.5s = 598.5s, rounded up.
	assert.Equal(t, int64(599), banErr.Remaining)

	svc.now = fixedClock(now.Add(11 * time.Minute))
	_, err = svc.Login("alice", "pw1")
	assert.NoError(t, err)
}

func TestBanRemaining(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Second)
	soon := now.Add(time.Microsecond)
	later := now.Add(2001 * time.Millisecond)

	tests := []struct {
		name     string
		banUntil *time.Time
		want     int64
	}{
		{"no ban", nil, 0},
		{"expired", &past, 0},
		{"sub-millisecond", &soon, 1},
		{"rounds up", &later, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, banRemaining(tt.banUntil, now))
		})
	}
}

func TestKick_ForceLogoutUntilNextLogin(t *testing.T) {
	svc, gdb := newUserService(t)
	require.NoError(t, svc.Register("alice", "Alice", "pw1"))

	hb, err := svc.Heartbeat("alice")
	require.NoError(t, err)
	assert.False(t, hb.Kicked)

	require.NoError(t, svc.Kick(KickRequest{Username: "alice", Reason: "go home", AdminName: "admin"}))

	var u models.User
	require.NoError(t, gdb.Where("username = ?", "alice").First(&u).Error)
	assert.True(t, u.ForceLogout)
	assert.Nil(t, u.BanUntil, "kick without ban must not set a ban")

	hb, err = svc.Heartbeat("alice")
	require.NoError(t, err)
	assert.Equal(t, &HeartbeatResult{Kicked: true, Reason: "go home", By: "admin"}, hb)

	_, err = svc.Login("alice", "pw1")
	require.NoError(t, err)

	hb, err = svc.Heartbeat("alice")
	require.NoError(t, err)
	assert.False(t, hb.Kicked)
}

func TestKick_BanWindow(t *testing.T) {
	svc, gdb := newUserService(t)
	require.NoError(t, svc.Register("alice", "Alice", "pw1"))

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = fixedClock(now)
	require.NoError(t, svc.Kick(KickRequest{Username: "alice", Reason: "cool down", AdminName: "admin", IsBan: true, Minutes: 10}))

	var u models.User
	require.NoError(t, gdb.Where("username = ?", "alice").First(&u).Error)
	require.NotNil(t, u.BanUntil)
	assert.WithinDuration(t, now.Add(10*time.Minute), *u.BanUntil, time.Second)
	assert.True(t, u.ForceLogout)

	svc.now = fixedClock(now.Add(5 * time.Minute))
	hb, err := svc.Heartbeat("alice")
	require.NoError(t, err)
	assert.True(t, hb.Kicked)
}

func TestKick_BanWithoutMinutesOnlyKicks(t *testing.T) {
	svc, gdb := newUserService(t)
	require.NoError(t, svc.Register("alice", "Alice", "pw1"))

	require.NoError(t, svc.Kick(KickRequest{Username: "alice", AdminName: "admin", IsBan: true, Minutes: 0}))

	var u models.User
	require.NoError(t, gdb.Where("username = ?", "alice").First(&u).Error)
	assert.Nil(t, u.BanUntil)
	assert.True(t, u.ForceLogout)
}

func TestKick_UnknownUser(t *testing.T) {
	svc, _ := newUserService(t)
	assert.ErrorIs(t, svc.Kick(KickRequest{Username: "ghost", AdminName: "admin"}), ErrUserNotFound)
}

func TestHeartbeat_UnknownUser(t *testing.T) {
	svc, _ := newUserService(t)
	_, err := svc.Heartbeat("ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestList_OrderColorAndOnline(t *testing.T) {
	svc, _ := newUserService(t)
	require.NoError(t, svc.Register("alice", "Alice", "pw1"))
	require.NoError(t, svc.Register("bob", "Bob", "pw2"))
	_, err := svc.Heartbeat("bob")
	require.NoError(t, err)

	users, err := svc.List()
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, []string{"admin", "alice", "bob"}, []string{users[0].Username, users[1].Username, users[2].Username})
	assert.Equal(t, "#e74c3c", users[0].Color)
	assert.Equal(t, "#95a5a6", users[1].Color)
	assert.False(t, users[1].Online)
	assert.True(t, users[2].Online)
}

func TestSetRank(t *testing.T) {
	svc, gdb := newUserService(t)
	require.NoError(t, svc.Register("alice", "Alice", "pw1"))

	require.NoError(t, svc.SetRank("alice", "moderator"))
	var u models.User
	require.NoError(t, gdb.Where("username = ?", "alice").First(&u).Error)
	assert.Equal(t, "moderator", u.RankName)

	assert.ErrorIs(t, svc.SetRank("alice", "nope"), ErrRankNotFound)
	assert.ErrorIs(t, svc.SetRank("ghost", "user"), ErrUserNotFound)
}
