package repository

import (
	"sync"
	"testing"
	"time"

	"reveal_backend/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&model.Reveal{}, &model.Attempt{}))
	return db
}

func seedReveal(t *testing.T, repo *RevealRepository, mode model.RevealMode) *model.Reveal {
	t.Helper()
	reveal := &model.Reveal{
		OwnerID:       1,
		Mode:          mode,
		Visibility:    model.VisibilityPending,
		BodyText:      "content",
		WindowSeconds: 10,
	}
	require.NoError(t, repo.Create(reveal))
	return reveal
}

func TestMarkRevealedConcurrentExactlyOne(t *testing.T) {
	repo := NewRevealRepository(newTestDB(t))
	reveal := seedReveal(t, repo, model.ModeDirect)
	now := time.Now()

	const n = 50
	var wg sync.WaitGroup
	wins := make([]bool, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := repo.MarkRevealed(reveal.ID, now)
			assert.NoError(t, err)
			wins[i] = ok
		}(i)
	}
	wg.Wait()
	if t.Failed() {
		t.FailNow()
	}

	total := 0
	for _, won := range wins {
		if won {
			total++
		}
	}
	assert.Equal(t, 1, total, "条件更新在并发下恰好成功一次")
}

func TestLifecycleMonotonic(t *testing.T) {
	repo := NewRevealRepository(newTestDB(t))
	now := time.Now()

	t.Run("consumed之后回不去", func(t *testing.T) {
		reveal := seedReveal(t, repo, model.ModeDirect)

		ok, err := repo.MarkRevealed(reveal.ID, now)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = repo.MarkConsumed(reveal.ID, now)
		require.NoError(t, err)
		require.True(t, ok)

		// 终态之后一切迁移都失败
		ok, _ = repo.MarkRevealed(reveal.ID, now)
		assert.False(t, ok)
		ok, _ = repo.MarkExpired(reveal.ID, now)
		assert.False(t, ok)
		ok, _ = repo.MarkConsumed(reveal.ID, now)
		assert.False(t, ok)
	})

	t.Run("pending不能直接consume", func(t *testing.T) {
		reveal := seedReveal(t, repo, model.ModeDirect)
		ok, err := repo.MarkConsumed(reveal.ID, now)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("expire对pending和revealed都有效", func(t *testing.T) {
		pending := seedReveal(t, repo, model.ModeDirect)
		ok, err := repo.MarkExpired(pending.ID, now)
		require.NoError(t, err)
		assert.True(t, ok)

		revealed := seedReveal(t, repo, model.ModeDirect)
		_, err = repo.MarkRevealed(revealed.ID, now)
		require.NoError(t, err)
		ok, err = repo.MarkExpired(revealed.ID, now)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestClaimWinnerConcurrent(t *testing.T) {
	repo := NewRevealRepository(newTestDB(t))
	reveal := seedReveal(t, repo, model.ModeRace)
	now := time.Now()

	const n = 30
	var wg sync.WaitGroup
	claims := make([]bool, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := repo.ClaimWinner(reveal.ID, uint(i+1), now)
			assert.NoError(t, err)
			claims[i] = ok
		}(i)
	}
	wg.Wait()
	if t.Failed() {
		t.FailNow()
	}

	winners := 0
	for _, ok := range claims {
		if ok {
			winners++
		}
	}
	assert.Equal(t, 1, winners)

	stored, err := repo.FindByID(reveal.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.WinnerID)
	assert.Equal(t, model.VisibilityRevealed, stored.Visibility)
	assert.NotNil(t, stored.RevealedAt)
}

func TestIncrementAttemptsBounded(t *testing.T) {
	db := newTestDB(t)
	repo := NewRevealRepository(db)

	reveal := &model.Reveal{
		OwnerID:     1,
		Mode:        model.ModeQA,
		Visibility:  model.VisibilityPending,
		BodyText:    "x",
		Question:    "q",
		Answer:      "a",
		MaxAttempts: 3,
	}
	require.NoError(t, repo.Create(reveal))

	for i := 0; i < 3; i++ {
		ok, err := repo.IncrementAttempts(reveal.ID)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	// 上限之后拒绝
	ok, err := repo.IncrementAttempts(reveal.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := repo.FindByID(reveal.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.AttemptsUsed)
}

func TestAttemptUniquePerParticipant(t *testing.T) {
	db := newTestDB(t)
	attempts := NewAttemptRepository(db)
	reveals := NewRevealRepository(db)
	reveal := seedReveal(t, reveals, model.ModeRace)

	first := &model.Attempt{RevealID: reveal.ID, ParticipantID: 1, SubmittedValue: "a", Outcome: model.OutcomeIncorrect}
	require.NoError(t, attempts.Create(first))

	dup := &model.Attempt{RevealID: reveal.ID, ParticipantID: 1, SubmittedValue: "b", Outcome: model.OutcomeIncorrect}
	assert.ErrorIs(t, attempts.Create(dup), gorm.ErrDuplicatedKey)

	// 其他参与者不受影响
	other := &model.Attempt{RevealID: reveal.ID, ParticipantID: 2, SubmittedValue: "c", Outcome: model.OutcomeIncorrect}
	assert.NoError(t, attempts.Create(other))

	count, err := attempts.CountByReveal(reveal.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}
