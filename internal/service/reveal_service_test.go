package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"reveal_backend/internal/config"
	"reveal_backend/internal/model"
	"reveal_backend/internal/repository"
	"reveal_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type testEnv struct {
	reveals    *RevealService
	challenges *ChallengeService
	revealRepo *repository.RevealRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// 内存库在多连接下会各自为政，并发测试统一走单连接
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&model.Reveal{}, &model.Attempt{}))

	cfg := &config.Config{}
	cfg.Reveal.DefaultWindowSeconds = 10
	cfg.Reveal.MaxWindowSeconds = 600
	cfg.Storage.Type = "local"
	cfg.Storage.LocalPath = t.TempDir()

	revealRepo := repository.NewRevealRepository(db)
	attemptRepo := repository.NewAttemptRepository(db)
	storage := &StorageService{Provider: &LocalStorageProvider{Config: &cfg.Storage}}
	hub := NewRevealHub(nil)

	reveals := NewRevealService(revealRepo, attemptRepo, storage, hub, cfg)
	challenges := NewChallengeService(revealRepo, attemptRepo, reveals, hub, cfg)

	return &testEnv{
		reveals:    reveals,
		challenges: challenges,
		revealRepo: revealRepo,
	}
}

func (e *testEnv) mustCreate(t *testing.T, req RevealCreateRequest) *model.Reveal {
	t.Helper()
	reveal, err := e.reveals.Create(1, req)
	require.NoError(t, err)
	return reveal
}

func TestRevealCreateDefaults(t *testing.T) {
	env := newTestEnv(t)

	reveal := env.mustCreate(t, RevealCreateRequest{
		Mode:     "direct",
		BodyText: "生日快乐",
	})

	assert.Equal(t, model.VisibilityPending, reveal.Visibility)
	assert.Equal(t, 10, reveal.WindowSeconds)
	assert.NotEmpty(t, reveal.ID)
}

func TestRevealCreateValidation(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name string
		req  RevealCreateRequest
	}{
		{"direct缺内容", RevealCreateRequest{Mode: "direct"}},
		{"qa缺答案", RevealCreateRequest{Mode: "qa", BodyText: "x", Question: "我最喜欢的颜色?", MaxAttempts: 2}},
		{"qa缺次数", RevealCreateRequest{Mode: "qa", BodyText: "x", Question: "q", Answer: "a"}},
		{"race缺raceType", RevealCreateRequest{Mode: "race", BodyText: "x"}},
		{"rate_guess缺预期值", RevealCreateRequest{Mode: "race", BodyText: "x", RaceType: "rate_guess", Question: "打几分?"}},
		{"binary缺素材", RevealCreateRequest{Mode: "binary", Question: "要不要?"}},

		// 不属于该模式的字段必须为空
		{"direct混入答案", RevealCreateRequest{Mode: "direct", BodyText: "x", Answer: "a"}},
		{"scratch混入binary素材", RevealCreateRequest{Mode: "scratch", BodyText: "x", YesAssetKey: "a/yes.jpg"}},
		{"qa混入raceType", RevealCreateRequest{Mode: "qa", BodyText: "x", Question: "q", Answer: "a", MaxAttempts: 2, RaceType: "group_qa"}},
		{"race混入次数限制", RevealCreateRequest{Mode: "race", BodyText: "x", RaceType: "group_qa", Question: "q", Answer: "a", MaxAttempts: 3}},
		{"group_qa混入预期评分", RevealCreateRequest{Mode: "race", BodyText: "x", RaceType: "group_qa", Question: "q", Answer: "a", ExpectedRating: 8}},
		{"rate_guess混入答案", RevealCreateRequest{Mode: "race", BodyText: "x", RaceType: "rate_guess", Question: "打几分?", ExpectedRating: 8, Answer: "8"}},
		{"binary混入普通素材", RevealCreateRequest{Mode: "binary", Question: "要不要?", YesAssetKey: "a/y.jpg", NoAssetKey: "a/n.jpg", AssetKey: "a/x.jpg"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.reveals.Create(1, tc.req)
			assert.Error(t, err)
		})
	}
}

func TestOpenDirectLifecycle(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()

	reveal := env.mustCreate(t, RevealCreateRequest{Mode: "direct", BodyText: "秘密"})

	result, err := env.reveals.Open(reveal.ID, 0, "", now)
	require.NoError(t, err)
	assert.Equal(t, StatusShowable, result.Status)
	require.NotNil(t, result.Payload)
	assert.Equal(t, "秘密", result.Payload.BodyText)
	assert.Equal(t, 10, result.Payload.RemainingSeconds)

	// 第二次打开拿不到内容
	again, err := env.reveals.Open(reveal.ID, 0, "", now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyConsumed, again.Status)
	assert.Nil(t, again.Payload)

	// 正常消费后是终态
	require.NoError(t, env.reveals.Consume(reveal.ID, now.Add(2*time.Second)))
	final, err := env.reveals.Status(reveal.ID, 0, now.Add(3*time.Second))
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyConsumed, final.Status)
}

func TestOpenConcurrentExactlyOnePayload(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()

	reveal := env.mustCreate(t, RevealCreateRequest{Mode: "direct", BodyText: "只给一个人看"})

	const n = 50
	var wg sync.WaitGroup
	results := make([]*OpenResult, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := env.reveals.Open(reveal.ID, 0, "", now)
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()
	if t.Failed() {
		t.FailNow()
	}

	withPayload := 0
	for _, r := range results {
		if r.Payload != nil {
			withPayload++
		} else {
			assert.Equal(t, StatusAlreadyConsumed, r.Status)
		}
	}
	assert.Equal(t, 1, withPayload, "并发打开恰好一个请求拿到内容")
}

func TestOpenBinaryChoice(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()

	reveal := env.mustCreate(t, RevealCreateRequest{
		Mode:        "binary",
		Question:    "想看哪个版本?",
		YesAssetKey: "a/yes.jpg",
		NoAssetKey:  "a/no.jpg",
	})

	// 不带选择打不开
	_, err := env.reveals.Open(reveal.ID, 0, "", now)
	assert.ErrorIs(t, err, util.ErrChoiceRequired)

	result, err := env.reveals.Open(reveal.ID, 0, "no", now)
	require.NoError(t, err)
	require.NotNil(t, result.Payload)
	assert.Contains(t, result.Payload.AssetURL, "a/no.jpg")

	// 选择已定格，换个选择也只会得到已消费
	again, err := env.reveals.Open(reveal.ID, 0, "yes", now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyConsumed, again.Status)
	assert.Nil(t, again.Payload)
}

func TestOpenAfterWindowExpires(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()

	reveal := env.mustCreate(t, RevealCreateRequest{Mode: "direct", BodyText: "s", WindowSeconds: 5})

	_, err := env.reveals.Open(reveal.ID, 0, "", now)
	require.NoError(t, err)

	// 客户端失联，窗口耗尽后的询问触发防御性过期
	late, err := env.reveals.Open(reveal.ID, 0, "", now.Add(6*time.Second))
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, late.Status)

	stored, err := env.revealRepo.FindByID(reveal.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VisibilityExpired, stored.Visibility)
}

func TestConsumeTransitions(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()

	reveal := env.mustCreate(t, RevealCreateRequest{Mode: "direct", BodyText: "s"})

	// pending 不能直接 consume
	err := env.reveals.Consume(reveal.ID, now)
	assert.ErrorIs(t, err, util.ErrInvalidTransition)

	_, err = env.reveals.Open(reveal.ID, 0, "", now)
	require.NoError(t, err)
	require.NoError(t, env.reveals.Consume(reveal.ID, now))

	// 终态上的重复 consume 报冲突
	err = env.reveals.Consume(reveal.ID, now)
	assert.ErrorIs(t, err, util.ErrAlreadyTerminal)

	err = env.reveals.Consume("no-such-id", now)
	assert.ErrorIs(t, err, util.ErrRevealNotFound)
}

func TestExpireIdempotent(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()

	reveal := env.mustCreate(t, RevealCreateRequest{Mode: "direct", BodyText: "s"})

	// pending 可直接过期（页面隐藏等触发）
	require.NoError(t, env.reveals.Expire(reveal.ID, now))

	stored, err := env.revealRepo.FindByID(reveal.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VisibilityExpired, stored.Visibility)
	require.NotNil(t, stored.ExpiredAt)
	firstExpiry := *stored.ExpiredAt

	// 重复上报是无害空操作，时间戳不动
	require.NoError(t, env.reveals.Expire(reveal.ID, now.Add(time.Minute)))
	stored, err = env.revealRepo.FindByID(reveal.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, firstExpiry, *stored.ExpiredAt, time.Second)

	assert.ErrorIs(t, env.reveals.Expire("no-such-id", now), util.ErrRevealNotFound)
}

func TestExpiredIsTerminalForever(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()

	reveal := env.mustCreate(t, RevealCreateRequest{Mode: "direct", BodyText: "s"})
	require.NoError(t, env.reveals.Expire(reveal.ID, now))

	result, err := env.reveals.Open(reveal.ID, 0, "", now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, result.Status)
	assert.Nil(t, result.Payload)
}

func TestSweepOverdue(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()

	overdue := env.mustCreate(t, RevealCreateRequest{Mode: "direct", BodyText: "a", WindowSeconds: 5})
	fresh := env.mustCreate(t, RevealCreateRequest{Mode: "direct", BodyText: "b", WindowSeconds: 300})

	_, err := env.reveals.Open(overdue.ID, 0, "", now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = env.reveals.Open(fresh.ID, 0, "", now)
	require.NoError(t, err)

	require.NoError(t, env.reveals.SweepOverdue(now))

	stored, err := env.revealRepo.FindByID(overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VisibilityExpired, stored.Visibility)

	stored, err = env.revealRepo.FindByID(fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VisibilityRevealed, stored.Visibility)
}

func TestListAttemptsOwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()

	reveal := env.mustCreate(t, RevealCreateRequest{
		Mode:     "race",
		BodyText: "先到先得",
		RaceType: "group_qa",
		Question: "问题",
		Answer:   "答案",
	})

	_, err := env.challenges.SubmitAttempt(reveal.ID, 5, "错的", now)
	require.NoError(t, err)
	_, err = env.challenges.SubmitAttempt(reveal.ID, 6, "答案", now)
	require.NoError(t, err)

	attempts, err := env.reveals.ListAttempts(1, reveal.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)

	// 非拥有者按不存在处理
	_, err = env.reveals.ListAttempts(2, reveal.ID)
	assert.ErrorIs(t, err, util.ErrRevealNotFound)

	_, err = env.reveals.ListAttempts(1, "no-such-id")
	assert.ErrorIs(t, err, util.ErrRevealNotFound)
}

func TestBulkDeleteOwnedOnly(t *testing.T) {
	env := newTestEnv(t)

	mine := env.mustCreate(t, RevealCreateRequest{Mode: "direct", BodyText: "mine"})
	other, err := env.reveals.Create(2, RevealCreateRequest{Mode: "direct", BodyText: "other"})
	require.NoError(t, err)

	deleted, err := env.reveals.BulkDelete(context.Background(), 1, []string{mine.ID, other.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = env.revealRepo.FindByID(other.ID)
	assert.NoError(t, err, "别人的记录不受影响")
}
