package service

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"reveal_backend/internal/model"
	"reveal_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQAReveal(t *testing.T, env *testEnv, caseSensitive bool, maxAttempts int) *model.Reveal {
	t.Helper()
	return env.mustCreate(t, RevealCreateRequest{
		Mode:          "qa",
		BodyText:      "答对才能看到的内容",
		Question:      "我最喜欢的颜色?",
		Answer:        "Blue",
		CaseSensitive: caseSensitive,
		MaxAttempts:   maxAttempts,
	})
}

func TestSubmitAnswerCorrect(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	reveal := newQAReveal(t, env, false, 2)

	// 大小写不敏感时 blue 也算对
	result, err := env.challenges.SubmitAnswer(reveal.ID, 0, "  blue ", now)
	require.NoError(t, err)
	assert.True(t, result.Correct)
	require.NotNil(t, result.Payload)
	assert.Equal(t, "答对才能看到的内容", result.Payload.BodyText)

	stored, err := env.revealRepo.FindByID(reveal.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VisibilityRevealed, stored.Visibility)
}

func TestSubmitAnswerCaseSensitive(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	reveal := newQAReveal(t, env, true, 3)

	result, err := env.challenges.SubmitAnswer(reveal.ID, 0, "blue", now)
	require.NoError(t, err)
	assert.False(t, result.Correct)
	assert.Equal(t, 2, result.AttemptsRemaining)

	result, err = env.challenges.SubmitAnswer(reveal.ID, 0, "Blue", now)
	require.NoError(t, err)
	assert.True(t, result.Correct)
}

func TestSubmitAnswerExhaustionExpires(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	reveal := newQAReveal(t, env, false, 2)

	result, err := env.challenges.SubmitAnswer(reveal.ID, 0, "red", now)
	require.NoError(t, err)
	assert.False(t, result.Correct)
	assert.Equal(t, 1, result.AttemptsRemaining)

	// 第二次也答错，次数用尽，记录过期而不是揭示
	result, err = env.challenges.SubmitAnswer(reveal.ID, 0, "green", now)
	require.NoError(t, err)
	assert.False(t, result.Correct)
	assert.Equal(t, 0, result.AttemptsRemaining)

	stored, err := env.revealRepo.FindByID(reveal.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VisibilityExpired, stored.Visibility)

	// 之后连正确答案也救不回来
	_, err = env.challenges.SubmitAnswer(reveal.ID, 0, "Blue", now)
	assert.ErrorIs(t, err, util.ErrAlreadyTerminal)
}

func TestSubmitAnswerWrongMode(t *testing.T) {
	env := newTestEnv(t)
	reveal := env.mustCreate(t, RevealCreateRequest{Mode: "direct", BodyText: "s"})

	_, err := env.challenges.SubmitAnswer(reveal.ID, 0, "x", time.Now())
	assert.ErrorIs(t, err, util.ErrNotQAReveal)

	_, err = env.challenges.SubmitAttempt(reveal.ID, 1, "x", time.Now())
	assert.ErrorIs(t, err, util.ErrNotRaceReveal)
}

func newRaceReveal(t *testing.T, env *testEnv) *model.Reveal {
	t.Helper()
	return env.mustCreate(t, RevealCreateRequest{
		Mode:     "race",
		BodyText: "第一个答对的人看到这里",
		RaceType: "group_qa",
		Question: "乐队的名字?",
		Answer:   "Radiohead",
	})
}

func TestSubmitAttemptWinner(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	reveal := newRaceReveal(t, env)

	wrong, err := env.challenges.SubmitAttempt(reveal.ID, 1, "Oasis", now)
	require.NoError(t, err)
	assert.True(t, wrong.Accepted)
	assert.False(t, wrong.IsWinner)
	assert.Equal(t, ReasonIncorrect, wrong.Reason)

	right, err := env.challenges.SubmitAttempt(reveal.ID, 2, "radiohead", now)
	require.NoError(t, err)
	assert.True(t, right.IsWinner)

	// 胜者已定，之后的正确答案拿到 race_lost 而不是 incorrect
	late, err := env.challenges.SubmitAttempt(reveal.ID, 3, "Radiohead", now)
	require.NoError(t, err)
	assert.False(t, late.IsWinner)
	assert.Equal(t, ReasonRaceLost, late.Reason)

	stored, err := env.revealRepo.FindByID(reveal.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.WinnerID)
	assert.Equal(t, uint(2), *stored.WinnerID)

	// 胜者在窗口内通过 status 取内容
	status, err := env.reveals.Status(reveal.ID, 2, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, StatusShowable, status.Status)
	require.NotNil(t, status.Payload)

	// 其他人只能看到落败
	status, err = env.reveals.Status(reveal.ID, 3, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, StatusRaceLost, status.Status)
}

func TestRaceStatusShowsChallengeProgress(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	reveal := newRaceReveal(t, env)

	_, err := env.challenges.SubmitAttempt(reveal.ID, 1, "Oasis", now)
	require.NoError(t, err)

	// 已提交的参与者轮询能看到自己提交过了
	status, err := env.reveals.Status(reveal.ID, 1, now)
	require.NoError(t, err)
	assert.Equal(t, StatusShowable, status.Status)
	require.NotNil(t, status.Challenge)
	assert.True(t, status.Challenge.AlreadySubmitted)
	assert.Equal(t, int64(1), status.Challenge.ParticipantCount)

	// 还没提交的参与者看到的是未提交
	status, err = env.reveals.Status(reveal.ID, 2, now)
	require.NoError(t, err)
	require.NotNil(t, status.Challenge)
	assert.False(t, status.Challenge.AlreadySubmitted)
}

func TestSubmitAttemptNoResubmission(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	reveal := newRaceReveal(t, env)

	_, err := env.challenges.SubmitAttempt(reveal.ID, 1, "Oasis", now)
	require.NoError(t, err)

	// 答错后换正确答案重交也不行
	_, err = env.challenges.SubmitAttempt(reveal.ID, 1, "Radiohead", now)
	assert.ErrorIs(t, err, util.ErrAlreadyAnswered)
}

func TestSubmitAttemptConcurrentSingleWinner(t *testing.T) {
	for _, n := range []int{2, 10, 100} {
		t.Run(fmt.Sprintf("participants_%d", n), func(t *testing.T) {
			env := newTestEnv(t)
			now := time.Now()
			reveal := newRaceReveal(t, env)

			var wg sync.WaitGroup
			results := make([]*RaceResult, n)

			// 所有人同时提交正确答案
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					r, err := env.challenges.SubmitAttempt(reveal.ID, uint(i+1), "Radiohead", now)
					assert.NoError(t, err)
					results[i] = r
				}(i)
			}
			wg.Wait()
			if t.Failed() {
				t.FailNow()
			}

			winners := 0
			for _, r := range results {
				if r.IsWinner {
					winners++
				} else {
					assert.Equal(t, ReasonRaceLost, r.Reason)
				}
			}
			assert.Equal(t, 1, winners, "任意并发下恰好一个胜者")

			stored, err := env.revealRepo.FindByID(reveal.ID)
			require.NoError(t, err)
			require.NotNil(t, stored.WinnerID)
			assert.Equal(t, model.VisibilityRevealed, stored.Visibility)
		})
	}
}

func TestSubmitAttemptRateGuess(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	reveal := env.mustCreate(t, RevealCreateRequest{
		Mode:           "race",
		BodyText:       "猜中评分的人看到",
		RaceType:       "rate_guess",
		Question:       "这部电影我打几分?",
		ExpectedRating: 8,
	})

	miss, err := env.challenges.SubmitAttempt(reveal.ID, 1, "7", now)
	require.NoError(t, err)
	assert.Equal(t, ReasonIncorrect, miss.Reason)

	hit, err := env.challenges.SubmitAttempt(reveal.ID, 2, " 8 ", now)
	require.NoError(t, err)
	assert.True(t, hit.IsWinner)

	junk, err := env.challenges.SubmitAttempt(reveal.ID, 3, "eight", now)
	require.NoError(t, err)
	assert.False(t, junk.IsWinner)
}

func TestAnswerHint(t *testing.T) {
	assert.Equal(t, "", AnswerHint(""))
	assert.Equal(t, "** (2)", AnswerHint("no"))
	assert.Equal(t, "B**e (4)", AnswerHint("Blue"))
	assert.Equal(t, "蓝*色 (3)", AnswerHint("蓝颜色"))
}
