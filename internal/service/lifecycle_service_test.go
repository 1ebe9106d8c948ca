package service

import (
	"context"
	"fmt"
	"testing"

	"adaptive_quiz_backend/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedUGQ(t *testing.T, stack *testStack, author *model.Student, template *model.Question) *model.UserGeneratedQuestion {
	t.Helper()
	ugq := &model.UserGeneratedQuestion{
		PublicID:   model.GenerateUUID(),
		QuestionID: template.ID,
		AuthorID:   author.ID,
		Body:       fmt.Sprintf("question by %s", author.Username),
		Options: []model.UserGeneratedOption{
			{Position: 0, Text: "yes", Correct: true},
			{Position: 1, Text: "no"},
		},
	}
	require.NoError(t, stack.db.Create(ugq).Error)
	return ugq
}

func seedReview(t *testing.T, stack *testStack, reviewer *model.Student, ugq *model.UserGeneratedQuestion, rating int) {
	t.Helper()
	require.NoError(t, stack.db.Create(&model.UserGeneratedAnswer{
		UGQuestionID: ugq.ID,
		ReviewerID:   reviewer.ID,
		Rating:       rating,
	}).Error)
}

func TestPickForReview_Exclusions(t *testing.T) {
	stack := newTestStack(t)
	lecture := seedLecture(t, stack.db, 1, 0)
	templates := seedQuestions(t, stack.db, lecture, 1, model.QuestionTypeTemplate, func(i int) float64 { return -1 })
	template := &templates[0]

	picker := seedStudent(t, stack.db, "picker")
	other := seedStudent(t, stack.db, "other")
	settings := Settings{}

	t.Run("own question is never offered", func(t *testing.T) {
		own := seedUGQ(t, stack, picker, template)
		picked, err := stack.lifecycle.PickForReview(picker, template, settings)
		require.NoError(t, err)
		assert.Nil(t, picked)
		require.NoError(t, stack.db.Delete(own).Error)
	})

	t.Run("already reviewed is skipped", func(t *testing.T) {
		ugq := seedUGQ(t, stack, other, template)
		seedReview(t, stack, picker, ugq, 60)
		picked, err := stack.lifecycle.PickForReview(picker, template, settings)
		require.NoError(t, err)
		assert.Nil(t, picked)
		require.NoError(t, stack.db.Where("ug_question_id = ?", ugq.ID).Delete(&model.UserGeneratedAnswer{}).Error)
		require.NoError(t, stack.db.Delete(ugq).Error)
	})

	t.Run("review cap closes the round", func(t *testing.T) {
		ugq := seedUGQ(t, stack, other, template)
		for i := 0; i < 5; i++ {
			reviewer := seedStudent(t, stack.db, fmt.Sprintf("cap-reviewer-%d", i))
			seedReview(t, stack, reviewer, ugq, 60)
		}
		picked, err := stack.lifecycle.PickForReview(picker, template, settings)
		require.NoError(t, err)
		assert.Nil(t, picked)
		require.NoError(t, stack.db.Where("ug_question_id = ?", ugq.ID).Delete(&model.UserGeneratedAnswer{}).Error)
		require.NoError(t, stack.db.Delete(ugq).Error)
	})

	t.Run("nonsense votes drown a question", func(t *testing.T) {
		ugq := seedUGQ(t, stack, other, template)
		for i := 0; i < 3; i++ {
			reviewer := seedStudent(t, stack.db, fmt.Sprintf("nonsense-reviewer-%d", i))
			seedReview(t, stack, reviewer, ugq, model.RatingNonsense)
		}
		picked, err := stack.lifecycle.PickForReview(picker, template, settings)
		require.NoError(t, err)
		assert.Nil(t, picked)
		require.NoError(t, stack.db.Where("ug_question_id = ?", ugq.ID).Delete(&model.UserGeneratedAnswer{}).Error)
		require.NoError(t, stack.db.Delete(ugq).Error)
	})

	t.Run("positive ratings outweigh nonsense votes", func(t *testing.T) {
		ugq := seedUGQ(t, stack, other, template)
		for i := 0; i < 3; i++ {
			reviewer := seedStudent(t, stack.db, fmt.Sprintf("mixed-reviewer-%d", i))
			seedReview(t, stack, reviewer, ugq, model.RatingNonsense)
		}
		booster := seedStudent(t, stack.db, "booster")
		seedReview(t, stack, booster, ugq, 90)
		picked, err := stack.lifecycle.PickForReview(picker, template, settings)
		require.NoError(t, err)
		require.NotNil(t, picked)
		assert.Equal(t, ugq.ID, picked.ID)
		require.NoError(t, stack.db.Where("ug_question_id = ?", ugq.ID).Delete(&model.UserGeneratedAnswer{}).Error)
		require.NoError(t, stack.db.Delete(ugq).Error)
	})

	t.Run("superseded revisions are invisible", func(t *testing.T) {
		old := seedUGQ(t, stack, other, template)
		successor := seedUGQ(t, stack, other, template)
		require.NoError(t, stack.db.Model(old).Update("superseded_by", successor.ID).Error)

		picked, err := stack.lifecycle.PickForReview(picker, template, settings)
		require.NoError(t, err)
		require.NotNil(t, picked)
		assert.Equal(t, successor.ID, picked.ID)
	})
}

func TestRecordReview_Validation(t *testing.T) {
	stack := newTestStack(t)
	lecture := seedLecture(t, stack.db, 1, 0)
	templates := seedQuestions(t, stack.db, lecture, 1, model.QuestionTypeTemplate, func(i int) float64 { return -1 })
	author := seedStudent(t, stack.db, "ug-author")
	reviewer := seedStudent(t, stack.db, "ug-reviewer")
	ugq := seedUGQ(t, stack, author, &templates[0])
	ctx := context.Background()

	_, err := stack.lifecycle.RecordReview(ctx, stack.db, reviewer, ugq, nil, 101, "", Settings{})
	assert.Error(t, err)

	_, err = stack.lifecycle.RecordReview(ctx, stack.db, reviewer, ugq, nil, -2, "", Settings{})
	assert.Error(t, err)

	_, err = stack.lifecycle.RecordReview(ctx, stack.db, author, ugq, nil, 50, "", Settings{})
	assert.Error(t, err, "self-review must be rejected")

	review, err := stack.lifecycle.RecordReview(ctx, stack.db, reviewer, ugq, nil, model.RatingNonsense, "unreadable", Settings{})
	require.NoError(t, err)
	assert.Equal(t, model.RatingNonsense, review.Rating)
}

func TestRecordReview_AuthorMilestone(t *testing.T) {
	stack := newTestStack(t)
	lecture := seedLecture(t, stack.db, 1, 0)
	templates := seedQuestions(t, stack.db, lecture, 1, model.QuestionTypeTemplate, func(i int) float64 { return -1 })
	author := seedStudent(t, stack.db, "milestone-author")
	ugq := seedUGQ(t, stack, author, &templates[0])
	ctx := context.Background()
	settings := Settings{}

	// Four reviews in: two sensible, not enough, round still open.
	ratings := []int{80, 20, 70, 10}
	for i, rating := range ratings {
		reviewer := seedStudent(t, stack.db, fmt.Sprintf("m-reviewer-%d", i))
		_, err := stack.lifecycle.RecordReview(ctx, stack.db, reviewer, ugq, nil, rating, "", settings)
		require.NoError(t, err)
	}
	assert.Zero(t, stack.ledger.total())

	// The fifth review closes the round with a 3-of-5 sensible
	// majority and pays the author.
	last := seedStudent(t, stack.db, "m-reviewer-4")
	_, err := stack.lifecycle.RecordReview(ctx, stack.db, last, ugq, nil, 95, "", settings)
	require.NoError(t, err)
	assert.EqualValues(t, 10000, stack.ledger.total())
	require.Len(t, stack.ledger.calls, 1)
	assert.Equal(t, author.Wallet, stack.ledger.calls[0].wallet)

	var stored model.UserGeneratedQuestion
	require.NoError(t, stack.db.First(&stored, ugq.ID).Error)
	assert.True(t, stored.Rewarded)

	// An extra late review never re-awards.
	extra := seedStudent(t, stack.db, "m-reviewer-5")
	_, err = stack.lifecycle.RecordReview(ctx, stack.db, extra, &stored, nil, 100, "", settings)
	require.NoError(t, err)
	assert.EqualValues(t, 10000, stack.ledger.total())
}

func TestRecordReview_WalletlessAuthorClaimsLater(t *testing.T) {
	stack := newTestStack(t)
	lecture := seedLecture(t, stack.db, 1, 0)
	templates := seedQuestions(t, stack.db, lecture, 1, model.QuestionTypeTemplate, func(i int) float64 { return -1 })

	author := &model.Student{
		Host:     "lms.example.org",
		Username: "walletless-author",
		Email:    "walletless-author@example.org",
	}
	require.NoError(t, stack.db.Create(author).Error)
	ugq := seedUGQ(t, stack, author, &templates[0])
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		reviewer := seedStudent(t, stack.db, fmt.Sprintf("w-reviewer-%d", i))
		_, err := stack.lifecycle.RecordReview(ctx, stack.db, reviewer, ugq, nil, 90, "", Settings{})
		require.NoError(t, err)
	}

	// The milestone fired but nothing hit the ledger: the amount
	// accrues on the question row instead.
	var stored model.UserGeneratedQuestion
	require.NoError(t, stack.db.First(&stored, ugq.ID).Error)
	assert.True(t, stored.Rewarded)
	assert.EqualValues(t, 10000, stored.CoinsAwarded)
	assert.Zero(t, stack.ledger.total())

	// Configuring a wallet later recovers the award through a claim.
	require.NoError(t, stack.studentRepo.UpdateWallet(author.ID, "TESTWALLETwalletless"))
	author.Wallet = "TESTWALLETwalletless"

	paid, err := stack.reward.ClaimOutstanding(ctx, author)
	require.NoError(t, err)
	assert.EqualValues(t, 10000, paid)
	assert.EqualValues(t, 10000, stack.ledger.total())

	// A second claim finds nothing outstanding.
	paid, err = stack.reward.ClaimOutstanding(ctx, author)
	require.NoError(t, err)
	assert.Zero(t, paid)
	assert.EqualValues(t, 10000, stack.ledger.total())
}

func TestRecordReview_RejectedRoundPaysNothing(t *testing.T) {
	stack := newTestStack(t)
	lecture := seedLecture(t, stack.db, 1, 0)
	templates := seedQuestions(t, stack.db, lecture, 1, model.QuestionTypeTemplate, func(i int) float64 { return -1 })
	author := seedStudent(t, stack.db, "rejected-author")
	ugq := seedUGQ(t, stack, author, &templates[0])
	ctx := context.Background()

	// Five reviews, only two sensible: majority missed.
	for i, rating := range []int{80, 70, 10, 20, 30} {
		reviewer := seedStudent(t, stack.db, fmt.Sprintf("r-reviewer-%d", i))
		_, err := stack.lifecycle.RecordReview(ctx, stack.db, reviewer, ugq, nil, rating, "", Settings{})
		require.NoError(t, err)
	}
	assert.Zero(t, stack.ledger.total())

	state, err := stack.lifecycle.State(ugq, Settings{})
	require.NoError(t, err)
	assert.Equal(t, UGQStateRejected, state)
}

func TestRecordReview_PerAuthorTemplateCap(t *testing.T) {
	stack := newTestStack(t)
	lecture := seedLecture(t, stack.db, 1, 0)
	templates := seedQuestions(t, stack.db, lecture, 1, model.QuestionTypeTemplate, func(i int) float64 { return -1 })
	author := seedStudent(t, stack.db, "prolific")
	ctx := context.Background()
	// cap of 1 accepted question per author per template
	settings := fixedSettings(SettingCapTemplateQns, "1")

	accept := func(ugq *model.UserGeneratedQuestion, tag string) {
		t.Helper()
		for i := 0; i < 5; i++ {
			reviewer := seedStudent(t, stack.db, fmt.Sprintf("%s-reviewer-%d", tag, i))
			_, err := stack.lifecycle.RecordReview(ctx, stack.db, reviewer, ugq, nil, 90, "", settings)
			require.NoError(t, err)
		}
	}

	first := seedUGQ(t, stack, author, &templates[0])
	accept(first, "first")
	assert.EqualValues(t, 10000, stack.ledger.total())

	// The second accepted question from the same author on the same
	// template is over the cap.
	second := seedUGQ(t, stack, author, &templates[0])
	accept(second, "second")
	assert.EqualValues(t, 10000, stack.ledger.total())

	var stored model.UserGeneratedQuestion
	require.NoError(t, stack.db.First(&stored, second.ID).Error)
	assert.False(t, stored.Rewarded)
}

func TestCreateRevision_SupersedeIntegrity(t *testing.T) {
	stack := newTestStack(t)
	lecture := seedLecture(t, stack.db, 1, 0)
	templates := seedQuestions(t, stack.db, lecture, 2, model.QuestionTypeTemplate, func(i int) float64 { return -1 })
	author := seedStudent(t, stack.db, "rev-author")
	stranger := seedStudent(t, stack.db, "rev-stranger")

	options := []UGQOptionInput{{Text: "a", Correct: true}, {Text: "b"}}

	prior, err := stack.lifecycle.CreateRevision(stack.db, author, &templates[0], "first draft", "", options, nil)
	require.NoError(t, err)

	// Someone else cannot supersede the author's question.
	_, err = stack.lifecycle.CreateRevision(stack.db, stranger, &templates[0], "hijack", "", options, &prior.ID)
	assert.Error(t, err)

	// Nor can a revision jump to another template.
	_, err = stack.lifecycle.CreateRevision(stack.db, author, &templates[1], "wrong template", "", options, &prior.ID)
	assert.Error(t, err)

	successor, err := stack.lifecycle.CreateRevision(stack.db, author, &templates[0], "second draft", "better wording", options, &prior.ID)
	require.NoError(t, err)

	var stored model.UserGeneratedQuestion
	require.NoError(t, stack.db.First(&stored, prior.ID).Error)
	require.NotNil(t, stored.SupersededBy)
	assert.Equal(t, successor.ID, *stored.SupersededBy)

	state, err := stack.lifecycle.State(&stored, Settings{})
	require.NoError(t, err)
	assert.Equal(t, UGQStateSuperseded, state)
}

func TestCreateRevision_Validation(t *testing.T) {
	stack := newTestStack(t)
	lecture := seedLecture(t, stack.db, 1, 0)
	templates := seedQuestions(t, stack.db, lecture, 1, model.QuestionTypeTemplate, func(i int) float64 { return -1 })
	author := seedStudent(t, stack.db, "val-author")

	_, err := stack.lifecycle.CreateRevision(stack.db, author, &templates[0], "", "", []UGQOptionInput{{Text: "a"}}, nil)
	assert.Error(t, err, "empty body")

	_, err = stack.lifecycle.CreateRevision(stack.db, author, &templates[0], "body", "", nil, nil)
	assert.Error(t, err, "no options")
}

func TestState_Progression(t *testing.T) {
	stack := newTestStack(t)
	lecture := seedLecture(t, stack.db, 1, 0)
	templates := seedQuestions(t, stack.db, lecture, 1, model.QuestionTypeTemplate, func(i int) float64 { return -1 })
	author := seedStudent(t, stack.db, "state-author")
	ugq := seedUGQ(t, stack, author, &templates[0])
	settings := Settings{}

	state, err := stack.lifecycle.State(ugq, settings)
	require.NoError(t, err)
	assert.Equal(t, UGQStateUnreviewed, state)

	reviewer := seedStudent(t, stack.db, "state-reviewer-0")
	seedReview(t, stack, reviewer, ugq, 80)
	state, err = stack.lifecycle.State(ugq, settings)
	require.NoError(t, err)
	assert.Equal(t, UGQStateUnderReview, state)

	for i := 1; i < 5; i++ {
		r := seedStudent(t, stack.db, fmt.Sprintf("state-reviewer-%d", i))
		seedReview(t, stack, r, ugq, 80)
	}
	state, err = stack.lifecycle.State(ugq, settings)
	require.NoError(t, err)
	assert.Equal(t, UGQStateAccepted, state)
}
