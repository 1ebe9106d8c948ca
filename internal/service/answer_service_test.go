package service

import (
	"context"
	"testing"
	"time"

	"adaptive_quiz_backend/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func regularEntry(uri string, choice int, correct bool, gradeAfter float64) AnswerQueueEntry {
	c := choice
	now := time.Now()
	return AnswerQueueEntry{
		URI:          uri,
		ChosenAnswer: &c,
		Correct:      correct,
		GradeAfter:   gradeAfter,
		StartedAt:    now.Add(-time.Minute),
		EndedAt:      now,
	}
}

// fillPool allocates and registers content where choice 0 is the
// correct answer for every question.
func fillPool(t *testing.T, stack *testStack, student *model.Student, lecture *model.Lecture, settings Settings) []AllocatedQuestion {
	t.Helper()
	pool, err := stack.alloc.UpdateAllocation(student, lecture, settings)
	require.NoError(t, err)
	for _, slot := range pool {
		stack.content.set(slot.Question.ContentRef, 4, 0)
	}
	return pool
}

func TestParseAnswerQueue_GradesAndCounts(t *testing.T) {
	stack := newTestStack(t)
	lecture := seedLecture(t, stack.db, 1, 0)
	student := seedStudent(t, stack.db, "grader")
	seedQuestions(t, stack.db, lecture, 10, model.QuestionTypeRegular, func(i int) float64 { return -1 })

	settings := fixedSettings(SettingQuestionCap, "10")
	pool := fillPool(t, stack, student, lecture, settings)

	entries := []AnswerQueueEntry{
		regularEntry(pool[0].URI, 0, true, 1.5),  // correct
		regularEntry(pool[1].URI, 1, false, 1.2), // wrong
	}
	result, err := stack.answer.ParseAnswerQueue(context.Background(), student, lecture, settings, entries)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 0, result.Skipped)

	summary, err := stack.answerRepo.Summary(student.ID, lecture.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.LecAnswered)
	assert.Equal(t, 1, summary.LecCorrect)
	assert.InDelta(t, 1.2, summary.Grade, 1e-9)

	// Global counters and the stats report follow the server verdict.
	var q model.Question
	require.NoError(t, stack.db.First(&q, pool[0].Question.ID).Error)
	assert.EqualValues(t, 1, q.TimesAnswered)
	assert.EqualValues(t, 1, q.TimesCorrect)
	assert.Equal(t, [2]int64{1, 1}, stack.content.stats[q.ContentRef])
}

func TestParseAnswerQueue_ThreeEntryPartialFailure(t *testing.T) {
	stack := newTestStack(t)
	lecture := seedLecture(t, stack.db, 1, 0)
	student := seedStudent(t, stack.db, "partial")
	seedQuestions(t, stack.db, lecture, 5, model.QuestionTypeRegular, func(i int) float64 { return -1 })

	settings := fixedSettings(SettingQuestionCap, "5")
	pool := fillPool(t, stack, student, lecture, settings)

	entries := []AnswerQueueEntry{
		regularEntry(pool[0].URI, 0, true, 1.0),
		regularEntry("/api/quiz/deadbeefdeadbeef", 0, true, 2.0), // foreign reference
		regularEntry(pool[1].URI, 0, true, 3.0),
	}
	result, err := stack.answer.ParseAnswerQueue(context.Background(), student, lecture, settings, entries)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Skipped)

	// The entries around the bad one both landed.
	summary, err := stack.answerRepo.Summary(student.ID, lecture.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.LecAnswered)
	assert.InDelta(t, 3.0, summary.Grade, 1e-9)
}

func TestParseAnswerQueue_IdempotentResync(t *testing.T) {
	stack := newTestStack(t)
	lecture := seedLecture(t, stack.db, 1, 0)
	student := seedStudent(t, stack.db, "resync")
	seedQuestions(t, stack.db, lecture, 5, model.QuestionTypeRegular, func(i int) float64 { return -1 })

	settings := fixedSettings(SettingQuestionCap, "5")
	pool := fillPool(t, stack, student, lecture, settings)

	entries := []AnswerQueueEntry{
		regularEntry(pool[0].URI, 0, true, 6.0),
		regularEntry(pool[1].URI, 0, true, 6.5),
	}
	first, err := stack.answer.ParseAnswerQueue(context.Background(), student, lecture, settings, entries)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Processed)
	coinsAfterFirst := stack.ledger.total()

	// A replay of the same queue is a no-op.
	second, err := stack.answer.ParseAnswerQueue(context.Background(), student, lecture, settings, entries)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Processed)
	assert.Equal(t, 2, second.Skipped)

	summary, err := stack.answerRepo.Summary(student.ID, lecture.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.LecAnswered)
	assert.Equal(t, coinsAfterFirst, stack.ledger.total())

	var answerCount int64
	require.NoError(t, stack.db.Model(&model.Answer{}).
		Where("student_id = ?", student.ID).Count(&answerCount).Error)
	assert.EqualValues(t, 2, answerCount)
}

func TestParseAnswerQueue_MonotonicHighWaterMark(t *testing.T) {
	stack := newTestStack(t)
	lecture := seedLecture(t, stack.db, 1, 0)
	student := seedStudent(t, stack.db, "hwm")
	seedQuestions(t, stack.db, lecture, 5, model.QuestionTypeRegular, func(i int) float64 { return -1 })

	settings := fixedSettings(SettingQuestionCap, "5")
	pool := fillPool(t, stack, student, lecture, settings)

	_, err := stack.answer.ParseAnswerQueue(context.Background(), student, lecture, settings, []AnswerQueueEntry{
		regularEntry(pool[0].URI, 0, true, 6.0),
		regularEntry(pool[1].URI, 1, false, 4.0),
	})
	require.NoError(t, err)

	summary, err := stack.answerRepo.Summary(student.ID, lecture.ID)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, summary.Grade, 1e-9)
	assert.InDelta(t, 6.0, summary.GradeHighWaterMark, 1e-9)
}

func TestParseAnswerQueue_MilestoneAdditivity(t *testing.T) {
	stack := newTestStack(t)
	// A sibling lecture that is not aced keeps the tutorial bonus out.
	lecture := seedLecture(t, stack.db, 1, 0)
	seedLecture(t, stack.db, 1, 1)
	student := seedStudent(t, stack.db, "milestone")
	seedQuestions(t, stack.db, lecture, 5, model.QuestionTypeRegular, func(i int) float64 { return -1 })

	settings := fixedSettings(SettingQuestionCap, "5")
	pool := fillPool(t, stack, student, lecture, settings)

	// One jump across both thresholds pays both one-shots at once.
	_, err := stack.answer.ParseAnswerQueue(context.Background(), student, lecture, settings, []AnswerQueueEntry{
		regularEntry(pool[0].URI, 0, true, 9.999),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 11000, stack.ledger.total())

	// Re-crossing after a dip pays nothing.
	_, err = stack.answer.ParseAnswerQueue(context.Background(), student, lecture, settings, []AnswerQueueEntry{
		regularEntry(pool[1].URI, 1, false, 3.0),
		regularEntry(pool[2].URI, 0, true, 9.999),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 11000, stack.ledger.total())
}

func TestParseAnswerQueue_TutorialAcedBonus(t *testing.T) {
	stack := newTestStack(t)
	lecture := seedLecture(t, stack.db, 7, 0)
	sibling := seedLecture(t, stack.db, 7, 1)
	student := seedStudent(t, stack.db, "tutorial")
	seedQuestions(t, stack.db, lecture, 5, model.QuestionTypeRegular, func(i int) float64 { return -1 })

	// The sibling is already aced.
	require.NoError(t, stack.db.Create(&model.AnswerSummary{
		StudentID:          student.ID,
		LectureID:          sibling.ID,
		GradeHighWaterMark: 9.999,
	}).Error)

	settings := fixedSettings(SettingQuestionCap, "5")
	pool := fillPool(t, stack, student, lecture, settings)

	_, err := stack.answer.ParseAnswerQueue(context.Background(), student, lecture, settings, []AnswerQueueEntry{
		regularEntry(pool[0].URI, 0, true, 9.999),
	})
	require.NoError(t, err)
	// lecture answered + lecture aced + tutorial aced
	assert.EqualValues(t, 1000+10000+100000, stack.ledger.total())
}

func TestParseAnswerQueue_PracticeStaysOutOfGrading(t *testing.T) {
	stack := newTestStack(t)
	lecture := seedLecture(t, stack.db, 1, 0)
	student := seedStudent(t, stack.db, "practice")
	seedQuestions(t, stack.db, lecture, 5, model.QuestionTypeRegular, func(i int) float64 { return -1 })

	settings := fixedSettings(SettingQuestionCap, "5")
	pool := fillPool(t, stack, student, lecture, settings)

	entry := regularEntry(pool[0].URI, 0, true, 8.0)
	entry.Practice = true
	_, err := stack.answer.ParseAnswerQueue(context.Background(), student, lecture, settings, []AnswerQueueEntry{entry})
	require.NoError(t, err)

	summary, err := stack.answerRepo.Summary(student.ID, lecture.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.LecAnswered)
	assert.Equal(t, 1, summary.PracticeAnswered)
	assert.Equal(t, 1, summary.PracticeCorrect)
	assert.Zero(t, summary.Grade)
	assert.Zero(t, summary.GradeHighWaterMark)
	assert.Zero(t, summary.CompletedSinceRealloc)
	assert.EqualValues(t, 0, stack.ledger.total())

	// Practice answers stay out of the history endpoint.
	history, err := stack.answer.GetAnswerHistory(student, lecture)
	require.NoError(t, err)
	assert.Empty(t, history.Answers)
}

func TestParseAnswerQueue_PoolSignals(t *testing.T) {
	stack := newTestStack(t)
	lecture := seedLecture(t, stack.db, 1, 0)
	student := seedStudent(t, stack.db, "signals")
	seedQuestions(t, stack.db, lecture, 12, model.QuestionTypeRegular, func(i int) float64 { return -1 })

	// cap 4 / divisor 2: every second completed answer requests a
	// re-allocation pass.
	settings := fixedSettings(SettingQuestionCap, "4")
	pool := fillPool(t, stack, student, lecture, settings)

	_, err := stack.answer.ParseAnswerQueue(context.Background(), student, lecture, settings, []AnswerQueueEntry{
		regularEntry(pool[0].URI, 0, true, 2.0),
	})
	require.NoError(t, err)
	summary, err := stack.answerRepo.Summary(student.ID, lecture.ID)
	require.NoError(t, err)
	assert.False(t, summary.ReallocRequested)
	assert.Equal(t, 1, summary.CompletedSinceRealloc)

	_, err = stack.answer.ParseAnswerQueue(context.Background(), student, lecture, settings, []AnswerQueueEntry{
		regularEntry(pool[1].URI, 0, true, 2.5),
	})
	require.NoError(t, err)
	summary, err = stack.answerRepo.Summary(student.ID, lecture.ID)
	require.NoError(t, err)
	assert.True(t, summary.ReallocRequested)
	assert.Equal(t, 0, summary.CompletedSinceRealloc)

	// No target yet: too few answers behind the grade.
	assert.Nil(t, summary.TargetDifficulty)
}

func TestParseAnswerQueue_TargetDifficultyAfterEnoughAnswers(t *testing.T) {
	stack := newTestStack(t)
	lecture := seedLecture(t, stack.db, 1, 0)
	student := seedStudent(t, stack.db, "targetsig")
	seedQuestions(t, stack.db, lecture, 12, model.QuestionTypeRegular, func(i int) float64 { return -1 })

	settings := fixedSettings(SettingQuestionCap, "12")
	pool := fillPool(t, stack, student, lecture, settings)

	var entries []AnswerQueueEntry
	for i := 0; i < 9; i++ {
		entries = append(entries, regularEntry(pool[i].URI, 0, true, 7.0))
	}
	_, err := stack.answer.ParseAnswerQueue(context.Background(), student, lecture, settings, entries)
	require.NoError(t, err)

	summary, err := stack.answerRepo.Summary(student.ID, lecture.ID)
	require.NoError(t, err)
	require.NotNil(t, summary.TargetDifficulty)
	assert.InDelta(t, 0.7, *summary.TargetDifficulty, 1e-9)
}

func TestParseAnswerQueue_OutOfRangeChoiceSkipped(t *testing.T) {
	stack := newTestStack(t)
	lecture := seedLecture(t, stack.db, 1, 0)
	student := seedStudent(t, stack.db, "range")
	seedQuestions(t, stack.db, lecture, 5, model.QuestionTypeRegular, func(i int) float64 { return -1 })

	settings := fixedSettings(SettingQuestionCap, "5")
	pool := fillPool(t, stack, student, lecture, settings)

	result, err := stack.answer.ParseAnswerQueue(context.Background(), student, lecture, settings, []AnswerQueueEntry{
		regularEntry(pool[0].URI, 99, true, 5.0),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 1, result.Skipped)

	var answerCount int64
	require.NoError(t, stack.db.Model(&model.Answer{}).
		Where("student_id = ?", student.ID).Count(&answerCount).Error)
	assert.Zero(t, answerCount)
}

func TestParseAnswerQueue_ServerVerdictWins(t *testing.T) {
	stack := newTestStack(t)
	lecture := seedLecture(t, stack.db, 1, 0)
	student := seedStudent(t, stack.db, "verdict")
	seedQuestions(t, stack.db, lecture, 5, model.QuestionTypeRegular, func(i int) float64 { return -1 })

	settings := fixedSettings(SettingQuestionCap, "5")
	pool := fillPool(t, stack, student, lecture, settings)

	// The client claims a wrong choice was correct.
	_, err := stack.answer.ParseAnswerQueue(context.Background(), student, lecture, settings, []AnswerQueueEntry{
		regularEntry(pool[0].URI, 2, true, 1.0),
	})
	require.NoError(t, err)

	var answer model.Answer
	require.NoError(t, stack.db.Where("student_id = ?", student.ID).First(&answer).Error)
	assert.False(t, answer.Correct)

	summary, err := stack.answerRepo.Summary(student.ID, lecture.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.LecAnswered)
	assert.Equal(t, 0, summary.LecCorrect)
}

func TestParseAnswerQueue_StudentIsolation(t *testing.T) {
	stack := newTestStack(t)
	lecture := seedLecture(t, stack.db, 1, 0)
	alice := seedStudent(t, stack.db, "alice")
	bob := seedStudent(t, stack.db, "bob")
	seedQuestions(t, stack.db, lecture, 5, model.QuestionTypeRegular, func(i int) float64 { return -1 })

	settings := fixedSettings(SettingQuestionCap, "5")
	alicePool := fillPool(t, stack, alice, lecture, settings)

	// Bob replays Alice's allocation reference; it is not his.
	result, err := stack.answer.ParseAnswerQueue(context.Background(), bob, lecture, settings, []AnswerQueueEntry{
		regularEntry(alicePool[0].URI, 0, true, 5.0),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 1, result.Skipped)

	// Nothing landed on either side.
	summary, err := stack.answerRepo.Summary(alice.ID, lecture.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.LecAnswered)

	var bobAnswers int64
	require.NoError(t, stack.db.Model(&model.Answer{}).
		Where("student_id = ?", bob.ID).Count(&bobAnswers).Error)
	assert.Zero(t, bobAnswers)
}

func templatePool(t *testing.T, stack *testStack, student *model.Student, lecture *model.Lecture, settings Settings) []AllocatedQuestion {
	t.Helper()
	pool, err := stack.alloc.UpdateAllocation(student, lecture, settings)
	require.NoError(t, err)
	var templates []AllocatedQuestion
	for _, slot := range pool {
		if slot.Category == model.AllocTypeTemplate {
			templates = append(templates, slot)
		}
	}
	require.NotEmpty(t, templates)
	return templates
}

func TestParseAnswerQueue_TemplateAuthoring(t *testing.T) {
	stack := newTestStack(t)
	lecture := seedLecture(t, stack.db, 1, 0)
	student := seedStudent(t, stack.db, "author")
	seedQuestions(t, stack.db, lecture, 3, model.QuestionTypeTemplate, func(i int) float64 { return -1 })

	settings := fixedSettings(SettingQuestionCap, "3")
	templates := templatePool(t, stack, student, lecture, settings)

	entry := AnswerQueueEntry{
		URI:        templates[0].URI,
		GradeAfter: 1.0,
		Authored: &AuthoredPayload{
			Body: "What does a deferred call evaluate eagerly?",
			Options: []UGQOptionInput{
				{Text: "its arguments", Correct: true},
				{Text: "its function body"},
			},
			Explanation: "Arguments are evaluated at defer time.",
		},
	}
	result, err := stack.answer.ParseAnswerQueue(context.Background(), student, lecture, settings, []AnswerQueueEntry{entry})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	var created model.UserGeneratedQuestion
	require.NoError(t, stack.db.Preload("Options").
		Where("author_id = ?", student.ID).First(&created).Error)
	assert.Equal(t, templates[0].Question.ID, created.QuestionID)
	assert.Len(t, created.Options, 2)
	assert.Nil(t, created.SupersededBy)

	// The answer row references the authored question.
	var answer model.Answer
	require.NoError(t, stack.db.Where("student_id = ?", student.ID).First(&answer).Error)
	assert.Equal(t, created.PublicID, answer.ChosenAnswer)
	assert.True(t, answer.Correct)

	// A revision through a second slot supersedes the first.
	second := templates[1]
	revision := entry
	revision.URI = second.URI
	revision.Authored = &AuthoredPayload{
		Body:       "What does defer evaluate at the call site?",
		Options:    []UGQOptionInput{{Text: "its arguments", Correct: true}},
		Supersedes: created.PublicID,
	}

	// Point the second slot at the same template question so the
	// revision chain stays inside one template.
	require.NoError(t, stack.db.Model(&model.Allocation{}).
		Where("public_id = ?", publicIDFromURI(second.URI)).
		Update("question_id", templates[0].Question.ID).Error)

	result, err = stack.answer.ParseAnswerQueue(context.Background(), student, lecture, settings, []AnswerQueueEntry{revision})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	require.NoError(t, stack.db.First(&created, created.ID).Error)
	require.NotNil(t, created.SupersededBy)

	var successor model.UserGeneratedQuestion
	require.NoError(t, stack.db.First(&successor, *created.SupersededBy).Error)
	assert.Equal(t, created.QuestionID, successor.QuestionID)
}

func TestParseAnswerQueue_TemplateReview(t *testing.T) {
	stack := newTestStack(t)
	lecture := seedLecture(t, stack.db, 1, 0)
	author := seedStudent(t, stack.db, "qauthor")
	reviewer := seedStudent(t, stack.db, "qreviewer")
	templates := seedQuestions(t, stack.db, lecture, 1, model.QuestionTypeTemplate, func(i int) float64 { return -1 })

	ugq := &model.UserGeneratedQuestion{
		PublicID:   model.GenerateUUID(),
		QuestionID: templates[0].ID,
		AuthorID:   author.ID,
		Body:       "Which keyword starts a goroutine?",
		Options: []model.UserGeneratedOption{
			{Position: 0, Text: "go", Correct: true},
			{Position: 1, Text: "run"},
		},
	}
	require.NoError(t, stack.db.Create(ugq).Error)

	settings := fixedSettings(SettingQuestionCap, "1")
	slots := templatePool(t, stack, reviewer, lecture, settings)

	chosen := 0
	entry := AnswerQueueEntry{
		URI:        slots[0].URI,
		GradeAfter: 2.0,
		Review: &ReviewPayload{
			QuestionRef:  ugq.PublicID,
			ChosenOption: &chosen,
			Rating:       80,
			Comments:     "clear and answerable",
		},
	}
	result, err := stack.answer.ParseAnswerQueue(context.Background(), reviewer, lecture, settings, []AnswerQueueEntry{entry})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	var review model.UserGeneratedAnswer
	require.NoError(t, stack.db.Where("reviewer_id = ?", reviewer.ID).First(&review).Error)
	assert.Equal(t, ugq.ID, review.UGQuestionID)
	assert.Equal(t, 80, review.Rating)
}

func TestGetAnswerHistory_ChronologicalWithSummary(t *testing.T) {
	stack := newTestStack(t)
	lecture := seedLecture(t, stack.db, 1, 0)
	student := seedStudent(t, stack.db, "history")
	seedQuestions(t, stack.db, lecture, 5, model.QuestionTypeRegular, func(i int) float64 { return -1 })

	settings := fixedSettings(SettingQuestionCap, "5")
	pool := fillPool(t, stack, student, lecture, settings)

	_, err := stack.answer.ParseAnswerQueue(context.Background(), student, lecture, settings, []AnswerQueueEntry{
		regularEntry(pool[0].URI, 0, true, 1.0),
		regularEntry(pool[1].URI, 0, true, 2.0),
		regularEntry(pool[2].URI, 1, false, 1.5),
	})
	require.NoError(t, err)

	history, err := stack.answer.GetAnswerHistory(student, lecture)
	require.NoError(t, err)
	require.Len(t, history.Answers, 3)
	assert.InDelta(t, 1.0, history.Answers[0].GradeAfter, 1e-9)
	assert.InDelta(t, 2.0, history.Answers[1].GradeAfter, 1e-9)
	assert.InDelta(t, 1.5, history.Answers[2].GradeAfter, 1e-9)

	require.NotNil(t, history.Summary)
	assert.Equal(t, 3, history.Summary.LecAnswered)
	assert.Equal(t, 2, history.Summary.LecCorrect)
}
