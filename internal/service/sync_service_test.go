package service

import (
	"context"
	"testing"

	"adaptive_quiz_backend/internal/model"
	"adaptive_quiz_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSync_UnknownLecture(t *testing.T) {
	stack := newTestStack(t)
	student := seedStudent(t, stack.db, "nolecture")

	_, err := stack.sync.Sync(context.Background(), student, 9999, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrLectureNotFound)
}

func TestSync_FullPipeline(t *testing.T) {
	stack := newTestStack(t)
	lecture := seedLecture(t, stack.db, 1, 0)
	student := seedStudent(t, stack.db, "pipeline")
	seedQuestions(t, stack.db, lecture, 10, model.QuestionTypeRegular, func(i int) float64 { return -1 })
	seedGlobalSetting(t, stack.db, lecture, SettingQuestionCap, "6")

	// First sync with an empty queue builds the initial pool.
	resp, err := stack.sync.Sync(context.Background(), student, lecture.ID, nil)
	require.NoError(t, err)
	assert.EqualValues(t, lecture.ID, resp.LectureID)
	assert.Equal(t, "6", resp.Settings[SettingQuestionCap])
	require.Len(t, resp.Pool, 6)
	assert.Empty(t, resp.History.Answers)

	for _, slot := range resp.Pool {
		stack.content.set(slot.Question.ContentRef, 4, 0)
	}

	// Second sync replays one answered question and refills the pool.
	resp2, err := stack.sync.Sync(context.Background(), student, lecture.ID, []AnswerQueueEntry{
		regularEntry(resp.Pool[0].URI, 0, true, 3.0),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp2.Result.Processed)
	assert.Len(t, resp2.Pool, 6)
	require.Len(t, resp2.History.Answers, 1)
	require.NotNil(t, resp2.History.Summary)
	assert.Equal(t, 1, resp2.History.Summary.LecAnswered)
}
