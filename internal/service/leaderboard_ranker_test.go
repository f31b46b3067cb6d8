package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-judge-api/internal/models"
)

func solvedAttempt(studentID, problemID uint, at time.Time, bestMs float64) models.BestAttempt {
	return models.BestAttempt{StudentID: studentID, ProblemID: problemID, IsSolved: true, SolvedAt: &at, BestTimeMs: &bestMs}
}

func TestRankContestSharesRanksOnTies(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	attempts := []models.BestAttempt{
		solvedAttempt(1, 10, start.Add(time.Minute), 100),
		solvedAttempt(2, 10, start.Add(time.Minute), 100),
		solvedAttempt(3, 10, start.Add(2*time.Minute), 100),
	}
	students := map[uint]models.Student{1: {ID: 1, Name: "A"}, 2: {ID: 2, Name: "B"}, 3: {ID: 3, Name: "C"}}

	rows := RankContest(start, attempts, []uint{1, 2, 3, 4}, students)
	require.Len(t, rows, 4)
	require.Equal(t, []int{1, 1, 3, 4}, []int{rows[0].Rank, rows[1].Rank, rows[2].Rank, rows[3].Rank})
	require.Equal(t, uint(1), rows[0].StudentID)
	require.Equal(t, uint(3), rows[2].StudentID)
	require.Equal(t, uint(4), rows[3].StudentID)
	require.Zero(t, rows[3].Solved)
}

func TestRankContestClampsEarlySolvesAndIgnoresUnsolved(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	unsolved := models.BestAttempt{StudentID: 1, ProblemID: 11}
	attempts := []models.BestAttempt{
		solvedAttempt(1, 10, start.Add(-time.Hour), 12.3456),
		unsolved,
	}

	rows := RankContest(start, attempts, nil, map[uint]models.Student{})
	require.Len(t, rows, 1)
	require.Equal(t, 1, rows[0].Solved)
	require.Zero(t, rows[0].TotalTimeS)
	require.Equal(t, 12.346, rows[0].TotalBestTimeMs)
	require.True(t, rows[0].FirstSolveAt.Equal(start.Add(-time.Hour)))
}

func TestRankGlobalTiesOnSameSolveInstant(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	students := []models.Student{{ID: 1}, {ID: 2}, {ID: 3}}
	attempts := []models.BestAttempt{
		solvedAttempt(2, 10, at, 0),
		solvedAttempt(1, 10, at, 0),
		{StudentID: 3, ProblemID: 10},
	}

	rows := RankGlobal(students, attempts)
	require.Equal(t, []uint{1, 2, 3}, []uint{rows[0].StudentID, rows[1].StudentID, rows[2].StudentID})
	require.Equal(t, []int{1, 1, 3}, []int{rows[0].Rank, rows[1].Rank, rows[2].Rank})
}
