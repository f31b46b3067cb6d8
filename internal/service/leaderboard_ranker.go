package service

import (
	"math"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/noah-isme/gema-judge-api/internal/models"
)

// LeaderboardRow is one ranked student.
type LeaderboardRow struct {
	Rank            int        `json:"rank"`
	StudentID       uint       `json:"student_id"`
	Name            string     `json:"name"`
	Email           string     `json:"-"`
	Solved          int        `json:"solved"`
	Points          int        `json:"points"`
	TotalBestTimeMs float64    `json:"total_best_time_ms"`
	TotalTimeS      float64    `json:"total_time_s"`
	FirstSolveAt    *time.Time `json:"first_solve_at"`
}

type contestTally struct {
	solved    mapset.Set[uint]
	bestTime  float64
	totalTime float64
	first     *time.Time
}

// RankContest ranks participants of a contest from their solved best attempts.
// Participants without any solve are still listed, after everyone who solved something.
func RankContest(start time.Time, attempts []models.BestAttempt, participants []uint, students map[uint]models.Student) []LeaderboardRow {
	tallies := make(map[uint]*contestTally)
	tally := func(studentID uint) *contestTally {
		entry, ok := tallies[studentID]
		if !ok {
			entry = &contestTally{solved: mapset.NewThreadUnsafeSet[uint]()}
			tallies[studentID] = entry
		}
		return entry
	}

	for _, id := range participants {
		tally(id)
	}

	for _, attempt := range attempts {
		if !attempt.IsSolved || attempt.SolvedAt == nil {
			continue
		}
		entry := tally(attempt.StudentID)
		if !entry.solved.Add(attempt.ProblemID) {
			continue
		}

		delta := attempt.SolvedAt.Sub(start).Seconds()
		if delta < 0 {
			delta = 0
		}
		entry.totalTime += delta
		if attempt.BestTimeMs != nil {
			entry.bestTime += *attempt.BestTimeMs
		}
		if entry.first == nil || attempt.SolvedAt.Before(*entry.first) {
			at := *attempt.SolvedAt
			entry.first = &at
		}
	}

	rows := make([]LeaderboardRow, 0, len(tallies))
	for studentID, entry := range tallies {
		student := students[studentID]
		rows = append(rows, LeaderboardRow{
			StudentID:       studentID,
			Name:            student.Name,
			Email:           student.Email,
			Solved:          entry.solved.Cardinality(),
			Points:          entry.solved.Cardinality(),
			TotalBestTimeMs: round3(entry.bestTime),
			TotalTimeS:      round3(entry.totalTime),
			FirstSolveAt:    entry.first,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Solved != b.Solved {
			return a.Solved > b.Solved
		}
		if a.TotalBestTimeMs != b.TotalBestTimeMs {
			return a.TotalBestTimeMs < b.TotalBestTimeMs
		}
		if a.TotalTimeS != b.TotalTimeS {
			return a.TotalTimeS < b.TotalTimeS
		}
		return a.StudentID < b.StudentID
	})

	assignRanks(rows, func(a, b LeaderboardRow) bool {
		return a.Solved == b.Solved && a.TotalBestTimeMs == b.TotalBestTimeMs && a.TotalTimeS == b.TotalTimeS
	})
	return rows
}

// RankGlobal ranks every student by solved problems, then by earliest solve.
func RankGlobal(students []models.Student, attempts []models.BestAttempt) []LeaderboardRow {
	solved := make(map[uint]mapset.Set[uint])
	first := make(map[uint]*time.Time)

	for _, attempt := range attempts {
		if !attempt.IsSolved {
			continue
		}
		set, ok := solved[attempt.StudentID]
		if !ok {
			set = mapset.NewThreadUnsafeSet[uint]()
			solved[attempt.StudentID] = set
		}
		set.Add(attempt.ProblemID)

		if attempt.SolvedAt != nil {
			if current := first[attempt.StudentID]; current == nil || attempt.SolvedAt.Before(*current) {
				at := *attempt.SolvedAt
				first[attempt.StudentID] = &at
			}
		}
	}

	rows := make([]LeaderboardRow, 0, len(students))
	for _, student := range students {
		count := 0
		if set, ok := solved[student.ID]; ok {
			count = set.Cardinality()
		}
		rows = append(rows, LeaderboardRow{
			StudentID:    student.ID,
			Name:         student.Name,
			Email:        student.Email,
			Solved:       count,
			Points:       count,
			FirstSolveAt: first[student.ID],
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Solved != b.Solved {
			return a.Solved > b.Solved
		}
		if !sameInstant(a.FirstSolveAt, b.FirstSolveAt) {
			return earlier(a.FirstSolveAt, b.FirstSolveAt)
		}
		return a.StudentID < b.StudentID
	})

	assignRanks(rows, func(a, b LeaderboardRow) bool {
		return a.Solved == b.Solved && sameInstant(a.FirstSolveAt, b.FirstSolveAt)
	})
	return rows
}

// assignRanks applies competition ranking: tied rows share a rank and the next distinct row takes its position.
func assignRanks(rows []LeaderboardRow, tied func(a, b LeaderboardRow) bool) {
	for i := range rows {
		if i > 0 && tied(rows[i-1], rows[i]) {
			rows[i].Rank = rows[i-1].Rank
			continue
		}
		rows[i].Rank = i + 1
	}
}

// earlier orders timestamps ascending with missing values last.
func earlier(a, b *time.Time) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return a.Before(*b)
	}
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func round3(value float64) float64 {
	return math.Round(value*1000) / 1000
}
