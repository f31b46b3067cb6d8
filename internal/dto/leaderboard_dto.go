package dto

import "time"

// LeaderboardEntry is one ranked row returned to API consumers.
type LeaderboardEntry struct {
	Rank            int        `json:"rank"`
	StudentID       uint       `json:"student_id"`
	Name            string     `json:"name"`
	Solved          int        `json:"solved"`
	Points          int        `json:"points"`
	TotalBestTimeMs float64    `json:"total_best_time_ms"`
	TotalTimeS      float64    `json:"total_time_s"`
	FirstSolveAt    *time.Time `json:"first_solve_at"`
}

// LeaderboardResponse wraps ranked rows, optionally scoped to a contest.
type LeaderboardResponse struct {
	ContestID   *uint              `json:"contest_id,omitempty"`
	Contest     string             `json:"contest,omitempty"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}
