package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-judge-api/internal/dto"
	"github.com/noah-isme/gema-judge-api/internal/models"
	"github.com/noah-isme/gema-judge-api/internal/observability"
	"github.com/noah-isme/gema-judge-api/internal/repository"
)

// ErrContestNotFound indicates the contest does not exist.
var ErrContestNotFound = errors.New("contest not found")

const globalLeaderboardKey = "leaderboard:global"

var leaderboardCSVHeader = []string{
	"Rank",
	"Student ID",
	"Name",
	"Email",
	"Solved",
	"Points",
	"Total Best Time (ms)",
	"Total Time (s)",
	"First Solve At",
}

// LeaderboardService serves ranked standings with a short lived cache.
type LeaderboardService interface {
	Contest(ctx context.Context, contestID uint) (dto.LeaderboardResponse, error)
	Global(ctx context.Context) (dto.LeaderboardResponse, error)
	WriteContestCSV(ctx context.Context, contestID uint, w io.Writer) error
	Invalidate(ctx context.Context, contestID *uint)
}

type leaderboardService struct {
	problems     repository.ProblemRepository
	students     repository.StudentRepository
	submissions  repository.SubmissionRepository
	bestAttempts repository.BestAttemptRepository
	cache        *redis.Client
	cacheTTL     time.Duration
	logger       zerolog.Logger
}

// NewLeaderboardService constructs the leaderboard service. cache may be nil.
func NewLeaderboardService(problems repository.ProblemRepository, students repository.StudentRepository, submissions repository.SubmissionRepository, bestAttempts repository.BestAttemptRepository, cache *redis.Client, ttl time.Duration, logger zerolog.Logger) LeaderboardService {
	return &leaderboardService{
		problems:     problems,
		students:     students,
		submissions:  submissions,
		bestAttempts: bestAttempts,
		cache:        cache,
		cacheTTL:     ttl,
		logger:       logger.With().Str("component", "leaderboard_service").Logger(),
	}
}

func contestLeaderboardKey(contestID uint) string {
	return fmt.Sprintf("leaderboard:contest:%d", contestID)
}

func (s *leaderboardService) Contest(ctx context.Context, contestID uint) (dto.LeaderboardResponse, error) {
	key := contestLeaderboardKey(contestID)
	if cached, ok := s.readCache(ctx, key); ok {
		return cached, nil
	}

	contest, rows, err := s.contestRows(ctx, contestID)
	if err != nil {
		return dto.LeaderboardResponse{}, err
	}

	id := contest.ID
	response := dto.LeaderboardResponse{
		ContestID:   &id,
		Contest:     contest.Name,
		Leaderboard: toLeaderboardEntries(rows),
	}
	s.writeCache(ctx, key, response)
	return response, nil
}

func (s *leaderboardService) Global(ctx context.Context) (dto.LeaderboardResponse, error) {
	if cached, ok := s.readCache(ctx, globalLeaderboardKey); ok {
		return cached, nil
	}

	students, err := s.students.ListAll(ctx)
	if err != nil {
		return dto.LeaderboardResponse{}, fmt.Errorf("list students: %w", err)
	}
	attempts, err := s.bestAttempts.ListSolved(ctx)
	if err != nil {
		return dto.LeaderboardResponse{}, fmt.Errorf("list solved attempts: %w", err)
	}

	response := dto.LeaderboardResponse{Leaderboard: toLeaderboardEntries(RankGlobal(students, attempts))}
	s.writeCache(ctx, globalLeaderboardKey, response)
	return response, nil
}

// WriteContestCSV exports the contest standings including contact emails.
func (s *leaderboardService) WriteContestCSV(ctx context.Context, contestID uint, w io.Writer) error {
	_, rows, err := s.contestRows(ctx, contestID)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(leaderboardCSVHeader); err != nil {
		return err
	}
	for _, row := range rows {
		firstSolve := ""
		if row.FirstSolveAt != nil {
			firstSolve = row.FirstSolveAt.UTC().Format(time.RFC3339)
		}
		record := []string{
			strconv.Itoa(row.Rank),
			strconv.FormatUint(uint64(row.StudentID), 10),
			row.Name,
			row.Email,
			strconv.Itoa(row.Solved),
			strconv.Itoa(row.Points),
			strconv.FormatFloat(row.TotalBestTimeMs, 'f', -1, 64),
			strconv.FormatFloat(row.TotalTimeS, 'f', -1, 64),
			firstSolve,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// Invalidate drops cached standings affected by a new solve.
func (s *leaderboardService) Invalidate(ctx context.Context, contestID *uint) {
	if s.cache == nil {
		return
	}

	keys := []string{globalLeaderboardKey}
	if contestID != nil {
		keys = append(keys, contestLeaderboardKey(*contestID))
	}
	if err := s.cache.Del(ctx, keys...).Err(); err != nil {
		s.logger.Warn().Err(err).Strs("keys", keys).Msg("failed to invalidate leaderboard cache")
	}
}

func (s *leaderboardService) contestRows(ctx context.Context, contestID uint) (models.Contest, []LeaderboardRow, error) {
	contest, err := s.problems.GetContest(ctx, contestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Contest{}, nil, ErrContestNotFound
		}
		return models.Contest{}, nil, fmt.Errorf("load contest: %w", err)
	}

	attempts, err := s.bestAttempts.ListSolvedByContest(ctx, contestID)
	if err != nil {
		return models.Contest{}, nil, fmt.Errorf("list contest attempts: %w", err)
	}
	participants, err := s.submissions.ListContestParticipants(ctx, contestID)
	if err != nil {
		return models.Contest{}, nil, fmt.Errorf("list contest participants: %w", err)
	}

	ids := append([]uint{}, participants...)
	for _, attempt := range attempts {
		ids = append(ids, attempt.StudentID)
	}
	students, err := s.students.ListByIDs(ctx, ids)
	if err != nil {
		return models.Contest{}, nil, fmt.Errorf("list contest students: %w", err)
	}
	byID := make(map[uint]models.Student, len(students))
	for _, student := range students {
		byID[student.ID] = student
	}

	return contest, RankContest(contest.StartAt, attempts, participants, byID), nil
}

func (s *leaderboardService) readCache(ctx context.Context, key string) (dto.LeaderboardResponse, bool) {
	if s.cache == nil {
		return dto.LeaderboardResponse{}, false
	}

	cached, err := s.cache.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Str("key", key).Msg("failed to read leaderboard cache")
		}
		observability.LeaderboardCache().WithLabelValues("miss").Inc()
		return dto.LeaderboardResponse{}, false
	}

	var response dto.LeaderboardResponse
	if err := json.Unmarshal([]byte(cached), &response); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("discarding malformed leaderboard cache entry")
		return dto.LeaderboardResponse{}, false
	}
	observability.LeaderboardCache().WithLabelValues("hit").Inc()
	s.logger.Debug().Str("key", key).Msg("leaderboard cache hit")
	return response, true
}

func (s *leaderboardService) writeCache(ctx context.Context, key string, response dto.LeaderboardResponse) {
	if s.cache == nil {
		return
	}

	payload, err := json.Marshal(response)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to encode leaderboard cache entry")
		return
	}
	if err := s.cache.Set(ctx, key, payload, s.cacheTTL).Err(); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to store leaderboard cache")
	}
}

func toLeaderboardEntries(rows []LeaderboardRow) []dto.LeaderboardEntry {
	entries := make([]dto.LeaderboardEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, dto.LeaderboardEntry{
			Rank:            row.Rank,
			StudentID:       row.StudentID,
			Name:            row.Name,
			Solved:          row.Solved,
			Points:          row.Points,
			TotalBestTimeMs: row.TotalBestTimeMs,
			TotalTimeS:      row.TotalTimeS,
			FirstSolveAt:    row.FirstSolveAt,
		})
	}
	return entries
}
