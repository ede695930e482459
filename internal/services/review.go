package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	fsrs "github.com/open-spaced-repetition/go-fsrs"

	"documind/internal/models"
)

// ErrNoDueCards indicates that there are no cards ready to review.
var ErrNoDueCards = errors.New("no due cards")

// ReviewService schedules generated flashcards for spaced repetition with FSRS.
type ReviewService struct {
	db     *sql.DB
	params fsrs.Parameters
}

func NewReviewService(db *sql.DB) *ReviewService {
	return &ReviewService{db: db, params: fsrs.DefaultParam()}
}

// NextCard returns the next card to review: due cards first, oldest due
// date first, then cards that have never been scheduled.
func (s *ReviewService) NextCard(ctx context.Context) (*models.Card, error) {
	now := time.Now().UTC()

	card, err := s.fetchCard(ctx, `
		SELECT id, study_set_id, front, back, due, stability, difficulty, elapsed_days,
		       scheduled_days, reps, lapses, state, last_review, created_at, updated_at
		FROM cards
		WHERE due IS NOT NULL AND due <= ?
		ORDER BY due ASC
		LIMIT 1;
	`, now)
	if err == nil {
		return card, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	card, err = s.fetchCard(ctx, `
		SELECT id, study_set_id, front, back, due, stability, difficulty, elapsed_days,
		       scheduled_days, reps, lapses, state, last_review, created_at, updated_at
		FROM cards
		ORDER BY due IS NULL DESC, created_at ASC
		LIMIT 1;
	`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoDueCards
		}
		return nil, err
	}
	return card, nil
}

func (s *ReviewService) fetchCard(ctx context.Context, query string, args ...any) (*models.Card, error) {
	row := s.db.QueryRowContext(ctx, query, args...)
	card := &models.Card{}
	if err := row.Scan(
		&card.ID,
		&card.StudySetID,
		&card.Front,
		&card.Back,
		&card.Due,
		&card.Stability,
		&card.Difficulty,
		&card.ElapsedDays,
		&card.ScheduledDays,
		&card.Reps,
		&card.Lapses,
		&card.State,
		&card.LastReview,
		&card.CreatedAt,
		&card.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return card, nil
}

// ReviewCard updates the scheduling information based on the user's rating.
func (s *ReviewService) ReviewCard(ctx context.Context, cardID int64, rating fsrs.Rating) (*models.Card, *models.ReviewLog, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	card := &models.Card{}
	row := tx.QueryRowContext(ctx, `
		SELECT id, study_set_id, front, back, due, stability, difficulty, elapsed_days,
		       scheduled_days, reps, lapses, state, last_review, created_at, updated_at
		FROM cards
		WHERE id = ?;
	`, cardID)
	if err = row.Scan(
		&card.ID,
		&card.StudySetID,
		&card.Front,
		&card.Back,
		&card.Due,
		&card.Stability,
		&card.Difficulty,
		&card.ElapsedDays,
		&card.ScheduledDays,
		&card.Reps,
		&card.Lapses,
		&card.State,
		&card.LastReview,
		&card.CreatedAt,
		&card.UpdatedAt,
	); err != nil {
		return nil, nil, fmt.Errorf("load card %d: %w", cardID, err)
	}

	now := time.Now().UTC()
	scheduling := s.params.Repeat(card.ToFSRSCard(), now)
	info, ok := scheduling[rating]
	if !ok {
		err = fmt.Errorf("rating %d not supported", rating)
		return nil, nil, err
	}
	card.ApplyFSRSCard(info.Card)
	card.UpdatedAt = now

	if _, err = tx.ExecContext(ctx, `
		UPDATE cards
		SET due = ?, stability = ?, difficulty = ?, elapsed_days = ?, scheduled_days = ?,
		    reps = ?, lapses = ?, state = ?, last_review = ?, updated_at = ?
		WHERE id = ?;
	`,
		nullTimePtr(card.Due),
		card.Stability,
		card.Difficulty,
		card.ElapsedDays,
		card.ScheduledDays,
		card.Reps,
		card.Lapses,
		card.State,
		nullTimePtr(card.LastReview),
		card.UpdatedAt,
		card.ID,
	); err != nil {
		return nil, nil, fmt.Errorf("update card %d: %w", card.ID, err)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO review_logs (card_id, rating, scheduled_days, elapsed_days, state, reviewed_at)
		VALUES (?, ?, ?, ?, ?, ?);
	`, card.ID, info.ReviewLog.Rating, info.ReviewLog.ScheduledDays, info.ReviewLog.ElapsedDays, info.ReviewLog.State, now); err != nil {
		return nil, nil, fmt.Errorf("insert review log: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit review: %w", err)
	}

	log := &models.ReviewLog{
		CardID:        card.ID,
		Rating:        int(info.ReviewLog.Rating),
		ScheduledDays: int(info.ReviewLog.ScheduledDays),
		ElapsedDays:   int(info.ReviewLog.ElapsedDays),
		State:         int(info.ReviewLog.State),
		ReviewedAt:    now,
	}

	return card, log, nil
}

func nullTimePtr(t sql.NullTime) any {
	if t.Valid {
		return t.Time
	}
	return nil
}
