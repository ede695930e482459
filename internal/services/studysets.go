package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	fsrs "github.com/open-spaced-repetition/go-fsrs"

	"documind/internal/models"
)

// ErrStudySetNotFound indicates that the requested study set does not exist.
var ErrStudySetNotFound = errors.New("study set not found")

// StudySetService persists generated study material and reads it back.
type StudySetService struct {
	db *sql.DB
}

func NewStudySetService(db *sql.DB) *StudySetService {
	return &StudySetService{db: db}
}

// StudySetDetail bundles a study set with its flashcards and quiz questions.
type StudySetDetail struct {
	Set        models.StudySet
	Flashcards []models.Card
	Quiz       []models.QuizQuestion
}

// Create stores a generated study set in one transaction. Flashcards with a
// blank front or back are dropped; quiz questions are stored as given.
func (s *StudySetService) Create(ctx context.Context, documentID int64, material *StudyMaterial) (*models.StudySet, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO study_sets (document_id, summary, created_at)
		VALUES (?, ?, ?);
	`, documentID, material.Summary, now)
	if err != nil {
		return nil, fmt.Errorf("insert study set: %w", err)
	}
	setID, _ := res.LastInsertId()

	cardStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cards (study_set_id, front, back, due, stability, difficulty, elapsed_days,
		                   scheduled_days, reps, lapses, state, last_review, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, 0, 0, 0, 0, 0, ?, NULL, ?, ?);
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare card insert: %w", err)
	}
	defer cardStmt.Close()

	cardCount := 0
	for _, proto := range material.Flashcards {
		front := strings.TrimSpace(proto.Front)
		back := strings.TrimSpace(proto.Back)
		if front == "" || back == "" {
			continue
		}
		if _, err = cardStmt.ExecContext(ctx, setID, front, back, now, int(fsrs.New), now, now); err != nil {
			return nil, fmt.Errorf("insert card %q: %w", front, err)
		}
		cardCount++
	}

	quizStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO quiz_questions (study_set_id, position, question, options, answer)
		VALUES (?, ?, ?, ?, ?);
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare quiz insert: %w", err)
	}
	defer quizStmt.Close()

	for i, item := range material.Quiz {
		options, marshalErr := json.Marshal(item.Options)
		if marshalErr != nil {
			err = fmt.Errorf("marshal options for question %d: %w", i, marshalErr)
			return nil, err
		}
		if _, err = quizStmt.ExecContext(ctx, setID, i, item.Question, string(options), item.Answer); err != nil {
			return nil, fmt.Errorf("insert quiz question %d: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit study set: %w", err)
	}

	return &models.StudySet{
		ID:         setID,
		DocumentID: documentID,
		Summary:    material.Summary,
		CreatedAt:  now,
		CardCount:  cardCount,
		QuizCount:  len(material.Quiz),
	}, nil
}

// List returns recent study sets, newest first, with their document names
// and card/question counts.
func (s *StudySetService) List(ctx context.Context, limit int) ([]models.StudySet, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.document_id, s.summary, s.created_at, d.original_name,
		       (SELECT COUNT(*) FROM cards c WHERE c.study_set_id = s.id),
		       (SELECT COUNT(*) FROM quiz_questions q WHERE q.study_set_id = s.id)
		FROM study_sets s
		JOIN documents d ON s.document_id = d.id
		ORDER BY s.created_at DESC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list study sets: %w", err)
	}
	defer rows.Close()

	var sets []models.StudySet
	for rows.Next() {
		var set models.StudySet
		if err := rows.Scan(
			&set.ID,
			&set.DocumentID,
			&set.Summary,
			&set.CreatedAt,
			&set.DocumentName,
			&set.CardCount,
			&set.QuizCount,
		); err != nil {
			return nil, fmt.Errorf("scan study set: %w", err)
		}
		sets = append(sets, set)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate study sets: %w", err)
	}
	return sets, nil
}

// Get fetches one study set with its flashcards and quiz questions.
func (s *StudySetService) Get(ctx context.Context, id int64) (*StudySetDetail, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.document_id, s.summary, s.created_at, d.original_name
		FROM study_sets s
		JOIN documents d ON s.document_id = d.id
		WHERE s.id = ?;
	`, id)

	var detail StudySetDetail
	if err := row.Scan(
		&detail.Set.ID,
		&detail.Set.DocumentID,
		&detail.Set.Summary,
		&detail.Set.CreatedAt,
		&detail.Set.DocumentName,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStudySetNotFound
		}
		return nil, fmt.Errorf("scan study set: %w", err)
	}

	cards, err := s.listCards(ctx, id)
	if err != nil {
		return nil, err
	}
	detail.Flashcards = cards
	detail.Set.CardCount = len(cards)

	quiz, err := s.listQuiz(ctx, id)
	if err != nil {
		return nil, err
	}
	detail.Quiz = quiz
	detail.Set.QuizCount = len(quiz)

	return &detail, nil
}

func (s *StudySetService) listCards(ctx context.Context, setID int64) ([]models.Card, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, study_set_id, front, back, due, stability, difficulty, elapsed_days,
		       scheduled_days, reps, lapses, state, last_review, created_at, updated_at
		FROM cards
		WHERE study_set_id = ?
		ORDER BY id ASC;
	`, setID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	var cards []models.Card
	for rows.Next() {
		var card models.Card
		if err := rows.Scan(
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
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cards: %w", err)
	}
	return cards, nil
}

func (s *StudySetService) listQuiz(ctx context.Context, setID int64) ([]models.QuizQuestion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, study_set_id, position, question, options, answer
		FROM quiz_questions
		WHERE study_set_id = ?
		ORDER BY position ASC;
	`, setID)
	if err != nil {
		return nil, fmt.Errorf("list quiz questions: %w", err)
	}
	defer rows.Close()

	var questions []models.QuizQuestion
	for rows.Next() {
		var q models.QuizQuestion
		var rawOptions string
		if err := rows.Scan(&q.ID, &q.StudySetID, &q.Position, &q.Question, &rawOptions, &q.Answer); err != nil {
			return nil, fmt.Errorf("scan quiz question: %w", err)
		}
		if err := json.Unmarshal([]byte(rawOptions), &q.Options); err != nil {
			return nil, fmt.Errorf("decode options for question %d: %w", q.ID, err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quiz questions: %w", err)
	}
	return questions, nil
}
