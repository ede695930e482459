package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	fsrs "github.com/open-spaced-repetition/go-fsrs"

	"documind/internal/services"
)

const maxMultipartMemory = 8 << 20 // 8 MB

// User-facing messages for the upload form.
const (
	msgMissingFile    = "Please upload a PDF file."
	msgNotPDF         = "Only PDF files are supported."
	msgGenericFailure = "Something went wrong while processing the PDF."
)

type Server struct {
	mux       *http.ServeMux
	ingestion *services.IngestionService
	sets      *services.StudySetService
	review    *services.ReviewService
	jobs      *JobManager
}

func NewServer(
	ingestion *services.IngestionService,
	sets *services.StudySetService,
	review *services.ReviewService,
) *Server {
	s := &Server{
		mux:       http.NewServeMux(),
		ingestion: ingestion,
		sets:      sets,
		review:    review,
		jobs:      NewJobManager(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/study", s.handleStudy)
	s.mux.HandleFunc("/api/study/jobs", s.handleStudyJobs)
	s.mux.HandleFunc("/api/study/jobs/", s.handleStudyJobStatus)
	s.mux.HandleFunc("/api/materials", s.handleListMaterials)
	s.mux.HandleFunc("/api/materials/", s.handleMaterialDetail)
	s.mux.HandleFunc("/api/cards/next", s.handleGetNextCard)
	s.mux.HandleFunc("/api/cards/", s.handleCardActions)
}

// StudyResponse mirrors what the upload form renders: the generated material
// on success, or an error message with every other field left empty.
type StudyResponse struct {
	StudySetID int64                         `json:"studySetId,omitempty"`
	DocumentID int64                         `json:"documentId,omitempty"`
	Pages      int                           `json:"pages,omitempty"`
	Summary    string                        `json:"summary"`
	Flashcards []services.FlashcardPrototype `json:"flashcards"`
	Quiz       []services.QuizItem           `json:"quiz"`
	Error      string                        `json:"error,omitempty"`
}

func emptyStudyResponse() StudyResponse {
	return StudyResponse{
		Flashcards: []services.FlashcardPrototype{},
		Quiz:       []services.QuizItem{},
	}
}

func studyResponseFromResult(result *services.StudyResult) StudyResponse {
	resp := emptyStudyResponse()
	resp.StudySetID = result.Set.ID
	resp.DocumentID = result.Document.ID
	resp.Pages = result.Document.PageCount
	resp.Summary = result.Material.Summary
	if result.Material.Flashcards != nil {
		resp.Flashcards = result.Material.Flashcards
	}
	if result.Material.Quiz != nil {
		resp.Quiz = result.Material.Quiz
	}
	return resp
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStudy(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		// Empty form: nothing generated yet, no error.
		writeJSON(w, http.StatusOK, emptyStudyResponse())
	case http.MethodPost:
		s.handleStudyUpload(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) handleStudyUpload(w http.ResponseWriter, r *http.Request) {
	filename, data, errMsg := readPDFUpload(r)
	if errMsg != "" {
		writeStudyError(w, http.StatusBadRequest, errMsg)
		return
	}

	result, err := s.ingestion.ProcessPDF(r.Context(), filename, data, nil)
	if err != nil {
		writeStudyError(w, http.StatusInternalServerError, userMessage(err))
		return
	}

	writeJSON(w, http.StatusOK, studyResponseFromResult(result))
}

// readPDFUpload validates and reads the pdf_file multipart field. A non-empty
// errMsg means the request was rejected before any processing.
func readPDFUpload(r *http.Request) (filename string, data []byte, errMsg string) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return "", nil, msgMissingFile
	}
	if form := r.MultipartForm; form != nil {
		defer form.RemoveAll()
	}

	file, header, err := r.FormFile("pdf_file")
	if err != nil {
		return "", nil, msgMissingFile
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".pdf") {
		return "", nil, msgNotPDF
	}

	data, err = io.ReadAll(file)
	if err != nil {
		return "", nil, msgGenericFailure
	}
	return header.Filename, data, ""
}

// userMessage maps a processing error to the message shown to the user.
func userMessage(err error) string {
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return msgGenericFailure
	}
	return msg
}

func (s *Server) handleStudyJobs(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/study/jobs" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	filename, data, errMsg := readPDFUpload(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	jobID, snapshot := s.jobs.CreateJob(filename)
	go s.runStudyJob(context.Background(), jobID, filename, data)

	writeJSON(w, http.StatusAccepted, snapshot)
}

func (s *Server) runStudyJob(ctx context.Context, jobID, filename string, data []byte) {
	s.jobs.MarkProcessing(jobID)
	progress := func(step, message string, current, total int) {
		s.jobs.UpdateProgress(jobID, step, message, current, total)
	}
	result, err := s.ingestion.ProcessPDF(ctx, filename, data, progress)
	if err != nil {
		s.jobs.MarkFailed(jobID, userMessage(err))
		return
	}
	s.jobs.MarkComplete(jobID, studyResponseFromResult(result))
}

func (s *Server) handleStudyJobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	jobID := strings.TrimPrefix(r.URL.Path, "/api/study/jobs/")
	jobID = strings.Trim(jobID, "/")
	if jobID == "" {
		http.NotFound(w, r)
		return
	}

	job, ok := s.jobs.GetJob(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListMaterials(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	limitStr := r.URL.Query().Get("limit")
	limit := 50
	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	sets, err := s.sets.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]map[string]any, 0, len(sets))
	for _, set := range sets {
		out = append(out, map[string]any{
			"id":           set.ID,
			"documentId":   set.DocumentID,
			"documentName": set.DocumentName,
			"summary":      set.Summary,
			"cardCount":    set.CardCount,
			"quizCount":    set.QuizCount,
			"created_at":   set.CreatedAt.Format(timeLayout),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"materials": out})
}

func (s *Server) handleMaterialDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/api/materials/")
	idStr = strings.Trim(idStr, "/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid study set id")
		return
	}

	detail, err := s.sets.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrStudySetNotFound) {
			writeError(w, http.StatusNotFound, "study set not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	cards := make([]map[string]any, 0, len(detail.Flashcards))
	for _, card := range detail.Flashcards {
		cards = append(cards, map[string]any{
			"id":    card.ID,
			"front": card.Front,
			"back":  card.Back,
			"due":   nullTimeToString(card.Due),
			"state": card.State,
		})
	}

	quiz := make([]map[string]any, 0, len(detail.Quiz))
	for _, q := range detail.Quiz {
		quiz = append(quiz, map[string]any{
			"question": q.Question,
			"options":  q.Options,
			"answer":   q.Answer,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":           detail.Set.ID,
		"documentName": detail.Set.DocumentName,
		"summary":      detail.Set.Summary,
		"flashcards":   cards,
		"quiz":         quiz,
		"created_at":   detail.Set.CreatedAt.Format(timeLayout),
	})
}

func (s *Server) handleGetNextCard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	card, err := s.review.NextCard(r.Context())
	if err != nil {
		if err == services.ErrNoDueCards {
			writeJSON(w, http.StatusOK, map[string]any{
				"card":    nil,
				"message": "No cards due. Come back later!",
			})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"card": map[string]any{
			"id":        card.ID,
			"front":     card.Front,
			"back":      card.Back,
			"due":       nullTimeToString(card.Due),
			"state":     card.State,
			"stability": card.Stability,
		},
	})
}

func (s *Server) handleCardActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/cards/")
	path = strings.Trim(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "review" {
		http.NotFound(w, r)
		return
	}

	cardID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid card id")
		return
	}

	var payload reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	rating, err := parseRating(payload.Rating)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	card, logEntry, err := s.review.ReviewCard(r.Context(), cardID, rating)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"card": map[string]any{
			"id":    card.ID,
			"due":   nullTimeToString(card.Due),
			"state": card.State,
		},
		"log": map[string]any{
			"rating":  logEntry.Rating,
			"due_in":  logEntry.ScheduledDays,
			"updated": logEntry.ReviewedAt.Format(timeLayout),
		},
	})
}

type reviewRequest struct {
	Rating string `json:"rating"`
}

const timeLayout = time.RFC3339

func parseRating(raw string) (fsrs.Rating, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "again":
		return fsrs.Again, nil
	case "hard":
		return fsrs.Hard, nil
	case "good":
		return fsrs.Good, nil
	case "easy":
		return fsrs.Easy, nil
	default:
		return 0, fmt.Errorf("unknown rating %q", raw)
	}
}

func nullTimeToString(t sql.NullTime) *string {
	if t.Valid {
		str := t.Time.Format(timeLayout)
		return &str
	}
	return nil
}

func writeStudyError(w http.ResponseWriter, status int, message string) {
	resp := emptyStudyResponse()
	resp.Error = message
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
