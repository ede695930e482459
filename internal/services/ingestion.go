package services

import (
	"context"

	"documind/internal/models"
)

// ProgressCallback is called during document processing to report progress
type ProgressCallback func(step, message string, current, total int)

// IngestionService coordinates PDF parsing, AI generation, and persistence.
type IngestionService struct {
	documents *DocumentService
	pdf       *PDFService
	ai        *AIService
	sets      *StudySetService
}

func NewIngestionService(
	documents *DocumentService,
	pdf *PDFService,
	ai *AIService,
	sets *StudySetService,
) *IngestionService {
	return &IngestionService{
		documents: documents,
		pdf:       pdf,
		ai:        ai,
		sets:      sets,
	}
}

// StudyResult is the outcome of processing one uploaded PDF.
type StudyResult struct {
	Document *models.Document
	Set      *models.StudySet
	Material *StudyMaterial
}

// ProcessPDF runs extraction, generation, and persistence for one upload.
// Nothing is persisted unless every stage succeeds, so a failed request
// never leaves a partial study set behind.
func (s *IngestionService) ProcessPDF(ctx context.Context, filename string, data []byte, progress ProgressCallback) (*StudyResult, error) {
	if s.ai == nil {
		return nil, ErrAIUnavailable
	}

	if progress != nil {
		progress("extract", "Extracting text from PDF", 0, 100)
	}
	text, pages, err := s.pdf.ExtractText(data)
	if err != nil {
		return nil, err
	}

	if progress != nil {
		progress("generate", "Generating study material", 20, 100)
	}
	material, err := s.ai.GenerateStudyMaterial(ctx, text)
	if err != nil {
		return nil, err
	}

	if progress != nil {
		progress("save", "Saving study material", 80, 100)
	}
	doc, err := s.documents.Create(ctx, filename, pages, data)
	if err != nil {
		return nil, err
	}
	set, err := s.sets.Create(ctx, doc.ID, material)
	if err != nil {
		return nil, err
	}

	if progress != nil {
		progress("complete", "Processing complete", 100, 100)
	}

	return &StudyResult{
		Document: doc,
		Set:      set,
		Material: material,
	}, nil
}
