package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"documind/internal/api"
	"documind/internal/db"
	"documind/internal/services"
)

// newTestServer wires a full server against a temp database and a fake
// OpenAI-compatible backend.
func newTestServer(t *testing.T, backend http.HandlerFunc) http.Handler {
	t.Helper()

	conn, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	ts := httptest.NewServer(backend)
	t.Cleanup(ts.Close)

	documents := services.NewDocumentService(conn, t.TempDir())
	pdfService := services.NewPDFService()
	aiService := services.NewAIService("test-key", ts.URL, []string{"model-a", "model-b", "model-c"})
	sets := services.NewStudySetService(conn)
	review := services.NewReviewService(conn)
	ingestion := services.NewIngestionService(documents, pdfService, aiService, sets)

	return api.NewServer(ingestion, sets, review).Handler()
}

func okBackend(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"choices": []map[string]any{
				{
					"index": 0,
					"message": map[string]any{
						"role":    "assistant",
						"content": content,
					},
					"finish_reason": "stop",
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func failingBackend() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "overloaded"}}`, http.StatusInternalServerError)
	}
}

const materialJSON = `{
	"summary": "- covers goroutines\n- covers channels",
	"flashcards": [{"front": "What is a channel?", "back": "A typed conduit"}],
	"quiz": [{"question": "Select the Go keyword", "options": ["go", "async", "spawn", "fork"], "answer": "go"}]
}`

// makePDF builds a one-object-per-page PDF with computed xref offsets.
func makePDF(t *testing.T, pages []string) []byte {
	t.Helper()

	var buf bytes.Buffer
	offsets := make(map[int]int)
	writeObj := func(num int, body string) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	buf.WriteString("%PDF-1.4\n")
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	writeObj(3, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	for i, text := range pages {
		pageNum := 4 + 2*i
		contentNum := pageNum + 1
		writeObj(pageNum, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>",
			contentNum))
		stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		offsets[contentNum] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n", contentNum, len(stream), stream)
	}
	numObjs := 3 + 2*len(pages)
	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", numObjs+1)
	buf.WriteString("0000000000 65535 f \n")
	for num := 1; num <= numObjs; num++ {
		fmt.Fprintf(&buf, "%010d %05d n \n", offsets[num], 0)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", numObjs+1, xrefOffset)
	return buf.Bytes()
}

func multipartUpload(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := w.CreateFormFile(field, filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(content); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, w.FormDataContentType()
}

type studyResponse struct {
	StudySetID int64  `json:"studySetId"`
	Summary    string `json:"summary"`
	Flashcards []struct {
		Front string `json:"front"`
		Back  string `json:"back"`
	} `json:"flashcards"`
	Quiz []struct {
		Question string   `json:"question"`
		Options  []string `json:"options"`
		Answer   string   `json:"answer"`
	} `json:"quiz"`
	Error string `json:"error"`
}

func postStudy(t *testing.T, handler http.Handler, body *bytes.Buffer, contentType string) (*httptest.ResponseRecorder, studyResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/study", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var resp studyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec, resp
}

func TestStudyUpload_NoFile(t *testing.T) {
	handler := newTestServer(t, okBackend(materialJSON))

	t.Run("EmptyMultipartForm", func(t *testing.T) {
		body, contentType := multipartUpload(t, "pdf_file", "", nil)
		rec, resp := postStudy(t, handler, body, contentType)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
		if resp.Error != "Please upload a PDF file." {
			t.Errorf("unexpected error message %q", resp.Error)
		}
		if resp.Summary != "" || len(resp.Flashcards) != 0 || len(resp.Quiz) != 0 {
			t.Errorf("expected empty material alongside the error, got %+v", resp)
		}
	})

	t.Run("NotMultipart", func(t *testing.T) {
		rec, resp := postStudy(t, handler, bytes.NewBufferString("plain body"), "text/plain")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
		if resp.Error != "Please upload a PDF file." {
			t.Errorf("unexpected error message %q", resp.Error)
		}
	})
}

func TestStudyUpload_WrongExtension(t *testing.T) {
	handler := newTestServer(t, okBackend(materialJSON))

	body, contentType := multipartUpload(t, "pdf_file", "notes.txt", []byte("just text"))
	rec, resp := postStudy(t, handler, body, contentType)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if resp.Error != "Only PDF files are supported." {
		t.Errorf("unexpected error message %q", resp.Error)
	}
	if resp.Summary != "" || len(resp.Flashcards) != 0 || len(resp.Quiz) != 0 {
		t.Errorf("expected empty material alongside the error, got %+v", resp)
	}
}

func TestStudyUpload_Success(t *testing.T) {
	handler := newTestServer(t, okBackend(materialJSON))

	pdfData := makePDF(t, []string{"Goroutines are lightweight threads managed by the Go runtime."})
	body, contentType := multipartUpload(t, "pdf_file", "lecture.PDF", pdfData)
	rec, resp := postStudy(t, handler, body, contentType)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp.Error != "" {
		t.Fatalf("unexpected error %q", resp.Error)
	}
	if resp.Summary == "" {
		t.Error("expected a non-empty summary")
	}
	if len(resp.Flashcards) != 1 || resp.Flashcards[0].Front != "What is a channel?" {
		t.Errorf("unexpected flashcards %+v", resp.Flashcards)
	}
	if len(resp.Quiz) != 1 || resp.Quiz[0].Answer != "go" {
		t.Errorf("unexpected quiz %+v", resp.Quiz)
	}
	if resp.StudySetID == 0 {
		t.Error("expected a persisted study set id")
	}

	// The generated material must show up in the history listing.
	req := httptest.NewRequest(http.MethodGet, "/api/materials", nil)
	recList := httptest.NewRecorder()
	handler.ServeHTTP(recList, req)
	if recList.Code != http.StatusOK {
		t.Fatalf("list materials: expected 200, got %d", recList.Code)
	}
	var listResp struct {
		Materials []struct {
			DocumentName string `json:"documentName"`
			CardCount    int    `json:"cardCount"`
			QuizCount    int    `json:"quizCount"`
		} `json:"materials"`
	}
	if err := json.Unmarshal(recList.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decode materials: %v", err)
	}
	if len(listResp.Materials) != 1 {
		t.Fatalf("expected 1 material, got %d", len(listResp.Materials))
	}
	if listResp.Materials[0].DocumentName != "lecture.PDF" {
		t.Errorf("unexpected document name %q", listResp.Materials[0].DocumentName)
	}
}

func TestStudyUpload_GenerationFailure(t *testing.T) {
	handler := newTestServer(t, failingBackend())

	pdfData := makePDF(t, []string{"Some lecture content."})
	body, contentType := multipartUpload(t, "pdf_file", "lecture.pdf", pdfData)
	rec, resp := postStudy(t, handler, body, contentType)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if resp.Error == "" {
		t.Error("expected an error message")
	}
	if resp.Summary != "" || len(resp.Flashcards) != 0 || len(resp.Quiz) != 0 {
		t.Errorf("expected no partial material, got %+v", resp)
	}

	// Nothing may be persisted when a stage fails.
	req := httptest.NewRequest(http.MethodGet, "/api/materials", nil)
	recList := httptest.NewRecorder()
	handler.ServeHTTP(recList, req)
	var listResp struct {
		Materials []json.RawMessage `json:"materials"`
	}
	if err := json.Unmarshal(recList.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decode materials: %v", err)
	}
	if len(listResp.Materials) != 0 {
		t.Errorf("expected no persisted materials, got %d", len(listResp.Materials))
	}
}

func TestStudyUpload_CorruptPDF(t *testing.T) {
	handler := newTestServer(t, okBackend(materialJSON))

	body, contentType := multipartUpload(t, "pdf_file", "broken.pdf", []byte("definitely not a pdf"))
	rec, resp := postStudy(t, handler, body, contentType)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(resp.Error, "could not read PDF file") {
		t.Errorf("unexpected error message %q", resp.Error)
	}
}

func TestStudy_GetRendersEmptyForm(t *testing.T) {
	handler := newTestServer(t, okBackend(materialJSON))

	req := httptest.NewRequest(http.MethodGet, "/api/study", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp studyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != "" || resp.Summary != "" || len(resp.Flashcards) != 0 || len(resp.Quiz) != 0 {
		t.Errorf("expected an empty form payload, got %+v", resp)
	}
}

func TestStudyJob_CompletesAndIsPollable(t *testing.T) {
	handler := newTestServer(t, okBackend(materialJSON))

	pdfData := makePDF(t, []string{"Channels synchronize goroutines."})
	body, contentType := multipartUpload(t, "pdf_file", "lecture.pdf", pdfData)

	req := httptest.NewRequest(http.MethodPost, "/api/study/jobs", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		JobID  string `json:"jobId"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if created.JobID == "" {
		t.Fatal("expected a job id")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		pollReq := httptest.NewRequest(http.MethodGet, "/api/study/jobs/"+created.JobID, nil)
		pollRec := httptest.NewRecorder()
		handler.ServeHTTP(pollRec, pollReq)
		if pollRec.Code != http.StatusOK {
			t.Fatalf("poll job: expected 200, got %d", pollRec.Code)
		}

		var job struct {
			Status string `json:"status"`
			Error  string `json:"error"`
			Result *struct {
				Summary string `json:"summary"`
			} `json:"result"`
		}
		if err := json.Unmarshal(pollRec.Body.Bytes(), &job); err != nil {
			t.Fatalf("decode job status: %v", err)
		}

		if job.Status == "complete" {
			if job.Result == nil || job.Result.Summary == "" {
				t.Fatalf("expected a result on the completed job, got %s", pollRec.Body.String())
			}
			return
		}
		if job.Status == "failed" {
			t.Fatalf("job failed: %s", job.Error)
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not complete in time, last status %q", job.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
