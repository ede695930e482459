package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"documind/internal/api"
	"documind/internal/config"
	"documind/internal/db"
	"documind/internal/services"
)

func main() {
	cfg := config.Load()

	conn, err := db.Open(cfg.Database)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer conn.Close()

	documentService := services.NewDocumentService(conn, cfg.UploadDir)
	pdfService := services.NewPDFService()
	aiService := services.NewAIService(cfg.OpenAIKey, cfg.OpenAIEndpoint, cfg.ModelPriority)
	studySetService := services.NewStudySetService(conn)
	reviewService := services.NewReviewService(conn)
	ingestionService := services.NewIngestionService(documentService, pdfService, aiService, studySetService)

	server := api.NewServer(ingestionService, studySetService, reviewService)
	mux := http.NewServeMux()

	staticFS := http.FileServer(http.Dir("./static"))
	mux.Handle("/static/", http.StripPrefix("/static/", staticFS))

	mux.HandleFunc("/", serveFile("./internal/web/index.html"))
	mux.HandleFunc("/materials", serveFile("./internal/web/materials.html"))

	mux.Handle("/api", server.Handler())
	mux.Handle("/api/", server.Handler())

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Printf("listening on :%s", port)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server failed: %v", err)
	}
}

func serveFile(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		http.ServeFile(w, r, path)
	}
}
