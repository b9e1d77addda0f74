package main

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/camden-git/kioskbackend/attendance"
	"github.com/camden-git/kioskbackend/config"
	"github.com/camden-git/kioskbackend/database"
	"github.com/camden-git/kioskbackend/handlers"
	"github.com/camden-git/kioskbackend/models"
	"github.com/camden-git/kioskbackend/realtime"
	"github.com/camden-git/kioskbackend/repository"
	"github.com/camden-git/kioskbackend/session"
	"github.com/camden-git/kioskbackend/workers"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Printf("Info: No .env file found or error loading: %v", err)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	db, err := database.InitGormDB(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database: %v", err)
	}
	if err := database.AutoMigrateModels(db); err != nil {
		log.Fatalf("FATAL: Failed to migrate database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("FATAL: Failed to get underlying sql.DB: %v", err)
	}

	subjectRepo := repository.NewSubjectRepository(db)
	eventRepo := repository.NewAttendanceEventRepository(db)
	kioskRepo := repository.NewKioskRepository(db)

	ledger := attendance.NewLedger(eventRepo)

	policies := map[models.Population]session.Policy{
		models.PopulationVisitor: {RequireConfirmation: cfg.VisitorRequireConfirmation},
		models.PopulationStaff:   {RequireConfirmation: cfg.StaffRequireConfirmation},
	}
	coordinator := session.NewCoordinator(subjectRepo, ledger, cfg.MatchThreshold, cfg.GalleryHNSWCutoff, policies, cfg.MaxDecideRetries)

	hub := realtime.NewHub()
	go hub.Run()

	aggregates := workers.NewAggregatesWorker(subjectRepo, eventRepo)
	if err := aggregates.Start(cfg.DashboardRefreshInterval); err != nil {
		log.Fatalf("FATAL: Failed to start aggregates worker: %v", err)
	}
	defer aggregates.Stop()

	coordinator.SetNotifier(func(event *models.AttendanceEvent, subject *models.Subject) {
		hub.Broadcast(realtime.Event{
			Type:        "transition",
			SubjectID:   subject.ID,
			DisplayName: subject.DisplayName,
			Population:  string(subject.Population),
			Kind:        string(event.Kind),
			Present:     subject.CurrentlyPresent,
			Timestamp:   event.Timestamp.Unix(),
		})
		go aggregates.Refresh()
	})

	log.Printf("Using database: %s", cfg.DatabasePath)
	log.Printf("Match threshold: %g (embedding dimension %d)", cfg.MatchThreshold, cfg.EmbeddingDimension)

	r := chi.NewRouter()

	corsOptions := cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173"}, //TODO: configurable
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	corsHandler := cors.New(corsOptions)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(corsHandler.Handler)

	identifyHandler := &handlers.IdentifyHandler{Coordinator: coordinator, Cfg: cfg}
	subjectHandler := &handlers.SubjectHandler{Subjects: subjectRepo, Events: eventRepo, Ledger: ledger}
	reportHandler := &handlers.ReportHandler{DB: sqlDB}
	dashboardHandler := &handlers.DashboardHandler{Aggregates: aggregates}
	kioskHandler := &handlers.KioskHandler{Kiosks: kioskRepo, JWTKey: cfg.JWTKey}

	kioskAuth := handlers.KioskAuthMiddleware(kioskRepo, cfg.JWTKey)

	r.Route("/api", func(r chi.Router) {
		r.Post("/kiosks", kioskHandler.RegisterKiosk)
		r.Post("/kiosks/token", kioskHandler.IssueToken)

		r.Group(func(r chi.Router) {
			r.Use(kioskAuth)
			r.Post("/identify", identifyHandler.Identify)
		})

		r.Route("/subjects", func(r chi.Router) {
			r.Post("/", subjectHandler.CreateSubject)
			r.Get("/", subjectHandler.ListSubjects)
			r.Route("/{subject_id}", func(r chi.Router) {
				r.Get("/", subjectHandler.GetSubject)
				r.Get("/events", subjectHandler.GetSubjectEvents)
				r.Get("/hours", subjectHandler.GetSubjectHours)
			})
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/onsite", reportHandler.OnSiteReport)
			r.Get("/attendance", reportHandler.AttendanceReport)
		})

		r.Get("/dashboard", dashboardHandler.GetDashboard)
		r.Get("/ws", hub.ServeWS)
	})

	log.Printf("Listening on %s", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, r); err != nil {
		log.Fatalf("FATAL: Server failed: %v", err)
	}
}
