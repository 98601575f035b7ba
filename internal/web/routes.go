package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/congregio/checkin-engine/internal/web/handlers"
	"github.com/congregio/checkin-engine/internal/web/middleware"
)

func (s *Server) setupRoutes(engine Engine) {
	checkInHandler := handlers.NewCheckInHandler(engine.Matcher, engine.CheckIns, s.config.Matching)
	sessionsHandler := handlers.NewSessionsHandler(engine.Sessions)
	dashboardHandler := handlers.NewDashboardHandler(engine.Sessions, engine.CheckInStore)
	consentsHandler := handlers.NewConsentsHandler(engine.Consent)
	descriptorsHandler := handlers.NewDescriptorsHandler(engine.Descriptors)
	anomaliesHandler := handlers.NewAnomaliesHandler(engine.Detector)
	certificatesHandler := handlers.NewCertificatesHandler(engine.Certificates)

	// Health check (no auth required).
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireDeviceToken(s.config.Web.DeviceToken))

		// Live check-in path.
		r.Post("/check-in", checkInHandler.CheckIn)
		r.Post("/check-ins/{id}/checkout", checkInHandler.CheckOut)
		r.Post("/check-ins/{id}/review", checkInHandler.Review)
		r.Get("/check-ins/{id}", checkInHandler.Get)

		// Sessions.
		r.Get("/sessions", sessionsHandler.List)
		r.Post("/sessions", sessionsHandler.Create)
		r.Post("/sessions/{id}/start", sessionsHandler.Start)
		r.Post("/sessions/{id}/end", sessionsHandler.End)
		r.Post("/sessions/{id}/cancel", sessionsHandler.Cancel)
		r.Get("/sessions/{id}/dashboard", dashboardHandler.Get)

		// Consents.
		r.Post("/consents", consentsHandler.Grant)
		r.Post("/consents/withdraw", consentsHandler.Withdraw)
		r.Get("/consents/{ownerId}", consentsHandler.History)

		// Descriptors.
		r.Post("/descriptors", descriptorsHandler.Enroll)
		r.Get("/descriptors/{ownerId}", descriptorsHandler.ListByOwner)
		r.Post("/descriptors/{id}/primary", descriptorsHandler.SetPrimary)
		r.Delete("/descriptors/{id}", descriptorsHandler.Remove)

		// Anomalies.
		r.Get("/anomalies", anomaliesHandler.List)
		r.Post("/anomalies/{id}/resolve", anomaliesHandler.Resolve)

		// Certificates.
		r.Get("/certificates/{checkInId}", certificatesHandler.Get)
	})
}
