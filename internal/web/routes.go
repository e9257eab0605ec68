package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/camera"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/logging"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/web/handlers"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/web/middleware"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/web/static"
)

const appTitle = "Smart Attendance System"

func (s *Server) setupRoutes(timeout time.Duration) {
	d := s.deps
	if d.Cameras == nil {
		d.Cameras = camera.NewManager(camera.NewFFmpegCapturer(), s.config.Cameras)
	}

	// Create handlers
	audit := handlers.NewAuditor(d.Stores.Logs)
	images := handlers.NewImageStore(s.config.Storage.UploadDir)
	healthHandler := handlers.NewHealthHandler(d.Ping, d.Version)
	authHandler := handlers.NewAuthHandler(d.Stores, d.Tokens, d.Mailer, audit)
	userHandler := handlers.NewUserHandler(d.Stores, d.Faces, d.Index, d.Duplicates, images, audit)
	adminHandler := handlers.NewAdminHandler(d.Stores, d.Faces, d.Index, d.Duplicates, images, d.Mailer, audit)
	superAdminHandler := handlers.NewSuperAdminHandler(d.Stores, d.Index, d.Tasks, audit)
	cameraHandler := handlers.NewCameraHandler(d.Cameras, audit)

	requireAuth := middleware.RequireAuth(d.Tokens)

	// Long-lived streams sit outside the request timeout.
	s.router.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/api/cameras/{id}/stream", cameraHandler.Stream)
		r.Get("/api/cameras/{id}/ws", cameraHandler.WebSocket)
		r.With(middleware.RequireSuperAdmin()).Get("/api/superadmin/tasks/{id}/events", superAdminHandler.TaskEvents)
	})

	s.router.Group(func(r chi.Router) {
		r.Use(chiMiddleware.Timeout(timeout))

		// Health check (no auth required)
		r.Get("/api/health", healthHandler.Check)
		r.Get("/", s.serveLanding)
		r.Get("/static/js/camera-manager.js", serveCameraScript)

		// Browser camera contract
		r.Get("/api/camera/constraints", cameraHandler.Constraints)
		r.With(middleware.OptionalAuth(d.Tokens)).Post("/api/camera/errors", cameraHandler.ReportError)

		r.Route("/api/auth", func(r chi.Router) {
			r.Post("/login", authHandler.Login)
			r.Post("/register", authHandler.Register)
			r.Post("/signup", authHandler.Signup)
			r.Post("/verify-email", authHandler.VerifyEmail)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Get("/me", authHandler.Me)
				r.Post("/change-password", authHandler.ChangePassword)
			})
		})

		r.Route("/api/user", func(r chi.Router) {
			r.Use(requireAuth)
			r.Use(middleware.RequireUser())

			r.Post("/enrollment/submit", userHandler.SubmitEnrollment)
			r.Get("/enrollment/status", userHandler.EnrollmentStatus)
			r.Post("/attendance/mark", userHandler.MarkAttendance)
			r.Get("/attendance/history", userHandler.AttendanceHistory)
			r.Get("/stats", userHandler.Stats)
			r.Post("/leave", userHandler.SubmitLeave)
			r.Get("/leave", userHandler.ListLeaves)
		})

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(requireAuth)
			r.Use(middleware.RequireAdmin())

			r.Get("/stats", adminHandler.Stats)
			r.Get("/persons", adminHandler.Persons)
			r.Get("/attendance", adminHandler.Attendance)
			r.Get("/users", adminHandler.Users)

			// Enrollment review
			r.Get("/enrollment/requests", adminHandler.ListEnrollments)
			r.Get("/enrollment/requests/{id}", adminHandler.GetEnrollment)
			r.Post("/enrollment/requests/{id}/approve", adminHandler.ApproveEnrollment)
			r.Post("/enrollment/requests/{id}/reject", adminHandler.RejectEnrollment)
			r.Post("/enrollment/direct", adminHandler.DirectEnrollment)

			// Signups
			r.Get("/signup/requests", adminHandler.ListSignups)
			r.Get("/signup/requests/count", adminHandler.CountSignups)
			r.Post("/signup/requests/{id}/approve", adminHandler.ApproveSignup)
			r.Post("/signup/requests/{id}/reject", adminHandler.RejectSignup)

			// Leave
			r.Get("/leave/requests", adminHandler.ListLeaves)
			r.Post("/leave/requests/{id}/approve", adminHandler.ApproveLeave)
			r.Post("/leave/requests/{id}/reject", adminHandler.RejectLeave)
		})

		r.Route("/api/superadmin", func(r chi.Router) {
			r.Use(requireAuth)
			r.Use(middleware.RequireSuperAdmin())

			r.Get("/stats", superAdminHandler.Stats)
			r.Get("/admins", superAdminHandler.ListAdmins)
			r.Post("/admins", superAdminHandler.CreateAdmin)
			r.Put("/admins/{id}", superAdminHandler.UpdateAdmin)
			r.Delete("/admins/{id}", superAdminHandler.DeleteAdmin)
			r.Get("/users", superAdminHandler.ListUsers)
			r.Put("/users/{id}", superAdminHandler.UpdateUser)
			r.Get("/logs", superAdminHandler.Logs)
			r.Get("/attendance/stats", superAdminHandler.AttendanceStats)
			r.Post("/index/rebuild", superAdminHandler.RebuildIndex)
			r.Get("/tasks", superAdminHandler.ListTasks)
			r.Get("/tasks/{id}", superAdminHandler.GetTask)
		})

		// Camera registry
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/api/cameras/{id}/quality", cameraHandler.Quality)
			r.Get("/api/cameras/{id}/snapshot", cameraHandler.Snapshot)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireSuperAdmin())
				r.Get("/api/cameras", cameraHandler.List)
				r.Post("/api/cameras", cameraHandler.Add)
				r.Get("/api/cameras/health", cameraHandler.Health)
				r.Get("/api/cameras/available-devices", cameraHandler.AvailableDevices)
				r.Post("/api/cameras/{id}/start", cameraHandler.Start)
				r.Post("/api/cameras/{id}/stop", cameraHandler.Stop)
				r.Delete("/api/cameras/{id}", cameraHandler.Delete)
				r.Get("/api/cameras/{id}/health", cameraHandler.CameraHealth)
				r.Put("/api/cameras/{id}/config", cameraHandler.UpdateConfig)
			})
		})
	})
}

// serveLanding renders the landing page.
func (s *Server) serveLanding(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := static.RenderLanding(w, static.PageData{Title: appTitle, Version: s.deps.Version}); err != nil {
		logging.Error("failed to render landing page", "error", err)
	}
}

func serveCameraScript(w http.ResponseWriter, r *http.Request) {
	js, err := static.CameraManagerJS()
	if err != nil {
		logging.Error("failed to render camera script", "error", err)
		http.Error(w, "camera script unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(js)
}
