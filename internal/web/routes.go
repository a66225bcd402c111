package web

import (
	"net/http"

	"github.com/aanjaneya24/smartsched/internal/auth"
	"github.com/aanjaneya24/smartsched/internal/metrics"
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all application routes.
func SetupRoutes(r *gin.Engine, h *Handlers, sm *auth.SessionManager) {
	// Health and metrics (no auth, no rate limit)
	r.GET("/health", h.HealthCheck)
	r.GET("/healthz", h.Liveness)
	r.GET("/ready", h.Readiness)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	origins := AllowedOrigins(h.cfg.Server.BaseURL, h.cfg.IsDevelopment())

	apiRateLimiter := RateLimiter(h.cfg.RateLimiting.RPS, h.cfg.RateLimiting.Burst)
	apiGroup := r.Group("/api")
	apiGroup.Use(apiRateLimiter)
	apiGroup.Use(auth.OptionalAuth(sm))
	{
		apiGroup.GET("/auth/status", h.APIAuthStatus)
		apiGroup.POST("/auth/logout", ValidateOrigin(origins), h.APILogout)
		if h.cfg.IsDevelopment() {
			apiGroup.POST("/auth/dev-login", ValidateOrigin(origins), RequireJSONContentType(), h.DevLogin)
		}
	}

	// Google redirects the browser here without the app session.
	r.GET("/api/google-calendar/callback", RateLimiter(5, 10), h.CalendarCallback)

	protectedAPI := r.Group("/api")
	protectedAPI.Use(apiRateLimiter)
	protectedAPI.Use(auth.RequireAuth(sm))
	protectedAPI.Use(ValidateOrigin(origins))
	protectedAPI.Use(RequireJSONContentType())
	{
		calendar := protectedAPI.Group("/google-calendar")
		calendar.GET("/auth-url", h.APICalendarAuthURL)
		calendar.POST("/disconnect", h.APICalendarDisconnect)
		calendar.GET("/status", h.APICalendarStatus)
		calendar.GET("/events", h.APIListEvents)
		calendar.POST("/events", h.APICreateEvent)
		calendar.GET("/events/today", h.APITodayEvents)
		calendar.GET("/events/external", h.APIExternalEvents)
		calendar.GET("/activity", h.APISyncActivity)

		protectedAPI.GET("/tasks", h.APIListTasks)
		protectedAPI.POST("/tasks", h.APICreateTask)
		protectedAPI.GET("/tasks/:id", h.APIGetTask)
		protectedAPI.PUT("/tasks/:id", h.APIUpdateTask)
		protectedAPI.DELETE("/tasks/:id", h.APIDeleteTask)

		protectedAPI.GET("/semesters", h.APIListSemesters)
		protectedAPI.POST("/semesters", h.APICreateSemester)
		protectedAPI.POST("/semesters/:id/activate", h.APIActivateSemester)
		protectedAPI.DELETE("/semesters/:id", h.APIDeleteSemester)

		protectedAPI.GET("/timetable/slots", h.APIListSlots)
		protectedAPI.POST("/timetable/slots", h.APICreateSlot)
		protectedAPI.PUT("/timetable/slots/:id", h.APIUpdateSlot)
		protectedAPI.DELETE("/timetable/slots/:id", h.APIDeleteSlot)
		protectedAPI.GET("/timetable/export.ics", h.APIExportTimetable)
	}

	// Bulk calendar operations with stricter rate limiting
	expensiveAPI := r.Group("/api")
	expensiveAPI.Use(RateLimiter(2, 5))
	expensiveAPI.Use(auth.RequireAuth(sm))
	expensiveAPI.Use(ValidateOrigin(origins))
	expensiveAPI.Use(RequireJSONContentType())
	{
		expensiveAPI.POST("/google-calendar/cleanup-undefined", h.APICleanupUndefined)
		expensiveAPI.POST("/tasks/:id/sync", h.APISyncTask)
		expensiveAPI.POST("/timetable/slots/:id/sync", h.APISyncSlot)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}
