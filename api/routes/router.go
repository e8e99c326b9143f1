package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fieldcheck/servicereport-backend/api/controllers"
	"github.com/fieldcheck/servicereport-backend/api/middleware"
	"github.com/fieldcheck/servicereport-backend/internal/notifications"
	"github.com/fieldcheck/servicereport-backend/internal/reports"
	"github.com/fieldcheck/servicereport-backend/internal/users"
	"github.com/fieldcheck/servicereport-backend/pkg/config"
	"github.com/fieldcheck/servicereport-backend/pkg/db"
	"github.com/fieldcheck/servicereport-backend/pkg/enums"
	"github.com/fieldcheck/servicereport-backend/pkg/logger"
	"github.com/fieldcheck/servicereport-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	gatherer prometheus.Gatherer,
	reportsService reports.Service,
	usersService users.Service,
	notificationsService notifications.Service,
	subscriber controllers.NotificationSubscriber,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    dbP,
			"redis": redisClient,
		}))
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Route("/reports", func(r chi.Router) {
			r.Get("/", controllers.ReportList(reportsService, logg))
			r.Post("/", controllers.ReportCreate(reportsService, logg))
			r.Route("/{reportId}", func(r chi.Router) {
				r.Get("/", controllers.ReportGet(reportsService, logg))
				r.Patch("/", controllers.ReportUpdate(reportsService, logg))
				r.Delete("/", controllers.ReportDelete(reportsService, logg))
				r.Post("/submit", controllers.ReportSubmit(reportsService, logg))
				r.Post("/decision", controllers.ReportDecision(reportsService, logg))
				r.Get("/audit", controllers.ReportHistory(reportsService, logg))
			})
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(notificationsService, logg))
			r.Get("/unread-count", controllers.UnreadNotificationCount(notificationsService, logg))
			r.Get("/stream", controllers.StreamNotifications(subscriber, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(notificationsService, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(notificationsService, logg))
		})

		r.Route("/users", func(r chi.Router) {
			r.Get("/subordinates", controllers.UserSubordinates(usersService, logg))
			r.Get("/me", controllers.UserMe(usersService, logg))
			r.Get("/{userId}", controllers.UserGet(usersService, logg))
			r.Put("/{userId}/owner", controllers.UserAssignOwner(usersService, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.RoleAdmin))
				r.Post("/", controllers.UserCreate(usersService, logg))
				r.Put("/{userId}/active", controllers.UserSetActive(usersService, logg))
			})
		})
	})

	return r
}
