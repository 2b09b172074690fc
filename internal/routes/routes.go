package routes

import (
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/kavehz/MentorAppBack/internal/config"
	"github.com/kavehz/MentorAppBack/internal/feed"
	"github.com/kavehz/MentorAppBack/internal/handlers"
	"github.com/kavehz/MentorAppBack/internal/middleware"
	"github.com/kavehz/MentorAppBack/internal/push"
	"github.com/kavehz/MentorAppBack/internal/repository"
	"github.com/kavehz/MentorAppBack/internal/services"
	chatws "github.com/kavehz/MentorAppBack/internal/websocket"
	"github.com/kavehz/MentorAppBack/internal/workers"
)

func RegisterRoutes(app *fiber.App, cfg *config.Config, db *pgxpool.Pool, rdb *redis.Client) *chatws.Manager {
	userRepo := repository.NewUserRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	scheduledRepo := repository.NewScheduledMessageRepository(db)
	reminderRepo := repository.NewReminderRepository(db)
	pushSubRepo := repository.NewPushSubscriptionRepository(db)

	publisher := feed.NewPublisher(rdb)
	source := feed.NewRedisSource(rdb)
	notifier := push.NewNotifier(pushSubRepo, cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubscriber)

	chatService := services.NewChatService(
		db,
		conversationRepo,
		messageRepo,
		scheduledRepo,
		reminderRepo,
		userRepo,
		publisher,
		notifier,
	)

	var dispatchLock, reminderLock workers.RunLocker
	if cfg.EnableWorkerLocks {
		dispatchLock = workers.NewPGRunLock(db, workers.LockKeyDispatch)
		reminderLock = workers.NewPGRunLock(db, workers.LockKeyReminder)
	}
	dispatchWorker := workers.NewDispatchWorker(scheduledRepo, chatService, notifier, dispatchLock, cfg.WorkerBatchSize)
	reminderWorker := workers.NewReminderWorker(reminderRepo, messageRepo, notifier, reminderLock, cfg.WorkerBatchSize)

	sessionManager := chatws.NewManager()
	sessionDeps := chatws.SessionDeps{
		Service:       chatService,
		Source:        source,
		Conversations: conversationRepo,
		Messages:      messageRepo,
		Unread:        messageRepo,
	}

	authHandler := handlers.NewAuthHandler(userRepo, cfg.JWTSecret)
	chatHandler := handlers.NewChatHandler(chatService, sessionManager, sessionDeps, cfg.JWTSecret)
	scheduleHandler := handlers.NewScheduleHandler(chatService)
	notificationHandler := handlers.NewNotificationHandler(pushSubRepo, cfg.VAPIDPublicKey)
	jobHandler := handlers.NewJobHandler(dispatchWorker, reminderWorker, cfg.CronSecret)

	api := app.Group("/api")

	auth := api.Group("/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)
	auth.Get("/me", middleware.AuthRequired(cfg.JWTSecret), authHandler.Me)

	authProtected := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	conversations := authProtected.Group("/conversations")
	conversations.Get("", chatHandler.ListConversations)
	conversations.Post("", chatHandler.CreateConversation)
	conversations.Get("/:id/messages", chatHandler.GetMessages)
	conversations.Post("/:id/messages", chatHandler.SendMessage)
	conversations.Post("/:id/archive", chatHandler.ArchiveConversation)

	authProtected.Get("/messages/unread-count", chatHandler.GetUnreadCount)

	scheduled := authProtected.Group("/scheduled-messages")
	scheduled.Get("", scheduleHandler.ListScheduledMessages)
	scheduled.Post("", scheduleHandler.ScheduleMessage)
	scheduled.Delete("/:id", scheduleHandler.CancelScheduledMessage)

	reminders := authProtected.Group("/reminders")
	reminders.Get("", scheduleHandler.ListReminders)
	reminders.Post("", scheduleHandler.CreateReminder)

	notifications := authProtected.Group("/notifications")
	notifications.Post("/subscriptions", notificationHandler.Subscribe)
	notifications.Delete("/subscriptions", notificationHandler.Unsubscribe)
	api.Get("/v1/notifications/vapid-public-key", notificationHandler.GetVAPIDPublicKey)

	jobs := api.Group("/v1/jobs")
	jobs.Post("/dispatch-scheduled", jobHandler.RunDispatch)
	jobs.Post("/send-reminders", jobHandler.RunReminders)

	api.Use("/v1/ws", chatHandler.WebSocketAuth)
	api.Get("/v1/ws", websocket.New(chatHandler.HandleWebSocket))

	return sessionManager
}
