package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/kavehz/MentorAppBack/internal/config"
	"github.com/kavehz/MentorAppBack/internal/database"
	"github.com/kavehz/MentorAppBack/internal/feed"
	"github.com/kavehz/MentorAppBack/internal/push"
	"github.com/kavehz/MentorAppBack/internal/repository"
	"github.com/kavehz/MentorAppBack/internal/services"
	"github.com/kavehz/MentorAppBack/internal/workers"
)

// Runs the batch workers once and exits, for cron-style invocation:
//
//	worker dispatch    promote due scheduled messages
//	worker reminders   send due reminder notifications
//	worker all         both, dispatch first
func main() {
	job := "all"
	if len(os.Args) > 1 {
		job = os.Args[1]
	}
	if job != "dispatch" && job != "reminders" && job != "all" {
		log.Fatalf("Unknown job %q (want dispatch, reminders or all)", job)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.DBUrl == "" {
		log.Fatal("DB_URL is required")
	}
	if err := database.ConnectDB(cfg.DBUrl, int32(cfg.DBMaxConns)); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.CloseDB()

	if err := database.ConnectRedis(cfg.RedisURL); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer database.CloseRedis()

	db := database.DB
	userRepo := repository.NewUserRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	scheduledRepo := repository.NewScheduledMessageRepository(db)
	reminderRepo := repository.NewReminderRepository(db)
	pushSubRepo := repository.NewPushSubscriptionRepository(db)

	publisher := feed.NewPublisher(database.Redis)
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

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if job == "dispatch" || job == "all" {
		worker := workers.NewDispatchWorker(scheduledRepo, chatService, notifier, dispatchLock, cfg.WorkerBatchSize)
		summary, err := worker.RunOnce(ctx)
		if err != nil {
			log.Fatalf("Dispatch run failed: %v", err)
		}
		log.Printf("Dispatch: processed=%d succeeded=%d failed=%d",
			summary.Processed, summary.Succeeded, summary.Failed)
	}

	if job == "reminders" || job == "all" {
		worker := workers.NewReminderWorker(reminderRepo, messageRepo, notifier, reminderLock, cfg.WorkerBatchSize)
		summary, err := worker.RunOnce(ctx)
		if err != nil {
			log.Fatalf("Reminder run failed: %v", err)
		}
		log.Printf("Reminders: processed=%d succeeded=%d failed=%d",
			summary.Processed, summary.Succeeded, summary.Failed)
	}
}
