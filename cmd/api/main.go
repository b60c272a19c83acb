package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"google.golang.org/api/option"

	fbapp "firebase.google.com/go/v4"

	"agromarket/internal/adapter/api"
	"agromarket/internal/adapter/api/handler"
	apimiddleware "agromarket/internal/adapter/api/middleware"
	"agromarket/internal/adapter/api/router"
	"agromarket/internal/adapter/repository"
	domainrepo "agromarket/internal/domain/repository"
	"agromarket/internal/infrastructure/firebase"
	"agromarket/internal/infrastructure/notify"
	"agromarket/internal/infrastructure/ratelimit"
	"agromarket/internal/infrastructure/websocket"
	"agromarket/internal/usecase"
	"agromarket/pkg/config"
	"agromarket/pkg/logger"
)

// verifier is what both the Firebase client and the development verifier
// provide.
type verifier interface {
	apimiddleware.TokenVerifier
	handler.ConnectionChecker
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := logger.Init(cfg.Environment); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		chatRepo  domainrepo.ChatRepository
		userRepo  domainrepo.UserRepository
		orderRepo domainrepo.OrderRepository
		auth      verifier
	)

	switch cfg.StoreBackend {
	case "memory":
		if cfg.IsProduction() {
			log.Fatalf("The memory backend is not allowed in production")
		}
		logger.Warn("Using the in-memory store; data is lost on restart")
		chatRepo = repository.NewMemoryChatRepository(time.Now)
		userRepo = repository.NewMemoryUserRepository()
		orderRepo = repository.NewMemoryOrderRepository()
		auth = firebase.DevTokenVerifier{}

	default:
		opt := credentials(cfg)

		firebaseApp, err := fbapp.NewApp(ctx, &fbapp.Config{ProjectID: cfg.FirebaseProject}, opt)
		if err != nil {
			log.Fatalf("Failed to initialize Firebase: %v", err)
		}

		authClient, err := firebaseApp.Auth(ctx)
		if err != nil {
			log.Fatalf("Failed to initialize Firebase Auth: %v", err)
		}

		firestoreClient, err := firestore.NewClient(ctx, cfg.FirebaseProject, opt)
		if err != nil {
			log.Fatalf("Failed to create Firestore client: %v", err)
		}
		defer firestoreClient.Close()

		chatRepo = repository.NewFirestoreChatRepository(firestoreClient)
		userRepo = repository.NewFirestoreUserRepository(firestoreClient)
		orderRepo = repository.NewFirestoreOrderRepository(firestoreClient)
		auth = firebase.NewFirebaseAuthClient(authClient)
	}

	var dispatcher usecase.EmailDispatcher = notify.LogDispatcher{}
	if cfg.Email.RedisAddr != "" {
		redisDispatcher, err := notify.NewRedisDispatcher(ctx, cfg.Email.RedisAddr, cfg.Email.Channel)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisDispatcher.Close()
		dispatcher = redisDispatcher
	} else {
		logger.Warn("EMAIL_REDIS_ADDR not set, status emails are only logged")
	}

	notifier := usecase.NewOrderNotificationUseCase(dispatcher, cfg.Email.QueueSize)
	notifier.Start(ctx)
	defer notifier.Close()

	limiter := ratelimit.NewRateLimiter(map[string]ratelimit.Policy{
		ratelimit.ActionSendMessage:  {PerMinute: cfg.Chat.SendRatePerMinute, Burst: cfg.Chat.SendBurst},
		ratelimit.ActionOpenChat:     {PerMinute: 60, Burst: 20},
		ratelimit.ActionStatusChange: {PerMinute: 120, Burst: 30},
	})
	limiter.StartCleanupRoutine(ctx)

	resolver := usecase.NewChatIdentityResolver(chatRepo, cfg.Chat)
	reconciler := usecase.NewChatReconciler(chatRepo, orderRepo, userRepo, resolver)
	messages := usecase.NewMessageStreamManager(chatRepo, reconciler, cfg.Chat)
	chatList := usecase.NewChatListUseCase(chatRepo, userRepo, cfg.Chat)

	wsManager := websocket.NewManager()
	wsManager.Start(ctx)

	handler.Setup(
		handler.NewChatHandler(resolver, reconciler, messages, chatList, cfg.Chat.DefaultLocale),
		handler.NewOrderHandler(notifier),
		handler.NewHealthHandler(auth, cfg.StoreBackend),
		handler.NewWebSocketHandler(ctx, wsManager, websocket.Services{
			Reconciler: reconciler,
			Messages:   messages,
			ChatList:   chatList,
			Chats:      chatRepo,
			Limiter:    limiter,
		}, cfg.Chat.DefaultLocale),
	)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.Validator = api.NewValidator()

	authMiddleware := apimiddleware.NewAuthMiddleware(auth)
	router.Setup(e, authMiddleware, limiter)

	go func() {
		logger.Info("Starting server on port %s...", cfg.ServerPort)
		if err := e.Start(":" + cfg.ServerPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown: %v", err)
	}
	messages.WaitDelivered()
}

func credentials(cfg *config.Config) option.ClientOption {
	if cfg.ServiceAccountJSON != "" {
		logger.Info("Using Firebase service account from environment variable")
		return option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON))
	}

	if _, err := os.Stat(cfg.ServiceAccountPath); os.IsNotExist(err) {
		log.Fatalf("Service account file does not exist: %s", cfg.ServiceAccountPath)
	}
	logger.Info("Using Firebase service account from file: %s", cfg.ServiceAccountPath)
	return option.WithCredentialsFile(cfg.ServiceAccountPath)
}
