package main

import (
	"context"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	. "github.com/Top-G-420/Rue-Organics/internal"
)

func main() {
	//decimals at json as string
	//https://github.com/shopspring/decimal/issues/21
	decimal.MarshalJSONWithoutQuotes = true

	rand.Seed(time.Now().UnixNano())

	cfg := NewConfig()
	z, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	sugaredLogger := z.Sugar()

	repository, err := NewRepository(cfg.DatabaseURI, sugaredLogger)
	if err != nil {
		sugaredLogger.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed, err := NewFeed(ctx, cfg.DatabaseURI, sugaredLogger)
	if err != nil {
		sugaredLogger.Fatal(err)
	}
	go func() {
		if err := feed.Run(ctx); err != nil {
			sugaredLogger.Errorf("change feed stopped: %s", err)
		}
	}()

	service := NewService(repository, cfg.TokenSecret, sugaredLogger)
	coordinator := NewSyncCoordinator(service, feed, sugaredLogger)
	handlers := NewHandlers(service, coordinator, cfg.TokenSecret, sugaredLogger)

	app := fiber.New()
	app.Use(logger.New())

	api := app.Group("/api")

	api.Get("/products", handlers.GetProducts)
	api.Get("/products/:id", handlers.GetProduct)

	api.Get("/cart", handlers.GetCart)
	api.Post("/cart/items", handlers.AddToCart)
	api.Put("/cart/items/:id", handlers.UpdateCartLine)
	api.Delete("/cart/items/:id", handlers.RemoveFromCart)
	api.Delete("/cart", handlers.ClearCart)

	usr := api.Group("/user")
	usr.Post("/login", handlers.Login)
	usr.Post("/register", handlers.Register)

	usr.Get("/orders", handlers.GetOrders)
	usr.Post("/orders", handlers.Checkout)
	usr.Get("/orders/:number", handlers.GetOrder)
	usr.Post("/orders/:number/advance", handlers.AdvanceOrder)
	usr.Post("/orders/:number/receipt", handlers.ConfirmReceipt)
	usr.Get("/orders/:number/events", handlers.OrderEvents)

	go func() {
		sugaredLogger.Fatal(app.Listen(cfg.RunAddress))
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	sugaredLogger.Info("Shutting down service...")
}
