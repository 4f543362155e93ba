package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/shared-terminal/backend/api/handlers"
	"github.com/shared-terminal/backend/internal/adapter"
	"github.com/shared-terminal/backend/internal/db"
	"github.com/shared-terminal/backend/internal/registry"
	"github.com/shared-terminal/backend/internal/repository"
	"github.com/shared-terminal/backend/internal/router"
	"github.com/shared-terminal/backend/internal/ws"
)

func main() {
	port := getEnv("PORT", "8080")
	dbPath := getEnv("DB_PATH", "data/terminals.db")
	tmuxBin := getEnv("TMUX_BIN", "tmux")

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	database, err := db.InitDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.CloseDB()

	repo := repository.NewTerminalRepository(database)
	mux := adapter.NewMux(tmuxBin)
	if !mux.Available() {
		log.Printf("warning: %s not found; persistent terminals will fail to spawn", tmuxBin)
	}

	reg := registry.New(&registry.ProcessLauncher{Mux: mux}, mux, repo)
	if err := reg.Reconcile(context.Background()); err != nil {
		log.Printf("startup reconciliation failed: %v", err)
	}

	rtr := router.New(reg)
	gateway := ws.NewGateway(reg, rtr)

	terminalHandler := handlers.NewTerminalHandler(reg, rtr)
	wsHandler := handlers.NewWebSocketHandler(gateway)

	r := gin.Default()
	r.Use(corsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":      "ok",
			"activeCount": reg.ActiveCount(),
		})
	})

	api := r.Group("/api")
	{
		terminalHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
	}

	// Shutdown sweep: ephemeral terminals die with the backend, persistent
	// ones are detached and left for tmux.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down server...")
		reg.Shutdown()
		db.CloseDB()
		os.Exit(0)
	}()

	log.Printf("Starting server on port %s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
