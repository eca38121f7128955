package main

import (
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"photodeck/pkg/api"
	"photodeck/pkg/build"
	"photodeck/pkg/clients/convert"
	"photodeck/pkg/config"
	"photodeck/pkg/logging"
	"photodeck/pkg/metrics"
	"photodeck/pkg/middleware"
	"photodeck/pkg/session"
	"photodeck/pkg/staging"
	"photodeck/pkg/transcode"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config failed: %v", err)
	}
	logging.Setup(cfg.LogLevel)

	reg := metrics.NewRegistry()

	converter, err := convert.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("converter client init failed: %v", err)
	}

	transcoder := &transcode.Transcoder{
		MaxDimension: cfg.MaxDimension,
		Quality:      cfg.JPEGQuality,
	}
	previews := staging.NewPreviewRegistry()
	ingestor := staging.NewIngestor(cfg.MaxImages, previews)

	sessions := session.NewManager(cfg.SessionTTL(), func() (*staging.Store, *build.Orchestrator) {
		store := staging.NewStore(cfg.MaxImages)
		return store, build.NewOrchestrator(store, transcoder, converter, reg)
	}, reg)
	defer sessions.Close()

	server := echo.New()
	server.HideBanner = true
	server.Use(echomw.Recover())
	server.Use(middleware.RequestLogger(reg))

	handlers := api.NewHandlers(sessions, ingestor, previews, reg)
	handlers.Register(server)

	server.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	server.GET("/metrics", reg.EchoHandlerText)
	server.GET("/metrics.json", reg.EchoHandlerJSON)

	if err := server.Start(cfg.Address); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
