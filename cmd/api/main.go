package main

import (
	"context"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/app"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/config"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/handlers"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func setupRouter(a *app.App) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})))

	handlers.RegisterBookingRoutes(r, handlers.HandlerConfig{
		Saga:   a.Saga,
		Queue:  a.Queue,
		Logger: a.Logger,
	})

	return r
}

func main() {
	log := logger.New("booking-api", os.Stdout)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Error("invalid configuration")
		os.Exit(1)
	}
	log = log.SetLevel(cfg.Log.Level)

	a, err := app.Build(context.Background(), cfg, log)
	if err != nil {
		log.WithError(err).Error("failed to build booking saga")
		os.Exit(1)
	}
	defer a.Close()

	r := setupRouter(a)

	// RUN_LOCAL=true serves plain HTTP for development.
	if cfg.Server.RunLocal {
		log.WithField("addr", cfg.Server.Addr).Info("running local server")
		if err := r.Run(cfg.Server.Addr); err != nil {
			log.WithError(err).Error("failed to run local server")
			os.Exit(1)
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
