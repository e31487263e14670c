package main

import (
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"advision/internal/api"
)

// stubserver runs a local stand-in for the detection service, useful for
// developing and demoing the client without the real analysis engine.
func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	router := gin.Default()
	api.NewHandler(logger).RegisterRoutes(router)

	addr := os.Getenv("ADVISION_STUB_ADDR")
	if addr == "" {
		addr = ":8000"
	}
	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
