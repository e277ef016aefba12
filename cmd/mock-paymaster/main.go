package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/lifenetwork-ai/permissionless-go/internal/mockpaymaster"
	"github.com/spf13/viper"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Error("Failed to load .env file", "err", err)
		os.Exit(1)
	}

	v := viper.New()
	v.AutomaticEnv()
	mockpaymaster.SetDefaults(v)

	cfg, err := mockpaymaster.LoadConfig(v)
	if err != nil {
		logger.Error("Failed to load config", "err", err)
		os.Exit(1)
	}
	if v.GetBool("DEBUG") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := mockpaymaster.NewRouter(mockpaymaster.NewHandler(cfg, logger))
	logger.Info("Mock paymaster listening",
		"addr", cfg.ListenAddr,
		"chainId", cfg.ChainId,
		"paymaster", cfg.Paymaster,
		"signer", crypto.PubkeyToAddress(cfg.Signer.PublicKey),
		"tokens", len(cfg.TokenQuotes),
	)
	if err := http.ListenAndServe(cfg.ListenAddr, router); err != nil {
		logger.Error("Server stopped", "err", err)
		os.Exit(1)
	}
}
