// probe is a manual smoke test for the Affinity SDK: it sends a click
// event over the realtime channel, runs one Recommend and one Predict
// call, prints the results and then idles until interrupted so channel
// keepalive and reconnection can be observed.
//
// Usage: go run ./cmd/probe --config configs/probe.example.yaml
//
// The config file supports ${VAR} expansion; AFFINITY_API_KEY is
// typically supplied through the environment or a .env file.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	affinity "github.com/affinityml/affinity-go"
	"github.com/affinityml/affinity-go/internal/version"
)

// probeConfig is the YAML layout of the probe's config file.
type probeConfig struct {
	Affinity struct {
		APIKey      string `yaml:"api_key"`
		Environment string `yaml:"environment"`
	} `yaml:"affinity"`

	Probe struct {
		UserID    string `yaml:"user_id"`
		ProductID int64  `yaml:"product_id"`
		ModelID   string `yaml:"model_id"`
		Limit     int    `yaml:"limit"`
	} `yaml:"probe"`
}

// loadConfig reads a YAML config file and expands environment variables.
func loadConfig(path string) (*probeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg probeConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Probe.UserID == "" {
		return nil, errors.New("probe.user_id is required")
	}
	if cfg.Probe.ModelID == "" {
		return nil, errors.New("probe.model_id is required")
	}
	if cfg.Probe.Limit < 1 {
		cfg.Probe.Limit = 5
	}

	return &cfg, nil
}

func main() {
	configPath := flag.String("config", "configs/probe.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "enable debug logging and full response JSON")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	// Load .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to load .env file", "error", err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("affinity probe", "version", version.String(), "environment", cfg.Affinity.Environment)

	client, err := affinity.New(affinity.Config{
		APIKey:      cfg.Affinity.APIKey,
		Environment: affinity.Environment(cfg.Affinity.Environment),
		OnError: func(err error) {
			logger.Warn("channel notification", "error", err)
		},
	}, affinity.WithLogger(logger))
	if err != nil {
		logger.Error("failed to build client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	// Fire-and-forget: a failure here is invisible apart from the logs.
	client.Collect(ctx, affinity.CollectionEvent{
		Type:      affinity.EventClick,
		Data:      map[string]interface{}{"source": "probe"},
		ProductID: cfg.Probe.ProductID,
		UserID:    cfg.Probe.UserID,
	})
	logger.Info("click event dispatched", "state", client.State())

	recs, err := client.Recommend(ctx, affinity.RecommendationRequest{
		ModelID: cfg.Probe.ModelID,
		UserID:  cfg.Probe.UserID,
		Limit:   cfg.Probe.Limit,
	})
	if err != nil {
		logger.Error("recommend failed", "error", err)
	} else {
		printEnvelope("RECOMMEND", recs.Status, recs.Message, recs.Data, *verbose)
	}

	preds, err := client.Predict(ctx, affinity.PredictionRequest{
		ModelID: cfg.Probe.ModelID,
		Data:    map[string]interface{}{"userId": cfg.Probe.UserID},
		Limit:   cfg.Probe.Limit,
	})
	if err != nil {
		logger.Error("predict failed", "error", err)
	} else {
		printEnvelope("PREDICT", preds.Status, preds.Message, preds.Data, *verbose)
	}

	logger.Info("probe idle, channel stays open - press Ctrl+C to stop")
	<-ctx.Done()

	logger.Info("shutting down")
}

func printEnvelope(label string, status bool, message string, data interface{}, verbose bool) {
	if verbose {
		out, _ := json.MarshalIndent(data, "", "  ")
		fmt.Printf("[%s] status=%t message=%q\n%s\n", label, status, message, out)
		return
	}
	fmt.Printf("[%s] status=%t message=%q results=%d\n", label, status, message, resultCount(data))
}

func resultCount(data interface{}) int {
	switch v := data.(type) {
	case []affinity.Recommendation:
		return len(v)
	case []affinity.Prediction:
		return len(v)
	default:
		return 0
	}
}
