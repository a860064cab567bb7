package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nidhogg/hivemind/internal/bus"
	"github.com/nidhogg/hivemind/internal/dispatch"
	"github.com/nidhogg/hivemind/internal/worker"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	coordinatorURL := envOr("HIVEMIND_URL", "http://localhost:8080")
	redisURL := envOr("REDIS_URL", "redis://localhost:6379")
	id := envOr("WORKER_ID", "worker-"+uuid.New().String()[:8])
	name := envOr("WORKER_NAME", id)
	capsRaw := os.Getenv("WORKER_CAPABILITIES")
	if capsRaw == "" {
		logger.Fatal("WORKER_CAPABILITIES is required (comma-separated tags)")
	}
	capabilities := splitTrim(capsRaw)
	failRate, _ := strconv.ParseFloat(os.Getenv("WORKER_FAIL_RATE"), 64)

	b, err := bus.NewRedis(redisURL, logger)
	if err != nil {
		logger.Fatal("redis unavailable", zap.Error(err))
	}
	defer b.Close()

	if err := register(coordinatorURL, id, name, capabilities); err != nil {
		logger.Fatal("registration failed", zap.Error(err))
	}
	logger.Info("registered with coordinator",
		zap.String("id", id),
		zap.Strings("capabilities", capabilities))

	handler := worker.EchoHandler
	if failRate > 0 {
		handler = flakyHandler(failRate)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := worker.New(id, name, capabilities, handler, logger)
	assignments := b.Assignments(ctx, id)
	complete := func(ctx context.Context, comp *dispatch.Completion) error {
		return b.PublishCompletion(ctx, comp)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx, assignments, complete)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	if err := unregister(coordinatorURL, id); err != nil {
		logger.Warn("unregister failed", zap.Error(err))
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
}

// register advertises the worker's capabilities to the coordinator.
func register(baseURL, id, name string, capabilities []string) error {
	body, err := json.Marshal(map[string]interface{}{
		"id":           id,
		"name":         name,
		"capabilities": capabilities,
	})
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		resp, err := http.Post(baseURL+"/api/agents", "application/json", bytes.NewReader(body))
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusCreated {
				return nil
			}
			lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
		} else {
			lastErr = err
		}
		time.Sleep(time.Duration(attempt+1) * time.Second)
	}
	return lastErr
}

func unregister(baseURL, id string) error {
	req, err := http.NewRequest(http.MethodDelete, baseURL+"/api/agents/"+id, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// flakyHandler wraps the echo handler with a simulated failure rate, for
// exercising fallback chains in demos.
func flakyHandler(rate float64) worker.Handler {
	return func(ctx context.Context, asg *dispatch.Assignment) (json.RawMessage, error) {
		if rand.Float64() < rate {
			return nil, fmt.Errorf("simulated failure for task %s", asg.TaskID)
		}
		return worker.EchoHandler(ctx, asg)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
