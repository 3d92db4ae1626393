package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"nzt-bot/internal/config"
	"nzt-bot/internal/engine"
	"nzt-bot/internal/keypool"
	"nzt-bot/internal/llm"
	"nzt-bot/internal/memory"
	"nzt-bot/internal/scheduler"
	"nzt-bot/internal/storage"
	"nzt-bot/internal/telegram"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg := config.New()

	pool, err := keypool.New(cfg.APIKeys)
	if err != nil {
		log.Fatalf("no API credentials configured: %v", err)
	}

	store, err := memory.NewStore(cfg.MemoryFilePath, cfg.MaxHistory, cfg.FlushInterval)
	if err != nil {
		log.Fatalf("failed to init conversation store: %v", err)
	}

	systemPrompt := readSystemPrompt(cfg.SystemPromptPath)
	factory := llm.NewFactory(cfg, systemPrompt)

	eng := engine.New(pool, store, factory.CreateClient, engine.Config{
		CallTimeout:  cfg.CallTimeout,
		ShortBackoff: cfg.ShortBackoff,
		LongBackoff:  cfg.LongBackoff,
		MaxHistory:   cfg.MaxHistory,
		AbsenceGap:   cfg.AbsenceGap,
	})

	var rec storage.Recorder
	if cfg.LogFilePath != "" {
		fr, err := storage.NewFileRecorder(cfg.LogFilePath)
		if err != nil {
			log.Printf("failed to init file recorder: %v", err)
		} else {
			rec = fr
		}
	}

	bot, err := telegram.New(cfg.TelegramBotToken, eng, rec, cfg.MessageParseMode, cfg.PrivateChannelID)
	if err != nil {
		log.Fatalf("failed to create bot: %v", err)
	}

	startKeepAliveServer(cfg.Port)

	sched := scheduler.New()
	sched.SetPingURL(pingURL(cfg))
	sched.SetReportFunction(bot.DailyReport)
	sched.SetPruneFunction(func() int { return store.PruneStale(cfg.StaleRetention) })
	if err := sched.Start(); err != nil {
		log.Printf("failed to start scheduler: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("bot starting, provider=%s model=%s keys=%d", cfg.LLMProvider, cfg.Model, pool.Size())
	bot.Start(ctx)

	sched.Stop()
	store.Close()
	log.Println("shutdown complete")
}

// startKeepAliveServer answers hosting health probes; the scheduler
// pings it to keep the free-tier instance from idling out.
func startKeepAliveServer(port string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "NZT core online")
	})
	go func() {
		if err := http.ListenAndServe(":"+port, mux); err != nil {
			log.Printf("keep-alive server stopped: %v", err)
		}
	}()
}

func pingURL(cfg *config.Config) string {
	host := cfg.ExternalHostname
	if host == "" {
		host = "localhost:" + cfg.Port
		return "http://" + host + "/"
	}
	return "https://" + host + "/"
}

func readSystemPrompt(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("system prompt file not found or unreadable at %s: %v", path, err)
		return ""
	}
	return string(data)
}
