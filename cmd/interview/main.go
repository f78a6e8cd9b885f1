package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/mianshi/adapters/ffmpeg"
	"github.com/satriahrh/mianshi/adapters/llm"
	"github.com/satriahrh/mianshi/adapters/mongo"
	"github.com/satriahrh/mianshi/domain/entities"
	"github.com/satriahrh/mianshi/domain/repositories"
	"github.com/satriahrh/mianshi/internal/audio"
	"github.com/satriahrh/mianshi/internal/config"
	"github.com/satriahrh/mianshi/internal/handoff"
	"github.com/satriahrh/mianshi/internal/interview"
	"github.com/satriahrh/mianshi/usecase"
)

func main() {
	settingsPath := flag.String("settings", "interview.yaml", "interview settings file")
	relayURL := flag.String("relay", "", "relay websocket url (overrides RELAY_URL)")
	flag.Parse()

	bootstrap, _ := zap.NewProduction()
	config.LoadDotEnv(bootstrap, ".env.local", ".env")

	cfg := config.ClientConfigFromEnv()
	if *relayURL != "" {
		cfg.RelayURL = *relayURL
	}

	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		bootstrap.Fatal("Failed to create logger", zap.Error(err))
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid client configuration", zap.Error(err))
	}

	settings, err := config.LoadSettings(*settingsPath)
	if err != nil {
		logger.Fatal("Failed to load interview settings", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reports, closeStore := newReportService(ctx, cfg, logger)
	defer closeStore()

	var codec *handoff.Codec
	if cfg.HandoffSecret != "" {
		codec, err = handoff.NewCodec(cfg.HandoffSecret, handoff.DefaultTTL)
		if err != nil {
			logger.Fatal("Failed to create handoff codec", zap.Error(err))
		}
	}

	capture := audio.NewRecorder(ffmpeg.NewMicrophone(logger), logger)
	newPlayback := func() (interview.Playback, error) {
		speaker, err := ffmpeg.NewSpeaker(audio.SampleRate, logger)
		if err != nil {
			return nil, err
		}
		return audio.NewPlayer(speaker, logger), nil
	}

	onHandoff := func(ctx context.Context, p handoff.Payload) error {
		return handOff(ctx, p, codec, cfg.ResultPageURL, reports)
	}

	controller := interview.NewController(
		interview.RealtimeDialer(cfg.RelayURL, logger),
		capture,
		newPlayback,
		onHandoff,
		logger,
	)
	controller.OnChange = newPrinter().print

	go readCommands(controller)

	if err := controller.Start(settings); err != nil {
		logger.Fatal("Failed to start interview", zap.Error(err))
	}

	fmt.Printf("面试开始：%s，时长 %d 分钟。按回车开始/结束回答，输入 q 结束面试。\n", settings.Position, settings.Duration)

	if err := controller.Run(ctx); err != nil {
		logger.Error("Interview stopped", zap.Error(err))
	}
	if msg := controller.State().Error; msg != "" {
		fmt.Println("错误：" + msg)
	}
}

func newReportService(ctx context.Context, cfg config.ClientConfig, logger *zap.Logger) (*usecase.ReportService, func()) {
	if cfg.GeminiAPIKey == "" {
		logger.Info("GEMINI_API_KEY not set, reports disabled")
		return nil, func() {}
	}

	model, err := llm.NewGeminiLLM(ctx, llm.GeminiConfig{
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.GeminiModel,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create Gemini client", zap.Error(err))
	}

	var results repositories.ResultRepository
	closeStore := func() {}
	if cfg.MongoURI != "" {
		client, err := mongo.NewClient(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		results = mongo.NewResultRepository(client.Database, logger)
		closeStore = func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			client.Close(ctx)
		}
	}

	return usecase.NewReportService(model, results, logger), closeStore
}

func handOff(ctx context.Context, p handoff.Payload, codec *handoff.Codec, resultPage string, reports *usecase.ReportService) error {
	if codec != nil && resultPage != "" {
		token, err := codec.Encode(p)
		if err != nil {
			return err
		}
		link, err := handoff.ResultURL(resultPage, token)
		if err != nil {
			return err
		}
		fmt.Println("面试结果：" + link)
	}

	if reports == nil {
		return nil
	}

	result, err := reports.Finalize(ctx, p.Messages, p.Settings)
	if err != nil {
		return err
	}
	printReport(result)
	return nil
}

func readCommands(controller *interview.Controller) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch strings.TrimSpace(scanner.Text()) {
		case "q", "quit":
			controller.End()
			return
		default:
			if controller.State().Recording {
				controller.EndAnswer()
			} else {
				controller.BeginAnswer()
			}
		}
	}
}

type printer struct {
	printed   map[string]bool
	lastError string
	recording bool
	remaining int
}

func newPrinter() *printer {
	return &printer{printed: make(map[string]bool)}
}

func (p *printer) print(s interview.State) {
	for _, m := range s.Messages {
		if p.printed[m.ID] || m.IsPlaceholder() {
			continue
		}
		p.printed[m.ID] = true
		label := "候选人"
		if m.Role == entities.MessageRoleAssistant {
			label = "面试官"
		}
		fmt.Printf("%s：%s\n", label, m.Content)
	}

	if s.Phase == interview.PhaseActive && s.RemainingSeconds != p.remaining {
		p.remaining = s.RemainingSeconds
		if s.RemainingSeconds%60 == 0 || s.RemainingSeconds <= 10 {
			fmt.Printf("⏱ %s\n", interview.FormatCountdown(s.RemainingSeconds))
		}
	}
	if s.Recording != p.recording {
		p.recording = s.Recording
		if s.Recording {
			fmt.Println("🎙 正在录音…")
		}
	}
	if s.Error != "" && s.Error != p.lastError {
		fmt.Println("⚠ " + s.Error)
	}
	p.lastError = s.Error
}

func printReport(result *entities.InterviewResult) {
	r := result.Report
	if r == nil {
		return
	}
	fmt.Printf("\n总分：%d\n", r.TotalScore)
	for _, d := range r.Dimensions {
		fmt.Printf("  %s：%d  %s\n", d.Name, d.Score, d.Comment)
	}
	for _, h := range r.Highlights {
		fmt.Println("  ✨ " + h)
	}
	for _, s := range r.Suggestions {
		fmt.Println("  " + s)
	}
	if r.OverallComment != "" {
		fmt.Println(r.OverallComment)
	}
	if !result.ID.IsZero() {
		fmt.Println("记录编号：" + result.ID.Hex())
	}
}
