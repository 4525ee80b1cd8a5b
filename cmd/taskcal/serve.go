package main

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"taskcal/internal/apperr"
	"taskcal/internal/config"
	"taskcal/internal/conversation"
	"taskcal/internal/dispatch"
	"taskcal/internal/extract"
	"taskcal/internal/ics"
	applog "taskcal/internal/log"
	"taskcal/internal/metrics"
	"taskcal/internal/session"
	"taskcal/internal/telegram"
	"taskcal/internal/web"
)

func runServe(ctx context.Context, flags rootFlags) error {
	cfg, err := config.Load(flags.configPath, flags.envFile)
	if err != nil {
		return apperr.Wrap(apperr.KindFatalConfig, "load config", err)
	}
	if flags.listen != "" {
		cfg.Listen = flags.listen
	}
	applog.SetLevel(applog.ParseLevel(cfg.LogLevel))
	applog.SetJSON(cfg.LogFormat == "json")
	if err := cfg.Validate(); err != nil {
		return err
	}

	applog.Info("taskcal starting",
		"version", version,
		"listen", cfg.Listen,
		"primary_model", cfg.LLM.PrimaryModel,
		"fallback_model", cfg.LLM.FallbackModel,
		"max_prompt_tokens", cfg.LLM.MaxPromptTokens,
		"session_max_live", cfg.Session.MaxLive,
		"session_max_age", cfg.Session.MaxAge,
		"holiday_feeds", len(cfg.Holidays.Feeds),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	store := session.NewStore(session.Options{
		MaxLive: cfg.Session.MaxLive,
		MaxAge:  cfg.Session.MaxAge,
		Metrics: m,
	})

	feeds := ics.NewFeedSet(ics.NewFetcher(cfg.Holidays.CacheDir, nil), cfg.Holidays.Feeds, cfg.Holidays.HorizonDays)
	if err := feeds.Refresh(ctx); err != nil {
		applog.Error("initial holiday refresh failed; continuing without feed holidays", err)
	}

	chain, err := providerChain(cfg.LLM)
	if err != nil {
		return apperr.Wrap(apperr.KindFatalConfig, "configure models", err)
	}
	machine := conversation.New(conversation.Options{
		Store:     store,
		Extractor: extract.New(chain, extract.NewTokenCounter(), m),
		Feeds:     feeds,
		Exporter:  ics.NewExporter(),
		Budget:    cfg.LLM.MaxPromptTokens,
		MaxRounds: cfg.Session.MaxRounds,
		Metrics:   m,
	})

	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return fmt.Errorf("connect to telegram: %w", err)
	}
	applog.Info("telegram authorized", "bot", api.Self.UserName)

	bot, err := telegram.New(api, machine, telegram.Options{
		Dispatcher: dispatch.New(ctx, cfg.Session.Workers),
		Metrics:    m,
	})
	if err != nil {
		return err
	}

	scheduler, err := startJobs(ctx, cfg, feeds, store)
	if err != nil {
		return apperr.Wrap(apperr.KindFatalConfig, "schedule jobs", err)
	}
	defer stopJobs(scheduler)

	srv := web.NewServer(web.Options{
		BasicAuth: cfg.BasicAuth,
		Sessions:  store,
		Feeds:     feeds,
		Gatherer:  reg,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Run(gctx) })
	g.Go(func() error { return srv.Serve(gctx, cfg.Listen) })
	err = g.Wait()
	applog.Info("taskcal exiting")
	return err
}

// providerChain builds the primary and optional fallback models sharing one
// retry policy.
func providerChain(cfg config.LLMConfig) (*extract.Chain, error) {
	models := []string{cfg.PrimaryModel}
	if cfg.FallbackModel != "" && cfg.FallbackModel != cfg.PrimaryModel {
		models = append(models, cfg.FallbackModel)
	}
	chain := &extract.Chain{Policy: extract.Policy{
		Attempts: uint64(cfg.Attempts),
		Base:     time.Second,
		Max:      30 * time.Second,
	}}
	for _, name := range models {
		p, err := extract.NewOpenAI(extract.ProviderConfig{
			Model:       name,
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		chain.Providers = append(chain.Providers, p)
	}
	return chain, nil
}
