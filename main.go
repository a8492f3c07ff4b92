package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/xeylabs/xbot/internal/adapters"
	openaillm "github.com/xeylabs/xbot/internal/adapters/llm/openai"
	"github.com/xeylabs/xbot/internal/bot"
	"github.com/xeylabs/xbot/internal/config"
	"github.com/xeylabs/xbot/internal/db/sqlite"
	"github.com/xeylabs/xbot/internal/detector"
	"github.com/xeylabs/xbot/internal/gateway"
	"github.com/xeylabs/xbot/internal/handlers"
	"github.com/xeylabs/xbot/internal/infra"
	"github.com/xeylabs/xbot/internal/lifecycle"
	"github.com/xeylabs/xbot/internal/moderation"
	"github.com/xeylabs/xbot/internal/notifier"
	"github.com/xeylabs/xbot/internal/observability"
	"github.com/xeylabs/xbot/internal/verify"
)

func main() {
	cfg := config.Get()
	log.SetFormatter(&config.KVFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.Level(cfg.LogLevel))

	if err := observability.Init(); err != nil {
		log.WithField("error", err.Error()).Fatalln("cant initialize observability")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	botAPI, err := api.NewBotAPI(cfg.TelegramAPIToken)
	if err != nil {
		log.WithField("error", err.Error()).Errorln("cant initialize bot api")
		time.Sleep(1 * time.Second)
		log.Fatalln("exiting")
	}
	if log.Level(cfg.LogLevel) == log.TraceLevel {
		botAPI.Debug = true
	}
	defer botAPI.StopReceivingUpdates()

	dbClient := sqlite.NewSQLiteClient("bot.db")
	defer dbClient.Close()

	gw := gateway.New(botAPI, cfg.Gateway)
	det := detector.New(cfg.SpamControl)
	incidents := notifier.New(infra.GetWorkDir(), gw, dbClient)
	esc := moderation.NewEscalator(gw, det, incidents, cfg.SpamControl)
	verifier := verify.New(gw, incidents, cfg.Verify)
	service := bot.NewService(gw, dbClient, &cfg)

	var llm adapters.LLM
	if cfg.LLM.APIKey != "" {
		llm = openaillm.New(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL)
	} else {
		log.Warnln("no LLM api key, first-message model check disabled")
	}

	bot.RegisterUpdateHandler("admin", handlers.NewAdmin(service, incidents, &cfg))
	bot.RegisterUpdateHandler("antispam", handlers.NewAntiSpam(service, det, esc, llm, &cfg))
	bot.RegisterUpdateHandler("gatekeeper", handlers.NewGatekeeper(service, verifier))

	runtime := lifecycle.NewRuntime()
	runtime.Register("gateway", gw)
	runtime.Register("detector", det)
	runtime.Register("verifier", verifier)
	if err := runtime.Start(ctx); err != nil {
		log.WithField("error", err.Error()).Fatalln("cant start components")
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := runtime.Stop(stopCtx); err != nil {
			log.WithField("error", err.Error()).Errorln("cant stop components")
		}
	}()

	if self, err := gw.Self(ctx); err == nil {
		log.WithField("username", self.UserName).Infoln("authorized")
	} else {
		log.WithField("error", err.Error()).Warnln("cant fetch own identity")
	}

	updateConfig := api.NewUpdate(0)
	updateConfig.Timeout = 60
	updateProcessor := bot.NewUpdateProcessor(service)
	updateChan, errorChan := bot.GetUpdatesChans(ctx, botAPI, updateConfig)

	metricsServer := &http.Server{
		Addr:              cfg.Metrics.ListenAddr,
		Handler:           observability.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-runCtx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	execModified := infra.MonitorExecutable(runCtx)
	g.Go(func() error {
		for {
			select {
			case err := <-errorChan:
				return err
			case update := <-updateChan:
				infra.GoRecoverable(2, "update_processor", func() {
					if err := updateProcessor.Process(runCtx, &update); err != nil {
						log.WithField("error", err.Error()).Errorln("cant process update")
					}
				})
			case <-execModified:
				log.Errorln("executable file was modified, exiting")
				cancel()
			case <-runCtx.Done():
				return runCtx.Err()
			}
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.WithField("error", err.Error()).Errorln("runtime error")
	}
	log.Infoln("bye")
}
