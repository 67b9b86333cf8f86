package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"huddle.org/internal/auth"
	"huddle.org/internal/challenge"
	"huddle.org/internal/httpapi"
	"huddle.org/internal/mail"
	"huddle.org/internal/obs"
	"huddle.org/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

type config struct {
	Addr              string        `env:"HUDDLE_ADDR" envDefault:":8080"`
	PGDSN             string        `env:"HUDDLE_PG_DSN,required"`
	RedisAddr         string        `env:"HUDDLE_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB           int           `env:"HUDDLE_REDIS_DB" envDefault:"0"`
	JWTSecret         string        `env:"HUDDLE_JWT_SECRET,required"`
	TokenIssuer       string        `env:"HUDDLE_TOKEN_ISSUER" envDefault:"huddle"`
	AccessTTL         time.Duration `env:"HUDDLE_ACCESS_TTL" envDefault:"30m"`
	RefreshTTL        time.Duration `env:"HUDDLE_REFRESH_TTL" envDefault:"168h"`
	ConsumeChallenges bool          `env:"HUDDLE_CONSUME_CHALLENGES" envDefault:"false"`
	SMTPHost          string        `env:"HUDDLE_SMTP_HOST"`
	SMTPPort          int           `env:"HUDDLE_SMTP_PORT" envDefault:"587"`
	SMTPUser          string        `env:"HUDDLE_SMTP_USER"`
	SMTPPass          string        `env:"HUDDLE_SMTP_PASS"`
	MailFrom          string        `env:"HUDDLE_MAIL_FROM"`
	MailFromName      string        `env:"HUDDLE_MAIL_FROM_NAME" envDefault:"Huddle"`
	RateBurst         int           `env:"HUDDLE_RATE_BURST" envDefault:"20"`
	RatePerSecond     int           `env:"HUDDLE_RATE_PER_SECOND" envDefault:"10"`
}

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("parse config: %v", err)
	}

	db, err := sql.Open("pgx", cfg.PGDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})

	var sender mail.Sender
	if cfg.SMTPHost != "" {
		sender = mail.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.MailFrom, cfg.MailFromName)
	} else {
		log.Println("no SMTP host configured, logging outbound mail instead")
		sender = &mail.LogSender{Logger: obs.Logger()}
	}

	issuer, err := auth.NewIssuer([]byte(cfg.JWTSecret),
		auth.WithIssuerName(cfg.TokenIssuer),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}

	challenges := challenge.NewStore(rdb, challenge.WithConsumeOnSuccess(cfg.ConsumeChallenges))
	store := pg.New(db)

	svc, err := auth.NewService(store, challenges, issuer, sender)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 10*time.Second)
	if err := svc.EnsureBuiltins(startupCtx); err != nil {
		log.Fatalf("ensure builtin permissions: %v", err)
	}
	cancelStartup()

	api := httpapi.New(svc, auth.NewGuard(issuer), httpapi.ReadyProbe{DB: db, Redis: rdb}, version)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.RateLimit(api.Handler(), cfg.RateBurst, cfg.RatePerSecond),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting huddle-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = rdb.Close()
	_ = db.Close()
	log.Println("Stopped")
}
