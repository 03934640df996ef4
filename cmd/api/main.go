package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"geoportal/api/internal/app"
	"geoportal/api/internal/archive"
	"geoportal/api/internal/config"
	"geoportal/api/internal/content"
	"geoportal/api/internal/email"
	"geoportal/api/internal/session"
	"geoportal/api/internal/userstore"
)

func main() {
	_ = godotenv.Load()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	cfg := config.Load()

	dataStore, usersStore, err := buildContentStores(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("content store setup failed")
	}

	var sessions session.Store
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		log.Info().Msg("using Redis for session storage")
		sessions = redisStore
	} else {
		log.Info().Msg("using in-memory session storage")
		sessions = session.NewMemoryStore()
	}
	defer sessions.Close()

	var arch archive.Store = archive.Noop{}
	if strings.TrimSpace(cfg.ArchiveEndpoint) != "" {
		minioStore, err := archive.NewMinioStore(
			cfg.ArchiveEndpoint, cfg.ArchiveAccessKey, cfg.ArchiveSecretKey,
			cfg.ArchiveBucket, cfg.ArchiveUseSSL,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("archive setup failed")
		}
		log.Info().Str("bucket", cfg.ArchiveBucket).Msg("snapshot archive enabled")
		arch = minioStore
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mailer.IsConfigured() {
		log.Warn().Msg("SMTP not configured, reset codes are returned in-band")
	}

	users := userstore.New(usersStore, cfg.UsersPath)
	service := app.NewService(cfg, users, dataStore, sessions, mailer, arch, log.Logger)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, log.Logger)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("geoportal API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}

// buildContentStores picks GitHub-backed storage when repos are configured
// and falls back to a local git repository otherwise. Users may live in a
// separate repository from the validation data.
func buildContentStores(cfg config.Config) (dataStore, usersStore content.Store, err error) {
	useGitHub := strings.TrimSpace(cfg.GitHubToken) != "" && strings.TrimSpace(cfg.RepoData) != ""
	if !useGitHub {
		local, err := content.NewLocalStore(cfg.LocalStoreDir)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("dir", cfg.LocalStoreDir).Msg("using local content store")
		return local, local, nil
	}

	dataStore = content.NewGitHubStore(cfg.GitHubAPIBase, cfg.RepoData, cfg.GitHubBranch, cfg.GitHubToken)
	usersStore = dataStore
	if strings.TrimSpace(cfg.RepoUsers) != "" && cfg.RepoUsers != cfg.RepoData {
		usersStore = content.NewGitHubStore(cfg.GitHubAPIBase, cfg.RepoUsers, cfg.GitHubBranch, cfg.GitHubToken)
	}
	log.Info().Str("repo", cfg.RepoData).Msg("using GitHub content store")
	return dataStore, usersStore, nil
}
