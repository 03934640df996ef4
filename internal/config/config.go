package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr       string
	JWTSecret  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	CORSOrigin string
	// GitHub content store
	GitHubToken   string
	GitHubAPIBase string
	RepoUsers     string
	RepoData      string
	GitHubBranch  string
	UsersPath     string
	DataRoot      string
	// Local content store (used when no GitHub repo is configured)
	LocalStoreDir string
	// SMTP Configuration
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	// Redis Configuration
	RedisURL string
	// Archive (S3/MinIO) Configuration - disabled when endpoint empty
	ArchiveEndpoint  string
	ArchiveBucket    string
	ArchiveAccessKey string
	ArchiveSecretKey string
	ArchiveUseSSL    bool
	// Report assets
	AssetBaseURL string
}

func Load() Config {
	return Config{
		Addr:       getenv("API_ADDR", ":8787"),
		JWTSecret:  getenv("GEOPORTAL_JWT_SECRET", "geoportal-dev-secret"),
		AccessTTL:  time.Duration(getenvInt("GEOPORTAL_ACCESS_TTL_SECONDS", 900)) * time.Second,
		RefreshTTL: time.Duration(getenvInt("GEOPORTAL_REFRESH_TTL_SECONDS", 2592000)) * time.Second,
		CORSOrigin: getenv("GEOPORTAL_CORS_ORIGIN", "*"),

		GitHubToken:   getenv("GITHUB_TOKEN", ""),
		GitHubAPIBase: getenv("GITHUB_API_BASE", "https://api.github.com"),
		RepoUsers:     getenv("REPO_USERS", ""),
		RepoData:      getenv("REPO_DATA", ""),
		GitHubBranch:  getenv("GITHUB_BRANCH", "main"),
		UsersPath:     getenv("USERS_PATH", "users.json"),
		DataRoot:      getenv("GH_DATA_ROOT", "data/validado"),

		LocalStoreDir: getenv("GEOPORTAL_LOCAL_STORE_DIR", "./data/store"),

		// SMTP - empty by default, email disabled if not configured
		SMTPHost:     getenv("SMTP_HOST", ""),
		SMTPPort:     getenv("SMTP_PORT", "587"),
		SMTPUsername: getenv("SMTP_USERNAME", ""),
		SMTPPassword: getenv("SMTP_PASSWORD", ""),
		SMTPFrom:     getenv("SMTP_FROM", ""),
		SMTPFromName: getenv("SMTP_FROM_NAME", "Geoportal"),

		// Redis - optional, refresh tokens fall back to in-memory storage
		RedisURL: getenv("REDIS_URL", ""),

		ArchiveEndpoint:  getenv("ARCHIVE_ENDPOINT", ""),
		ArchiveBucket:    getenv("ARCHIVE_BUCKET", "geoportal-archive"),
		ArchiveAccessKey: getenv("ARCHIVE_ACCESS_KEY", ""),
		ArchiveSecretKey: getenv("ARCHIVE_SECRET_KEY", ""),
		ArchiveUseSSL:    getenvBool("ARCHIVE_USE_SSL", true),

		AssetBaseURL: getenv("ASSET_BASE_URL", "https://raw.githubusercontent.com/dapsat100-star/geoportal/main"),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
