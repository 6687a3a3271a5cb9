package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	Port string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Auth (single user)
	AdminUsername    string
	AdminPassword    string // plaintext in env, hashed at startup
	AdminDisplayName string
	AdminRole        string
	JWTSecret        string

	// Credential Encryption
	SSHEncryptionKey string // 32-byte hex for AES-256-GCM

	// Security policy
	SecurityMode     string // blacklist, whitelist, disabled
	CommandBlacklist string // semicolon/newline delimited regex patterns
	CommandWhitelist string
	CaseSensitive    bool

	// SSH pooling
	PoolSize         int
	ReuseConnections bool

	// Timeouts
	ConnectTimeout  time.Duration
	CommandTimeout  time.Duration
	ReadTimeout     time.Duration
	TransferTimeout time.Duration

	// Background output
	MaxOutputSize int
	ChunkSize     int
	QuickWaitTime time.Duration
}

func Load() *Config {
	return &Config{
		Port:             getEnv("PORT", "8098"),
		DBHost:           getEnv("DB_HOST", "localhost"),
		DBPort:           getEnv("DB_PORT", "5432"),
		DBUser:           getEnv("DB_USER", "postgres"),
		DBPassword:       getEnv("DB_PASSWORD", ""),
		DBName:           getEnv("DB_NAME", "ferryman_db"),
		DBSSLMode:        getEnv("DB_SSLMODE", "disable"),
		AdminUsername:    getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:    getEnv("ADMIN_PASSWORD", ""),
		AdminDisplayName: getEnv("ADMIN_DISPLAY_NAME", "Admin"),
		AdminRole:        getEnv("ADMIN_ROLE", "admin"),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		SSHEncryptionKey: getEnv("SSH_ENCRYPTION_KEY", ""),
		SecurityMode:     getEnv("SECURITY_MODE", "blacklist"),
		CommandBlacklist: getEnv("COMMAND_BLACKLIST", ""),
		CommandWhitelist: getEnv("COMMAND_WHITELIST", ""),
		CaseSensitive:    getEnvBool("SECURITY_CASE_SENSITIVE", false),
		PoolSize:         getEnvInt("SSH_POOL_SIZE", 5),
		ReuseConnections: getEnvBool("SSH_REUSE_CONNECTIONS", true),
		ConnectTimeout:   getEnvSeconds("SSH_CONNECT_TIMEOUT", 30),
		CommandTimeout:   getEnvSeconds("COMMAND_TIMEOUT", 60),
		ReadTimeout:      getEnvSeconds("READ_TIMEOUT", 30),
		TransferTimeout:  getEnvSeconds("TRANSFER_TIMEOUT", 300),
		MaxOutputSize:    getEnvInt("MAX_OUTPUT_SIZE", 50000),
		ChunkSize:        getEnvInt("CHUNK_SIZE", 10000),
		QuickWaitTime:    getEnvSeconds("QUICK_WAIT_TIME", 5),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Second
}
