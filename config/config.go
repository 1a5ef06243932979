package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
// Values come from the environment (optionally via a .env file) with simple defaults.
type Config struct {
	Port        string
	AllowOrigin string
	JWTSecret   string

	StorageDir string // Base directory for all durable artifacts
	AudioDir   string // Rendered audio files: StorageDir/audio/<userID>/
	DBPath     string // SQLite database file: StorageDir/texttune.db
	WebAppDir  string // Static UI files, served as router fallback when present

	// 生成任务参数限制
	DefaultDurationSeconds float64
	MaxDurationSeconds     float64
	RenderTimeoutSeconds   int // 0 表示不限制渲染时长
	RenderConcurrency      int // 渲染槽位数量，单推理后端固定为1

	// Hugging Face 渲染后端配置
	HFSpaceID           string
	HFModelID           string
	HFAPIToken          string
	HFInferenceEndpoint string

	// 提示词翻译（失败时透传原文）
	TranslateEndpoint   string
	TranslateAPIKey     string
	TranslateSourceLang string
	TranslateTargetLang string

	PolicyDenylistPath string // Optional newline-separated denylist, hot reloaded
	AllowDevLogin      bool   // Enables the email-only dev login endpoint

	// Redis配置（进度缓存，可选）
	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO配置（音频归档，可选，Endpoint为空时关闭）
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	LogLevel string
	LogPath  string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvFloat gets an environment variable as float64 or returns a default value.
func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	storageDir := getEnv("STORAGE_DIR", "storage")

	return &Config{
		Port:        getEnv("PORT", "4000"),
		AllowOrigin: getEnv("ALLOW_ORIGIN", "*"),
		JWTSecret:   getEnv("JWT_SECRET", "dev-secret-change-me"),

		StorageDir: storageDir,
		AudioDir:   filepath.Join(storageDir, "audio"),
		DBPath:     getEnv("DB_PATH", filepath.Join(storageDir, "texttune.db")),
		WebAppDir:  getEnv("WEB_APP_DIR", filepath.Join("web", "ui")),

		DefaultDurationSeconds: getEnvFloat("DEFAULT_DURATION_SECONDS", 30),
		MaxDurationSeconds:     getEnvFloat("MAX_DURATION_SECONDS", 30),
		RenderTimeoutSeconds:   getEnvInt("RENDER_TIMEOUT_SECONDS", 600),
		RenderConcurrency:      getEnvInt("RENDER_CONCURRENCY", 1),

		HFSpaceID:           getEnv("HF_SPACE_ID", ""),
		HFModelID:           getEnv("HF_MODEL_ID", "stabilityai/stable-audio-open-1.0"),
		HFAPIToken:          os.Getenv("HF_API_TOKEN"), // 密钥不设默认值
		HFInferenceEndpoint: getEnv("HF_INFERENCE_ENDPOINT", ""),

		TranslateEndpoint:   getEnv("TRANSLATE_ENDPOINT", "https://translation.googleapis.com/language/translate/v2"),
		TranslateAPIKey:     os.Getenv("TRANSLATE_API_KEY"),
		TranslateSourceLang: getEnv("TRANSLATE_SOURCE_LANG", "ko"),
		TranslateTargetLang: getEnv("TRANSLATE_TARGET_LANG", "en"),

		PolicyDenylistPath: getEnv("POLICY_DENYLIST_PATH", ""),
		AllowDevLogin:      getEnvBool("ALLOW_DEV_LOGIN", false),

		RedisEnabled:  getEnvBool("REDIS_ENABLED", false),
		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "texttune"),
		MinioRegion:    getEnv("MINIO_REGION", ""),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogPath:  getEnv("LOG_PATH", ""),
	}
}
