package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server      ServerConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Gateway     GatewayConfig
	RateLimit   RateLimitConfig
	Storage     StorageConfig
	Ingest      IngestConfig
	Queue       QueueConfig
	Worker      WorkerConfig
	Embedding   EmbeddingConfig
	VectorStore VectorStoreConfig
	LLM         LLMConfig
	Speech      SpeechConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
	LogFile  string
}

// RedisConfig holds the connection for tracker/pubsub (DB) and the work
// queue (QueueDB).
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	QueueDB  int
}

type JWTConfig struct {
	Secret string
}

type GatewayConfig struct {
	Enabled bool
}

type RateLimitConfig struct {
	UploadPerHour int
	ChatPerMin    int
}

type StorageConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UploadBucket    string
	AudioBucket     string
	UsePathStyle    bool
	PresignExpiry   time.Duration
}

type IngestConfig struct {
	ChunkSize         int
	ChunkOverlap      int
	EmbedBatchSize    int
	MaxFiles          int
	MaxFileSize       int64
	StagingDir        string
	UploadConcurrency int
	BatchTTL          time.Duration
	CleanupDelay      time.Duration
	StatusResync      time.Duration
}

type QueueConfig struct {
	Concurrency int
	MaxRetry    int
	RetryDelays []time.Duration
	Retention   time.Duration
}

type WorkerConfig struct {
	Embedded bool
}

type EmbeddingConfig struct {
	OllamaURL string
	Model     string
}

type VectorStoreConfig struct {
	QdrantURL  string
	APIKey     string
	Collection string
}

type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type SpeechConfig struct {
	APIKey   string
	BaseURL  string
	VoiceID  string
	STTModel string
	TTSModel string
}

func Load() (*Config, error) {
	// .env is optional; real environment wins
	_ = godotenv.Load()

	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("STORAGE_ACCESS_KEY_ID")
	readSecret("STORAGE_SECRET_ACCESS_KEY")
	readSecret("QDRANT_API_KEY")
	readSecret("LLM_API_KEY")
	readSecret("SPEECH_API_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()

	bindEnv(v)
	setDefaults(v)

	_ = v.ReadInConfig()

	return fromViper(v), nil
}

func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.log_file", "LOG_FILE")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("redis.queue_db", "REDIS_QUEUE_DB")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("gateway.enabled", "GATEWAY_ENABLED")
	_ = v.BindEnv("ratelimit.upload_per_hour", "RATELIMIT_UPLOAD_PER_HOUR")
	_ = v.BindEnv("ratelimit.chat_per_min", "RATELIMIT_CHAT_PER_MIN")
	_ = v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	_ = v.BindEnv("storage.region", "STORAGE_REGION")
	_ = v.BindEnv("storage.access_key_id", "STORAGE_ACCESS_KEY_ID")
	_ = v.BindEnv("storage.secret_access_key", "STORAGE_SECRET_ACCESS_KEY")
	_ = v.BindEnv("storage.upload_bucket", "STORAGE_UPLOAD_BUCKET")
	_ = v.BindEnv("storage.audio_bucket", "STORAGE_AUDIO_BUCKET")
	_ = v.BindEnv("storage.use_path_style", "STORAGE_USE_PATH_STYLE")
	_ = v.BindEnv("storage.presign_expiry", "STORAGE_PRESIGN_EXPIRY")
	_ = v.BindEnv("ingest.chunk_size", "INGEST_CHUNK_SIZE")
	_ = v.BindEnv("ingest.chunk_overlap", "INGEST_CHUNK_OVERLAP")
	_ = v.BindEnv("ingest.embed_batch_size", "INGEST_EMBED_BATCH_SIZE")
	_ = v.BindEnv("ingest.max_files", "INGEST_MAX_FILES")
	_ = v.BindEnv("ingest.max_file_size", "INGEST_MAX_FILE_SIZE")
	_ = v.BindEnv("ingest.staging_dir", "INGEST_STAGING_DIR")
	_ = v.BindEnv("ingest.upload_concurrency", "INGEST_UPLOAD_CONCURRENCY")
	_ = v.BindEnv("ingest.batch_ttl", "INGEST_BATCH_TTL")
	_ = v.BindEnv("ingest.cleanup_delay", "INGEST_CLEANUP_DELAY")
	_ = v.BindEnv("ingest.status_resync", "INGEST_STATUS_RESYNC")
	_ = v.BindEnv("queue.concurrency", "QUEUE_CONCURRENCY")
	_ = v.BindEnv("queue.max_retry", "QUEUE_MAX_RETRY")
	_ = v.BindEnv("queue.retry_delays", "QUEUE_RETRY_DELAYS")
	_ = v.BindEnv("queue.retention", "QUEUE_RETENTION")
	_ = v.BindEnv("worker.embedded", "WORKER_EMBEDDED")
	_ = v.BindEnv("embedding.ollama_url", "OLLAMA_URL")
	_ = v.BindEnv("embedding.model", "EMBEDDING_MODEL")
	_ = v.BindEnv("vectorstore.qdrant_url", "QDRANT_URL")
	_ = v.BindEnv("vectorstore.api_key", "QDRANT_API_KEY")
	_ = v.BindEnv("vectorstore.collection", "QDRANT_COLLECTION")
	_ = v.BindEnv("llm.api_key", "LLM_API_KEY")
	_ = v.BindEnv("llm.base_url", "LLM_BASE_URL")
	_ = v.BindEnv("llm.model", "LLM_MODEL")
	_ = v.BindEnv("speech.api_key", "SPEECH_API_KEY")
	_ = v.BindEnv("speech.base_url", "SPEECH_BASE_URL")
	_ = v.BindEnv("speech.voice_id", "SPEECH_VOICE_ID")
	_ = v.BindEnv("speech.stt_model", "SPEECH_STT_MODEL")
	_ = v.BindEnv("speech.tts_model", "SPEECH_TTS_MODEL")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_file", "")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.queue_db", 1)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("gateway.enabled", false)
	v.SetDefault("ratelimit.upload_per_hour", 50)
	v.SetDefault("ratelimit.chat_per_min", 30)

	// Storage defaults
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.upload_bucket", "ragscale-uploads")
	v.SetDefault("storage.audio_bucket", "ragscale-audio")
	v.SetDefault("storage.use_path_style", true)
	v.SetDefault("storage.presign_expiry", "1h")

	// Ingestion defaults
	v.SetDefault("ingest.chunk_size", 1000)
	v.SetDefault("ingest.chunk_overlap", 400)
	v.SetDefault("ingest.embed_batch_size", 20)
	v.SetDefault("ingest.max_files", 20)
	v.SetDefault("ingest.max_file_size", 50*1024*1024)
	v.SetDefault("ingest.staging_dir", "/tmp/ragscale_downloads")
	v.SetDefault("ingest.upload_concurrency", 4)
	v.SetDefault("ingest.batch_ttl", "24h")
	v.SetDefault("ingest.cleanup_delay", "1h")
	v.SetDefault("ingest.status_resync", "15s")

	// Queue defaults
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.max_retry", 3)
	v.SetDefault("queue.retry_delays", "10s,30s,60s")
	v.SetDefault("queue.retention", "24h")
	v.SetDefault("worker.embedded", true)

	// Embedding / vector store defaults
	v.SetDefault("embedding.ollama_url", "http://localhost:11434")
	v.SetDefault("embedding.model", "nomic-embed-text")
	v.SetDefault("vectorstore.qdrant_url", "http://localhost:6333")
	v.SetDefault("vectorstore.collection", "ragscale")

	// Groq defaults
	v.SetDefault("llm.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("llm.model", "openai/gpt-oss-120b")

	// ElevenLabs defaults
	v.SetDefault("speech.base_url", "https://api.elevenlabs.io")
	v.SetDefault("speech.voice_id", "JBFqnCBsd6RMkjVDRZzb")
	v.SetDefault("speech.stt_model", "scribe_v2")
	v.SetDefault("speech.tts_model", "eleven_multilingual_v2")
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{
			Port:     v.GetString("server.port"),
			Env:      v.GetString("server.env"),
			LogLevel: v.GetString("server.log_level"),
			LogFile:  v.GetString("server.log_file"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			QueueDB:  v.GetInt("redis.queue_db"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
		},
		Gateway: GatewayConfig{
			Enabled: v.GetBool("gateway.enabled"),
		},
		RateLimit: RateLimitConfig{
			UploadPerHour: v.GetInt("ratelimit.upload_per_hour"),
			ChatPerMin:    v.GetInt("ratelimit.chat_per_min"),
		},
		Storage: StorageConfig{
			Endpoint:        v.GetString("storage.endpoint"),
			Region:          v.GetString("storage.region"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			UploadBucket:    v.GetString("storage.upload_bucket"),
			AudioBucket:     v.GetString("storage.audio_bucket"),
			UsePathStyle:    v.GetBool("storage.use_path_style"),
			PresignExpiry:   v.GetDuration("storage.presign_expiry"),
		},
		Ingest: IngestConfig{
			ChunkSize:         v.GetInt("ingest.chunk_size"),
			ChunkOverlap:      v.GetInt("ingest.chunk_overlap"),
			EmbedBatchSize:    v.GetInt("ingest.embed_batch_size"),
			MaxFiles:          v.GetInt("ingest.max_files"),
			MaxFileSize:       v.GetInt64("ingest.max_file_size"),
			StagingDir:        v.GetString("ingest.staging_dir"),
			UploadConcurrency: v.GetInt("ingest.upload_concurrency"),
			BatchTTL:          v.GetDuration("ingest.batch_ttl"),
			CleanupDelay:      v.GetDuration("ingest.cleanup_delay"),
			StatusResync:      v.GetDuration("ingest.status_resync"),
		},
		Queue: QueueConfig{
			Concurrency: v.GetInt("queue.concurrency"),
			MaxRetry:    v.GetInt("queue.max_retry"),
			RetryDelays: parseDurations(v.GetString("queue.retry_delays")),
			Retention:   v.GetDuration("queue.retention"),
		},
		Worker: WorkerConfig{
			Embedded: v.GetBool("worker.embedded"),
		},
		Embedding: EmbeddingConfig{
			OllamaURL: v.GetString("embedding.ollama_url"),
			Model:     v.GetString("embedding.model"),
		},
		VectorStore: VectorStoreConfig{
			QdrantURL:  v.GetString("vectorstore.qdrant_url"),
			APIKey:     v.GetString("vectorstore.api_key"),
			Collection: v.GetString("vectorstore.collection"),
		},
		LLM: LLMConfig{
			APIKey:  v.GetString("llm.api_key"),
			BaseURL: v.GetString("llm.base_url"),
			Model:   v.GetString("llm.model"),
		},
		Speech: SpeechConfig{
			APIKey:   v.GetString("speech.api_key"),
			BaseURL:  v.GetString("speech.base_url"),
			VoiceID:  v.GetString("speech.voice_id"),
			STTModel: v.GetString("speech.stt_model"),
			TTSModel: v.GetString("speech.tts_model"),
		},
	}
}

// parseDurations reads a comma separated list like "10s,30s,60s".
// Invalid entries are skipped.
func parseDurations(s string) []time.Duration {
	var out []time.Duration
	for _, part := range strings.Split(s, ",") {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil || d <= 0 {
			continue
		}
		out = append(out, d)
	}
	return out
}
