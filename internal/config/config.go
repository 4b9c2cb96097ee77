package config

import (
	"fmt"
	"os"
	"strconv"
)

func Load() (*Config, error) {
	addr := os.Getenv("PARLEY_ADDR")
	if addr == "" {
		addr = "localhost:9600"
	}

	dbPath := os.Getenv("PARLEY_DB")
	if dbPath == "" {
		dbPath = "discussions.db"
	}

	personalityPath := os.Getenv("PARLEY_PERSONALITY")
	if personalityPath == "" {
		personalityPath = "personalities/parley.yaml"
	}

	bindingConfig, err := loadBindingConfig()
	if err != nil {
		return nil, err
	}

	storageConfig := loadStorageConfig()

	return &Config{
		Addr:            addr,
		DBPath:          dbPath,
		PersonalityPath: personalityPath,
		Binding:         bindingConfig,
		Generation:      loadGenerationConfig(),
		User:            loadUserConfig(),
		Storage:         storageConfig,
		Backup:          loadBackupConfig(storageConfig),
		CancelGraceSecs: envInt("CANCEL_GRACE", 5),
	}, nil
}

func loadBindingConfig() (BindingConfig, error) {
	provider := os.Getenv("BINDING_PROVIDER")
	if provider == "" {
		provider = "llamacpp"
	}

	var apiKey string
	switch provider {
	case "llamacpp":
		// local runtime, no key
	case "claude":
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return BindingConfig{}, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	default:
		return BindingConfig{}, fmt.Errorf("unknown BINDING_PROVIDER: %s", provider)
	}

	return BindingConfig{
		Provider: provider,
		Model:    os.Getenv("BINDING_MODEL"),
		BaseURL:  os.Getenv("BINDING_URL"),
		APIKey:   apiKey,
		CtxSize:  envInt("CTX_SIZE", 2048),
	}, nil
}

func loadGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Temperature:   envFloat("GEN_TEMPERATURE", 0.9),
		TopK:          envInt("GEN_TOP_K", 50),
		TopP:          envFloat("GEN_TOP_P", 0.95),
		RepeatPenalty: envFloat("GEN_REPEAT_PENALTY", 1.3),
		RepeatLastN:   envInt("GEN_REPEAT_LAST_N", 40),
		Seed:          envInt("GEN_SEED", -1),
		Threads:       envInt("GEN_THREADS", 8),
		Override:      os.Getenv("GEN_OVERRIDE_PERSONALITY") == "true",
	}
}

func loadUserConfig() UserConfig {
	name := os.Getenv("USER_NAME")
	if name == "" {
		name = "user"
	}

	separator := os.Getenv("PROMPT_SEPARATOR")
	if separator == "" {
		separator = "!@>"
	}

	return UserConfig{
		Name:            name,
		PromptSeparator: separator,
		UseUserName:     os.Getenv("USE_USER_NAME") == "true",
	}
}

func loadStorageConfig() StorageConfig {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		endpoint = "minio:9000"
	}

	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	secretKey := os.Getenv("MINIO_SECRET_KEY")

	return StorageConfig{
		Enabled:   accessKey != "" && secretKey != "",
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		UseSSL:    os.Getenv("MINIO_USE_SSL") == "true",
	}
}

func loadBackupConfig(storage StorageConfig) BackupConfig {
	schedule := os.Getenv("BACKUP_SCHEDULE")
	if schedule == "" {
		schedule = "0 3 * * *"
	}

	bucket := os.Getenv("BACKUP_BUCKET")
	if bucket == "" {
		bucket = "parley-backups"
	}

	return BackupConfig{
		Enabled:  storage.Enabled && os.Getenv("BACKUP_ENABLED") != "false",
		Schedule: schedule,
		Bucket:   bucket,
	}
}

func envInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return fallback
}
