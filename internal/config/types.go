package config

type Config struct {
	Addr            string
	DBPath          string
	PersonalityPath string
	Binding         BindingConfig
	Generation      GenerationConfig
	User            UserConfig
	Storage         StorageConfig
	Backup          BackupConfig
	CancelGraceSecs int
}

type BindingConfig struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
	CtxSize  int
}

// GenerationConfig holds the server-wide sampling defaults. When Override is
// false, the active personality's own sampling values win.
type GenerationConfig struct {
	Temperature   float64
	TopK          int
	TopP          float64
	RepeatPenalty float64
	RepeatLastN   int
	Seed          int
	Threads       int
	Override      bool
}

type UserConfig struct {
	Name            string
	PromptSeparator string
	UseUserName     bool
}

type StorageConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

type BackupConfig struct {
	Enabled  bool
	Schedule string
	Bucket   string
}
