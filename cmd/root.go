package cmd

import (
	"errors"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/hr-assistant/internal/ai/gemini"
	"github.com/spigell/hr-assistant/internal/candidate"
	"github.com/spigell/hr-assistant/internal/lock"
	"github.com/spigell/hr-assistant/internal/notify"
	"github.com/spigell/hr-assistant/internal/storage"
	"github.com/spigell/hr-assistant/internal/workflow"
)

const (
	app       = "hr-assistant"
	envPrefix = "HR"
)

type Config struct {
	Boss       *BossConfig          `mapstructure:"boss"`
	Job        *JobConfig           `mapstructure:"job"`
	Thresholds candidate.Thresholds `mapstructure:"thresholds"`
	Workflow   workflow.Config      `mapstructure:"workflow"`
	Store      storage.Config       `mapstructure:"store"`
	AI         *AIConfig            `mapstructure:"ai"`
	Notify     notify.Config        `mapstructure:"notify"`
	Lock       lock.Config          `mapstructure:"lock"`
	Report     *ReportConfig        `mapstructure:"report"`
}

// BossConfig points at the automation sidecar that drives the recruiter session.
type BossConfig struct {
	URL        string        `mapstructure:"url"`
	TokenFile  string        `mapstructure:"token-file"`
	UserAgent  string        `mapstructure:"user-agent"`
	MaxRetries int           `mapstructure:"max-retries"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type JobConfig struct {
	Title           string `mapstructure:"title"`
	Description     string `mapstructure:"description"`
	DescriptionFile string `mapstructure:"description-file"`
}

type AIConfig struct {
	Gemini *GeminiConfig          `mapstructure:"gemini"`
	Prompt gemini.PromptOverrides `mapstructure:"prompt"`
}

type GeminiConfig struct {
	APIKeyFile     string `mapstructure:"api-key-file"`
	Model          string `mapstructure:"model"`
	EmbeddingModel string `mapstructure:"embedding-model"`
	MaxRetries     int    `mapstructure:"max-retries"`
	MaxLogLength   int    `mapstructure:"max-log-length"`
	// Embeddings enables résumé vectors for the search command.
	Embeddings bool `mapstructure:"embeddings"`
}

type ReportConfig struct {
	File string `mapstructure:"file"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "hr-assistant screens candidates on the recruiting platform and keeps the conversation going",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	for key, env := range map[string]string{
		"boss.token-file":        "HR_BOSS_TOKEN_FILE",
		"ai.gemini.api-key-file": "GEMINI_API_KEY_FILE",
		"store.dsn-file":         "HR_STORE_DSN_FILE",
		"notify.token-file":      "HR_NOTIFY_TOKEN_FILE",
	} {
		if err := viper.BindEnv(key, env); err != nil {
			log.Fatalf("binding %s environment variable: %v", env, err)
		}
	}

	setDefaults()

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is hr-assistant.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults() {
	defaults := candidate.DefaultThresholds()

	for key, value := range map[string]any{
		"boss.url":                    "",
		"boss.user-agent":             "",
		"boss.max-retries":            0,
		"boss.timeout":                "0s",
		"job.title":                   "",
		"job.description":             "",
		"job.description-file":        "",
		"thresholds.waiting-list":     defaults.WaitingList,
		"thresholds.chat":             defaults.Chat,
		"thresholds.seek":             defaults.Seek,
		"workflow.follow-up-after":    workflow.DefaultFollowUpAfter.String(),
		"workflow.limit":              0,
		"workflow.concurrency":        1,
		"workflow.analysis-max-age":   "0s",
		"workflow.new-tab":            "",
		"workflow.new-status":         "",
		"workflow.chat-tab":           "",
		"workflow.chat-status":        "",
		"store.driver":                storage.DriverPostgres,
		"store.dsn":                   "",
		"store.embedding-dimensions":  storage.DefaultEmbeddingDimensions,
		"ai.gemini.model":             "",
		"ai.gemini.embedding-model":   "",
		"ai.gemini.max-retries":       0,
		"ai.gemini.max-log-length":    0,
		"ai.gemini.embeddings":        false,
		"notify.webhook-url":          "",
		"notify.timeout":              "0s",
		"lock.redis-addr":             "",
		"lock.ttl":                    lock.DefaultTTL.String(),
		"report.file":                 "",
	} {
		viper.SetDefault(key, value)
	}
}

func initConfig() {
	// .env is optional, real environment variables win over it
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("loading .env: %v", err)
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	// We can't proceed if the config file parsed with error.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	if config.Boss == nil {
		config.Boss = &BossConfig{}
	}
	if config.Job == nil {
		config.Job = &JobConfig{}
	}
	if config.AI == nil {
		config.AI = &AIConfig{}
	}
	if config.AI.Gemini == nil {
		config.AI.Gemini = &GeminiConfig{}
	}
	if config.Report == nil {
		config.Report = &ReportConfig{}
	}

	return config, nil
}
