package cmd

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/jobmail/internal/api"
	"github.com/spigell/jobmail/internal/filtering"
	"github.com/spigell/jobmail/internal/mailbox"
	"github.com/spigell/jobmail/internal/matcher"
	"github.com/spigell/jobmail/internal/pipeline"
)

const (
	app = "jobmail"
)

type Config struct {
	AI         *AIConfig         `mapstructure:"ai"`
	Classifier *ClassifierConfig `mapstructure:"classifier"`
	Matching   matcher.Config    `mapstructure:"matching"`
	Pipeline   pipeline.Config   `mapstructure:"pipeline"`
	Storage    *StorageConfig    `mapstructure:"storage"`
	Index      *IndexConfig      `mapstructure:"index"`
	Lock       *LockConfig       `mapstructure:"lock"`
	Filters    filtering.Config  `mapstructure:"filters"`
	Server     api.Config        `mapstructure:"server"`
	Users      []*UserConfig     `mapstructure:"users"`
}

type AIConfig struct {
	Provider       string         `mapstructure:"provider"`
	APIKey         string         `mapstructure:"api-key" json:"-"`
	APIKeyFile     string         `mapstructure:"api-key-file"`
	BaseURL        string         `mapstructure:"base-url"`
	Model          string         `mapstructure:"model"`
	EmbeddingModel string         `mapstructure:"embedding-model"`
	Temperature    float32        `mapstructure:"temperature"`
	MaxRetries     int            `mapstructure:"max-retries"`
	MaxLogLength   int            `mapstructure:"max-log-length"`
	Breaker        *BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	ConsecutiveFailures uint32        `mapstructure:"consecutive-failures"`
	Timeout             time.Duration `mapstructure:"timeout"`
	Interval            time.Duration `mapstructure:"interval"`
}

type ClassifierConfig struct {
	MaxBodyLength    int  `mapstructure:"max-body-length"`
	SubjectHeuristic bool `mapstructure:"subject-heuristic"`
}

type StorageConfig struct {
	Driver  string `mapstructure:"driver"`
	DSN     string `mapstructure:"dsn" json:"-"`
	DSNFile string `mapstructure:"dsn-file"`
}

type IndexConfig struct {
	Driver    string `mapstructure:"driver"`
	DSN       string `mapstructure:"dsn" json:"-"`
	DSNFile   string `mapstructure:"dsn-file"`
	Dimension int    `mapstructure:"dimension"`
}

type LockConfig struct {
	Driver   string        `mapstructure:"driver"`
	RedisURL string        `mapstructure:"redis-url" json:"-"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// UserConfig binds a tracked account to its mailbox.
type UserConfig struct {
	Email        string              `mapstructure:"email"`
	IMAP         *mailbox.IMAPConfig `mapstructure:"imap"`
	PasswordFile string              `mapstructure:"password-file"`
	PasswordEnv  string              `mapstructure:"password-env"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "jobmail reads job search mail and keeps a ledger of applications, rejections, interviews and offers",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is jobmail.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	setDefaults()
}

func setDefaults() {
	defaults := matcher.DefaultConfig()
	viper.SetDefault("matching.top-k", defaults.TopK)
	viper.SetDefault("matching.company-weight", defaults.CompanyWeight)
	viper.SetDefault("matching.role-weight", defaults.RoleWeight)
	viper.SetDefault("matching.threshold", defaults.Threshold)

	viper.SetDefault("ai.provider", "gemini")
	viper.SetDefault("ai.max-retries", 3)
	viper.SetDefault("ai.max-log-length", 200)
	viper.SetDefault("pipeline.timeout", 60*time.Second)
	viper.SetDefault("storage.driver", "memory")
	viper.SetDefault("index.driver", "memory")
	viper.SetDefault("index.dimension", 768)
	viper.SetDefault("lock.driver", "local")
	viper.SetDefault("server.listen", ":8080")
}

func initConfig() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	viper.SetEnvPrefix(strings.ToUpper(app))
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app + ".yaml")
		viper.SetConfigType("yaml")
	}

	// We can't proceed if the config file parsed with error. Environment-only
	// setups are fine when no file was asked for.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return
		}
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	if config == nil {
		config = &Config{}
	}
	if config.AI == nil {
		config.AI = &AIConfig{}
	}
	if config.Classifier == nil {
		config.Classifier = &ClassifierConfig{}
	}
	if config.Storage == nil {
		config.Storage = &StorageConfig{}
	}
	if config.Index == nil {
		config.Index = &IndexConfig{}
	}
	if config.Lock == nil {
		config.Lock = &LockConfig{}
	}

	return config, nil
}

// findUser returns the configured account for email.
func (c *Config) findUser(email string) *UserConfig {
	for _, u := range c.Users {
		if u != nil && strings.EqualFold(u.Email, email) {
			return u
		}
	}
	return nil
}

func (c *Config) userEmails() []string {
	emails := make([]string, 0, len(c.Users))
	for _, u := range c.Users {
		if u != nil && u.Email != "" {
			emails = append(emails, u.Email)
		}
	}
	return emails
}
