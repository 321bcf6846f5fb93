package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config representa a configuração do servidor
type Config struct {
	IMAP     IMAPConfig      `mapstructure:"imap"`
	SMTP     SMTPConfig      `mapstructure:"smtp"`
	Metrics  MetricsConfig   `mapstructure:"metrics"`
	Log      LogConfig       `mapstructure:"log"`
	Storages []StorageConfig `mapstructure:"storages"`
}

// IMAPConfig representa a configuração do servidor IMAP
type IMAPConfig struct {
	Address      string        `mapstructure:"address"`
	Port         int           `mapstructure:"port"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
	LoopInterval time.Duration `mapstructure:"loop_interval"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// SMTPConfig representa a configuração do servidor SMTP de entrada
type SMTPConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Address         string        `mapstructure:"address"`
	Port            int           `mapstructure:"port"`
	Domain          string        `mapstructure:"domain"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
	MaxRecipients   int           `mapstructure:"max_recipients"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// MetricsConfig configura o endpoint Prometheus. Endereço vazio desativa.
type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

// LogConfig configura o zap
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // "console" ou "json"
}

// StorageConfig representa um armazenamento de mensagens
type StorageConfig struct {
	Name         string `mapstructure:"name"`
	Type         string `mapstructure:"type"` // "directory", "maildir", "sqlite" ou "postgres"
	Path         string `mapstructure:"path"`
	DSN          string `mapstructure:"dsn"`
	Kind         string `mapstructure:"kind"` // "normal" ou "temp"
	IdentityPath string `mapstructure:"identity_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("imap.address", "127.0.0.1")
	v.SetDefault("imap.port", 1143)
	v.SetDefault("imap.poll_timeout", 100*time.Millisecond)
	v.SetDefault("imap.loop_interval", 10*time.Millisecond)
	v.SetDefault("imap.write_timeout", 30*time.Second)

	v.SetDefault("smtp.enabled", false)
	v.SetDefault("smtp.address", "127.0.0.1")
	v.SetDefault("smtp.port", 2525)
	v.SetDefault("smtp.domain", "localhost")
	v.SetDefault("smtp.max_message_bytes", int64(10<<20))
	v.SetDefault("smtp.max_recipients", 50)
	v.SetDefault("smtp.timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Default retorna a configuração padrão, sem armazenamentos.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	// os padrões sempre decodificam
	_ = v.Unmarshal(cfg)
	return cfg
}

// LoadConfig carrega configurações do arquivo YAML em configPath. As
// variáveis de ambiente IMAPD_* sobrescrevem os valores do arquivo.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		// Usar diretório atual se nenhum caminho for fornecido
		dir, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(dir, "config.yaml")
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("imapd")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("erro ao ler arquivo de configuração: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("erro ao processar configuração: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate verifica os campos obrigatórios.
func (c *Config) Validate() error {
	if c.IMAP.Port < 0 || c.IMAP.Port > 65535 {
		return fmt.Errorf("porta IMAP inválida: %d", c.IMAP.Port)
	}
	if c.SMTP.Enabled && (c.SMTP.Port < 0 || c.SMTP.Port > 65535) {
		return fmt.Errorf("porta SMTP inválida: %d", c.SMTP.Port)
	}
	for i, s := range c.Storages {
		if s.Type == "" {
			return fmt.Errorf("armazenamento %d: tipo ausente", i)
		}
		if s.Path == "" && s.DSN == "" {
			return fmt.Errorf("armazenamento %d (%s): path ou dsn obrigatório", i, s.Type)
		}
	}
	return nil
}
