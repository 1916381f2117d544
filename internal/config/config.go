// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
// 进程启动时加载一次，之后各组件通过构造函数显式接收所需的配置段，不再读取进程级状态。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Log       LogConfig       `mapstructure:"log"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	Assistant AssistantConfig `mapstructure:"assistant"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
// access token 和 refresh token 使用各自独立的签名密钥。
type JWTConfig struct {
	AccessSecret             string `mapstructure:"access_secret"`
	RefreshSecret            string `mapstructure:"refresh_secret"`
	AccessTokenExpireMinutes int    `mapstructure:"access_token_expire_minutes"`
	RefreshTokenExpireDays   int    `mapstructure:"refresh_token_expire_days"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// SMTPConfig 存储外发邮件服务器的配置。
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// AssistantConfig 存储外部对话助手 API 的配置。
// AssistantID 是主对话助手，TitleNamerID 是用于给新会话命名的次级助手。
// ProxyURL 非空时，所有对助手 API 的请求都经由该正向代理转发。
type AssistantConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	ProxyURL       string `mapstructure:"proxy_url"`
	AssistantID    string `mapstructure:"assistant_id"`
	TitleNamerID   string `mapstructure:"title_namer_id"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
}

// AuthConfig 存储认证流程相关的杂项配置。
type AuthConfig struct {
	VerificationCodeTTLMinutes int `mapstructure:"verification_code_ttl_minutes"`
	SweepIntervalMinutes       int `mapstructure:"sweep_interval_minutes"`
}

// AccessTokenTTL 返回 access token 的有效期。
func (c JWTConfig) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenExpireMinutes) * time.Minute
}

// RefreshTokenTTL 返回 refresh token 的有效期。
func (c JWTConfig) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenExpireDays) * 24 * time.Hour
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}

	if err := Conf.Validate(); err != nil {
		panic(err)
	}
}

// Validate 校验配置并填充缺省值，缺少关键密钥时直接在启动阶段失败。
func (c *Config) Validate() error {
	if c.JWT.AccessSecret == "" || c.JWT.RefreshSecret == "" {
		return fmt.Errorf("配置校验失败: jwt.access_secret 和 jwt.refresh_secret 不能为空")
	}
	if c.JWT.AccessSecret == c.JWT.RefreshSecret {
		return fmt.Errorf("配置校验失败: access token 与 refresh token 必须使用不同的签名密钥")
	}
	if c.Database.MySQL.DSN == "" {
		return fmt.Errorf("配置校验失败: database.mysql.dsn 不能为空")
	}
	if c.Assistant.APIKey == "" || c.Assistant.AssistantID == "" {
		return fmt.Errorf("配置校验失败: assistant.api_key 和 assistant.assistant_id 不能为空")
	}
	if c.JWT.AccessTokenExpireMinutes <= 0 {
		c.JWT.AccessTokenExpireMinutes = 15
	}
	if c.JWT.RefreshTokenExpireDays <= 0 {
		c.JWT.RefreshTokenExpireDays = 7
	}
	if c.Assistant.TimeoutSeconds <= 0 {
		c.Assistant.TimeoutSeconds = 60
	}
	if c.Assistant.MaxRetries <= 0 {
		c.Assistant.MaxRetries = 3
	}
	if c.Auth.VerificationCodeTTLMinutes <= 0 {
		c.Auth.VerificationCodeTTLMinutes = 15
	}
	if c.Auth.SweepIntervalMinutes <= 0 {
		c.Auth.SweepIntervalMinutes = 60
	}
	return nil
}
