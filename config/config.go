package config

import (
	"encoding/json"
	"log"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Auth     AuthConfig     `json:"auth"`
	Redis    RedisConfig    `json:"redis"`
	Agent    AgentConfig    `json:"agent"`
}

type ServerConfig struct {
	Addr      string `json:"addr"`
	ClientURL string `json:"client_url"` // 前端地址，CORS 和 OAuth 回跳使用
}

type DatabaseConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type OAuthProvider struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	RedirectURL  string   `json:"redirect_url"`
	Scopes       []string `json:"scopes"`
}

type AuthConfig struct {
	JWTSecret        string `json:"jwt_secret"`
	TokenExpiry      int    `json:"token_expiry"`       // in hours
	AgentTokenExpiry int    `json:"agent_token_expiry"` // in hours
	OAuth            struct {
		Google OAuthProvider `json:"google"`
	} `json:"oauth"`
}

// 客服固定账号（原型阶段，不入库）
type AgentConfig struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func LoadConfig() (config Config, err error) {
	// .env 可选，存在则先加载
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	path := os.Getenv("ACR_CONFIG")
	if path == "" {
		path = "config/config.json"
	}
	file, err := os.Open(path)
	if err != nil {
		return config, err
	}
	defer func(file *os.File) {
		closeErr := file.Close()
		if closeErr != nil {
			log.Printf("Error closing config file: %v", closeErr)
		}
	}(file)
	decoder := json.NewDecoder(file)
	err = decoder.Decode(&config)
	if err != nil {
		return config, err
	}
	config.applyEnvOverrides()
	config.applyDefaults()
	return config, nil
}

// 敏感项允许用环境变量覆盖配置文件
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("AGENT_PASSWORD"); v != "" {
		c.Agent.Password = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Addr = ":" + v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":5000"
	}
	if c.Server.ClientURL == "" {
		c.Server.ClientURL = "http://localhost:3000"
	}
	if c.Auth.TokenExpiry <= 0 {
		c.Auth.TokenExpiry = 2
	}
	if c.Auth.AgentTokenExpiry <= 0 {
		c.Auth.AgentTokenExpiry = 24
	}
	if c.Redis.PoolSize <= 0 {
		c.Redis.PoolSize = 10
	}
}
