package services

import (
	"time"

	"github.com/Coworker2000/acr/config"
	"github.com/golang-jwt/jwt/v5"
)

// 客服是固定账号（配置文件），不走用户表
type AgentService struct {
	credentials config.AgentConfig
	jwtSecret   []byte
	tokenExpiry time.Duration
}

func NewAgentService(cfg *config.AuthConfig, agent config.AgentConfig) *AgentService {
	return &AgentService{
		credentials: agent,
		jwtSecret:   []byte(cfg.JWTSecret),
		tokenExpiry: time.Duration(cfg.AgentTokenExpiry) * time.Hour,
	}
}

type AgentInfo struct {
	Username string `json:"username"`
	Name     string `json:"name"`
}

func (s *AgentService) Login(username, password string) (string, *AgentInfo, error) {
	if username != s.credentials.Username || password != s.credentials.Password {
		return "", nil, ErrInvalidCredentials
	}
	claims := &Claims{
		TokenType: "agent",
		Username:  s.credentials.Username,
		Name:      s.credentials.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", nil, err
	}
	return signed, &AgentInfo{Username: s.credentials.Username, Name: s.credentials.Name}, nil
}

// ValidateToken 只接受 type=agent 的 token
func (s *AgentService) ValidateToken(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.TokenType != "agent" {
		return nil, ErrInvalidToken
	}
	name := claims.Name
	if name == "" {
		name = claims.Username
	}
	return &Identity{Name: name, Role: RoleAgent}, nil
}
