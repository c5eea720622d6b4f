package services

import (
	"context"
	"errors"
	"time"

	"github.com/Coworker2000/acr/config"
	"github.com/Coworker2000/acr/models"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailInUse         = errors.New("email already in use")
	ErrInvalidToken       = errors.New("invalid token")
	// token 校验通过但缺少 email/name，且缓存里也找不到资料
	ErrLegacyToken = errors.New("missing user information in token, please login again")
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Guard 边界上归一化之后的调用者身份，业务代码只认这个类型
type Identity struct {
	UserID uint
	Email  string
	Name   string
	Role   Role
}

// ProfileCache 是老 token 兜底用的资料缓存（redis 实现见 redis 包）
type ProfileCache interface {
	SaveProfile(ctx context.Context, userID uint, email, name string) error
	LookupProfile(ctx context.Context, userID uint) (email, name string, err error)
}

type AuthService struct {
	Db          *gorm.DB
	cache       ProfileCache
	jwtSecret   []byte
	tokenExpiry time.Duration
}

func NewAuthService(db *gorm.DB, cfg *config.AuthConfig, cache ProfileCache) *AuthService {
	return &AuthService{
		Db:          db,
		cache:       cache,
		jwtSecret:   []byte(cfg.JWTSecret),
		tokenExpiry: time.Duration(cfg.TokenExpiry) * time.Hour,
	}
}

// Claims 同时声明所有历史字段拼法，签发只用 id/email/name，
// 校验时全部参与归一化
type Claims struct {
	UserID    uint   `json:"id,omitempty"`
	AltUserID uint   `json:"user_id,omitempty"`
	LegacyID  uint   `json:"userId,omitempty"`
	Email     string `json:"email,omitempty"`
	UserEmail string `json:"userEmail,omitempty"`
	Name      string `json:"name,omitempty"`
	UserName  string `json:"userName,omitempty"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	TokenType string `json:"type,omitempty"` // agent token 专用
	jwt.RegisteredClaims
}

func (s *AuthService) GenerateToken(user *models.User) (string, error) {
	claims := &Claims{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.FirstName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *AuthService) parseClaims(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateToken 校验签名与过期时间并归一化身份。
// 历史上签发过好几种字段拼法，这里统一兜住；仍缺 email/name 时查资料缓存。
func (s *AuthService) ValidateToken(ctx context.Context, tokenString string) (*Identity, error) {
	claims, err := s.parseClaims(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType == "agent" {
		return nil, ErrInvalidToken
	}

	identity := &Identity{Role: RoleUser}
	switch {
	case claims.UserID != 0:
		identity.UserID = claims.UserID
	case claims.AltUserID != 0:
		identity.UserID = claims.AltUserID
	default:
		identity.UserID = claims.LegacyID
	}
	if identity.Email = claims.Email; identity.Email == "" {
		identity.Email = claims.UserEmail
	}
	for _, name := range []string{claims.Name, claims.UserName, claims.Username, claims.FirstName} {
		if name != "" {
			identity.Name = name
			break
		}
	}

	if identity.Email != "" && identity.Name != "" {
		return identity, nil
	}
	if identity.UserID == 0 || s.cache == nil {
		return nil, ErrLegacyToken
	}
	email, name, err := s.cache.LookupProfile(ctx, identity.UserID)
	if err != nil {
		return nil, err
	}
	if identity.Email == "" {
		identity.Email = email
	}
	if identity.Name == "" {
		identity.Name = name
	}
	if identity.Email == "" || identity.Name == "" {
		return nil, ErrLegacyToken
	}
	return identity, nil
}

type RegisterInput struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Password    string `json:"password"`
	Address     string `json:"address"`
	City        string `json:"city"`
	State       string `json:"state"`
	ZipCode     string `json:"zipCode"`
	CreditGoals string `json:"creditGoals"`
	HearAboutUs string `json:"hearAboutUs"`
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*models.User, error) {
	var existing models.User
	err := s.Db.Where("email = ?", input.Email).First(&existing).Error
	if err == nil {
		return nil, ErrEmailInUse
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		FirstName:   input.FirstName,
		LastName:    input.LastName,
		Email:       input.Email,
		Phone:       input.Phone,
		Password:    string(hashed),
		Provider:    "local",
		Address:     input.Address,
		City:        input.City,
		State:       input.State,
		ZipCode:     input.ZipCode,
		CreditGoals: input.CreditGoals,
		HearAboutUs: input.HearAboutUs,
	}
	if err := s.Db.Create(user).Error; err != nil {
		return nil, err
	}
	s.cacheProfile(ctx, user)
	return user, nil
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*models.User, error) {
	var user models.User
	if err := s.Db.Where("email = ?", email).First(&user).Error; err != nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	s.cacheProfile(ctx, &user)
	return &user, nil
}

// OAuth 回调用：按邮箱找或建账号
func (s *AuthService) FindOrCreateOAuthUser(ctx context.Context, provider, providerID, email, name string) (*models.User, error) {
	var user models.User
	err := s.Db.Where("email = ?", email).First(&user).Error
	if err == nil {
		s.cacheProfile(ctx, &user)
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	user = models.User{
		FirstName:  name,
		Email:      email,
		Provider:   provider,
		ProviderID: providerID,
	}
	if err := s.Db.Create(&user).Error; err != nil {
		return nil, err
	}
	s.cacheProfile(ctx, &user)
	return &user, nil
}

// 缓存失败不影响主流程，下次还有机会
func (s *AuthService) cacheProfile(ctx context.Context, user *models.User) {
	if s.cache == nil {
		return
	}
	_ = s.cache.SaveProfile(ctx, user.ID, user.Email, user.FirstName)
}
