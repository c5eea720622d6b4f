package models

import "time"

type User struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Email       string    `json:"email" gorm:"uniqueIndex"`
	Phone       string    `json:"phone"`
	Password    string    `json:"-"`        // bcrypt hash
	Provider    string    `json:"provider"` // local, google
	ProviderID  string    `json:"provider_id"`
	Address     string    `json:"address"`
	City        string    `json:"city"`
	State       string    `json:"state"`
	ZipCode     string    `json:"zip_code"`
	CreditGoals string    `json:"credit_goals"`
	HearAboutUs string    `json:"hear_about_us"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type AuthResponse struct {
	Token string      `json:"token"`
	User  UserSummary `json:"user"`
}

// 登录/注册响应里只回传最小信息
type UserSummary struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:       u.ID,
		Username: u.FirstName,
		Email:    u.Email,
	}
}
