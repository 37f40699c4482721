package model

import "time"

// Account — учётная запись читателя платформы.
// Identity хранится уже нормализованной (trim + нижний регистр).
type Account struct {
	ID           string    `json:"id"`
	Identity     string    `json:"identity"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// AccountPublic — представление аккаунта для ответов API (без хеша).
type AccountPublic struct {
	AccountID   string `json:"account_id"`
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`
}

func (a *Account) ToPublic() AccountPublic {
	return AccountPublic{
		AccountID:   a.ID,
		Identity:    a.Identity,
		DisplayName: a.DisplayName,
	}
}
