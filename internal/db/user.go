package db

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// User 是监控服务的后台登录账号，密码只存 bcrypt 哈希。
type User struct {
	gorm.Model
	Username string `gorm:"unique;not null"`
	Password string `gorm:"not null"`
}

// EnsureUser 保证配置的管理账号存在：缺失时创建，已存在时不改动。
// 用户名或密码为空视为未配置管理账号，直接跳过。
func EnsureUser(username, password string) error {
	name := strings.TrimSpace(username)
	secret := strings.TrimSpace(password)
	if name == "" || secret == "" {
		return nil
	}

	if DB == nil {
		return errors.New("database not initialized")
	}

	var count int64
	if err := DB.Model(&User{}).Where("username = ?", name).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	return DB.Create(&User{Username: name, Password: string(hashed)}).Error
}
