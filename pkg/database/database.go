package database

import (
	"fmt"
	"log"

	"adaptive_quiz_backend/internal/config"
	"adaptive_quiz_backend/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func InitDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=Local",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.DBName,
		cfg.Charset,
		cfg.ParseTime,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})

	if err != nil {
		return nil, err
	}

	log.Println("Database connection established")

	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Println("Database migration completed")

	return db, nil
}

// Migrate creates/updates the engine tables. Shared with the sqlite
// test fixtures.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Student{},
		&model.Tutorial{},
		&model.Lecture{},
		&model.Question{},
		&model.LectureQuestion{},
		&model.Allocation{},
		&model.Answer{},
		&model.AnswerSummary{},
		&model.CoinAward{},
		&model.LectureSetting{},
		&model.StudentSetting{},
		&model.UserGeneratedQuestion{},
		&model.UserGeneratedOption{},
		&model.UserGeneratedAnswer{},
	)
}
