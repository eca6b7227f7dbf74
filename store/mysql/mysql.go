package mysql

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/dbresolver"
)

func (c Connection) DSN() string {
	return fmt.Sprintf(dsnTemplate, c.Username, c.Password, c.Host, c.Port, c.DBName)
}

// NewMySQLDB create the mysql master/slaves cluster
func NewMySQLDB(cfg Config) (*gorm.DB, error) {
	masterDSN := cfg.Master.DSN()
	var slaveDSNs []gorm.Dialector
	for _, slave := range cfg.Slaves {
		slaveDSNs = append(slaveDSNs, mysql.Open(slave.DSN()))
	}

	db, err := gorm.Open(mysql.Open(masterDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.LogLevel(cfg.LogLevel)),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open master mysql")
	}

	dbResolverCfg := dbresolver.Config{
		Sources:  []gorm.Dialector{mysql.Open(masterDSN)},
		Replicas: slaveDSNs,
		Policy:   dbresolver.RandomPolicy{}}
	if err := db.Use(dbresolver.Register(dbResolverCfg).
		SetConnMaxIdleTime(time.Hour).
		SetConnMaxLifetime(24 * time.Hour).
		SetMaxIdleConns(cfg.ConnCfg.MaxIdleConns).
		SetMaxOpenConns(cfg.ConnCfg.MaxOpenConns),
	); err != nil {
		return nil, errors.Wrap(err, "register db resolver")
	}

	return db, nil
}
