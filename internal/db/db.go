// Package db содержит клиент подключения к PostgreSQL.
package db

import (
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/Dhoini/Carrier-billing-gateway/pkg/logger"
)

// Client обертка над подключением к базе данных.
type Client struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewClient открывает подключение к PostgreSQL и проверяет его пингом.
func NewClient(dsn string, log *logger.Logger) (*Client, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		log.Errorw("Failed to connect to database", "error", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		log.Errorw("Failed to ping database", "error", err)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Infow("Connected to PostgreSQL")
	return &Client{db: db, log: log}, nil
}

// DB возвращает подключение для слоя репозиториев.
func (c *Client) DB() *sqlx.DB {
	return c.db
}

// Close закрывает соединение с базой данных.
func (c *Client) Close() error {
	if err := c.db.Close(); err != nil {
		c.log.Errorw("Failed to close database connection", "error", err)
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	return nil
}
