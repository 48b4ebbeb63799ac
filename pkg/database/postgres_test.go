package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/memoire-api/pkg/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{
		Host:     "db",
		Port:     5432,
		User:     "memoire",
		Password: "it's secret",
		Name:     "memoire",
		SSLMode:  "disable",
	})
	assert.Equal(t, `host=db port=5432 user=memoire password='it\'s secret' dbname=memoire sslmode=disable`, dsn)

	assert.NotContains(t, DSN(config.DatabaseConfig{Host: "db", Port: 5432}), "password=")
}
