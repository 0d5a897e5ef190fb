package database

import (
	"testing"

	"taxbook/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	base := config.DatabaseConfig{
		Host:     "db",
		Port:     "3306",
		Username: "tax",
		Password: "secret",
		DBName:   "taxbook",
		Charset:  "utf8mb4",
		SSLMode:  "disable",
	}

	mysqlCfg := base
	mysqlCfg.Driver = "mysql"
	dsn, err := DSN(mysqlCfg)
	require.NoError(t, err)
	assert.Equal(t, "tax:secret@tcp(db:3306)/taxbook?charset=utf8mb4&parseTime=True&loc=Local", dsn)

	pgCfg := base
	pgCfg.Driver = "postgres"
	pgCfg.Port = "5432"
	dsn, err = DSN(pgCfg)
	require.NoError(t, err)
	assert.Contains(t, dsn, "host=db port=5432 user=tax")
	assert.Contains(t, dsn, "sslmode=disable")

	dsn, err = DSN(config.DatabaseConfig{Driver: "sqlite", Path: "data/taxbook.db"})
	require.NoError(t, err)
	assert.Equal(t, "data/taxbook.db", dsn)

	_, err = DSN(config.DatabaseConfig{Driver: "sqlite"})
	assert.Error(t, err)

	_, err = DSN(config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestDialector(t *testing.T) {
	d, err := Dialector(config.DatabaseConfig{Driver: "postgres", Host: "h", Port: "5432"})
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())

	d, err = Dialector(config.DatabaseConfig{Driver: "mysql", Host: "h", Port: "3306"})
	require.NoError(t, err)
	assert.Equal(t, "mysql", d.Name())
}
