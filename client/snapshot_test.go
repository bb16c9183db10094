package client

import (
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseConfig_DSN(t *testing.T) {
	db := DatabaseConfig{Host: "database-service", Port: 3306, Username: "app", Password: "p@ss:word", Database: "app"}

	cfg, err := mysql.ParseDSN(db.DSN())
	require.NoError(t, err)
	assert.Equal(t, "app", cfg.User)
	assert.Equal(t, "p@ss:word", cfg.Passwd)
	assert.Equal(t, "database-service:3306", cfg.Addr)
	assert.Equal(t, "app", cfg.DBName)
	assert.True(t, cfg.ParseTime)
}

func TestSnapshot_EnvironRoundTrip(t *testing.T) {
	snap := Defaults("user-service")
	snap.Database.Password = "0123456789abcdef"
	snap.JWT.Secret = secretA
	snap.OAuth.ClientID = "client"
	snap.OAuth.ClientSecret = "client-secret"
	snap.Game.TickRate = 30

	env := snap.Environ()
	assert.Equal(t, "3002", env["PORT"])
	assert.Equal(t, "30", env["GAME_TICK_RATE"])

	restored := Defaults("user-service").WithEnviron(env)
	assert.Equal(t, snap.Database, restored.Database)
	assert.Equal(t, snap.JWT, restored.JWT)
	assert.Equal(t, snap.OAuth, restored.OAuth)
	assert.Equal(t, snap.Game, restored.Game)
	assert.Equal(t, snap.API, restored.API)

	assert.NotContains(t, Defaults("unknown").Environ(), "PORT")
}

func TestSnapshot_SecretsAreRedactedInLogs(t *testing.T) {
	snap := Defaults("auth-service")
	snap.JWT.Secret = secretA
	snap.Database.Password = "hunter2hunter2"

	var buf strings.Builder
	log := slog.New(slog.NewTextHandler(&buf, nil))
	log.Info("config", "jwt", snap.JWT.Secret, "password", snap.Database.Password)

	assert.NotContains(t, buf.String(), secretA)
	assert.NotContains(t, buf.String(), "hunter2")
	assert.NotContains(t, fmt.Sprintf("%v %+v", snap.JWT, snap.Database), "hunter2")
}
