package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseConfig_GetDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Database: "iot", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=iot sslmode=disable", c.GetDSN())
}

func TestDatabaseConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("PG_HOST", "pg.local")
	t.Setenv("PG_PORT", "6543")
	t.Setenv("PG_NAME", "iot_dashboard")
	t.Setenv("PG_MAX_CONNS", "bogus")

	c := DatabaseConfig{Host: "localhost", Port: 5432, MaxConns: 10}
	c.LoadFromEnv("PG")

	assert.Equal(t, "pg.local", c.Host)
	assert.Equal(t, 6543, c.Port)
	assert.Equal(t, "iot_dashboard", c.Database)
	assert.Equal(t, 10, c.MaxConns)
}

func TestMQTTConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("BROKER_BROKER", "tcp://mosquitto:1883")
	t.Setenv("BROKER_QOS", "1")
	t.Setenv("BROKER_KEEPALIVE_SEC", "45")
	t.Setenv("BROKER_RECONNECT_SEC", "-3")

	c := MQTTConfig{ReconnectPeriod: 2 * time.Second}
	c.LoadFromEnv("BROKER")

	assert.Equal(t, "tcp://mosquitto:1883", c.Broker)
	assert.Equal(t, byte(1), c.QoS)
	assert.Equal(t, 45*time.Second, c.KeepAlive)
	assert.Equal(t, 2*time.Second, c.ReconnectPeriod)
}

func TestRedisConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("CACHE_ADDR", "redis:6379")
	t.Setenv("CACHE_DB", "3")

	var c RedisConfig
	c.LoadFromEnv("CACHE")

	assert.Equal(t, "redis:6379", c.Addr)
	assert.Equal(t, 3, c.DB)
}
