package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	unsetEnv(t, "ENERGYGUARD_WEB_PORT")
	unsetEnv(t, "ENERGYGUARD_MQTT_PORT")
	unsetEnv(t, "ENERGYGUARD_HOME_CONFIG")
	unsetEnv(t, "ENERGYGUARD_DATA_DIR")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.WebPort != 8081 {
		t.Errorf("default web port = %d, want 8081", cfg.WebPort)
	}
	if cfg.MQTTPort != 1883 {
		t.Errorf("default MQTT port = %d, want 1883", cfg.MQTTPort)
	}
	if cfg.HomeConfigPath != "./home.hujson" {
		t.Errorf("default home config path = %s, want ./home.hujson", cfg.HomeConfigPath)
	}
	if cfg.DataDir != "./data" {
		t.Errorf("default data dir = %s, want ./data", cfg.DataDir)
	}
}

func TestValidatePorts(t *testing.T) {
	if err := os.Setenv("ENERGYGUARD_WEB_PORT", "70000"); err != nil {
		t.Fatalf("failed to set env: %v", err)
	}
	defer func() {
		_ = os.Unsetenv("ENERGYGUARD_WEB_PORT")
	}()

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid web port")
	}
}

func TestAnnounceMinInterval(t *testing.T) {
	unsetEnv(t, "ENERGYGUARD_ANNOUNCE_MIN_INTERVAL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AnnounceMinInterval() != 3*time.Second {
		t.Errorf("default announce min interval = %v, want 3s", cfg.AnnounceMinInterval())
	}

	t.Setenv("ENERGYGUARD_ANNOUNCE_MIN_INTERVAL", "10")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AnnounceMinInterval() != 10*time.Second {
		t.Errorf("announce min interval = %v, want 10s", cfg.AnnounceMinInterval())
	}

	t.Setenv("ENERGYGUARD_ANNOUNCE_MIN_INTERVAL", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero announce min interval")
	}
}

func TestValidateLogLevel(t *testing.T) {
	t.Setenv("ENERGYGUARD_LOG_LEVEL", "fatal")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func unsetEnv(t *testing.T, key string) {
	t.Helper()

	if val, ok := os.LookupEnv(key); ok {
		t.Cleanup(func() {
			_ = os.Setenv(key, val)
		})
	} else {
		t.Cleanup(func() {
			_ = os.Unsetenv(key)
		})
	}
	_ = os.Unsetenv(key)
}
