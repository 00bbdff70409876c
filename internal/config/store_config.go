package config

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"time"
)

const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
)

type StoreConfig interface {
	GetStoreBackend() string
	GetStoreDir() string
	GetStoreKeyPrefix() string
	GetStoreEncryptionKey() []byte
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetStoreOpTimeout() time.Duration
}

type Store struct{}

var _ StoreConfig = Store{}

func (Store) GetStoreBackend() string {
	return GetEnv("STORE_BACKEND", BackendFile)
}

// GetStoreDir defaults to ~/.config/authsession.
func (Store) GetStoreDir() string {
	if dir := os.Getenv("STORE_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".authsession")
	}
	return filepath.Join(home, ".config", "authsession")
}

func (Store) GetStoreKeyPrefix() string {
	return GetEnv("STORE_KEY_PREFIX", "authsession:")
}

// GetStoreEncryptionKey returns the hex-decoded STORE_ENCRYPTION_KEY, or nil
// when unset or not valid hex.
func (Store) GetStoreEncryptionKey() []byte {
	raw := os.Getenv("STORE_ENCRYPTION_KEY")
	if raw == "" {
		return nil
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil
	}
	return key
}

func (Store) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "localhost:6379")
}

func (Store) GetRedisPassword() string {
	return GetEnv("REDIS_PASSWORD", "")
}

func (Store) GetRedisDB() int {
	return 0
}

func (Store) GetStoreOpTimeout() time.Duration {
	return GetEnvDuration("STORE_OP_TIMEOUT", 2*time.Second)
}
