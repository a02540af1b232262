package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "9000")
	t.Setenv("RAZORPAY_KEY_ID", "rzp_env")
	t.Setenv("RAZORPAY_KEY_SECRET", "secret_env")

	cfg := Config{
		Addr:     "0.0.0.0:8080",
		Razorpay: RazorpayConfig{KeyID: "rzp_cfg"},
	}
	cfg.applyPlatformDefaults()

	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
	assert.Equal(t, "rzp_cfg", cfg.Razorpay.KeyID, "explicit config wins")
	assert.Equal(t, "secret_env", cfg.Razorpay.KeySecret)
}

func TestApplyPlatformDefaults_KeepsCustomAddr(t *testing.T) {
	t.Setenv("PORT", "9000")

	cfg := Config{Addr: "127.0.0.1:7000", DatabaseURL: "postgres://cfg/db"}
	cfg.applyPlatformDefaults()

	assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
	assert.Equal(t, "postgres://cfg/db", cfg.DatabaseURL)
}
