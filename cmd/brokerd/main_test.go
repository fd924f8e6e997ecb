package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/localzure/brokerd/internal/config"
)

func TestDetermineAddrPrecedence(t *testing.T) {
	cfg := config.New()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 9000

	assert.Equal(t, "0.0.0.0:1234", determineAddr("0.0.0.0:1234", cfg))
	assert.Equal(t, "127.0.0.1:9000", determineAddr("", cfg))
}

func TestDetermineAddrDefaultsWhenConfigEmpty(t *testing.T) {
	cfg := config.New()
	cfg.Server.Host = ""
	cfg.Server.Port = 0

	assert.Equal(t, "0.0.0.0:8080", determineAddr("", cfg))
}
