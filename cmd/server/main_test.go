package main

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-ledger/internal/chain"
	"token-ledger/internal/chain/stub"
	"token-ledger/internal/config"
)

func TestSubmitter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("production without executor is refused", func(t *testing.T) {
		_, err := submitter(&config.Config{Environment: "production"}, logger)
		assert.ErrorIs(t, err, errNoExecutor)
	})

	t.Run("development falls back to the stub", func(t *testing.T) {
		sub, err := submitter(&config.Config{Environment: "development"}, logger)
		require.NoError(t, err)
		assert.IsType(t, &stub.Submitter{}, sub)
	})

	t.Run("configured executor is used everywhere", func(t *testing.T) {
		for _, env := range []string{"development", "production"} {
			sub, err := submitter(&config.Config{Environment: env, ExecutorEndpoint: "http://executor:8545"}, logger)
			require.NoError(t, err)
			assert.IsType(t, &chain.HTTPClient{}, sub)
		}
	})
}
