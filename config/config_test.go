// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mellium.im/xclient"
	"mellium.im/xclient/config"
	"mellium.im/xclient/internal/xmpptest"
	"mellium.im/xclient/sm"
	"mellium.im/xclient/store"
)

func writeFile(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "xclient.toml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
	assert.Equal(t, uint32(5), cfg.SM.AckThreshold)
	assert.Equal(t, 3, cfg.SM.RequestThreshold)
	assert.Equal(t, time.Second, cfg.SM.RequestInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.SM.AnswerDelay)
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
[session]
request_timeout = "10s"
duplicate_modules = "reject"

[sm]
resume = false
max_resume = 300
ack_threshold = 10
request_interval = "250ms"

[store]
path = "/var/lib/xclient/state.db"

[log]
level = "debug"
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Session.RequestTimeout)
	assert.Equal(t, "reject", cfg.Session.DuplicateModules)
	assert.True(t, cfg.SM.Enabled, "unset values should keep their default")
	assert.False(t, cfg.SM.Resume)
	assert.Equal(t, 5*time.Minute, cfg.MaxResume())
	assert.Equal(t, uint32(10), cfg.SM.AckThreshold)
	assert.Equal(t, 3, cfg.SM.RequestThreshold)
	assert.Equal(t, 250*time.Millisecond, cfg.SM.RequestInterval)
	assert.Equal(t, "/var/lib/xclient/state.db", cfg.Store.Path)
	assert.Equal(t, zerolog.DebugLevel, cfg.Level())
}

func TestEnvOverrides(t *testing.T) {
	path := writeFile(t, `
[sm]
ack_threshold = 10
`)
	t.Setenv("XCLIENT_SM_ACK_THRESHOLD", "2")
	t.Setenv("XCLIENT_SM_ANSWER_DELAY", "1s")
	t.Setenv("XCLIENT_LOG_LEVEL", "warn")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), cfg.SM.AckThreshold)
	assert.Equal(t, time.Second, cfg.SM.AnswerDelay)
	assert.Equal(t, zerolog.WarnLevel, cfg.Level())
}

func TestLoadErrors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = config.Load(writeFile(t, `[sm`))
	assert.Error(t, err)

	t.Setenv("XCLIENT_SM_ACK_THRESHOLD", "many")
	_, err = config.Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	for i, tc := range []struct {
		mutate func(*config.Config)
		msg    string
	}{
		0: {mutate: func(c *config.Config) { c.Session.RequestTimeout = 0 }, msg: "request_timeout"},
		1: {mutate: func(c *config.Config) { c.Session.DuplicateModules = "ignore" }, msg: "duplicate_modules"},
		2: {mutate: func(c *config.Config) { c.SM.MaxResume = -1 }, msg: "max_resume"},
		3: {mutate: func(c *config.Config) { c.SM.AckThreshold = 0 }, msg: "ack_threshold"},
		4: {mutate: func(c *config.Config) { c.SM.RequestThreshold = -1 }, msg: "request_threshold"},
		5: {mutate: func(c *config.Config) { c.SM.RequestInterval = -time.Second }, msg: "request_interval"},
		6: {mutate: func(c *config.Config) { c.SM.AnswerDelay = -time.Second }, msg: "answer_delay"},
		7: {mutate: func(c *config.Config) { c.Log.Level = "loud" }, msg: "log.level"},
	} {
		cfg := config.Default()
		tc.mutate(&cfg)
		err := cfg.Validate()
		if assert.Error(t, err, "case %d", i) {
			assert.Contains(t, err.Error(), tc.msg, "case %d", i)
		}
	}
	assert.NoError(t, config.Default().Validate())
}

func TestOptions(t *testing.T) {
	cfg := config.Default()
	assert.Len(t, cfg.SessionOptions(zerolog.Nop()), 3)
	assert.Len(t, cfg.SMOptions(), 5)
}

func TestOpenStore(t *testing.T) {
	cfg := config.Default()
	st, closeStore, err := cfg.OpenStore()
	require.NoError(t, err)
	assert.IsType(t, &store.Memory{}, st)
	require.NoError(t, closeStore())

	cfg.Store.Path = filepath.Join(t.TempDir(), "state.db")
	st, closeStore, err = cfg.OpenStore()
	require.NoError(t, err)
	assert.IsType(t, &store.SQLite{}, st)
	require.NoError(t, closeStore())
}

func TestEngine(t *testing.T) {
	cfg := config.Default()
	cfg.SM.Enabled = false
	assert.Nil(t, cfg.Engine(nil, ""))

	cfg.SM.Enabled = true
	e := cfg.Engine(&store.Memory{}, "juliet@example.com")
	require.NotNil(t, e)
	assert.Equal(t, sm.Disabled, e.State())
}

func TestEnable(t *testing.T) {
	cfg := config.Default()
	cfg.SM.MaxResume = 60
	e := cfg.Engine(nil, "")
	s, tr := xmpptest.NewSession(t, xclient.Modules(e))
	cfg.Enable(e, nil)
	xmpptest.Sync(t, s)

	got := tr.Stanzas()
	require.Len(t, got, 1)
	assert.Equal(t, "enable", got[0].Name())
	assert.Equal(t, "true", got[0].Attr("resume"))
	assert.Equal(t, "60", got[0].Attr("max"))
}
