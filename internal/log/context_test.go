package log

import (
	"bytes"
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, GetLogger(ctx), L)

	ctx = WithLogger(ctx, G(ctx).WithField("test", "one"))
	assert.Equal(t, GetLogger(ctx).Data["test"], "one")
	assert.Same(t, G(ctx), GetLogger(ctx))
}

func TestModuleContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, GetModulePath(ctx), "")

	ctx = WithModule(ctx, "provision")
	assert.Equal(t, GetModulePath(ctx), "provision")

	same := WithModule(ctx, "provision")
	assert.Equal(t, GetModulePath(same), "provision")

	ctx = WithModule(ctx, "rollback")
	assert.Equal(t, GetModulePath(ctx), "provision/rollback")
	assert.Equal(t, G(ctx).Data["module"], "provision/rollback")
}

func TestConfigure(t *testing.T) {
	defer logrus.SetOutput(logrus.StandardLogger().Out)
	defer logrus.SetLevel(logrus.GetLevel())

	var buf bytes.Buffer
	require.NoError(t, Configure(&buf, "debug", true))
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())

	logrus.Debug("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.NotContains(t, buf.String(), "\x1b[")

	assert.Error(t, Configure(&buf, "loud", true))
}
