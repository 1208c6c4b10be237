package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuery(t *testing.T) {
	cmd, err := ParseQuery("command=post_image&is_cal_image=y&voltage=5&xp_id=1")
	require.NoError(t, err)

	assert.Equal(t, "post_image", cmd.Name)
	assert.Equal(t, "y", cmd.Get("is_cal_image"))
	assert.Equal(t, "5", cmd.Get("voltage"))
	assert.Equal(t, "1", cmd.Get("xp_id"))
}

func TestParseQuery_MalformedPair(t *testing.T) {
	_, err := ParseQuery("command=post_image&bad")
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestParseQuery_MissingCommandField(t *testing.T) {
	_, err := ParseQuery("voltage=5&xp_id=1")
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestParseQuery_URLDecodesValues(t *testing.T) {
	cmd, err := ParseQuery("command=post_image&note=hello%20world")
	require.NoError(t, err)
	assert.Equal(t, "hello world", cmd.Get("note"))
}

func TestParseQuery_ValueContainingEquals(t *testing.T) {
	cmd, err := ParseQuery("command=post_image&expr=a=b")
	require.NoError(t, err)
	assert.Equal(t, "a=b", cmd.Get("expr"))
}

func TestRequire(t *testing.T) {
	cmd, err := ParseQuery("command=run_capturejob&duration=30&interval=1")
	require.NoError(t, err)

	assert.NoError(t, cmd.Require("duration", "interval"))

	err = cmd.Require("duration", "interval", "startup_delay")
	require.ErrorIs(t, err, ErrInvalidParameter)
	assert.Contains(t, err.Error(), "startup_delay")
}

func TestFloat(t *testing.T) {
	cmd, err := ParseQuery("command=run_capturejob&duration=2.5&interval=abc")
	require.NoError(t, err)

	duration, err := cmd.Float("duration")
	require.NoError(t, err)
	assert.Equal(t, 2.5, duration)

	_, err = cmd.Float("interval")
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = cmd.Float("missing")
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestIsTruthy(t *testing.T) {
	for _, raw := range []string{"TRUE", "true", "t", "Yes", "y", "1"} {
		assert.True(t, IsTruthy(raw), raw)
	}
	for _, raw := range []string{"false", "0", "", "no", "maybe"} {
		assert.False(t, IsTruthy(raw), raw)
	}
}
