package adb

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"droid/internal/agent/ports"
)

func TestScalePoint(t *testing.T) {
	screen := &ports.Screenshot{Width: 1080, Height: 2400}

	x, y := scalePoint([]int{500, 500}, screen)
	assert.Equal(t, 540, x)
	assert.Equal(t, 1200, y)

	x, y = scalePoint([]int{0, 0}, screen)
	assert.Equal(t, 0, x)
	assert.Equal(t, 0, y)

	x, y = scalePoint([]int{999, 999}, screen)
	assert.Equal(t, 1078, x)
	assert.Equal(t, 2397, y)
}

func TestScalePointDegenerateInput(t *testing.T) {
	x, y := scalePoint(nil, &ports.Screenshot{Width: 1080, Height: 2400})
	assert.Zero(t, x)
	assert.Zero(t, y)

	x, y = scalePoint([]int{500, 500}, nil)
	assert.Zero(t, x)
	assert.Zero(t, y)

	x, y = scalePoint([]int{500, 500}, &ports.Screenshot{})
	assert.Zero(t, x)
	assert.Zero(t, y)
}

func TestEscapeText(t *testing.T) {
	assert.Equal(t, "hello%sworld", escapeText("hello world"))
	assert.Equal(t, `a\&b`, escapeText("a&b"))
	assert.Equal(t, `say%s\"hi\"`, escapeText(`say "hi"`))
	assert.Equal(t, "plain", escapeText("plain"))
}
