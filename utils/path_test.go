package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPath(t *testing.T) {
	t.Run("test PathUnder", testPathUnder)
	t.Run("test LinkTarget", testLinkTarget)
	t.Run("test ElapsedSince", testElapsedSince)
}

func testPathUnder(t *testing.T) {
	assert.True(t, IsPathUnder("/tmp/nas-roms", "/tmp/nas-roms/psx/game.cue"))
	assert.True(t, IsPathUnder("/tmp/nas-roms", "/tmp/nas-roms"))
	assert.False(t, IsPathUnder("/tmp/nas-roms", "/tmp/nas-roms2/psx/game.cue"))
	assert.False(t, IsPathUnder("/tmp/nas-roms", "/home/deck/roms/psx/game.cue"))
}

func testLinkTarget(t *testing.T) {
	assert.Equal(t, "/tmp/nas-roms/psx/a.cue", ResolveLinkTarget("/roms/psx/a.cue", "/tmp/nas-roms/psx/a.cue"))
	assert.Equal(t, "/roms/3ds/a.3ds", ResolveLinkTarget("/roms/n3ds/a.3ds", "../3ds/a.3ds"))
}

func testElapsedSince(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	started := MakeTimeToString(now.Add(-90 * time.Second))

	assert.Equal(t, 90*time.Second, GetElapsedSince(started, now))
	assert.Equal(t, time.Duration(0), GetElapsedSince("garbage", now))
}
