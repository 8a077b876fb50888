package hook

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/deckdock/romcache/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHook(t *testing.T) {
	t.Run("test RunAllOrder", testRunAllOrder)
	t.Run("test RunAllContinuesOnFailure", testRunAllContinuesOnFailure)
	t.Run("test CommandHook", testCommandHook)
	t.Run("test CommandHookTimeout", testCommandHookTimeout)
	t.Run("test InlineLauncher", testInlineLauncher)
	t.Run("test ProcessLauncher", testProcessLauncher)
	t.Run("test FireWithoutHooks", testFireWithoutHooks)
}

func testRunAllOrder(t *testing.T) {
	runner := NewRunner(nil)

	order := []string{}
	for _, name := range []string{"index", "boxart", "shortcuts"} {
		hookName := name
		runner.Register(NewFuncHook(hookName, func(ctx context.Context) error {
			order = append(order, hookName)
			return nil
		}))
	}

	assert.NoError(t, runner.RunAll(context.Background(), "fetch"))
	assert.Equal(t, []string{"index", "boxart", "shortcuts"}, order)
}

func testRunAllContinuesOnFailure(t *testing.T) {
	runner := NewRunner(nil)
	metrics := report.NewMetrics()
	runner.SetMetrics(metrics)

	ran := false
	runner.Register(NewFuncHook("broken", func(ctx context.Context) error {
		return errors.New("index is corrupt")
	}))
	runner.Register(NewFuncHook("after", func(ctx context.Context) error {
		ran = true
		return nil
	}))

	err := runner.RunAll(context.Background(), "evict")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.True(t, ran)
}

func testCommandHook(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "reason")

	_, err := NewCommandHook("empty", nil, 0)
	assert.Error(t, err)

	hook, err := NewCommandHook("record", []string{"sh", "-c", "echo \"$" + ReasonEnvKey + "\" > " + outPath}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "record", hook.GetName())

	assert.NoError(t, hook.Run(WithReason(context.Background(), "fetch")))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "fetch", strings.TrimSpace(string(data)))

	failing, err := NewCommandHook("fail", []string{"sh", "-c", "echo oops; exit 1"}, 0)
	require.NoError(t, err)
	err = failing.Run(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "oops")
}

func testCommandHookTimeout(t *testing.T) {
	hook, err := NewCommandHook("slow", []string{"sleep", "10"}, 100*time.Millisecond)
	require.NoError(t, err)

	err = hook.Run(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func testInlineLauncher(t *testing.T) {
	launcher := NewInlineLauncher()
	runner := NewRunner(launcher)
	assert.False(t, launcher.IsDetached())

	mutex := sync.Mutex{}
	reasons := []string{}
	runner.Register(NewFuncHook("record", func(ctx context.Context) error {
		mutex.Lock()
		defer mutex.Unlock()

		reasons = append(reasons, ctx.Value(reasonKey{}).(string))
		return nil
	}))

	runner.Fire("fetch")
	runner.Fire("evict")
	launcher.Wait()

	assert.ElementsMatch(t, []string{"fetch", "evict"}, reasons)
}

func testProcessLauncher(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "child")
	logPath := filepath.Join(dir, "logs", "hooks.log")

	launcher := NewProcessLauncher("sh", []string{"-c", "echo \"$0\" > " + outPath + "; echo ran"}, logPath)
	assert.True(t, launcher.IsDetached())

	runner := NewRunner(launcher)
	// the child builds its own hooks; the parent only needs to know there are some
	runner.Register(NewFuncHook("reindex", func(ctx context.Context) error {
		return nil
	}))
	runner.Fire("fetch")

	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(outPath)
		return err == nil && strings.TrimSpace(string(data)) == "fetch"
	}, 5*time.Second, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(logPath)
		return err == nil && strings.Contains(string(data), "ran")
	}, 5*time.Second, 20*time.Millisecond)
}

func testFireWithoutHooks(t *testing.T) {
	launcher := NewInlineLauncher()
	runner := NewRunner(launcher)

	runner.Fire("fetch")
	launcher.Wait()
	assert.Empty(t, runner.GetHooks())
}
