package playback

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRenderer_ReportsFinished(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	media := filepath.Join(t.TempDir(), "a.mp4")
	require.NoError(t, os.WriteFile(media, []byte("x"), 0644))

	r := NewExecRenderer("sh", []string{"-c", "exit 0", "player"}, logger)
	done := make(chan int, 1)
	r.OnFinished(func(slot int) { done <- slot })

	require.NoError(t, r.Load(1, media))
	require.NoError(t, r.Play(1))

	select {
	case slot := <-done:
		assert.Equal(t, 1, slot)
	case <-time.After(5 * time.Second):
		t.Fatal("player exit not reported")
	}
}

func TestExecRenderer_StopSuppressesFinished(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	media := filepath.Join(t.TempDir(), "a.mp4")
	require.NoError(t, os.WriteFile(media, []byte("x"), 0644))

	r := NewExecRenderer("sh", []string{"-c", "sleep 10", "player"}, logger)
	done := make(chan int, 1)
	r.OnFinished(func(slot int) { done <- slot })

	require.NoError(t, r.Load(0, media))
	require.NoError(t, r.Play(0))
	r.Stop(0)

	select {
	case <-done:
		t.Fatal("stopped item reported as finished")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestExecRenderer_LoadMissingFile(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	r := NewExecRenderer("sh", nil, logger)

	assert.Error(t, r.Load(0, filepath.Join(t.TempDir(), "absent.mp4")))
	assert.Error(t, r.Play(0))
}

func TestExecRenderer_StillImagesStayOpen(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	dir := t.TempDir()

	tests := []struct {
		name      string
		file      string
		wantStill bool
	}{
		{name: "image", file: "001.jpg", wantStill: true},
		{name: "video", file: "002.mp4", wantStill: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			media := filepath.Join(dir, tt.file)
			require.NoError(t, os.WriteFile(media, []byte("x"), 0644))
			out := filepath.Join(dir, tt.name+".args")

			script := fmt.Sprintf(`printf '%%s\n' "$@" > '%s'`, out)
			r := NewExecRenderer("sh", []string{"-c", script, "player", "--fs"}, logger)
			done := make(chan int, 1)
			r.OnFinished(func(slot int) { done <- slot })

			require.NoError(t, r.Load(0, media))
			require.NoError(t, r.Play(0))
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("player exit not reported")
			}

			data, err := os.ReadFile(out)
			require.NoError(t, err)
			args := strings.Fields(string(data))
			require.NotEmpty(t, args)
			assert.Equal(t, "--fs", args[0])
			assert.Equal(t, media, args[len(args)-1])
			if tt.wantStill {
				assert.Contains(t, args, "--image-display-duration=inf")
			} else {
				assert.NotContains(t, args, "--image-display-duration=inf")
			}
		})
	}
}
