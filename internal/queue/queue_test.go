package queue

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/enqlink/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.SendDir = filepath.Join(root, "out")
	cfg.BackupDir = filepath.Join(root, "sent")
	cfg.ReceiveDir = filepath.Join(root, "in")
	require.NoError(t, os.MkdirAll(cfg.SendDir, 0o755))
	return cfg
}

func newQueue(t *testing.T, cfg Config) *Queue {
	t.Helper()
	q, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(q.Close)
	return q
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestHasFileToSendMatchesMaskInNameOrder(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t)
	writeFile(t, cfg.SendDir, "b_2_send.txt", []byte("b"))
	writeFile(t, cfg.SendDir, "a_2_send.txt", []byte("a"))
	writeFile(t, cfg.SendDir, "ignored.txt", []byte("x"))
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.SendDir, "d_2_send.txt"), 0o755))

	q := newQueue(t, cfg)
	require.True(t, q.HasFileToSend())
	require.Equal(t, filepath.Join(cfg.SendDir, "a_2_send.txt"), q.Current())

	n, err := q.ReadCurrentFile()
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []byte("a"), q.Buffer())
}

func TestHasFileToSendEmptyDir(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t)
	q := newQueue(t, cfg)
	require.False(t, q.HasFileToSend())
	require.Empty(t, q.Current())

	cfg.SendDir = filepath.Join(t.TempDir(), "missing")
	q2 := newQueue(t, cfg)
	require.False(t, q2.HasFileToSend())
}

func TestReadCurrentFileMissing(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t)
	path := writeFile(t, cfg.SendDir, "a_2_send.txt", []byte("abc"))
	q := newQueue(t, cfg)
	require.True(t, q.HasFileToSend())
	require.NoError(t, os.Remove(path))

	_, err := q.ReadCurrentFile()
	require.ErrorIs(t, err, ErrFileMissing)
}

func TestReadCurrentFileEmpty(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t)
	path := writeFile(t, cfg.SendDir, "a_2_send.txt", nil)
	q := newQueue(t, cfg)
	require.True(t, q.HasFileToSend())

	_, err := q.ReadCurrentFile()
	require.ErrorIs(t, err, ErrEmptyOrUnreadable)
	require.FileExists(t, path)
}

func TestReadCurrentFileTooLarge(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t)
	cfg.Capacity = 16
	writeFile(t, cfg.SendDir, "a_2_send.txt", bytes.Repeat([]byte("z"), 17))
	q := newQueue(t, cfg)
	require.True(t, q.HasFileToSend())
	_, err := q.ReadCurrentFile()
	require.ErrorIs(t, err, ErrFileTooLarge)

	writeFile(t, cfg.SendDir, "a_2_send.txt", bytes.Repeat([]byte("z"), 16))
	n, err := q.ReadCurrentFile()
	require.NoError(t, err)
	require.Equal(t, 16, n)
}

func TestCommitUsesAndAdvancesCounter(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t)
	q := newQueue(t, cfg)

	q.BeginReceive()
	require.NoError(t, q.AppendFrame([]byte("ABC")))
	require.NoError(t, q.AppendFrame([]byte("DEF")))
	first, err := q.CommitReceivedFile()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(cfg.ReceiveDir, "msg_received_00001.txt"), first)
	data, err := os.ReadFile(first)
	require.NoError(t, err)
	require.Equal(t, "ABCDEF", string(data))

	q.BeginReceive()
	require.NoError(t, q.AppendFrame([]byte("next")))
	second, err := q.CommitReceivedFile()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(cfg.ReceiveDir, "msg_received_00002.txt"), second)

	counter, err := os.ReadFile(filepath.Join(cfg.ReceiveDir, ".counter"))
	require.NoError(t, err)
	require.Equal(t, "3", string(counter))
}

func TestCommitCounterFromFile(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.ReceiveDir, 0o755))
	writeFile(t, cfg.ReceiveDir, ".counter", []byte("41\n"))
	q := newQueue(t, cfg)
	q.BeginReceive()
	require.NoError(t, q.AppendFrame([]byte("x")))
	path, err := q.CommitReceivedFile()
	require.NoError(t, err)
	require.Equal(t, "msg_received_00041.txt", filepath.Base(path))

	writeFile(t, cfg.ReceiveDir, ".counter", []byte("garbage"))
	path, err = q.CommitReceivedFile()
	require.NoError(t, err)
	require.Equal(t, "msg_received_00001.txt", filepath.Base(path))
}

func TestCommitSharedCounterAcrossQueues(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t)
	a := newQueue(t, cfg)
	b := newQueue(t, cfg)

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		for _, q := range []*Queue{a, b} {
			q.BeginReceive()
			require.NoError(t, q.AppendFrame([]byte("d")))
			path, err := q.CommitReceivedFile()
			require.NoError(t, err)
			require.False(t, seen[path], "duplicate %s", path)
			seen[path] = true
		}
	}
	require.Len(t, seen, 10)
}

func TestAppendFrameOverflow(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t)
	cfg.Capacity = 8
	q := newQueue(t, cfg)
	q.BeginReceive()
	require.NoError(t, q.AppendFrame([]byte("12345")))
	require.ErrorIs(t, q.AppendFrame([]byte("6789")), ErrBufferFull)
	require.Equal(t, []byte("12345"), q.Buffer())
	require.NoError(t, q.AppendFrame([]byte("678")))
	require.Equal(t, 8, len(q.Buffer()))
}

func TestArchiveReplacesExistingBackup(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t)
	src := writeFile(t, cfg.SendDir, "a_2_send.txt", []byte("new"))
	require.NoError(t, os.MkdirAll(cfg.BackupDir, 0o755))
	writeFile(t, cfg.BackupDir, "a_2_send.txt", []byte("old"))

	q := newQueue(t, cfg)
	require.True(t, q.HasFileToSend())
	dest, err := q.ArchiveSentFile()
	require.NoError(t, err)
	require.NoFileExists(t, src)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "new", string(data))
	require.Empty(t, q.Current())

	_, err = q.ArchiveSentFile()
	require.ErrorIs(t, err, ErrFileMissing)
}

func TestClaimsAreExclusive(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t)
	writeFile(t, cfg.SendDir, "a_2_send.txt", []byte("a"))
	writeFile(t, cfg.SendDir, "b_2_send.txt", []byte("b"))

	a := newQueue(t, cfg)
	b := newQueue(t, cfg)
	c := newQueue(t, cfg)
	require.True(t, a.HasFileToSend())
	require.True(t, b.HasFileToSend())
	require.NotEqual(t, a.Current(), b.Current())
	require.False(t, c.HasFileToSend())

	_, err := a.ArchiveSentFile()
	require.NoError(t, err)
	require.False(t, c.HasFileToSend())

	b.Close()
	require.True(t, c.HasFileToSend())
	require.Equal(t, "b_2_send.txt", filepath.Base(c.Current()))
}

func TestWatchedEmptyDirSkipsRescan(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t)
	q := newQueue(t, cfg)
	q.send.watching.Add(1)
	defer q.send.watching.Add(-1)

	require.False(t, q.HasFileToSend())
	writeFile(t, cfg.SendDir, "a_2_send.txt", []byte("a"))
	require.False(t, q.HasFileToSend())

	q.send.gen.Add(1)
	require.True(t, q.HasFileToSend())
}

func TestWatchSeesNewFile(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t)
	q := newQueue(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, cfg.SendDir) }()
	require.Eventually(t, func() bool { return q.send.watching.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.False(t, q.HasFileToSend())
	writeFile(t, cfg.SendDir, "a_2_send.txt", []byte("a"))
	require.Eventually(t, q.HasFileToSend, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.Zero(t, q.send.watching.Load())
}

func TestConfigValidate(t *testing.T) {
	testlog.Start(t)
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Mask = "[bad"
	require.ErrorIs(t, cfg.Validate(), ErrInvalidMask)

	for _, pattern := range []string{"plain.txt", "%d_%d.txt", "%s.txt", "dir/%d.txt"} {
		cfg = DefaultConfig()
		cfg.NamePattern = pattern
		require.ErrorIs(t, cfg.Validate(), ErrInvalidPattern, pattern)
	}
	cfg = DefaultConfig()
	cfg.NamePattern = "100%%_%04d.txt"
	require.NoError(t, cfg.Validate())

	cfg = Config{}.WithDefaults()
	require.Equal(t, DefaultConfig(), cfg)
}
