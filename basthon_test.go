package basthon_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/basthon"
	"github.com/aretw0/basthon/pkg/adapters/memory"
	"github.com/aretw0/basthon/pkg/domain"
	"github.com/aretw0/basthon/pkg/packages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKernel(t *testing.T, opts ...basthon.Option) *basthon.Kernel {
	t.Helper()
	opts = append([]basthon.Option{basthon.WithRootDir(t.TempDir())}, opts...)
	k, err := basthon.New(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close() })
	return k
}

type collector struct {
	mu     sync.Mutex
	events map[string][]domain.Payload
}

func collect(k *basthon.Kernel, names ...string) *collector {
	c := &collector{events: make(map[string][]domain.Payload)}
	for _, name := range names {
		name := name
		k.Subscribe(name, func(p domain.Payload) error {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.events[name] = append(c.events[name], p)
			return nil
		})
	}
	return c
}

func (c *collector) get(name string) []domain.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Payload(nil), c.events[name]...)
}

func run(t *testing.T, k *basthon.Kernel, code string) *domain.Result {
	t.Helper()
	res, err := k.Run(context.Background(), code, nil)
	require.NoError(t, err, code)
	return res
}

func TestKernel_OnePlusOne(t *testing.T) {
	k := newKernel(t)
	events := collect(k, domain.EventEvalFinished, domain.EventEvalError)

	_, err := k.Run(context.Background(), "1+1", map[string]any{"cell_id": "abc"})
	require.NoError(t, err)

	finished := events.get(domain.EventEvalFinished)
	require.Len(t, finished, 1)
	assert.Equal(t, "abc", finished[0]["cell_id"])
	assert.Equal(t, 1, finished[0][domain.KeyExecutionCount])
	assert.Equal(t, domain.Bundle{domain.MimeText: "2"}, finished[0][domain.KeyResult])
	assert.Empty(t, events.get(domain.EventEvalError))
}

func TestKernel_HistoryBindings(t *testing.T) {
	k := newKernel(t)

	run(t, k, "10")
	run(t, k, "var unused = 1")
	run(t, k, "20")

	assert.Equal(t, "20", run(t, k, "_").Bundle.Text())
	assert.Equal(t, "20", run(t, k, "__").Bundle.Text(), "_ itself rolled in")
	assert.Equal(t, "'20'", run(t, k, "In[3]").Bundle.Text())
	assert.Equal(t, "10", run(t, k, "Out[1]").Bundle.Text())
	assert.Equal(t, "'__main__'", run(t, k, "__name__").Bundle.Text())

	hist, err := k.History(context.Background())
	require.NoError(t, err)
	require.Len(t, hist, 8)
	assert.Equal(t, basthon.HistoryEntry{ExecutionCount: 1, Input: "10", Output: "10", HasOutput: true}, hist[0])
	assert.False(t, hist[1].HasOutput)
}

func TestKernel_FaultLeavesOutUnchanged(t *testing.T) {
	k := newKernel(t)
	events := collect(k, domain.EventEvalOutput, domain.EventEvalError)

	run(t, k, "1")
	_, err := k.Run(context.Background(), "undefinedName + 1", nil)
	require.Error(t, err)

	require.Len(t, events.get(domain.EventEvalError), 1)
	out := events.get(domain.EventEvalOutput)
	require.Len(t, out, 1)
	assert.Equal(t, "stderr", out[0][domain.KeyStream])

	assert.Equal(t, "[1]", run(t, k, "Object.keys(Out).map(Number)").Bundle.Text())
	assert.Equal(t, 3, k.ExecutionCount())
}

func TestKernel_Restart(t *testing.T) {
	k := newKernel(t)
	run(t, k, `var kept = require("uuid").NIL`)
	run(t, k, "kept")

	require.NoError(t, k.Restart(context.Background()))

	assert.Equal(t, 0, k.ExecutionCount())
	assert.Equal(t, "'undefined'", run(t, k, "typeof kept").Bundle.Text())
	assert.Equal(t, `[""]`, run(t, k, "In.slice(0, 1)").Bundle.Text())
	assert.Contains(t, k.Loaded(), "uuid", "packages survive a restart")
	assert.Equal(t, "'00000000-0000-0000-0000-000000000000'", run(t, k, `require("uuid").NIL`).Bundle.Text())
}

func TestKernel_FinishedHandlerCanRestart(t *testing.T) {
	k := newKernel(t)
	restarted := make(chan error, 1)
	k.Subscribe(domain.EventEvalFinished, func(domain.Payload) error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		restarted <- k.Restart(ctx)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := k.Run(ctx, "1+1", nil)
	require.NoError(t, err)
	assert.Equal(t, "2", res.Bundle.Text())

	require.NoError(t, <-restarted)
	assert.Equal(t, 0, k.ExecutionCount())
}

func TestKernel_ErrorHandlerCanReadHistory(t *testing.T) {
	k := newKernel(t)
	type snapshot struct {
		entries []basthon.HistoryEntry
		err     error
	}
	seen := make(chan snapshot, 1)
	k.Subscribe(domain.EventEvalError, func(domain.Payload) error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		entries, err := k.History(ctx)
		if err == nil {
			err = k.Display(ctx, "after the fault")
		}
		seen <- snapshot{entries, err}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := k.Run(ctx, "throw new Error('boom')", nil)
	require.Error(t, err)

	got := <-seen
	require.NoError(t, got.err)
	require.Len(t, got.entries, 1)
	assert.Equal(t, "throw new Error('boom')", got.entries[0].Input)
	assert.False(t, got.entries[0].HasOutput)
}

type fixedInput string

func (f fixedInput) ReadLine(context.Context, string) (string, bool, error) {
	return string(f), true, nil
}

func TestKernel_InputProvider(t *testing.T) {
	k := newKernel(t, basthon.WithInputProvider(fixedInput("7")))
	assert.Equal(t, "14", run(t, k, "Number(input('n? ')) * 2").Bundle.Text())

	restore := k.SetInputProvider(fixedInput("late"))
	assert.Equal(t, "'late'", run(t, k, "prompt()").Bundle.Text())
	restore()
	assert.Equal(t, "'7'", run(t, k, "input()").Bundle.Text())
}

func TestKernel_PutModule(t *testing.T) {
	k := newKernel(t)
	ctx := context.Background()

	require.NoError(t, k.PutModule(ctx, "greet.js", []byte(`module.exports = (n) => "hi " + n`)))
	assert.Equal(t, "'hi bob'", run(t, k, `require("greet")("bob")`).Bundle.Text())
	assert.Contains(t, k.Importables(), "greet")

	require.NoError(t, k.PutModule(ctx, "greet.js", []byte(`module.exports = (n) => "bye " + n`)))
	assert.Equal(t, "'bye bob'", run(t, k, `require("greet")("bob")`).Bundle.Text())
}

func TestKernel_PutModuleLoadsDependencies(t *testing.T) {
	k := newKernel(t)

	require.NoError(t, k.PutModule(context.Background(), "ids.js", []byte(`module.exports = require("uuid").NIL`)))
	assert.Contains(t, k.Loaded(), "uuid")
}

func TestKernel_Files(t *testing.T) {
	k := newKernel(t)
	events := collect(k, domain.EventFileDownload)

	require.NoError(t, k.PutFile("/data/in.txt", []byte("abc")))
	run(t, k, `require("fs").writeFileSync("/data/out.txt", require("fs").readFileSync("/data/in.txt").toUpperCase())`)

	got, err := k.GetFile("/data/out.txt")
	require.NoError(t, err)
	assert.Equal(t, "ABC", string(got))

	run(t, k, `basthon.download("/data/out.txt")`)
	downloads := events.get(domain.EventFileDownload)
	require.Len(t, downloads, 1)
	assert.Equal(t, "out.txt", downloads[0][domain.KeyFilename])
	assert.Equal(t, []byte("ABC"), downloads[0][domain.KeyContent])
}

func TestKernel_Display(t *testing.T) {
	k := newKernel(t)
	events := collect(k, domain.EventEvalDisplay)

	run(t, k, `basthon.display("x")`)
	require.NoError(t, k.Display(context.Background(), "host"))

	displays := events.get(domain.EventEvalDisplay)
	require.Len(t, displays, 2)
	assert.Equal(t, domain.Bundle{domain.MimeText: "'x'"}, displays[0][domain.KeyContent])
	assert.Equal(t, domain.Bundle{domain.MimeText: "host"}, displays[1][domain.KeyContent])
	assert.Equal(t, "2", run(t, k, "basthon.executionCount()").Bundle.Text())
}

func TestKernel_ExternalPackageFetchedOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`exports.twice = (x) => x * 2`))
	}))
	defer srv.Close()

	k := newKernel(t, basthon.WithCatalogue(packages.NewCatalogue(
		packages.Descriptor{Name: "twice", Locator: srv.URL + "/twice.js"},
	)))

	assert.Equal(t, "4", run(t, k, `require("twice").twice(2)`).Bundle.Text())
	assert.Equal(t, "6", run(t, k, `require("twice").twice(3)`).Bundle.Text())
	assert.Equal(t, int32(1), hits.Load())
}

func TestKernel_Watch(t *testing.T) {
	k := newKernel(t)
	dir := t.TempDir()

	w, err := k.Watch(context.Background(), dir)
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "watched.js"), []byte(`module.exports = 7`), 0o644))
	require.Eventually(t, func() bool {
		for _, name := range k.Importables() {
			if name == "watched" {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "7", run(t, k, `require("watched")`).Bundle.Text())
}

func TestKernel_Backups(t *testing.T) {
	store := memory.NewStore()
	k := newKernel(t, basthon.WithBackupStore(store))

	require.NoError(t, k.Backups().Save(context.Background(), "cell", []byte("1+1")))
	keys, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"cell"}, keys)
}

func TestKernel_Close(t *testing.T) {
	k, err := basthon.New(context.Background())
	require.NoError(t, err)

	require.NoError(t, k.Close())
	require.NoError(t, k.Close())

	_, err = k.Run(context.Background(), "1", nil)
	assert.ErrorIs(t, err, domain.ErrKernelStopped)
}
