package content

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chaterr "github.com/vinayprograms/chatkit/errors"
)

type item struct {
	Text   string `json:"text"`
	Author string `json:"author,omitempty"`
}

// storeContract runs the behavior every backend shares.
func storeContract(t *testing.T, s Store[item]) {
	t.Helper()
	ctx := context.Background()

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	_, ok, err := s.Get(ctx, "1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "1", item{Text: "one"}))
	require.NoError(t, s.Put(ctx, "2", item{Text: "two", Author: "bob"}))
	require.NoError(t, s.Put(ctx, "1", item{Text: "uno"}))

	v, ok, err := s.Get(ctx, "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "uno", v.Text)

	all, err = s.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, IDs(all))

	existed, err := s.Delete(ctx, "1")
	require.NoError(t, err)
	assert.True(t, existed)
	existed, err = s.Delete(ctx, "1")
	require.NoError(t, err)
	assert.False(t, existed)

	err = s.Put(ctx, "", item{})
	assert.True(t, chaterr.Is(err, chaterr.ErrCodeInvalidInput))
}

func TestFileStore_Contract(t *testing.T) {
	s, err := NewFileStore[item](FileStoreConfig{Path: filepath.Join(t.TempDir(), "data", "quotes.json")})
	require.NoError(t, err)
	storeContract(t, s)
}

func TestFileStore_RequiredMissing(t *testing.T) {
	s, err := NewFileStore[item](FileStoreConfig{Path: filepath.Join(t.TempDir(), "missing.json"), Required: true})
	require.NoError(t, err)

	_, err = s.GetAll(context.Background())
	require.Error(t, err)
	assert.True(t, chaterr.Is(err, chaterr.ErrCodeNotFound))
}

func TestFileStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quotes.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	s, err := NewFileStore[item](FileStoreConfig{Path: path})
	require.NoError(t, err)

	_, err = s.GetAll(context.Background())
	assert.True(t, chaterr.Is(err, chaterr.ErrCodeCorruptState))

	// A corrupt file is never overwritten by a write.
	err = s.Put(context.Background(), "1", item{Text: "x"})
	assert.True(t, chaterr.Is(err, chaterr.ErrCodeCorruptState))
	data, _ := os.ReadFile(path)
	assert.Equal(t, "{not json", string(data))
}

func TestFileStore_ReadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quotes.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"-5":{"text":"irc"},"12":{"text":"tg"}}`), 0o644))
	s, err := NewFileStore[item](FileStoreConfig{Path: path, Required: true})
	require.NoError(t, err)

	all, err := s.GetAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "irc", all["-5"].Text)
	assert.Len(t, all, 2)
}

func TestFileStore_ConcurrentPuts(t *testing.T) {
	s, err := NewFileStore[item](FileStoreConfig{Path: filepath.Join(t.TempDir(), "images.json")})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Put(context.Background(), string(rune('a'+i)), item{Text: "x"}))
		}(i)
	}
	wg.Wait()

	all, err := s.GetAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 20)
}

func TestBoltStore_Contract(t *testing.T) {
	db, err := OpenBolt(filepath.Join(t.TempDir(), "content.db"))
	require.NoError(t, err)
	defer db.Close()

	s, err := NewBoltStore[item](db, "images")
	require.NoError(t, err)
	storeContract(t, s)
}

func TestBoltStore_BucketsIsolated(t *testing.T) {
	db, err := OpenBolt(filepath.Join(t.TempDir(), "content.db"))
	require.NoError(t, err)
	defer db.Close()

	a, err := NewBoltStore[item](db, "a")
	require.NoError(t, err)
	b, err := NewBoltStore[item](db, "b")
	require.NoError(t, err)

	require.NoError(t, a.Put(context.Background(), "1", item{Text: "x"}))
	all, err := b.GetAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)

	_, err = NewBoltStore[item](db, "")
	assert.Error(t, err)
}

func TestCached_Contract(t *testing.T) {
	inner, err := NewFileStore[item](FileStoreConfig{Path: filepath.Join(t.TempDir(), "q.json")})
	require.NoError(t, err)
	storeContract(t, NewCached[item](inner, time.Minute))
}

// countingStore counts GetAll calls.
type countingStore struct {
	Store[item]
	loads atomic.Int32
	delay time.Duration
	err   error
}

func (c *countingStore) GetAll(ctx context.Context) (map[string]item, error) {
	c.loads.Add(1)
	time.Sleep(c.delay)
	if c.err != nil {
		return nil, c.err
	}
	return c.Store.GetAll(ctx)
}

func TestCached_TTLAndInvalidation(t *testing.T) {
	fileStore, err := NewFileStore[item](FileStoreConfig{Path: filepath.Join(t.TempDir(), "q.json")})
	require.NoError(t, err)
	inner := &countingStore{Store: fileStore}
	c := NewCached[item](inner, time.Minute)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.GetAll(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), inner.loads.Load())

	now = now.Add(time.Minute)
	_, err = c.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.loads.Load())

	require.NoError(t, c.Put(ctx, "1", item{Text: "new"}))
	v, ok, err := c.Get(ctx, "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", v.Text)
	assert.Equal(t, int32(3), inner.loads.Load())
}

func TestCached_ConcurrentMissesShareLoad(t *testing.T) {
	fileStore, err := NewFileStore[item](FileStoreConfig{Path: filepath.Join(t.TempDir(), "q.json")})
	require.NoError(t, err)
	inner := &countingStore{Store: fileStore, delay: 50 * time.Millisecond}
	c := NewCached[item](inner, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetAll(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), inner.loads.Load())
}

func TestCached_ErrorsNotCached(t *testing.T) {
	fileStore, err := NewFileStore[item](FileStoreConfig{Path: filepath.Join(t.TempDir(), "q.json")})
	require.NoError(t, err)
	inner := &countingStore{Store: fileStore, err: errors.New("disk gone")}
	c := NewCached[item](inner, time.Minute)

	_, err = c.GetAll(context.Background())
	require.Error(t, err)
	inner.err = nil
	_, err = c.GetAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.loads.Load())
}

func TestDeleteWhere(t *testing.T) {
	s, err := NewFileStore[item](FileStoreConfig{Path: filepath.Join(t.TempDir(), "q.json")})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "1", item{Text: "a", Author: "bob"}))
	require.NoError(t, s.Put(ctx, "2", item{Text: "b", Author: "amy"}))
	require.NoError(t, s.Put(ctx, "3", item{Text: "c", Author: "bob"}))

	removed, err := DeleteWhere[item](ctx, s, func(_ string, v item) bool { return v.Author == "bob" })
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, removed)

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, IDs(all))
}

func TestFilter(t *testing.T) {
	items := map[string]item{"b": {Text: ""}, "a": {Text: "x"}, "c": {Text: "y"}}
	got := Filter(items, func(_ string, v item) bool { return v.Text != "" })
	assert.Equal(t, []string{"a", "c"}, got)
}
