package journal

import (
	"errors"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	j := New(fs, "state")
	j.Add("drivers/net/e1000.ko")
	j.Add("fs/ext4/ext4.ko")
	j.Add("crypto/aes.ko")
	require.NoError(t, j.SetState("fs/ext4/ext4.ko", InProgress))
	require.NoError(t, j.SetState("crypto/aes.ko", Done))
	require.NoError(t, j.Save())

	loaded := New(fs, "state")
	require.NoError(t, loaded.Load())
	require.Equal(t, 3, loaded.Len())

	// Order and states survive the trip.
	want := []Entry{
		{Path: "drivers/net/e1000.ko", State: Pending},
		{Path: "fs/ext4/ext4.ko", State: InProgress},
		{Path: "crypto/aes.ko", State: Done},
	}
	assert.Equal(t, want, loaded.Entries())

	st, ok := loaded.State("crypto/aes.ko")
	require.True(t, ok)
	assert.Equal(t, Done, st)
}

func TestJournalFileFormat(t *testing.T) {
	fs := afero.NewMemMapFs()
	j := New(fs, "state")
	j.Add("a.ko")
	j.Add("b.ko")
	require.NoError(t, j.SetState("b.ko", Done))
	require.NoError(t, j.Save())

	data, err := afero.ReadFile(fs, "state/modules.journal")
	require.NoError(t, err)
	assert.Equal(t, "a.ko:0\nb.ko:2\n", string(data))

	ok, err := afero.Exists(fs, "state/modules.journal.tmp")
	require.NoError(t, err)
	assert.False(t, ok, "temp file left behind")
}

// Saving rewrites the file whole: entries dropped from memory must not
// linger on disk.
func TestJournalSaveRewrites(t *testing.T) {
	fs := afero.NewMemMapFs()
	j := New(fs, "state")
	j.Add("a.ko")
	j.Add("b.ko")
	require.NoError(t, j.Save())

	fresh := New(fs, "state")
	fresh.Add("only.ko")
	require.NoError(t, fresh.Save())

	loaded := New(fs, "state")
	require.NoError(t, loaded.Load())
	assert.Equal(t, []Entry{{Path: "only.ko", State: Pending}}, loaded.Entries())
}

func TestJournalPathWithColon(t *testing.T) {
	fs := afero.NewMemMapFs()
	j := New(fs, "state")
	j.Add("weird:dir/mod.ko")
	require.NoError(t, j.SetState("weird:dir/mod.ko", InProgress))
	require.NoError(t, j.Save())

	loaded := New(fs, "state")
	require.NoError(t, loaded.Load())
	st, ok := loaded.State("weird:dir/mod.ko")
	require.True(t, ok)
	assert.Equal(t, InProgress, st)
}

func TestJournalAddIdempotent(t *testing.T) {
	j := New(afero.NewMemMapFs(), "state")
	j.Add("a.ko")
	require.NoError(t, j.SetState("a.ko", Done))
	j.Add("a.ko")

	require.Equal(t, 1, j.Len())
	st, _ := j.State("a.ko")
	assert.Equal(t, Done, st)
}

func TestJournalSetStateUnknown(t *testing.T) {
	j := New(afero.NewMemMapFs(), "state")
	assert.Error(t, j.SetState("ghost.ko", Done))
}

func TestJournalLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"no separator", "mod.ko\n"},
		{"bad state", "mod.ko:7\n"},
		{"not a number", "mod.ko:done\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, "state/modules.journal", []byte(tt.data), 0o644))
			assert.Error(t, New(fs, "state").Load())
		})
	}
}

func TestJournalLoadMissing(t *testing.T) {
	err := New(afero.NewMemMapFs(), "state").Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "in-progress", InProgress.String())
	assert.Equal(t, "done", Done.String())
	assert.Equal(t, "state(9)", State(9).String())
}
