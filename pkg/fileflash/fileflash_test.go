package fileflash

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outofforest/flint/flash"
)

func imagePath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "flash.img")
}

func TestCreateOpenRoundTrip(t *testing.T) {
	requireT := require.New(t)

	path := imagePath(t)
	window := flash.DefaultWindow()

	created, err := Create(path, window, 4096)
	requireT.NoError(err)
	requireT.NoError(created.Close())

	opened, err := Open(path)
	requireT.NoError(err)
	defer opened.Close()

	requireT.Equal(window, opened.Window())
	requireT.EqualValues(4096, opened.PageSize())
}

func TestCreateValidatesGeometry(t *testing.T) {
	assertT := assert.New(t)

	path := imagePath(t)

	_, err := Create(path, flash.DefaultWindow(), 0)
	assertT.Error(err)

	_, err = Create(path, flash.Window{Start: 0x2000, End: 0x1000}, 4096)
	assertT.Error(err)

	_, err = Create(path, flash.Window{Start: 0x1000, End: 0x17ff}, 4096)
	assertT.Error(err)
}

func TestOpenRejectsForeignFile(t *testing.T) {
	requireT := require.New(t)

	path := imagePath(t)
	requireT.NoError(os.WriteFile(path, []byte("definitely not a flash image, just some text"), 0o644))

	_, err := Open(path)
	requireT.True(errors.Is(err, ErrNotAnImage))
}

func TestOpenRejectsCorruptedHeader(t *testing.T) {
	requireT := require.New(t)

	path := imagePath(t)
	created, err := Create(path, flash.DefaultWindow(), 4096)
	requireT.NoError(err)
	requireT.NoError(created.Close())

	// Flip a bit in the page size field, the header checksum must catch it.
	raw, err := os.ReadFile(path)
	requireT.NoError(err)
	raw[13] ^= 0x01
	requireT.NoError(os.WriteFile(path, raw, 0o644))

	_, err = Open(path)
	requireT.Error(err)
	requireT.False(errors.Is(err, ErrNotAnImage))
}

func TestOpenRejectsTruncatedImage(t *testing.T) {
	requireT := require.New(t)

	path := imagePath(t)
	created, err := Create(path, flash.DefaultWindow(), 4096)
	requireT.NoError(err)
	requireT.NoError(created.Close())

	raw, err := os.ReadFile(path)
	requireT.NoError(err)
	requireT.NoError(os.WriteFile(path, raw[:len(raw)-100], 0o644))

	_, err = Open(path)
	requireT.Error(err)
}

func TestInitWindowMustMatchHeader(t *testing.T) {
	requireT := require.New(t)

	path := imagePath(t)
	f, err := Create(path, flash.DefaultWindow(), 4096)
	requireT.NoError(err)
	defer f.Close()

	requireT.Equal(flash.StatusInvalidAddr, f.Init(flash.Window{Start: 0x1000, End: 0x1fff}, nil))
	requireT.Equal(flash.StatusSuccess, f.Init(flash.DefaultWindow(), nil))
}

func TestWriteEraseReadThroughFile(t *testing.T) {
	requireT := require.New(t)

	path := imagePath(t)
	f, err := Create(path, flash.DefaultWindow(), 4096)
	requireT.NoError(err)
	defer f.Close()

	events := make(chan flash.Event, 1)
	requireT.Equal(flash.StatusSuccess, f.Init(flash.DefaultWindow(), func(ev flash.Event) {
		events <- ev
	}))

	requireT.Equal(flash.StatusSuccess, f.Write(flash.DefaultStartAddr+8, []byte{0x12, 0x34}))
	ev := <-events
	requireT.Equal(flash.OpWrite, ev.Op)
	requireT.Equal(flash.StatusSuccess, ev.Result)

	p := make([]byte, 2)
	requireT.Equal(flash.StatusSuccess, f.Read(flash.DefaultStartAddr+8, p))
	requireT.Equal([]byte{0x12, 0x34}, p)

	// NOR semantics survive the file round trip.
	requireT.Equal(flash.StatusSuccess, f.Write(flash.DefaultStartAddr+8, []byte{0x0f, 0xff}))
	<-events
	requireT.Equal(flash.StatusSuccess, f.Read(flash.DefaultStartAddr+8, p))
	requireT.Equal([]byte{0x02, 0x34}, p)

	requireT.Equal(flash.StatusSuccess, f.Erase(flash.DefaultStartAddr, 1))
	ev = <-events
	requireT.Equal(flash.OpErase, ev.Op)
	requireT.Equal(flash.StatusSuccess, ev.Result)

	requireT.Equal(flash.StatusSuccess, f.Read(flash.DefaultStartAddr+8, p))
	requireT.Equal([]byte{0xff, 0xff}, p)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	requireT := require.New(t)

	path := imagePath(t)
	f, err := Create(path, flash.DefaultWindow(), 4096)
	requireT.NoError(err)

	events := make(chan flash.Event, 1)
	requireT.Equal(flash.StatusSuccess, f.Init(flash.DefaultWindow(), func(ev flash.Event) {
		events <- ev
	}))
	requireT.Equal(flash.StatusSuccess, f.Write(flash.DefaultStartAddr, []byte{0xa5}))
	<-events
	requireT.NoError(f.Close())

	reopened, err := Open(path)
	requireT.NoError(err)
	defer reopened.Close()
	requireT.Equal(flash.StatusSuccess, reopened.Init(flash.DefaultWindow(), nil))

	p := make([]byte, 1)
	requireT.Equal(flash.StatusSuccess, reopened.Read(flash.DefaultStartAddr, p))
	requireT.EqualValues(0xa5, p[0])
}
