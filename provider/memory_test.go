package provider

import (
	"context"
	"errors"
	stdimage "image"
	"image/color"
	"testing"

	"github.com/gogpu/tilecache/imagery"
	"github.com/gogpu/tilecache/region"
)

func TestMemory_FetchImmediately(t *testing.T) {
	mem := NewMemory("mem")
	if err := mem.PutEncoded("k", encodePNG(t, 2, 2, color.NRGBA{G: 255, A: 255})); err != nil {
		t.Fatalf("PutEncoded: %v", err)
	}

	m := imagery.MustNewManager("k", mem, imagery.WithHub(nil))
	m.RequestImageData(context.Background(), imagery.Request{})

	img := m.Image(imagery.ModeDraw)
	if img == nil {
		t.Fatal("immediate fetch did not publish an image")
	}
	if img.Width() != 2 || img.Height() != 2 {
		t.Errorf("image = %dx%d, want 2x2", img.Width(), img.Height())
	}
	m.Dispose()
}

func TestMemory_PushToWatchers(t *testing.T) {
	mem := NewMemory("mem")
	m := imagery.MustNewManager("k", mem, imagery.WithHub(nil))
	defer m.Dispose()
	if err := m.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	dirty := region.MustNew(0, 0, 1, 1)
	err := mem.Put("k", &imagery.Data{
		Draw:  stdimage.NewNRGBA(stdimage.Rect(0, 0, 4, 4)),
		Dirty: []region.Region{dirty},
	})
	if err != nil {
		t.Fatal(err)
	}

	if m.CachedImageData() == nil {
		t.Fatal("push did not reach the manager")
	}
	if got := m.PollDirtyRegions(); len(got) != 1 || got[0] != dirty {
		t.Errorf("dirty regions = %v, want [%v]", got, dirty)
	}

	if err := mem.Delete("k"); err != nil {
		t.Fatal(err)
	}
	if m.CachedImageData() != nil || mem.Len() != 0 {
		t.Error("Delete did not clear the pushed imagery")
	}
}

func TestMemory_ObserveCancel(t *testing.T) {
	mem := NewMemory("mem")
	var calls int
	cancel := mem.Observe("k", func(*imagery.Data) { calls++ })
	_ = mem.Put("k", &imagery.Data{})
	cancel()
	cancel()
	_ = mem.Put("k", &imagery.Data{})

	if calls != 1 {
		t.Errorf("observer called %d times, want 1", calls)
	}
}

func TestMemory_UncomparableKey(t *testing.T) {
	mem := NewMemory("mem")
	if err := mem.Put([]int{1}, &imagery.Data{}); !errors.Is(err, ErrUnsupportedKey) {
		t.Errorf("Put err = %v, want ErrUnsupportedKey", err)
	}
	if _, err := mem.Fetch(context.Background(), map[string]int{}); !errors.Is(err, ErrUnsupportedKey) {
		t.Errorf("Fetch err = %v, want ErrUnsupportedKey", err)
	}
}
