package chunk

import (
	"sync"
	"testing"

	"go.viam.com/test"

	"github.com/qiangqiangyao/entwine/point"
)

func TestEntrySetPointIfNullIsOnceOnly(t *testing.T) {
	e := NewEntry(make([]byte, 8))
	test.That(t, e.Point(), test.ShouldBeNil)

	ok := e.SetPointIfNull(point.Point{X: 1, Y: 2, Z: 3})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, *e.Point(), test.ShouldResemble, point.Point{X: 1, Y: 2, Z: 3})

	ok = e.SetPointIfNull(point.Point{X: 9, Y: 9, Z: 9})
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, *e.Point(), test.ShouldResemble, point.Point{X: 1, Y: 2, Z: 3})
}

func TestEntryConcurrentInsertIdempotence(t *testing.T) {
	const workers = 32
	e := NewEntry(make([]byte, 8))
	want := point.Point{X: 4, Y: 5, Z: 6}

	var wg sync.WaitGroup
	var wins int32
	var mu sync.Mutex
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if e.SetPointIfNull(want) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	test.That(t, wins, test.ShouldEqual, int32(1))
	test.That(t, *e.Point(), test.ShouldResemble, want)
}

func TestEntryWriteRaw(t *testing.T) {
	e := NewEntry(make([]byte, 4))
	e.WriteRaw([]byte{1, 2, 3, 4})
	test.That(t, e.Raw(), test.ShouldResemble, []byte{1, 2, 3, 4})
}
