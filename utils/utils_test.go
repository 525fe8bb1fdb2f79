package utils

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusManager_Transition(t *testing.T) {
	s := NewStatusManager()
	assert.Equal(t, Uninitialized, s.Get())
	assert.False(t, s.Transition(Terminated, Running, Stopped))

	s.Set(Running)
	assert.True(t, s.Is(Stopped, Running))
	assert.True(t, s.Transition(Terminated, Running, Stopped))
	// 终止状态只进入一次
	assert.False(t, s.Transition(Terminated, Running, Stopped))
	assert.Equal(t, Terminated, s.Get())
}

func TestGroupBy(t *testing.T) {
	files := []string{"/a/main.go", "/b/util.go", "/c/main.go"}
	groups := GroupBy(files, func(p string) string {
		return p[strings.LastIndex(p, "/")+1:]
	})
	assert.Equal(t, map[string][]string{
		"main.go": {"/a/main.go", "/c/main.go"},
		"util.go": {"/b/util.go"},
	}, groups)
}

func TestList2set(t *testing.T) {
	set := List2set([]int{1, 2, 2, 3})
	assert.Equal(t, 3, set.Size())
	assert.True(t, set.Contains(1, 2, 3))
	assert.False(t, set.Contains(4))
}

func TestTimeoutManager(t *testing.T) {
	expired := make(chan struct{})
	tm := NewTimeoutManager()
	tm.Start(context.Background(), 50*time.Millisecond, func() { close(expired) })
	for i := 0; i < 3; i++ {
		time.Sleep(20 * time.Millisecond)
		tm.Reset()
	}
	select {
	case <-expired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not expire")
	}

	canceled := NewTimeoutManager()
	canceled.Start(context.Background(), 20*time.Millisecond, func() { t.Error("canceled timer expired") })
	canceled.Chancel()
	canceled.Chancel()
	time.Sleep(50 * time.Millisecond)
}

func TestGetShortID(t *testing.T) {
	assert.Len(t, GetShortID(), 8)
	assert.NotEqual(t, GetUUID(), GetUUID())
}
