package conversation

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogCreatesEmptySession(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.Log("A"))
	assert.Equal(t, []string{"A"}, r.IDs())
}

func TestClearIsolatesSessions(t *testing.T) {
	r := NewRegistry()
	r.Append("A", NewMessage(RoleUser, "hi a"), NewMessage(RoleAssistant, "hello a"))
	r.Append("B", NewMessage(RoleUser, "hi b"))

	r.Clear("A")

	assert.Empty(t, r.Log("A"))
	b := r.Log("B")
	require.Len(t, b, 1)
	assert.Equal(t, "hi b", b[0].Content)
}

func TestLogReturnsCopy(t *testing.T) {
	r := NewRegistry()
	r.Append("A", NewMessage(RoleUser, "original"))

	log := r.Log("A")
	log[0].Content = "mutated"

	assert.Equal(t, "original", r.Log("A")[0].Content)
}

func TestAppendKeepsOrder(t *testing.T) {
	r := NewRegistry()
	first := NewMessage(RoleUser, "question")
	second := NewMessage(RoleAssistant, "answer")
	r.Append("A", first, second)

	log := r.Log("A")
	require.Len(t, log, 2)
	assert.Equal(t, RoleUser, log[0].Role)
	assert.Equal(t, RoleAssistant, log[1].Role)
	assert.False(t, log[1].Timestamp.Before(log[0].Timestamp))
}

func TestCurrentSession(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, DefaultSessionID, r.Current())

	r.SetCurrent("work")
	assert.Equal(t, "work", r.Current())
	assert.Contains(t, r.IDs(), "work")
}

func TestConcurrentAppends(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i%2)
			for j := 0; j < 50; j++ {
				r.Append(id, NewMessage(RoleUser, "x"))
				_ = r.Log(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, r.Log("s0"), 200)
	assert.Len(t, r.Log("s1"), 200)
}
