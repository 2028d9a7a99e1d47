package observer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryOrderAndRemove(t *testing.T) {
	var r Registry[func() string]
	r.Add(func() string { return "a" })
	b := r.Add(func() string { return "b" })
	r.Add(func() string { return "c" })

	var got []string
	r.Each(func(fn func() string) { got = append(got, fn()) })
	assert.Equal(t, []string{"a", "b", "c"}, got)

	r.Remove(b)
	r.Remove(999)
	got = got[:0]
	r.Each(func(fn func() string) { got = append(got, fn()) })
	assert.Equal(t, []string{"a", "c"}, got)
	assert.Equal(t, 2, r.Len())
}

func TestRegistryMutateDuringNotify(t *testing.T) {
	var r Registry[func()]
	calls := 0
	var self ID
	self = r.Add(func() {
		calls++
		r.Remove(self)
		r.Add(func() { calls += 100 })
	})

	r.Each(func(fn func()) { fn() })
	assert.Equal(t, 1, calls, "listeners added during notify wait for the next round")

	r.Each(func(fn func()) { fn() })
	assert.Equal(t, 101, calls)
}
