package foundation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOption(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	some := Some(now)
	assert.True(t, some.IsSome())
	v, ok := some.Get()
	assert.True(t, ok)
	assert.Equal(t, now, v)
	assert.Equal(t, now, some.UnwrapOr(time.Time{}))

	none := None[time.Time]()
	assert.True(t, none.IsNone())
	assert.Nil(t, none.ToPointer())
	assert.Equal(t, "None", none.String())
	assert.True(t, none.UnwrapOr(now).Equal(now))
}

func TestOptionFilterAndPointer(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	before := Some(start.Add(-time.Hour))
	after := Some(start.Add(time.Hour))

	notBefore := func(ts time.Time) bool { return !ts.Before(start) }
	assert.True(t, before.Filter(notBefore).IsNone())
	assert.True(t, after.Filter(notBefore).IsSome())

	p := after.ToPointer()
	if assert.NotNil(t, p) {
		assert.Equal(t, start.Add(time.Hour), *p)
		assert.True(t, FromPointer(p).IsSome())
	}
	assert.True(t, FromPointer[time.Time](nil).IsNone())
}
