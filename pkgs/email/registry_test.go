package email_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emx-mail/mailrows/pkgs/email"
	"github.com/emx-mail/mailrows/pkgs/email/emailtest"
)

type closeCounter struct {
	*emailtest.Store
	closed int
	err    error
}

func (c *closeCounter) Close() error {
	c.closed++
	return c.err
}

func TestRegistry_RegisterGetRelease(t *testing.T) {
	r := email.NewRegistry()
	s := &closeCounter{Store: emailtest.NewStore()}

	id := r.Register(s)
	require.NotEmpty(t, id)
	assert.Equal(t, 1, r.Len())

	got, ok := r.Get(id)
	require.True(t, ok)
	assert.Same(t, s, got)

	require.NoError(t, r.Release(id))
	assert.Equal(t, 1, s.closed)
	assert.Equal(t, 0, r.Len())

	_, ok = r.Get(id)
	assert.False(t, ok)
	assert.NoError(t, r.Release(id))
	assert.Equal(t, 1, s.closed)
}

func TestRegistry_DistinctIDs(t *testing.T) {
	r := email.NewRegistry()
	a := r.Register(emailtest.NewStore())
	b := r.Register(emailtest.NewStore())
	assert.NotEqual(t, a, b)
}

func TestRegistry_CloseAll(t *testing.T) {
	r := email.NewRegistry()
	boom := errors.New("boom")
	ok := &closeCounter{Store: emailtest.NewStore()}
	bad := &closeCounter{Store: emailtest.NewStore(), err: boom}
	r.Register(ok)
	r.Register(bad)

	err := r.CloseAll()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, ok.closed)
	assert.Equal(t, 1, bad.closed)
	assert.Equal(t, 0, r.Len())
}
