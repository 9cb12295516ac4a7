package coreact

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReactorRegisterBadFD(t *testing.T) {
	r := require.New(t)

	rc := newTestReactor(t)

	err := rc.Register(1<<20, Readable, newTestTask(nil))
	r.Error(err)
	r.NotErrorIs(err, ErrDuplicateRegistration)
	r.Equal(0, rc.Len())
}
