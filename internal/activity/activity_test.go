package activity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nelsonblaha/homepage/internal/store/core"
)

type fakeRepo struct {
	core.Repository

	entries []core.ActivityEntry
	err     error
}

func (f *fakeRepo) InsertActivity(_ context.Context, e *core.ActivityEntry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, *e)
	return nil
}

func TestRecordConIDsOpcionales(t *testing.T) {
	repo := &fakeRepo{}
	rec := NewRecorder(repo)

	rec.ServiceClick(context.Background(), "f1", "s1")
	rec.PageView(context.Background(), "f1")
	rec.Record(context.Background(), ActionGrant, "", "s1", "alta manual")

	require.Len(t, repo.entries, 3)

	click := repo.entries[0]
	assert.Equal(t, ActionServiceClick, click.Action)
	require.NotNil(t, click.FriendID)
	assert.Equal(t, "f1", *click.FriendID)
	require.NotNil(t, click.ServiceID)
	assert.Equal(t, "s1", *click.ServiceID)

	view := repo.entries[1]
	assert.Nil(t, view.ServiceID)

	grant := repo.entries[2]
	assert.Nil(t, grant.FriendID)
	assert.Equal(t, "alta manual", grant.Detail)
}

func TestRecordNuncaPropagaErrores(t *testing.T) {
	rec := NewRecorder(&fakeRepo{err: errors.New("sin conexión")})
	// No hay valor de retorno que comprobar: basta con que no entre en pánico.
	rec.AuthLogin(context.Background(), "f1", "totp")
}

func TestRecorderNilEsInofensivo(t *testing.T) {
	var rec *Recorder
	rec.PageView(context.Background(), "f1")
	rec.Record(context.Background(), ActionRevoke, "f1", "s1", "")
}
