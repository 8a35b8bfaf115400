package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecobot-id/ecobot/internal/models"
)

func TestRoleDirectoryNormalizesEntries(t *testing.T) {
	d := NewRoleDirectory(
		[]string{"081234567890"},
		[]string{"whatsapp:+62 812-3456-7891"},
	)

	assert.Equal(t, models.RoleAdmin, d.RoleFor("+6281234567890"))
	assert.Equal(t, models.RoleKoordinator, d.RoleFor("+6281234567891"))
	assert.Equal(t, models.RoleResident, d.RoleFor("+6281234567892"))
}

func TestAllowListSpellingVariantGrantsRole(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Roles = NewRoleDirectory([]string{"0812 3456 7890"}, nil)
	})
	ctx := context.Background()

	f.dispatcher.Handle(ctx, textEvent("+6281234567890", "bantuan"))
	user, err := f.store.GetUser(ctx, "+6281234567890")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, models.RoleAdmin, user.Role)
}
