package dispatch

import (
	"github.com/ecobot-id/ecobot/internal/messaging"
	"github.com/ecobot-id/ecobot/internal/models"
)

// RoleDirectory is the static role allow-list consulted only at user
// creation. Loaded once at startup and never re-read, so a running
// conversation can't see its role flap.
type RoleDirectory struct {
	admins       map[string]bool
	koordinators map[string]bool
}

func NewRoleDirectory(adminPhones, koordinatorPhones []string) *RoleDirectory {
	d := &RoleDirectory{
		admins:       make(map[string]bool, len(adminPhones)),
		koordinators: make(map[string]bool, len(koordinatorPhones)),
	}
	// Configured numbers come in whatever spelling the operator typed
	// (0812..., spaces, whatsapp: prefix); senders are always normalized
	// before lookup, so normalize the entries the same way.
	for _, p := range adminPhones {
		d.admins[messaging.NormalizePhone(p)] = true
	}
	for _, p := range koordinatorPhones {
		d.koordinators[messaging.NormalizePhone(p)] = true
	}
	return d
}

// RoleFor returns the initial role for a new identity.
func (d *RoleDirectory) RoleFor(phone string) models.Role {
	switch {
	case d.admins[phone]:
		return models.RoleAdmin
	case d.koordinators[phone]:
		return models.RoleKoordinator
	default:
		return models.RoleResident
	}
}
