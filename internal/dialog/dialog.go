// Package dialog implements the registration conversation state machine.
//
// Phases advance monotonically: unregistered -> await_name ->
// await_address -> registered. The only way back is an explicit
// administrative reset. The machine is pure: it mutates the passed user
// in memory and reports whether a persistence write is needed; the
// dispatcher owns locking and the actual write, so transition and write
// happen inside one per-identity critical section.
package dialog

import (
	"fmt"
	"strings"

	"github.com/ecobot-id/ecobot/internal/models"
)

// Result describes the outcome of feeding one inbound text to the
// machine.
type Result struct {
	// Handled is true when the event was consumed by the registration
	// dialog and must not reach the command router.
	Handled bool
	// Changed is true when the user was mutated and must be persisted.
	Changed bool
	Reply   string
}

var registerKeywords = map[string]bool{
	"daftar":    true,
	"/daftar":   true,
	"register":  true,
	"/register": true,
	"signup":    true,
}

const (
	namePrompt        = "Silakan kirim nama lengkap Anda untuk melanjutkan pendaftaran."
	nameReprompt      = "Nama tidak boleh kosong. Silakan kirim nama lengkap Anda."
	addressPrompt     = "Terima kasih, %s!\n\nSekarang kirimkan alamat lengkap Anda."
	addressReprompt   = "Alamat tidak boleh kosong. Silakan kirim alamat lengkap Anda."
	successReply      = "Selamat datang, %s!\n\nAnda berhasil terdaftar sebagai pengguna EcoBot.\n\nKirim foto sampah untuk identifikasi otomatis, atau ketik 'bantuan' untuk melihat fitur yang tersedia."
	alreadyRegistered = "Anda sudah terdaftar. Ketik 'bantuan' untuk melihat fitur yang tersedia."
)

type Machine struct {
	// autoRegister skips the dialog entirely: first contact creates a
	// registered placeholder profile and "daftar" just explains that.
	autoRegister bool
}

func New(autoRegister bool) *Machine {
	return &Machine{autoRegister: autoRegister}
}

// AutoRegister reports whether the auto-registration mode is on.
func (m *Machine) AutoRegister() bool { return m.autoRegister }

// InitialPhase is the phase assigned to a brand-new identity.
func (m *Machine) InitialPhase() models.Phase {
	if m.autoRegister {
		return models.PhaseRegistered
	}
	return models.PhaseUnregistered
}

// InDialog reports whether the user is mid-registration, in which case
// the dispatcher short-circuits before the command router.
func InDialog(phase models.Phase) bool {
	return phase == models.PhaseAwaitName || phase == models.PhaseAwaitAddress
}

// Advance feeds one inbound text to the machine.
func (m *Machine) Advance(user *models.User, text string) Result {
	trimmed := normalize(text)

	switch user.Phase {
	case models.PhaseAwaitName:
		if trimmed == "" {
			return Result{Handled: true, Reply: nameReprompt}
		}
		user.Name = trimmed
		user.Phase = models.PhaseAwaitAddress
		return Result{Handled: true, Changed: true, Reply: fmt.Sprintf(addressPrompt, trimmed)}

	case models.PhaseAwaitAddress:
		if trimmed == "" {
			return Result{Handled: true, Reply: addressReprompt}
		}
		user.Address = trimmed
		user.Phase = models.PhaseRegistered
		return Result{Handled: true, Changed: true, Reply: fmt.Sprintf(successReply, user.Name)}

	case models.PhaseUnregistered:
		if registerKeywords[strings.ToLower(trimmed)] {
			if m.autoRegister {
				user.Phase = models.PhaseRegistered
				return Result{Handled: true, Changed: true, Reply: "Pendaftaran otomatis aktif. Anda dapat langsung menggunakan semua fitur bot."}
			}
			user.Phase = models.PhaseAwaitName
			return Result{Handled: true, Changed: true, Reply: namePrompt}
		}
		return Result{}

	default: // registered
		if registerKeywords[strings.ToLower(trimmed)] {
			return Result{Handled: true, Reply: alreadyRegistered}
		}
		return Result{}
	}
}

// Reset returns a user to the unregistered phase. Administrative
// override only.
func Reset(user *models.User) {
	user.Phase = models.PhaseUnregistered
	user.Name = ""
	user.Address = ""
}

// normalize trims and collapses internal whitespace.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
