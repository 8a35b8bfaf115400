package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ecobot-id/ecobot/internal/dialog"
	"github.com/ecobot-id/ecobot/internal/messaging"
	"github.com/ecobot-id/ecobot/internal/models"
	"github.com/ecobot-id/ecobot/internal/router"
)

const auditListLimit = 10

// handleAdmin executes one admin panel subcommand. Unknown subcommands
// fall back to the admin help listing.
func (d *Dispatcher) handleAdmin(ctx context.Context, admin *models.User, sub string, args []string) (string, error) {
	switch sub {
	case "user_list":
		return d.adminUserList(ctx)
	case "user_role":
		return d.adminUserRole(ctx, admin, args)
	case "user_reset":
		return d.adminUserReset(ctx, admin, args)
	case "user_deactivate":
		return d.adminUserDeactivate(ctx, admin, args)
	case "point_add":
		return d.adminPointAdd(ctx, admin, args)
	case "stats":
		return d.handleStatistics(ctx)
	case "audit":
		return d.adminAudit(ctx, args)
	default:
		return renderAdminHelp(), nil
	}
}

func renderAdminHelp() string {
	var sb strings.Builder
	sb.WriteString("Panel Admin EcoBot\n\n")
	for _, cmd := range router.AdminCommands() {
		fmt.Fprintf(&sb, "• /admin %s — %s\n", cmd.Name, cmd.Description)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (d *Dispatcher) adminUserList(ctx context.Context) (string, error) {
	users, err := d.storage.ListUsers(ctx)
	if err != nil {
		return "", err
	}
	if len(users) == 0 {
		return "Belum ada pengguna terdaftar.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Pengguna terdaftar (%d):\n", len(users))
	for _, u := range users {
		name := u.Name
		if name == "" {
			name = "(belum ada nama)"
		}
		status := "aktif"
		if !u.Active {
			status = "nonaktif"
		}
		fmt.Fprintf(&sb, "• %s — %s [%s, %s, %d poin]\n",
			u.Phone, name, u.Role, status, u.Points)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (d *Dispatcher) adminUserRole(ctx context.Context, admin *models.User, args []string) (string, error) {
	if len(args) != 2 {
		return "Format: /admin user_role <phone> <warga|koordinator|admin>", nil
	}
	phone := messaging.NormalizePhone(args[0])
	role := models.Role(strings.ToLower(args[1]))
	if !role.Valid() {
		return fmt.Sprintf("Peran %q tidak dikenal. Pilihan: warga, koordinator, admin.", args[1]), nil
	}

	lock := d.lockFor(phone)
	lock.Lock()
	defer lock.Unlock()

	user, err := d.storage.GetUser(ctx, phone)
	if err != nil {
		return "", err
	}
	if user == nil {
		return fmt.Sprintf("Pengguna %s tidak ditemukan.", phone), nil
	}

	previous := user.Role
	user.Role = role
	if err := d.storage.UpdateUser(ctx, user); err != nil {
		return "", err
	}
	d.logger.Info("Role changed",
		zap.String("phone", phone),
		zap.String("from", string(previous)),
		zap.String("to", string(role)),
		zap.String("by", admin.Phone))
	return fmt.Sprintf("Peran %s diubah: %s → %s.", phone, previous, role), nil
}

func (d *Dispatcher) adminUserReset(ctx context.Context, admin *models.User, args []string) (string, error) {
	if len(args) != 1 {
		return "Format: /admin user_reset <phone>", nil
	}
	phone := messaging.NormalizePhone(args[0])

	// The reset is the only sanctioned backwards phase transition, so
	// it takes the target's lock like any other state write.
	lock := d.lockFor(phone)
	lock.Lock()
	defer lock.Unlock()

	user, err := d.storage.GetUser(ctx, phone)
	if err != nil {
		return "", err
	}
	if user == nil {
		return fmt.Sprintf("Pengguna %s tidak ditemukan.", phone), nil
	}

	dialog.Reset(user)
	if err := d.storage.UpdateUser(ctx, user); err != nil {
		return "", err
	}
	d.logger.Info("User reset",
		zap.String("phone", phone), zap.String("by", admin.Phone))
	return fmt.Sprintf("Pengguna %s dikembalikan ke status belum terdaftar.", phone), nil
}

func (d *Dispatcher) adminUserDeactivate(ctx context.Context, admin *models.User, args []string) (string, error) {
	if len(args) != 1 {
		return "Format: /admin user_deactivate <phone>", nil
	}
	phone := messaging.NormalizePhone(args[0])

	lock := d.lockFor(phone)
	lock.Lock()
	defer lock.Unlock()

	user, err := d.storage.GetUser(ctx, phone)
	if err != nil {
		return "", err
	}
	if user == nil {
		return fmt.Sprintf("Pengguna %s tidak ditemukan.", phone), nil
	}

	user.Active = false
	if err := d.storage.UpdateUser(ctx, user); err != nil {
		return "", err
	}
	d.logger.Info("User deactivated",
		zap.String("phone", phone), zap.String("by", admin.Phone))
	return fmt.Sprintf("Pengguna %s dinonaktifkan.", phone), nil
}

func (d *Dispatcher) adminPointAdd(ctx context.Context, admin *models.User, args []string) (string, error) {
	if len(args) != 2 {
		return "Format: /admin point_add <phone> <jumlah>", nil
	}
	phone := messaging.NormalizePhone(args[0])
	amount, err := strconv.Atoi(args[1])
	if err != nil || amount == 0 {
		return "Jumlah poin harus berupa angka bukan nol.", nil
	}

	lock := d.lockFor(phone)
	lock.Lock()
	defer lock.Unlock()

	user, err := d.storage.GetUser(ctx, phone)
	if err != nil {
		return "", err
	}
	if user == nil {
		return fmt.Sprintf("Pengguna %s tidak ditemukan.", phone), nil
	}

	if err := d.storage.AddPoints(ctx, phone, amount); err != nil {
		return "", err
	}
	d.logger.Info("Points adjusted",
		zap.String("phone", phone), zap.Int("amount", amount), zap.String("by", admin.Phone))
	return fmt.Sprintf("Poin %s disesuaikan %+d. Total sekarang: %d.", phone, amount, user.Points+amount), nil
}

func (d *Dispatcher) adminAudit(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "Format: /admin audit <phone>", nil
	}
	phone := messaging.NormalizePhone(args[0])

	entries, err := d.storage.AuditFor(ctx, phone, auditListLimit)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return fmt.Sprintf("Belum ada log interaksi untuk %s.", phone), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Log interaksi terakhir %s:\n", phone)
	for _, e := range entries {
		outcome := "ok"
		if !e.Success {
			outcome = "gagal"
			if e.Failure != "" {
				outcome = "gagal (" + e.Failure + ")"
			}
		}
		fmt.Fprintf(&sb, "• %s %s — %s, %dms\n",
			e.CreatedAt.Format("02/01 15:04"), e.Command, outcome, e.LatencyMS)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
