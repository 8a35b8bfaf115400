// Package router classifies inbound events and enforces role gating.
// The command tables are static and enumerable: routing never depends on
// runtime string branching, so every {role, command} pair can be tested.
package router

import (
	"strings"

	"github.com/ecobot-id/ecobot/internal/messaging"
	"github.com/ecobot-id/ecobot/internal/models"
)

// Tag names the handler a classified event is dispatched to.
type Tag string

const (
	TagHelp        Tag = "help"
	TagEducation   Tag = "education"
	TagSchedule    Tag = "schedule"
	TagLocation    Tag = "location"
	TagPoints      Tag = "points"
	TagRedeem      Tag = "redeem"
	TagStatistics  Tag = "statistics"
	TagReport      Tag = "report"
	TagModeService Tag = "mode_service"
	TagModeGeneral Tag = "mode_general"
	TagModeHybrid  Tag = "mode_hybrid"

	TagAdmin          Tag = "admin"
	TagImage          Tag = "image"
	TagLocationLookup Tag = "location_lookup"
	TagContact        Tag = "contact"
	TagFreeText       Tag = "free_text"
)

// Command is one entry of the general command table.
type Command struct {
	Name        string
	Keywords    []string
	MinRole     models.Role
	Tag         Tag
	Description string
}

// commands is ordered; first match wins.
var commands = []Command{
	{Name: "bantuan", Keywords: []string{"bantuan", "help", "menu", "fitur"}, MinRole: models.RoleResident, Tag: TagHelp, Description: "Bantuan dan daftar fitur"},
	{Name: "edukasi", Keywords: []string{"edukasi", "tips", "belajar", "education"}, MinRole: models.RoleResident, Tag: TagEducation, Description: "Tips dan edukasi pengelolaan sampah"},
	{Name: "jadwal", Keywords: []string{"jadwal", "schedule", "pengumpulan"}, MinRole: models.RoleResident, Tag: TagSchedule, Description: "Jadwal pengumpulan sampah"},
	{Name: "lokasi", Keywords: []string{"lokasi", "peta", "maps", "titik", "location"}, MinRole: models.RoleResident, Tag: TagLocation, Description: "Lokasi titik pengumpulan sampah"},
	{Name: "point", Keywords: []string{"point", "poin", "skor"}, MinRole: models.RoleResident, Tag: TagPoints, Description: "Cek poin reward"},
	{Name: "redeem", Keywords: []string{"redeem", "tukar", "hadiah"}, MinRole: models.RoleResident, Tag: TagRedeem, Description: "Tukar poin dengan hadiah"},
	{Name: "statistik", Keywords: []string{"statistik", "stats"}, MinRole: models.RoleKoordinator, Tag: TagStatistics, Description: "Statistik sistem"},
	{Name: "laporan", Keywords: []string{"laporan", "report"}, MinRole: models.RoleKoordinator, Tag: TagReport, Description: "Kirim laporan melalui email"},
	{Name: "layanan-ecobot", Keywords: []string{"layanan-ecobot"}, MinRole: models.RoleResident, Tag: TagModeService, Description: "Mode layanan database"},
	{Name: "general-ecobot", Keywords: []string{"general-ecobot"}, MinRole: models.RoleResident, Tag: TagModeGeneral, Description: "Mode AI umum"},
	{Name: "hybrid-ecobot", Keywords: []string{"hybrid-ecobot"}, MinRole: models.RoleResident, Tag: TagModeHybrid, Description: "Mode hybrid (default)"},
}

// AdminCommand is one entry of the admin command table. All admin
// commands require the admin role.
type AdminCommand struct {
	Name        string
	Description string
}

var adminCommands = []AdminCommand{
	{Name: "help", Description: "Daftar perintah admin"},
	{Name: "user_list", Description: "Daftar semua pengguna"},
	{Name: "user_role", Description: "user_role <phone> <warga|koordinator|admin>"},
	{Name: "user_reset", Description: "user_reset <phone> - kembalikan ke status belum terdaftar"},
	{Name: "user_deactivate", Description: "user_deactivate <phone>"},
	{Name: "point_add", Description: "point_add <phone> <jumlah>"},
	{Name: "stats", Description: "Ringkasan statistik sistem"},
	{Name: "audit", Description: "audit <phone> - log interaksi terakhir"},
}

// DenialMessage is the uniform insufficient-privilege reply. It does not
// reveal whether the command exists for higher roles.
const DenialMessage = "Maaf, Anda tidak memiliki izin untuk mengakses fitur ini.\n\nSilakan hubungi admin untuk informasi lebih lanjut."

// Classification is the routing decision for one inbound event.
type Classification struct {
	Tag     Tag
	Command *Command
	// Denied is set when a command matched but the requester's role is
	// below its minimum.
	Denied bool
	// AdminSub and AdminArgs are set for Tag == TagAdmin.
	AdminSub  string
	AdminArgs []string
	// Text is the free-text remainder for TagFreeText.
	Text string
}

// Commands returns the general command table. Exposed for help
// rendering and table-driven tests.
func Commands() []Command {
	out := make([]Command, len(commands))
	copy(out, commands)
	return out
}

// AdminCommands returns the admin command table.
func AdminCommands() []AdminCommand {
	out := make([]AdminCommand, len(adminCommands))
	copy(out, adminCommands)
	return out
}

// Classify decides where an inbound event goes. Order: admin table,
// general table, image payload, location payload, contact payload, free
// text. The first match wins.
func Classify(msg *messaging.NormalizedMessage, role models.Role) Classification {
	text := strings.TrimSpace(msg.Text)

	// (1) Admin command table.
	if strings.HasPrefix(strings.ToLower(text), "/admin") {
		fields := strings.Fields(text)
		sub := "help"
		var args []string
		if len(fields) > 1 {
			sub = strings.ToLower(fields[1])
			args = fields[2:]
		}
		if !role.AtLeast(models.RoleAdmin) {
			return Classification{Tag: TagAdmin, Denied: true, AdminSub: sub}
		}
		return Classification{Tag: TagAdmin, AdminSub: sub, AdminArgs: args}
	}

	// (2) General command table: exact match on the first token, with
	// or without a leading slash.
	if token := firstToken(text); token != "" {
		for i := range commands {
			cmd := &commands[i]
			for _, kw := range cmd.Keywords {
				if token == kw {
					if !role.AtLeast(cmd.MinRole) {
						return Classification{Tag: cmd.Tag, Command: cmd, Denied: true}
					}
					return Classification{Tag: cmd.Tag, Command: cmd}
				}
			}
		}
	}

	// (3) Image payload.
	if msg.Kind == messaging.KindImage {
		return Classification{Tag: TagImage}
	}

	// (4) Location / contact payloads.
	if msg.Kind == messaging.KindLocation {
		return Classification{Tag: TagLocationLookup}
	}
	if msg.Kind == messaging.KindContact {
		return Classification{Tag: TagContact}
	}

	// (5) Fallback: free text to the AI-mode path.
	return Classification{Tag: TagFreeText, Text: text}
}

func firstToken(text string) string {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return ""
	}
	return strings.TrimPrefix(fields[0], "/")
}
