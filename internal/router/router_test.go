package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecobot-id/ecobot/internal/messaging"
	"github.com/ecobot-id/ecobot/internal/models"
)

func textMsg(text string) *messaging.NormalizedMessage {
	return &messaging.NormalizedMessage{Kind: messaging.KindText, Text: text}
}

// TestRoleGatingGrid checks every {command, role} pair in the general
// table against the role order warga < koordinator < admin.
func TestRoleGatingGrid(t *testing.T) {
	roles := []models.Role{models.RoleResident, models.RoleKoordinator, models.RoleAdmin}

	for _, cmd := range Commands() {
		for _, role := range roles {
			cls := Classify(textMsg(cmd.Name), role)
			assert.Equal(t, cmd.Tag, cls.Tag, "%s as %s", cmd.Name, role)
			if role.AtLeast(cmd.MinRole) {
				assert.False(t, cls.Denied, "%s must be allowed for %s", cmd.Name, role)
			} else {
				assert.True(t, cls.Denied, "%s must be denied for %s", cmd.Name, role)
			}
		}
	}
}

func TestAdminTableRequiresAdmin(t *testing.T) {
	for _, role := range []models.Role{models.RoleResident, models.RoleKoordinator} {
		cls := Classify(textMsg("/admin user_list"), role)
		assert.Equal(t, TagAdmin, cls.Tag)
		assert.True(t, cls.Denied)
	}

	cls := Classify(textMsg("/admin user_role +628111 koordinator"), models.RoleAdmin)
	require.False(t, cls.Denied)
	assert.Equal(t, "user_role", cls.AdminSub)
	assert.Equal(t, []string{"+628111", "koordinator"}, cls.AdminArgs)
}

func TestBareAdminDefaultsToHelp(t *testing.T) {
	cls := Classify(textMsg("/admin"), models.RoleAdmin)
	assert.Equal(t, TagAdmin, cls.Tag)
	assert.Equal(t, "help", cls.AdminSub)
}

func TestCommandMatchingVariants(t *testing.T) {
	tests := []struct {
		text string
		tag  Tag
	}{
		{"jadwal", TagSchedule},
		{"/jadwal", TagSchedule},
		{"JADWAL", TagSchedule},
		{"  jadwal  ", TagSchedule},
		{"help", TagHelp},
		{"poin", TagPoints},
		{"tukar", TagRedeem},
		{"/layanan-ecobot", TagModeService},
		{"/general-ecobot", TagModeGeneral},
		{"/hybrid-ecobot", TagModeHybrid},
	}
	for _, tt := range tests {
		cls := Classify(textMsg(tt.text), models.RoleResident)
		assert.Equal(t, tt.tag, cls.Tag, "text %q", tt.text)
		assert.False(t, cls.Denied, "text %q", tt.text)
	}
}

// Keyword match is on the first token only: a sentence that merely
// contains a command word is free text.
func TestSentenceContainingKeywordIsFreeText(t *testing.T) {
	cls := Classify(textMsg("kapan ya jadwal pengumpulan minggu ini?"), models.RoleResident)
	assert.Equal(t, TagFreeText, cls.Tag)
	assert.Equal(t, "kapan ya jadwal pengumpulan minggu ini?", cls.Text)
}

func TestPayloadClassification(t *testing.T) {
	cls := Classify(&messaging.NormalizedMessage{Kind: messaging.KindImage, MediaURL: "https://example.com/a.jpg"}, models.RoleResident)
	assert.Equal(t, TagImage, cls.Tag)

	cls = Classify(&messaging.NormalizedMessage{Kind: messaging.KindLocation, Latitude: -6.9, Longitude: 107.6}, models.RoleResident)
	assert.Equal(t, TagLocationLookup, cls.Tag)

	cls = Classify(&messaging.NormalizedMessage{Kind: messaging.KindContact, ContactPhone: "+628111"}, models.RoleResident)
	assert.Equal(t, TagContact, cls.Tag)
}

// A caption that is a command wins over the image payload.
func TestCommandTextBeatsImagePayload(t *testing.T) {
	msg := &messaging.NormalizedMessage{Kind: messaging.KindImage, Text: "bantuan", MediaURL: "https://example.com/a.jpg"}
	cls := Classify(msg, models.RoleResident)
	assert.Equal(t, TagHelp, cls.Tag)
}

// The denial decision never leaks whether the command exists: the reply
// constant is one uniform message.
func TestDenialMessageIsUniform(t *testing.T) {
	assert.NotContains(t, DenialMessage, "statistik")
	assert.NotContains(t, DenialMessage, "admin panel")
}

func TestFreeTextFallback(t *testing.T) {
	cls := Classify(textMsg("apa itu kompos?"), models.RoleResident)
	assert.Equal(t, TagFreeText, cls.Tag)
	assert.Equal(t, "apa itu kompos?", cls.Text)
	assert.False(t, cls.Denied)
}
