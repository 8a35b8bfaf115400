package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ecobot-id/ecobot/internal/ai"
	"github.com/ecobot-id/ecobot/internal/assembler"
	"github.com/ecobot-id/ecobot/internal/dialog"
	"github.com/ecobot-id/ecobot/internal/failure"
	"github.com/ecobot-id/ecobot/internal/messaging"
	"github.com/ecobot-id/ecobot/internal/models"
	"github.com/ecobot-id/ecobot/internal/session"
	"github.com/ecobot-id/ecobot/internal/storage"
)

const testPhone = "+6281234567890"

type sentMessage struct {
	Recipient string
	Content   string
}

// fakeChannel records outbound sends and can fail the first N of them.
type fakeChannel struct {
	mu        sync.Mutex
	sent      []sentMessage
	failSends int
	failWith  error
	media     []byte
	mediaErr  error
}

func (c *fakeChannel) Send(ctx context.Context, recipient, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSends > 0 {
		c.failSends--
		return c.failWith
	}
	c.sent = append(c.sent, sentMessage{Recipient: recipient, Content: content})
	return nil
}

func (c *fakeChannel) DownloadMedia(ctx context.Context, url string) ([]byte, error) {
	if c.mediaErr != nil {
		return nil, c.mediaErr
	}
	return c.media, nil
}

func (c *fakeChannel) lastSent() (sentMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return sentMessage{}, false
	}
	return c.sent[len(c.sent)-1], true
}

func (c *fakeChannel) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type fakeVision struct {
	analysis *ai.VisionAnalysis
	err      error
	calls    int
}

func (v *fakeVision) Classify(ctx context.Context, image []byte) (*ai.VisionAnalysis, error) {
	v.calls++
	if v.err != nil {
		return nil, v.err
	}
	return v.analysis, nil
}

type fakeText struct {
	mu    sync.Mutex
	calls int
	reply string
	err   error
}

func (f *fakeText) Generate(ctx context.Context, systemPrompt string, turns []*models.ConversationTurn, userMessage string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakeLocator struct {
	points []*models.CollectionPoint
}

func (l *fakeLocator) Nearest(ctx context.Context, lat, lng float64, category string, limit int) ([]*models.CollectionPoint, error) {
	return l.points, nil
}

func (l *fakeLocator) DirectionsURL(fromLat, fromLng float64, point *models.CollectionPoint) string {
	return "https://maps.example.com/route"
}

func (l *fakeLocator) Geocode(ctx context.Context, address string) (float64, float64, bool) {
	return -6.914744, 107.609810, true
}

type fakeReporter struct {
	sentTo []string
	err    error
}

func (r *fakeReporter) SendStatistics(ctx context.Context, toEmail string, requestedBy *models.User) error {
	if r.err != nil {
		return r.err
	}
	r.sentTo = append(r.sentTo, toEmail)
	return nil
}

type fixture struct {
	dispatcher *Dispatcher
	store      *storage.MemoryStorage
	sessions   session.Store
	channel    *fakeChannel
	vision     *fakeVision
	text       *fakeText
	reports    *fakeReporter
}

func newFixture(t *testing.T, opts ...func(*Options)) *fixture {
	t.Helper()
	store := storage.NewMemoryStorage()
	sessions := session.NewMemoryStore()
	channel := &fakeChannel{}
	vision := &fakeVision{}
	text := &fakeText{reply: "jawaban ai"}
	reports := &fakeReporter{}

	o := Options{
		Storage:     store,
		Sessions:    sessions,
		Channel:     channel,
		Machine:     dialog.New(false),
		Assembler:   assembler.New(store, text, 5, "Desa Cukangkawung", zap.NewNop()),
		Vision:      vision,
		Maps:        &fakeLocator{},
		Reports:     reports,
		Roles:       NewRoleDirectory([]string{"+62800000001"}, []string{"+62800000002"}),
		ReportEmail: "koordinator@desa.id",
		Logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &fixture{
		dispatcher: New(o),
		store:      store,
		sessions:   sessions,
		channel:    channel,
		vision:     vision,
		text:       text,
		reports:    reports,
	}
}

func textEvent(phone, text string) *messaging.NormalizedMessage {
	return &messaging.NormalizedMessage{Sender: phone, Kind: messaging.KindText, Text: text}
}

// registerUser walks a phone through the full registration dialog.
func (f *fixture) registerUser(t *testing.T, phone, name, address string) {
	t.Helper()
	ctx := context.Background()
	f.dispatcher.Handle(ctx, textEvent(phone, "daftar"))
	f.dispatcher.Handle(ctx, textEvent(phone, name))
	f.dispatcher.Handle(ctx, textEvent(phone, address))

	user, err := f.store.GetUser(ctx, phone)
	require.NoError(t, err)
	require.NotNil(t, user)
	require.Equal(t, models.PhaseRegistered, user.Phase)
}

func TestRegistrationEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.dispatcher.Handle(ctx, textEvent(testPhone, "daftar"))
	last, ok := f.channel.lastSent()
	require.True(t, ok)
	assert.Contains(t, last.Content, "nama")

	f.dispatcher.Handle(ctx, textEvent(testPhone, "Budi Santoso"))
	last, _ = f.channel.lastSent()
	assert.Contains(t, last.Content, "alamat")

	f.dispatcher.Handle(ctx, textEvent(testPhone, "Jl. Mawar No. 3"))
	last, _ = f.channel.lastSent()
	assert.Contains(t, last.Content, "Selamat datang")

	user, err := f.store.GetUser(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseRegistered, user.Phase)
	assert.Equal(t, "Budi Santoso", user.Name)
	assert.Equal(t, "Jl. Mawar No. 3", user.Address)
	assert.Equal(t, 3, user.MessageCount)

	// Each exchange is recorded as a user and an assistant turn.
	turns, err := f.store.RecentTurns(ctx, testPhone, 10)
	require.NoError(t, err)
	assert.Len(t, turns, 6)

	entries, err := f.store.AuditFor(ctx, testPhone, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, "registration", e.Command)
		assert.True(t, e.Success)
	}

	// The completed address is geocoded into a durable fact.
	facts, err := f.store.FactsFor(ctx, testPhone)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "home_coords", facts[0].Key)
	assert.Equal(t, "-6.914744,107.609810", facts[0].Value)
}

func TestRoleAssignmentFromDirectory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.dispatcher.Handle(ctx, textEvent("+62800000001", "bantuan"))
	admin, err := f.store.GetUser(ctx, "+62800000001")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, admin.Role)

	f.dispatcher.Handle(ctx, textEvent("+62800000002", "bantuan"))
	koordinator, err := f.store.GetUser(ctx, "+62800000002")
	require.NoError(t, err)
	assert.Equal(t, models.RoleKoordinator, koordinator.Role)

	f.dispatcher.Handle(ctx, textEvent(testPhone, "bantuan"))
	resident, err := f.store.GetUser(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, models.RoleResident, resident.Role)
}

func TestPrivilegedCommandDeniedAndAudited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerUser(t, testPhone, "Budi", "Jl. Mawar")

	f.dispatcher.Handle(ctx, textEvent(testPhone, "statistik"))
	last, ok := f.channel.lastSent()
	require.True(t, ok)
	assert.Contains(t, last.Content, "tidak memiliki izin")

	entries, err := f.store.AuditFor(ctx, testPhone, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "statistics", entries[0].Command)
	assert.False(t, entries[0].Success)
	assert.Equal(t, string(failure.Authorization), entries[0].Failure)
}

func TestKoordinatorGetsStatistics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerUser(t, "+62800000002", "Siti", "Jl. Melati")

	f.dispatcher.Handle(ctx, textEvent("+62800000002", "statistik"))
	last, ok := f.channel.lastSent()
	require.True(t, ok)
	assert.Contains(t, last.Content, "Statistik")
}

func TestVisionFailureSendsApologyAndWritesNoRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerUser(t, testPhone, "Budi", "Jl. Mawar")

	f.vision.err = failure.New(failure.AdapterTransient, "ai.classify", errors.New("upstream 503"))
	f.channel.media = []byte{0xff, 0xd8}

	f.dispatcher.Handle(ctx, &messaging.NormalizedMessage{
		Sender: testPhone, Kind: messaging.KindImage, MediaURL: "https://media.example.com/a.jpg",
	})

	last, ok := f.channel.lastSent()
	require.True(t, ok)
	assert.Equal(t, visionApologyReply, last.Content)
	assert.Empty(t, f.store.Classifications(), "a failed classification must not write a record")

	entries, err := f.store.AuditFor(ctx, testPhone, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
	assert.Equal(t, string(failure.AdapterTransient), entries[0].Failure)
}

func TestVisionSuccessSavesClassification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerUser(t, testPhone, "Budi", "Jl. Mawar")

	f.vision.analysis = &ai.VisionAnalysis{
		Category:    models.WasteOrganik,
		Confidence:  0.92,
		Description: "Sisa sayuran, cocok untuk kompos.",
	}
	f.channel.media = []byte{0xff, 0xd8}

	f.dispatcher.Handle(ctx, &messaging.NormalizedMessage{
		Sender: testPhone, Kind: messaging.KindImage, MediaURL: "https://media.example.com/a.jpg",
	})

	last, ok := f.channel.lastSent()
	require.True(t, ok)
	assert.Contains(t, last.Content, "ORGANIK")
	assert.Contains(t, last.Content, "92%")

	records := f.store.Classifications()
	require.Len(t, records, 1)
	assert.Equal(t, testPhone, records[0].Phone)
	assert.Equal(t, models.WasteOrganik, records[0].Category)
	assert.Equal(t, models.MethodAI, records[0].Method)

	user, err := f.store.GetUser(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, 1, user.ImageCount)
}

func TestDuplicateEventIsDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerUser(t, testPhone, "Budi", "Jl. Mawar")
	before := f.channel.sentCount()

	msg := textEvent(testPhone, "bantuan")
	msg.EventID = "SM-duplicate-1"
	f.dispatcher.Handle(ctx, msg)
	assert.Equal(t, before+1, f.channel.sentCount())

	f.dispatcher.Handle(ctx, msg)
	assert.Equal(t, before+1, f.channel.sentCount(), "re-delivered event must produce no second reply")
}

func TestConcurrentMessagesCountExactly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerUser(t, testPhone, "Budi", "Jl. Mawar")

	const n = 25
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			f.dispatcher.Handle(ctx, textEvent(testPhone, "bantuan"))
		}()
	}
	wg.Wait()

	user, err := f.store.GetUser(ctx, testPhone)
	require.NoError(t, err)
	// 3 registration messages plus n commands.
	assert.Equal(t, n+3, user.MessageCount)
}

func TestRedeemConfirmFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerUser(t, testPhone, "Budi", "Jl. Mawar")
	require.NoError(t, f.store.AddPoints(ctx, testPhone, 150))

	f.dispatcher.Handle(ctx, textEvent(testPhone, "redeem"))
	last, ok := f.channel.lastSent()
	require.True(t, ok)
	assert.Contains(t, last.Content, "YA")

	f.dispatcher.Handle(ctx, textEvent(testPhone, "ya"))
	last, _ = f.channel.lastSent()
	assert.Contains(t, last.Content, "berhasil")

	user, err := f.store.GetUser(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, 50, user.Points)
}

func TestRedeemCancelKeepsPoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerUser(t, testPhone, "Budi", "Jl. Mawar")
	require.NoError(t, f.store.AddPoints(ctx, testPhone, 150))

	f.dispatcher.Handle(ctx, textEvent(testPhone, "redeem"))
	f.dispatcher.Handle(ctx, textEvent(testPhone, "tidak jadi"))
	last, _ := f.channel.lastSent()
	assert.Contains(t, last.Content, "dibatalkan")

	user, err := f.store.GetUser(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, 150, user.Points)
}

func TestCommandDisarmsPendingRedeem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerUser(t, testPhone, "Budi", "Jl. Mawar")
	require.NoError(t, f.store.AddPoints(ctx, testPhone, 150))

	f.dispatcher.Handle(ctx, textEvent(testPhone, "redeem"))
	f.dispatcher.Handle(ctx, textEvent(testPhone, "bantuan"))

	sess, err := f.sessions.Get(ctx, testPhone)
	require.NoError(t, err)
	assert.Empty(t, sess.PendingConfirm)

	// With the confirmation gone, "ya" is ordinary free text.
	f.dispatcher.Handle(ctx, textEvent(testPhone, "ya"))
	last, ok := f.channel.lastSent()
	require.True(t, ok)
	assert.Equal(t, "jawaban ai", last.Content)

	user, err := f.store.GetUser(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, 150, user.Points)
}

func TestRedeemInsufficientPoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerUser(t, testPhone, "Budi", "Jl. Mawar")

	f.dispatcher.Handle(ctx, textEvent(testPhone, "redeem"))
	last, ok := f.channel.lastSent()
	require.True(t, ok)
	assert.Contains(t, last.Content, "minimal 100")

	sess, err := f.sessions.Get(ctx, testPhone)
	require.NoError(t, err)
	assert.Empty(t, sess.PendingConfirm)
}

func TestModeSwitchRoutesFreeTextToAI(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerUser(t, testPhone, "Budi", "Jl. Mawar")

	f.dispatcher.Handle(ctx, textEvent(testPhone, "/general-ecobot"))
	sess, err := f.sessions.Get(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, session.ModeGeneral, sess.Mode)

	f.dispatcher.Handle(ctx, textEvent(testPhone, "kapan jadwal pengumpulan?"))
	last, _ := f.channel.lastSent()
	assert.Equal(t, "jawaban ai", last.Content)
	assert.Equal(t, 1, f.text.calls)
}

func TestAIFailureSendsApology(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerUser(t, testPhone, "Budi", "Jl. Mawar")

	f.dispatcher.Handle(ctx, textEvent(testPhone, "/general-ecobot"))
	f.text.err = failure.New(failure.AdapterTransient, "ai.generate", errors.New("timeout"))

	f.dispatcher.Handle(ctx, textEvent(testPhone, "apa warna langit?"))
	last, _ := f.channel.lastSent()
	assert.Equal(t, aiApologyReply, last.Content)
	// One attempt only: AI calls are never retried.
	assert.Equal(t, 1, f.text.calls)
}

func TestTransientDeliveryFailureIsRetriedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerUser(t, testPhone, "Budi", "Jl. Mawar")

	f.channel.failSends = 1
	f.channel.failWith = failure.New(failure.AdapterTransient, "channel.send", errors.New("status 503"))

	before := f.channel.sentCount()
	f.dispatcher.Handle(ctx, textEvent(testPhone, "bantuan"))
	assert.Equal(t, before+1, f.channel.sentCount(), "retry must deliver after one transient failure")
}

func TestReportCommandUsesConfiguredRecipient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerUser(t, "+62800000002", "Siti", "Jl. Melati")

	f.dispatcher.Handle(ctx, textEvent("+62800000002", "laporan"))
	require.Equal(t, []string{"koordinator@desa.id"}, f.reports.sentTo)

	last, ok := f.channel.lastSent()
	require.True(t, ok)
	assert.Contains(t, last.Content, "email")
}

func TestAdminCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := "+62800000001"
	f.registerUser(t, admin, "Pak RT", "Balai Desa")
	f.registerUser(t, testPhone, "Budi", "Jl. Mawar")

	f.dispatcher.Handle(ctx, textEvent(admin, "/admin user_role "+testPhone+" koordinator"))
	user, err := f.store.GetUser(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, models.RoleKoordinator, user.Role)

	f.dispatcher.Handle(ctx, textEvent(admin, fmt.Sprintf("/admin point_add %s 30", testPhone)))
	user, err = f.store.GetUser(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, 30, user.Points)

	f.dispatcher.Handle(ctx, textEvent(admin, "/admin user_reset "+testPhone))
	user, err = f.store.GetUser(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseUnregistered, user.Phase)
	assert.Empty(t, user.Name)
	assert.Equal(t, 30, user.Points, "reset must keep points")

	f.dispatcher.Handle(ctx, textEvent(admin, "/admin user_deactivate "+testPhone))
	user, err = f.store.GetUser(ctx, testPhone)
	require.NoError(t, err)
	assert.False(t, user.Active)
}

func TestNearestPointLookup(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Maps = &fakeLocator{points: []*models.CollectionPoint{
			{ID: 1, Name: "Bank Sampah Melati", Address: "Jl. Raya 1", Active: true},
		}}
	})
	ctx := context.Background()
	f.registerUser(t, testPhone, "Budi", "Jl. Mawar")

	f.dispatcher.Handle(ctx, &messaging.NormalizedMessage{
		Sender: testPhone, Kind: messaging.KindLocation, Latitude: -6.9, Longitude: 107.6,
	})
	last, ok := f.channel.lastSent()
	require.True(t, ok)
	assert.Contains(t, last.Content, "Bank Sampah Melati")
	assert.Contains(t, last.Content, "https://maps.example.com/route")
}

func TestNilAndEmptyEventsAreIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.dispatcher.Handle(ctx, nil)
	f.dispatcher.Handle(ctx, &messaging.NormalizedMessage{Kind: messaging.KindText, Text: "halo"})
	assert.Zero(t, f.channel.sentCount())
}
