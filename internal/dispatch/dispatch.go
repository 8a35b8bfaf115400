// Package dispatch is the per-event entry point. It ties the state
// machine, router, assembler, and adapters together and is the only
// place where failures are converted into user-visible replies: nothing
// propagates past Handle.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ecobot-id/ecobot/internal/ai"
	"github.com/ecobot-id/ecobot/internal/assembler"
	"github.com/ecobot-id/ecobot/internal/dialog"
	"github.com/ecobot-id/ecobot/internal/failure"
	"github.com/ecobot-id/ecobot/internal/messaging"
	"github.com/ecobot-id/ecobot/internal/models"
	"github.com/ecobot-id/ecobot/internal/router"
	"github.com/ecobot-id/ecobot/internal/session"
	"github.com/ecobot-id/ecobot/internal/storage"
)

const (
	genericErrorReply  = "Terjadi kesalahan sistem.\n\nSilakan coba lagi atau hubungi admin jika masalah berlanjut."
	aiApologyReply     = "Maaf, layanan AI sedang tidak tersedia.\n\nSilakan coba lagi dalam beberapa saat, atau ketik 'bantuan' untuk fitur lain."
	visionApologyReply = "Maaf, layanan analisis gambar sedang tidak tersedia.\n\nSilakan coba lagi nanti, atau ketik 'edukasi' untuk tips umum pengelolaan sampah."

	// sendRetryBackoff is the pause before the single delivery retry.
	sendRetryBackoff = 500 * time.Millisecond
)

// locator is the slice of the maps service the dispatcher needs.
type locator interface {
	Nearest(ctx context.Context, lat, lng float64, category string, limit int) ([]*models.CollectionPoint, error)
	DirectionsURL(fromLat, fromLng float64, point *models.CollectionPoint) string
	Geocode(ctx context.Context, address string) (lat, lng float64, ok bool)
}

// reporter generates and emails the statistics report.
type reporter interface {
	SendStatistics(ctx context.Context, toEmail string, requestedBy *models.User) error
}

type Dispatcher struct {
	storage  storage.Storage
	sessions session.Store
	channel  messaging.Channel
	machine  *dialog.Machine
	asm      *assembler.Assembler
	vision   ai.VisionClassifier
	maps     locator
	reports  reporter
	roles    *RoleDirectory
	// reportEmail receives the laporan output.
	reportEmail string
	logger      *zap.Logger

	// locks serializes all state writes per identity. Entries are never
	// removed; the user population is bounded by the village.
	locks sync.Map
}

type Options struct {
	Storage     storage.Storage
	Sessions    session.Store
	Channel     messaging.Channel
	Machine     *dialog.Machine
	Assembler   *assembler.Assembler
	Vision      ai.VisionClassifier
	Maps        locator
	Reports     reporter
	Roles       *RoleDirectory
	ReportEmail string
	Logger      *zap.Logger
}

func New(opts Options) *Dispatcher {
	return &Dispatcher{
		storage:     opts.Storage,
		sessions:    opts.Sessions,
		channel:     opts.Channel,
		machine:     opts.Machine,
		asm:         opts.Assembler,
		vision:      opts.Vision,
		maps:        opts.Maps,
		reports:     opts.Reports,
		roles:       opts.Roles,
		reportEmail: opts.ReportEmail,
		logger:      opts.Logger,
	}
}

func (d *Dispatcher) lockFor(phone string) *sync.Mutex {
	lock, _ := d.locks.LoadOrStore(phone, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// Handle processes one inbound event to completion. It never returns an
// error: every outcome is either a sent reply or a logged delivery
// failure, always with an audit entry.
func (d *Dispatcher) Handle(ctx context.Context, msg *messaging.NormalizedMessage) {
	if msg == nil || msg.Sender == "" {
		return
	}
	started := time.Now()
	phone := msg.Sender

	// Re-delivery dedup by event id. A dedup-store outage degrades to
	// at-least-once rather than failing the event.
	if msg.EventID != "" {
		seen, err := d.storage.MarkEventSeen(ctx, msg.EventID)
		if err != nil {
			d.logger.Warn("Dedup check failed, continuing without dedup",
				zap.Error(err), zap.String("event_id", msg.EventID))
		} else if seen {
			d.logger.Info("Dropping re-delivered event",
				zap.String("event_id", msg.EventID), zap.String("phone", phone))
			return
		}
	}

	// Critical section: load-or-create, counters, and the dialog
	// transition are one read-modify-write per identity. Released
	// before any outbound call.
	lock := d.lockFor(phone)
	lock.Lock()

	user, created, err := d.storage.GetOrCreateUser(ctx, phone, d.roles.RoleFor(phone), d.machine.InitialPhase())
	if err != nil {
		lock.Unlock()
		d.failRequest(ctx, phone, "load_user", started, err)
		return
	}
	if created {
		d.logger.Info("New user",
			zap.String("phone", phone), zap.String("role", string(user.Role)))
	}

	if msg.Kind == messaging.KindImage {
		err = d.storage.IncrementImageCount(ctx, phone)
	} else {
		err = d.storage.IncrementMessageCount(ctx, phone)
	}
	if err != nil {
		lock.Unlock()
		d.failRequest(ctx, phone, "count", started, err)
		return
	}

	var dlg dialog.Result
	if msg.Kind == messaging.KindText {
		dlg = d.machine.Advance(user, msg.Text)
		if dlg.Changed {
			if err := d.storage.UpdateUser(ctx, user); err != nil {
				lock.Unlock()
				d.failRequest(ctx, phone, "registration", started, err)
				return
			}
		}
	}
	lock.Unlock()

	if dlg.Handled {
		d.finishRegistration(ctx, msg, user, dlg, started)
		return
	}

	cls := router.Classify(msg, user.Role)
	if cls.Denied {
		d.disarmPendingConfirm(ctx, phone)
		d.logger.Warn("Command denied",
			zap.String("phone", phone),
			zap.String("command", string(cls.Tag)),
			zap.String("role", string(user.Role)))
		d.sendReply(ctx, phone, router.DenialMessage)
		d.audit(ctx, phone, string(cls.Tag), false, failure.Authorization, started)
		return
	}

	reply, handlerErr := d.dispatch(ctx, msg, user, cls)
	if handlerErr != nil {
		reply = d.replyForError(cls.Tag, handlerErr)
	}

	d.sendReply(ctx, phone, reply)
	d.recordTurns(ctx, msg, reply)
	d.audit(ctx, phone, string(cls.Tag), handlerErr == nil, failure.KindOf(handlerErr), started)

	// Best-effort fact extraction off the response path. The only
	// detached work in the core.
	if cls.Tag == router.TagFreeText && handlerErr == nil {
		go d.asm.ExtractFacts(phone, msg.Text)
	}
}

// finishRegistration sends the dialog reply and records the exchange.
func (d *Dispatcher) finishRegistration(ctx context.Context, msg *messaging.NormalizedMessage, user *models.User, dlg dialog.Result, started time.Time) {
	d.sendReply(ctx, msg.Sender, dlg.Reply)
	d.recordTurns(ctx, msg, dlg.Reply)
	d.audit(ctx, msg.Sender, "registration", true, "", started)

	// Newly registered users get their address geocoded as a durable
	// fact for later nearest-point answers. Best effort, synchronous.
	if user.Phase == models.PhaseRegistered && user.Address != "" && dlg.Changed {
		if lat, lng, ok := d.maps.Geocode(ctx, user.Address); ok {
			coords := formatCoords(lat, lng)
			if err := d.storage.UpsertFact(ctx, msg.Sender, "home_coords", coords); err != nil {
				d.logger.Warn("Failed to save geocoded address",
					zap.Error(err), zap.String("phone", msg.Sender))
			}
		}
	}
}

// failRequest handles a persistence failure before routing: the user
// gets the generic error and the attempt is audited.
func (d *Dispatcher) failRequest(ctx context.Context, phone, op string, started time.Time, err error) {
	d.logger.Error("Request failed before routing",
		zap.Error(err), zap.String("phone", phone), zap.String("op", op))
	d.sendReply(ctx, phone, genericErrorReply)
	d.audit(ctx, phone, op, false, failure.Persistence, started)
}

// replyForError converts a handler failure into the user-visible reply
// per the failure taxonomy.
func (d *Dispatcher) replyForError(tag router.Tag, err error) string {
	switch failure.KindOf(err) {
	case failure.AdapterTransient, failure.AdapterPermanent:
		if tag == router.TagImage {
			return visionApologyReply
		}
		return aiApologyReply
	default:
		return genericErrorReply
	}
}

// sendReply delivers content with one bounded retry on transient
// delivery failure.
func (d *Dispatcher) sendReply(ctx context.Context, recipient, content string) {
	if content == "" {
		return
	}
	err := d.channel.Send(ctx, recipient, content)
	if err != nil && failure.IsTransient(err) {
		time.Sleep(sendRetryBackoff)
		err = d.channel.Send(ctx, recipient, content)
	}
	if err != nil {
		d.logger.Error("Delivery failed",
			zap.Error(err), zap.String("recipient", recipient))
	}
}

// recordTurns appends the user and assistant turns of this exchange.
func (d *Dispatcher) recordTurns(ctx context.Context, msg *messaging.NormalizedMessage, reply string) {
	now := time.Now()
	userContent := msg.Text
	switch msg.Kind {
	case messaging.KindImage:
		userContent = "[gambar]"
	case messaging.KindLocation:
		userContent = formatCoords(msg.Latitude, msg.Longitude)
	case messaging.KindContact:
		userContent = "[kontak] " + msg.ContactPhone
	}

	turns := []*models.ConversationTurn{
		{ID: uuid.New().String(), Phone: msg.Sender, Speaker: models.SpeakerUser, Content: userContent, CreatedAt: now},
		{ID: uuid.New().String(), Phone: msg.Sender, Speaker: models.SpeakerAssistant, Content: reply, CreatedAt: now.Add(time.Millisecond)},
	}
	for _, turn := range turns {
		if err := d.storage.AppendTurn(ctx, turn); err != nil {
			d.logger.Warn("Failed to append turn",
				zap.Error(err), zap.String("phone", msg.Sender))
			return
		}
	}
}

func (d *Dispatcher) audit(ctx context.Context, phone, command string, success bool, kind failure.Kind, started time.Time) {
	entry := &models.AuditEntry{
		ID:        uuid.New().String(),
		Phone:     phone,
		Command:   command,
		Success:   success,
		Failure:   string(kind),
		LatencyMS: time.Since(started).Milliseconds(),
		CreatedAt: time.Now(),
	}
	if err := d.storage.LogInteraction(ctx, entry); err != nil {
		d.logger.Error("Failed to write audit entry",
			zap.Error(err), zap.String("phone", phone))
	}
}
