package service

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/noah-isme/taskchat-api/internal/dto"
	"github.com/noah-isme/taskchat-api/internal/models"
	"github.com/noah-isme/taskchat-api/internal/repository"
)

type recordedEvent struct {
	Kind    string
	Target  string
	Event   string
	Payload interface{}
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingBroadcaster) ToChat(chatID, event string, payload interface{}) {
	r.record("chat", chatID, event, payload)
}

func (r *recordingBroadcaster) ToUser(userID, event string, payload interface{}) {
	r.record("user", userID, event, payload)
}

func (r *recordingBroadcaster) EvictFromChat(chatID, userID string) {
	r.record("evict", chatID+"/"+userID, "", nil)
}

func (r *recordingBroadcaster) record(kind, target, event string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Kind: kind, Target: target, Event: event, Payload: payload})
}

func (r *recordingBroadcaster) find(kind, target, event string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.Kind == kind && e.Target == target && e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type stubPresence struct {
	online map[string]bool
}

func (s stubPresence) Online(ids []string) []string {
	out := []string{}
	for _, id := range ids {
		if s.online[id] {
			out = append(out, id)
		}
	}
	return out
}

type chatFixture struct {
	db            *gorm.DB
	chatRepo      repository.ChatRepository
	messageRepo   repository.MessageRepository
	broadcaster   *recordingBroadcaster
	notifications NotificationService
	chats         ChatService
	messages      MessageService
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func setupChatDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Chat{},
		&models.ChatMember{},
		&models.Message{},
		&models.MessageReaction{},
		&models.MessageRead{},
		&models.Notification{},
		&models.UploadRecord{},
	))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newChatFixture(t *testing.T, purger AttachmentPurger) *chatFixture {
	t.Helper()
	db := setupChatDB(t)
	for _, user := range []models.User{
		{ID: "alice", Name: "Alice"},
		{ID: "bob", Name: "Bob"},
		{ID: "carol", Name: "Carol"},
		{ID: "dave", Name: "Dave"},
	} {
		require.NoError(t, db.Create(&user).Error)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	broadcaster := &recordingBroadcaster{}
	chatRepo := repository.NewChatRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	userRepo := repository.NewUserRepository(db)
	notifications := NewNotificationService(repository.NewNotificationRepository(db), broadcaster, nil, validate, testLogger())

	return &chatFixture{
		db:            db,
		chatRepo:      chatRepo,
		messageRepo:   messageRepo,
		broadcaster:   broadcaster,
		notifications: notifications,
		chats: NewChatService(ChatServiceDeps{
			Chats:         chatRepo,
			Messages:      messageRepo,
			Users:         userRepo,
			Notifications: notifications,
			Broadcaster:   broadcaster,
			Presence:      stubPresence{online: map[string]bool{"bob": true}},
			Validator:     validate,
			Logger:        testLogger(),
		}),
		messages: NewMessageService(MessageServiceDeps{
			Chats:         chatRepo,
			Messages:      messageRepo,
			Users:         userRepo,
			Notifications: notifications,
			Broadcaster:   broadcaster,
			Uploads:       repository.NewUploadRepository(db),
			Attachments:   purger,
			Validator:     validate,
			Logger:        testLogger(),
		}),
	}
}

func (f *chatFixture) direct(t *testing.T, a, b string) dto.ChatResponse {
	t.Helper()
	chat, err := f.chats.OpenDirect(context.Background(), a, dto.DirectChatRequest{UserID: b})
	require.NoError(t, err)
	return chat
}

func (f *chatFixture) group(t *testing.T, creator string, participants ...string) dto.ChatResponse {
	t.Helper()
	chat, err := f.chats.CreateGroup(context.Background(), creator, dto.GroupChatCreateRequest{
		Name:           "Launch",
		ParticipantIDs: participants,
	})
	require.NoError(t, err)
	return chat
}

// uploaded records a stored file as if userID had uploaded it into chatID.
func (f *chatFixture) uploaded(t *testing.T, userID, chatID, url, mime string, size int64) dto.AttachmentPayload {
	t.Helper()
	record := models.UploadRecord{ChatID: chatID, UserID: userID, URL: url, MimeType: mime, SizeBytes: size, FileName: path.Base(url)}
	require.NoError(t, f.db.Create(&record).Error)
	return dto.AttachmentPayload{URL: url, Name: record.FileName}
}

func (f *chatFixture) send(t *testing.T, sender, chatID, text string) dto.MessageResponse {
	t.Helper()
	message, err := f.messages.Send(context.Background(), sender, dto.MessageSendRequest{ChatID: chatID, Text: text})
	require.NoError(t, err)
	return message
}

func (f *chatFixture) history(t *testing.T, userID, chatID string) []dto.MessageResponse {
	t.Helper()
	messages, err := f.messages.List(context.Background(), userID, dto.MessageHistoryQuery{ChatID: chatID})
	require.NoError(t, err)
	return messages
}

func (f *chatFixture) notificationsFor(t *testing.T, userID string) []models.Notification {
	t.Helper()
	var items []models.Notification
	require.NoError(t, f.db.Where("user_id = ?", userID).Order("id ASC").Find(&items).Error)
	return items
}

func userTexts(messages []dto.MessageResponse) []string {
	out := []string{}
	for _, message := range messages {
		if !message.IsSystem {
			out = append(out, message.Text)
		}
	}
	return out
}

func systemTexts(messages []dto.MessageResponse) []string {
	out := []string{}
	for _, message := range messages {
		if message.IsSystem {
			out = append(out, message.Text)
		}
	}
	return out
}

func chatIDs(chats []dto.ChatResponse) []string {
	out := make([]string, 0, len(chats))
	for _, chat := range chats {
		out = append(out, chat.ID)
	}
	return out
}
