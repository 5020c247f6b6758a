package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/textproto"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/taskchat-api/internal/dto"
	"github.com/noah-isme/taskchat-api/internal/models"
	"github.com/noah-isme/taskchat-api/internal/repository"
)

type storageStub struct {
	uploaded bytes.Buffer
	deleted  []string
	failOn   map[string]bool
}

func (s *storageStub) Upload(ctx context.Context, name string, reader io.Reader) (string, error) {
	s.uploaded.Reset()
	_, err := s.uploaded.ReadFrom(reader)
	if err != nil {
		return "", err
	}
	return "https://cdn.example.com/" + name, nil
}

func (s *storageStub) Delete(ctx context.Context, url string) error {
	if s.failOn[url] {
		return errors.New("storage unavailable")
	}
	s.deleted = append(s.deleted, url)
	return nil
}

func setupUploadService(t *testing.T, storage *storageStub, maxSizeMB int) (UploadService, *chatFixture, string) {
	t.Helper()
	f := newChatFixture(t, nil)
	chat := f.direct(t, "alice", "bob")
	svc := NewUploadService(storage, repository.NewUploadRepository(f.db), f.chatRepo, f.messageRepo, maxSizeMB, testLogger())
	return svc, f, chat.ID
}

func TestUploadServiceRejectsSize(t *testing.T) {
	svc, _, chatID := setupUploadService(t, &storageStub{}, 1)

	file := buildFileHeader(t, "file.pdf", bytes.Repeat([]byte("a"), 2*1024*1024))

	_, err := svc.Upload(context.Background(), "alice", chatID, file)
	require.ErrorIs(t, err, ErrUploadTooLarge)
}

func TestUploadServiceTypeValidation(t *testing.T) {
	svc, _, chatID := setupUploadService(t, &storageStub{}, 5)

	elf := append([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1}, bytes.Repeat([]byte{0}, 64)...)
	file := buildFileHeader(t, "tool.bin", elf)
	_, err := svc.Upload(context.Background(), "alice", chatID, file)
	require.ErrorIs(t, err, ErrUploadTypeNotAllowed)
}

func TestUploadServiceRequiresParticipant(t *testing.T) {
	svc, _, chatID := setupUploadService(t, &storageStub{}, 5)

	file := buildFileHeader(t, "notes.txt", []byte("plain text"))
	_, err := svc.Upload(context.Background(), "carol", chatID, file)
	require.ErrorIs(t, err, ErrChatNotFound)
}

func TestUploadServiceSuccess(t *testing.T) {
	storage := &storageStub{}
	svc, f, chatID := setupUploadService(t, storage, 5)

	pngHeader := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	file := buildFileHeader(t, "Team Photo.PNG", pngHeader)

	resp, err := svc.Upload(context.Background(), "alice", chatID, file)
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/team-photo.png", resp.URL)
	require.Equal(t, "image/png", resp.Type)
	require.Equal(t, int64(len(pngHeader)), resp.Size)
	require.Len(t, resp.Checksum, 64)
	require.Equal(t, pngHeader, storage.uploaded.Bytes())

	var record models.UploadRecord
	require.NoError(t, f.db.Where("url = ?", resp.URL).First(&record).Error)
	require.Equal(t, chatID, record.ChatID)
	require.Equal(t, "alice", record.UserID)
}

func TestUploadServicePurgeContinuesPastFailures(t *testing.T) {
	storage := &storageStub{failOn: map[string]bool{"https://cdn.example.com/broken.pdf": true}}
	svc, f, chatID := setupUploadService(t, storage, 5)

	kept := models.UploadRecord{ChatID: chatID, UserID: "alice", URL: "https://cdn.example.com/broken.pdf"}
	gone := models.UploadRecord{ChatID: chatID, UserID: "alice", URL: "https://cdn.example.com/ok.png"}
	require.NoError(t, f.db.Create(&kept).Error)
	require.NoError(t, f.db.Create(&gone).Error)

	svc.Purge(context.Background(), "alice", []models.Attachment{
		{URL: kept.URL, Name: "broken.pdf"},
		{URL: ""},
		{URL: gone.URL, Name: "ok.png"},
	})

	require.Equal(t, []string{gone.URL}, storage.deleted)

	var urls []string
	require.NoError(t, f.db.Model(&models.UploadRecord{}).Pluck("url", &urls).Error)
	require.Equal(t, []string{kept.URL}, urls)
}

func buildFileHeader(t *testing.T, filename string, content []byte) *multipart.FileHeader {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {"form-data; name=\"file\"; filename=\"" + filename + "\""},
		"Content-Type":        {"application/octet-stream"},
	})
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	writer.Close()

	reader := multipart.NewReader(body, writer.Boundary())
	form, err := reader.ReadForm(int64(len(content) + 1024))
	require.NoError(t, err)
	files := form.File["file"]
	require.Len(t, files, 1)
	return files[0]
}

func TestUploadServicePurgeChatOnGroupDeletion(t *testing.T) {
	storage := &storageStub{}
	svc, f, directID := setupUploadService(t, storage, 5)
	ctx := context.Background()
	group := f.group(t, "alice", "bob")

	chats := NewChatService(ChatServiceDeps{
		Chats:         f.chatRepo,
		Messages:      f.messageRepo,
		Users:         repository.NewUserRepository(f.db),
		Notifications: f.notifications,
		Broadcaster:   f.broadcaster,
		Uploads:       svc,
		Validator:     validator.New(validator.WithRequiredStructEnabled()),
		Logger:        testLogger(),
	})

	messages := purgingMessages(f, svc)

	inGroup, err := svc.Upload(ctx, "alice", group.ID, buildFileHeader(t, "plan.txt", []byte("group plan")))
	require.NoError(t, err)
	shared, err := svc.Upload(ctx, "alice", group.ID, buildFileHeader(t, "shared.txt", []byte("shared")))
	require.NoError(t, err)
	inDirect, err := svc.Upload(ctx, "alice", directID, buildFileHeader(t, "note.txt", []byte("direct note")))
	require.NoError(t, err)

	sent, err := messages.Send(ctx, "alice", dto.MessageSendRequest{
		ChatID:      group.ID,
		Attachments: []dto.AttachmentPayload{{URL: shared.URL, Name: shared.Name}},
	})
	require.NoError(t, err)
	_, err = messages.Forward(ctx, "bob", sent.ID, dto.MessageForwardRequest{ChatIDs: []string{directID}})
	require.NoError(t, err)

	require.NoError(t, chats.Delete(ctx, "alice", group.ID))

	require.Equal(t, []string{inGroup.URL}, storage.deleted)
	var urls []string
	require.NoError(t, f.db.Model(&models.UploadRecord{}).Order("id ASC").Pluck("url", &urls).Error)
	require.Equal(t, []string{shared.URL, inDirect.URL}, urls)
}

func TestUploadServiceKeepsFilesOtherMessagesShow(t *testing.T) {
	storage := &storageStub{}
	svc, f, directID := setupUploadService(t, storage, 5)
	ctx := context.Background()
	messages := purgingMessages(f, svc)
	bobCarol := f.direct(t, "bob", "carol")
	aliceCarol := f.direct(t, "alice", "carol")
	carolDave := f.direct(t, "carol", "dave")

	upload, err := svc.Upload(ctx, "alice", directID, buildFileHeader(t, "plan.txt", []byte("the plan")))
	require.NoError(t, err)
	attachment := dto.AttachmentPayload{URL: upload.URL, Name: upload.Name}

	original, err := messages.Send(ctx, "alice", dto.MessageSendRequest{ChatID: directID, Text: "plan", Attachments: []dto.AttachmentPayload{attachment}})
	require.NoError(t, err)

	_, err = messages.Send(ctx, "carol", dto.MessageSendRequest{ChatID: carolDave.ID, Attachments: []dto.AttachmentPayload{attachment}})
	require.ErrorIs(t, err, ErrInvalidAttachment)

	forwarded, err := messages.Forward(ctx, "bob", original.ID, dto.MessageForwardRequest{ChatIDs: []string{bobCarol.ID}})
	require.NoError(t, err)
	require.Len(t, forwarded.Messages, 1)
	_, err = messages.Delete(ctx, "bob", forwarded.Messages[0].ID)
	require.NoError(t, err)
	require.Empty(t, storage.deleted)

	own, err := messages.Forward(ctx, "alice", original.ID, dto.MessageForwardRequest{ChatIDs: []string{aliceCarol.ID}})
	require.NoError(t, err)
	require.Len(t, own.Messages, 1)
	_, err = messages.Delete(ctx, "alice", original.ID)
	require.NoError(t, err)
	require.Empty(t, storage.deleted)

	_, err = messages.Delete(ctx, "alice", own.Messages[0].ID)
	require.NoError(t, err)
	require.Equal(t, []string{upload.URL}, storage.deleted)

	var remaining int64
	require.NoError(t, f.db.Model(&models.UploadRecord{}).Where("url = ?", upload.URL).Count(&remaining).Error)
	require.Zero(t, remaining)
}

func TestUploadServicePurgeSkipsOtherOwners(t *testing.T) {
	storage := &storageStub{}
	svc, f, chatID := setupUploadService(t, storage, 5)

	record := models.UploadRecord{ChatID: chatID, UserID: "alice", URL: "https://cdn.example.com/alice.png"}
	require.NoError(t, f.db.Create(&record).Error)

	svc.Purge(context.Background(), "bob", []models.Attachment{{URL: record.URL}})
	svc.Purge(context.Background(), "alice", []models.Attachment{{URL: "https://cdn.example.com/unknown.png"}})
	require.Empty(t, storage.deleted)

	svc.Purge(context.Background(), "alice", []models.Attachment{{URL: record.URL}})
	require.Equal(t, []string{record.URL}, storage.deleted)
}

func purgingMessages(f *chatFixture, uploads UploadService) MessageService {
	return NewMessageService(MessageServiceDeps{
		Chats:         f.chatRepo,
		Messages:      f.messageRepo,
		Users:         repository.NewUserRepository(f.db),
		Notifications: f.notifications,
		Broadcaster:   f.broadcaster,
		Uploads:       repository.NewUploadRepository(f.db),
		Attachments:   uploads,
		Validator:     validator.New(validator.WithRequiredStructEnabled()),
		Logger:        testLogger(),
	})
}
