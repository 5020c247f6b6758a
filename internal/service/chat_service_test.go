package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/taskchat-api/internal/dto"
	"github.com/noah-isme/taskchat-api/internal/models"
)

func TestChatServiceOpenDirectReusesPair(t *testing.T) {
	f := newChatFixture(t, nil)
	ctx := context.Background()

	first := f.direct(t, "alice", "bob")
	second := f.direct(t, "bob", "alice")

	require.Equal(t, first.ID, second.ID)
	require.Equal(t, models.ChatTypeDirect, first.Type)
	require.ElementsMatch(t, []string{"alice", "bob"}, first.Participants)
	require.Empty(t, first.Admins)

	_, err := f.chats.OpenDirect(ctx, "alice", dto.DirectChatRequest{UserID: "alice"})
	require.ErrorIs(t, err, ErrInvalidMembership)
}

func TestChatServiceCreateGroupAnnouncesAndNotifies(t *testing.T) {
	f := newChatFixture(t, nil)

	chat := f.group(t, "alice", "bob", "carol", "bob", "alice")

	require.Equal(t, models.ChatTypeGroup, chat.Type)
	require.Equal(t, []string{"alice", "bob", "carol"}, chat.Participants)
	require.Equal(t, []string{"alice"}, chat.Admins)
	require.Equal(t, "alice", chat.CreatedBy)

	require.Equal(t, []string{"Alice created the chat", "Bob, Carol joined"}, systemTexts(f.history(t, "bob", chat.ID)))

	for _, id := range []string{"bob", "carol"} {
		items := f.notificationsFor(t, id)
		require.Len(t, items, 1)
		require.Equal(t, models.NotificationChatAdded, items[0].Type)
		require.Equal(t, chat.ID, items[0].RelatedChat)
	}
	require.Empty(t, f.notificationsFor(t, "alice"))
}

func TestChatServiceCreateGroupNeedsAnotherParticipant(t *testing.T) {
	f := newChatFixture(t, nil)

	_, err := f.chats.CreateGroup(context.Background(), "alice", dto.GroupChatCreateRequest{
		Name:           "Solo",
		ParticipantIDs: []string{"alice"},
	})
	require.ErrorIs(t, err, ErrInvalidMembership)
}

func TestChatServiceAddParticipant(t *testing.T) {
	f := newChatFixture(t, nil)
	ctx := context.Background()
	chat := f.group(t, "alice", "bob")

	_, err := f.chats.AddParticipant(ctx, "bob", chat.ID, dto.ParticipantRequest{UserID: "alice"})
	require.ErrorIs(t, err, ErrParticipantExists)

	updated, err := f.chats.AddParticipant(ctx, "bob", chat.ID, dto.ParticipantRequest{UserID: "dave"})
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob", "dave"}, updated.Participants)
	require.Contains(t, systemTexts(f.history(t, "alice", chat.ID)), "Bob added Dave")

	_, err = f.chats.AddParticipant(ctx, "carol", chat.ID, dto.ParticipantRequest{UserID: "carol"})
	require.ErrorIs(t, err, ErrChatNotFound)

	direct := f.direct(t, "alice", "bob")
	_, err = f.chats.AddParticipant(ctx, "alice", direct.ID, dto.ParticipantRequest{UserID: "carol"})
	require.ErrorIs(t, err, ErrUnsupportedForChatType)
}

func TestChatServiceRemoveParticipantRestrictedToCreator(t *testing.T) {
	f := newChatFixture(t, nil)
	ctx := context.Background()
	chat := f.group(t, "alice", "bob", "carol")
	f.send(t, "bob", chat.ID, "before removal")

	_, err := f.chats.RemoveParticipant(ctx, "bob", chat.ID, "carol")
	require.ErrorIs(t, err, ErrChatForbidden)

	_, err = f.chats.RemoveParticipant(ctx, "alice", chat.ID, "alice")
	require.ErrorIs(t, err, ErrChatForbidden)

	updated, err := f.chats.RemoveParticipant(ctx, "alice", chat.ID, "carol")
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, updated.Participants)
	require.Equal(t, []string{"carol"}, updated.FormerParticipants)
	require.Len(t, f.broadcaster.find("evict", chat.ID+"/carol", ""), 1)

	_, err = f.chats.RemoveParticipant(ctx, "alice", chat.ID, "carol")
	require.ErrorIs(t, err, ErrNotParticipant)

	removed := f.notificationsFor(t, "carol")
	require.Equal(t, models.NotificationChatRemoved, removed[len(removed)-1].Type)

	_, err = f.messages.Send(ctx, "carol", dto.MessageSendRequest{ChatID: chat.ID, Text: "still here?"})
	require.ErrorIs(t, err, ErrChatForbidden)

	f.send(t, "bob", chat.ID, "after removal")
	require.Equal(t, []string{"before removal"}, userTexts(f.history(t, "carol", chat.ID)))
	require.Equal(t, []string{"before removal", "after removal"}, userTexts(f.history(t, "bob", chat.ID)))
}

func TestChatServiceLeaveReassignsAdminAndFreezesHistory(t *testing.T) {
	f := newChatFixture(t, nil)
	ctx := context.Background()
	chat := f.group(t, "alice", "bob", "carol")

	f.send(t, "alice", chat.ID, "before leaving")
	require.NoError(t, f.chats.Leave(ctx, "alice", chat.ID))

	view, err := f.chats.Get(ctx, "bob", chat.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"bob", "carol"}, view.Participants)
	require.Equal(t, []string{"alice"}, view.FormerParticipants)
	require.Equal(t, []string{"bob"}, view.Admins)

	f.send(t, "bob", chat.ID, "after leaving")

	require.Equal(t, []string{"before leaving"}, userTexts(f.history(t, "alice", chat.ID)))
	require.Equal(t, []string{"before leaving", "after leaving"}, userTexts(f.history(t, "bob", chat.ID)))

	notes := systemTexts(f.history(t, "bob", chat.ID))
	require.Contains(t, notes, "Bob is now an admin")
	require.Contains(t, notes, "Alice left the chat")

	_, err = f.messages.Send(ctx, "alice", dto.MessageSendRequest{ChatID: chat.ID, Text: "hello?"})
	require.ErrorIs(t, err, ErrChatForbidden)
	require.ErrorIs(t, f.chats.CanJoin(ctx, "alice", chat.ID), ErrChatForbidden)
	require.ErrorIs(t, f.chats.Leave(ctx, "alice", chat.ID), ErrChatForbidden)
	require.Len(t, f.broadcaster.find("user", "alice", EventChatLeft), 1)
}

func TestChatServiceLastLeaverDeletesGroup(t *testing.T) {
	f := newChatFixture(t, nil)
	ctx := context.Background()
	chat := f.group(t, "alice", "bob")
	f.send(t, "bob", chat.ID, "bye")

	require.NoError(t, f.chats.Leave(ctx, "bob", chat.ID))
	require.NoError(t, f.chats.Leave(ctx, "alice", chat.ID))

	_, err := f.chatRepo.FindByID(ctx, chat.ID)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)

	var remaining int64
	require.NoError(t, f.db.Model(&models.Message{}).Where("chat_id = ?", chat.ID).Count(&remaining).Error)
	require.Zero(t, remaining)

	for _, id := range []string{"alice", "bob"} {
		events := f.broadcaster.find("user", id, EventChatDeleted)
		require.NotEmpty(t, events)
		require.True(t, events[len(events)-1].Payload.(dto.ChatDeletedEvent).Permanent)
	}
}

func TestChatServiceLeaveRejectsDirectChats(t *testing.T) {
	f := newChatFixture(t, nil)
	chat := f.direct(t, "alice", "bob")

	require.ErrorIs(t, f.chats.Leave(context.Background(), "alice", chat.ID), ErrUnsupportedForChatType)
}

func TestChatServiceHideDirectAndRestoreOnNewMessage(t *testing.T) {
	f := newChatFixture(t, nil)
	ctx := context.Background()
	chat := f.direct(t, "alice", "bob")
	f.send(t, "alice", chat.ID, "old news")

	require.NoError(t, f.chats.Delete(ctx, "bob", chat.ID))

	listed, err := f.chats.List(ctx, "bob")
	require.NoError(t, err)
	require.NotContains(t, chatIDs(listed), chat.ID)
	_, err = f.chats.Get(ctx, "bob", chat.ID)
	require.ErrorIs(t, err, ErrChatNotFound)

	fresh := f.send(t, "alice", chat.ID, "are you there?")

	listed, err = f.chats.List(ctx, "bob")
	require.NoError(t, err)
	require.Contains(t, chatIDs(listed), chat.ID)
	require.Equal(t, []string{"are you there?"}, userTexts(f.history(t, "bob", chat.ID)))
	require.Equal(t, []string{"old news", "are you there?"}, userTexts(f.history(t, "alice", chat.ID)))

	restored := f.broadcaster.find("user", "bob", EventChatRestored)
	require.Len(t, restored, 1)
	event := restored[0].Payload.(dto.ChatRestoredEvent)
	require.NotNil(t, event.NewMessage)
	require.Equal(t, fresh.ID, event.NewMessage.ID)
	require.Empty(t, event.Chat.DeletedBy)
}

func TestChatServiceReopenHiddenDirectStartsFresh(t *testing.T) {
	f := newChatFixture(t, nil)
	ctx := context.Background()
	chat := f.direct(t, "alice", "bob")
	f.send(t, "alice", chat.ID, "history")

	require.NoError(t, f.chats.Delete(ctx, "bob", chat.ID))

	reopened := f.direct(t, "bob", "alice")
	require.Equal(t, chat.ID, reopened.ID)
	require.Contains(t, reopened.MessagesVisibleFrom, "bob")
	require.Empty(t, f.history(t, "bob", chat.ID))
	require.Len(t, f.broadcaster.find("user", "bob", EventChatRestored), 1)
}

func TestChatServiceCreatorDeletesGroupForEveryone(t *testing.T) {
	f := newChatFixture(t, nil)
	ctx := context.Background()
	chat := f.group(t, "alice", "bob", "carol")

	require.NoError(t, f.chats.Delete(ctx, "alice", chat.ID))

	_, err := f.chatRepo.FindByID(ctx, chat.ID)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	for _, id := range []string{"bob", "carol"} {
		items := f.notificationsFor(t, id)
		require.Equal(t, models.NotificationChatDeleted, items[len(items)-1].Type)
		require.Len(t, f.broadcaster.find("evict", chat.ID+"/"+id, ""), 1)
	}
}

func TestChatServiceMemberDeleteOnlyHidesGroup(t *testing.T) {
	f := newChatFixture(t, nil)
	ctx := context.Background()
	chat := f.group(t, "alice", "bob")

	require.NoError(t, f.chats.Delete(ctx, "bob", chat.ID))

	view, err := f.chats.Get(ctx, "alice", chat.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, view.Participants)

	listed, err := f.chats.List(ctx, "bob")
	require.NoError(t, err)
	require.Empty(t, listed)

	events := f.broadcaster.find("user", "bob", EventChatDeleted)
	require.Len(t, events, 1)
	require.False(t, events[0].Payload.(dto.ChatDeletedEvent).Permanent)
}

func TestChatServiceNicknameIsPrivate(t *testing.T) {
	f := newChatFixture(t, nil)
	ctx := context.Background()
	chat := f.direct(t, "alice", "bob")
	nickname := "Bobby"

	updated, err := f.chats.Update(ctx, "alice", chat.ID, dto.ChatUpdateRequest{Nickname: &nickname})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"bob": "Bobby"}, updated.Nicknames)

	bobView, err := f.chats.Get(ctx, "bob", chat.ID)
	require.NoError(t, err)
	require.Empty(t, bobView.Nicknames)

	items := f.notificationsFor(t, "bob")
	require.Len(t, items, 1)
	require.Equal(t, models.NotificationNicknameSet, items[0].Type)
	require.NotContains(t, items[0].Message, "Bobby")

	empty := ""
	cleared, err := f.chats.Update(ctx, "alice", chat.ID, dto.ChatUpdateRequest{Nickname: &empty})
	require.NoError(t, err)
	require.Empty(t, cleared.Nicknames)
	require.Len(t, f.notificationsFor(t, "bob"), 1)
}

func TestChatServiceGroupUpdateRequiresAdmin(t *testing.T) {
	f := newChatFixture(t, nil)
	ctx := context.Background()
	chat := f.group(t, "alice", "bob")
	name := "Roadmap"
	nickname := "x"

	_, err := f.chats.Update(ctx, "bob", chat.ID, dto.ChatUpdateRequest{Name: &name})
	require.ErrorIs(t, err, ErrChatForbidden)

	_, err = f.chats.Update(ctx, "alice", chat.ID, dto.ChatUpdateRequest{Nickname: &nickname})
	require.ErrorIs(t, err, ErrUnsupportedForChatType)

	updated, err := f.chats.Update(ctx, "alice", chat.ID, dto.ChatUpdateRequest{Name: &name})
	require.NoError(t, err)
	require.Equal(t, "Roadmap", updated.Name)
	require.Contains(t, systemTexts(f.history(t, "bob", chat.ID)), "Alice renamed the chat to Roadmap")
}

func TestChatServiceListOrdersByLatestActivity(t *testing.T) {
	f := newChatFixture(t, nil)
	ctx := context.Background()
	first := f.direct(t, "alice", "bob")
	second := f.direct(t, "alice", "carol")

	f.send(t, "bob", first.ID, "ping")

	listed, err := f.chats.List(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []string{first.ID, second.ID}, chatIDs(listed))
	require.Equal(t, int64(1), listed[0].UnreadCount)
	require.Equal(t, "ping", listed[0].LastMessage)
}

func TestChatServicePresenceReportsOnlineParticipants(t *testing.T) {
	f := newChatFixture(t, nil)
	chat := f.group(t, "alice", "bob", "carol")

	presence, err := f.chats.Presence(context.Background(), "alice", chat.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"bob"}, presence.Online)

	_, err = f.chats.Presence(context.Background(), "dave", chat.ID)
	require.ErrorIs(t, err, ErrChatNotFound)
}
