package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/onlyif/messaging/internal/apperrors"
	"github.com/onlyif/messaging/internal/metrics"
	"github.com/onlyif/messaging/internal/models"
	"github.com/onlyif/messaging/internal/policy"
	"github.com/onlyif/messaging/internal/repository"
	"go.uber.org/zap"
)

// ConversationService owns conversation lifecycle, message delivery and read state.
type ConversationService struct {
	conversations repository.ConversationStore
	messages      repository.MessageStore
	participants  repository.ParticipantRegistry
	properties    repository.PropertyDirectory
	notifier      Notifier
	fallback      Fallback
	metrics       *metrics.Metrics
	log           *zap.Logger

	now   func() time.Time
	newID func() string

	convLocks *KeyedMutex
	pairLocks *KeyedMutex
}

type Option func(*ConversationService)

// WithPropertyDirectory resolves listing titles when a request only names the property id
func WithPropertyDirectory(d repository.PropertyDirectory) Option {
	return func(s *ConversationService) { s.properties = d }
}

func WithNotifier(n Notifier) Option {
	return func(s *ConversationService) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithFallback(f Fallback) Option {
	return func(s *ConversationService) {
		if f != nil {
			s.fallback = f
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *ConversationService) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *ConversationService) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *ConversationService) { s.newID = newID }
}

func NewConversationService(
	conversations repository.ConversationStore,
	messages repository.MessageStore,
	participants repository.ParticipantRegistry,
	log *zap.Logger,
	opts ...Option,
) *ConversationService {
	s := &ConversationService{
		conversations: conversations,
		messages:      messages,
		participants:  participants,
		notifier:      nopNotifier{},
		fallback:      NoFallback{},
		log:           log,
		now:           time.Now,
		newID:         func() string { return uuid.Must(uuid.NewV7()).String() },
		convLocks:     NewKeyedMutex(),
		pairLocks:     NewKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListConversations returns the user's conversations, most recently active first,
// with UnreadCount computed for that user.
func (s *ConversationService) ListConversations(ctx context.Context, userID, roleHint string) ([]models.Conversation, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.Validation("userId is required")
	}

	convs, err := s.conversations.ListByUserID(ctx, userID)
	if err != nil {
		return nil, apperrors.Unavailable("Failed to load conversations", err)
	}

	if len(convs) == 0 {
		convs, err = s.fallback.Conversations(ctx, userID, roleHint)
		if err != nil {
			return nil, apperrors.Unavailable("Failed to load conversations", err)
		}
	}

	for i := range convs {
		unread, err := s.messages.CountUnread(ctx, convs[i].ID, userID)
		if err != nil {
			return nil, apperrors.Unavailable("Failed to count unread messages", err)
		}
		convs[i].UnreadCount = unread
	}

	sort.SliceStable(convs, func(i, j int) bool {
		if !convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
		}
		return convs[i].ID < convs[j].ID
	})

	if convs == nil {
		convs = []models.Conversation{}
	}
	return convs, nil
}

// GetMessages returns a conversation's messages oldest first
func (s *ConversationService) GetMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, apperrors.Validation("conversationId is required")
	}

	if _, err := s.getConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	msgs, err := s.messages.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, apperrors.Unavailable("Failed to load messages", err)
	}

	sortMessages(msgs)
	return msgs, nil
}

// SendMessage validates the request, enforces the role pair policy, resolves or
// creates the conversation and appends the message.
func (s *ConversationService) SendMessage(ctx context.Context, req models.SendMessageRequest) (*models.Message, error) {
	in, err := normalizeSendRequest(req)
	if err != nil {
		return nil, err
	}

	// Claimed roles are checked before anything is read or written
	if in.recipientRole != "" && in.senderRole != "" && !policy.IsAllowed(in.senderRole, in.recipientRole) {
		return nil, s.rejectPair(in)
	}

	conv, err := s.resolveConversation(ctx, in)
	if err != nil {
		return nil, err
	}

	msg, err := s.appendMessage(ctx, conv.ID, in)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.MessagesSent.WithLabelValues(string(conv.Type)).Inc()
	}
	s.publish(ctx, models.WSMessage{
		Event: models.EventMessageNew,
		Payload: models.WSMessageNewPayload{
			Message:      *msg,
			Participants: participantIDs(conv),
		},
	})

	s.log.Debug("message stored",
		zap.String("conversation_id", conv.ID),
		zap.String("message_id", msg.ID),
		zap.String("sender_id", msg.SenderID),
	)

	return msg, nil
}

// MarkRead flags every message sent to readerID as read. Calling it again is a no-op.
func (s *ConversationService) MarkRead(ctx context.Context, conversationID, readerID string) (*models.MarkReadResult, error) {
	conversationID = strings.TrimSpace(conversationID)
	readerID = strings.TrimSpace(readerID)
	if conversationID == "" {
		return nil, apperrors.Validation("conversationId is required")
	}
	if readerID == "" {
		return nil, apperrors.Validation("userId is required")
	}

	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(readerID) {
		return nil, apperrors.NotParticipant(readerID)
	}

	unlock := s.convLocks.Lock(conversationID)
	marked, err := s.messages.MarkReadForReader(ctx, conversationID, readerID)
	if err != nil {
		unlock()
		return nil, apperrors.Unavailable("Failed to mark messages as read", err)
	}
	unread, err := s.messages.CountUnread(ctx, conversationID, readerID)
	unlock()
	if err != nil {
		return nil, apperrors.Unavailable("Failed to count unread messages", err)
	}

	if marked > 0 {
		if s.metrics != nil {
			s.metrics.MessagesMarked.Add(float64(marked))
		}
		s.publish(ctx, models.WSMessage{
			Event: models.EventMessageRead,
			Payload: models.WSMessageReadPayload{
				ConversationID: conversationID,
				ReaderID:       readerID,
				Participants:   participantIDs(conv),
			},
		})
	}

	return &models.MarkReadResult{
		Message:     "Messages marked as read",
		Marked:      marked,
		UnreadCount: unread,
	}, nil
}

type sendInput struct {
	conversationID string
	senderID       string
	senderRole     models.Role
	recipientID    string
	recipientRole  models.Role
	text           string
	propertyID     string
	propertyTitle  string
}

func normalizeSendRequest(req models.SendMessageRequest) (*sendInput, error) {
	in := &sendInput{
		conversationID: strings.TrimSpace(req.ConversationID),
		senderID:       strings.TrimSpace(req.SenderID),
		recipientID:    strings.TrimSpace(req.RecipientID),
		text:           req.MessageText,
		propertyID:     strings.TrimSpace(req.PropertyID),
		propertyTitle:  strings.TrimSpace(req.PropertyTitle),
	}

	if in.senderID == "" {
		return nil, apperrors.Validation("senderId is required")
	}
	if strings.TrimSpace(in.text) == "" {
		return nil, apperrors.Validation("messageText is required")
	}
	if utf8.RuneCountInString(in.text) > models.MaxMessageLength {
		return nil, apperrors.Validation(fmt.Sprintf("messageText must be at most %d characters", models.MaxMessageLength))
	}
	if in.recipientID != "" && in.recipientID == in.senderID {
		return nil, apperrors.Validation("senderId and recipientId must differ")
	}

	if strings.TrimSpace(req.SenderRole) != "" {
		role, err := models.ParseRole(req.SenderRole)
		if err != nil {
			return nil, apperrors.Validation("senderRole must be buyer, seller or agent")
		}
		in.senderRole = role
	}
	if strings.TrimSpace(req.RecipientRole) != "" {
		role, err := models.ParseRole(req.RecipientRole)
		if err != nil {
			return nil, apperrors.Validation("recipientRole must be buyer, seller or agent")
		}
		in.recipientRole = role
	}

	return in, nil
}

func (s *ConversationService) rejectPair(in *sendInput) error {
	if s.metrics != nil {
		s.metrics.PolicyRejections.Inc()
	}
	s.log.Info("rejected message between disallowed roles",
		zap.String("sender_id", in.senderID),
		zap.String("sender_role", string(in.senderRole)),
		zap.String("recipient_id", in.recipientID),
		zap.String("recipient_role", string(in.recipientRole)),
	)
	return apperrors.ForbiddenPair()
}

func (s *ConversationService) getConversation(ctx context.Context, id string) (*models.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("conversation", err)
	}
	if err != nil {
		return nil, apperrors.Unavailable("Failed to load conversation", err)
	}
	return conv, nil
}

// resolveConversation returns the existing conversation named by the request or
// the one between sender and recipient for the property, creating it if needed.
func (s *ConversationService) resolveConversation(ctx context.Context, in *sendInput) (*models.Conversation, error) {
	if in.conversationID != "" {
		conv, err := s.conversations.GetByID(ctx, in.conversationID)
		switch {
		case err == nil:
			return conv, s.checkExisting(conv, in)
		case !errors.Is(err, repository.ErrNotFound):
			return nil, apperrors.Unavailable("Failed to load conversation", err)
		}
	}

	if in.recipientID == "" {
		return nil, apperrors.Validation("recipientId is required to start a conversation")
	}

	low, high := repository.OrderedPair(in.senderID, in.recipientID)
	unlock := s.pairLocks.Lock(low + "\x00" + high + "\x00" + in.propertyID)
	defer unlock()

	existing, err := s.conversations.FindByParticipants(ctx, in.senderID, in.recipientID, in.propertyID)
	if err == nil {
		return existing, s.checkExisting(existing, in)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.Unavailable("Failed to load conversation", err)
	}

	conv, err := s.newConversation(ctx, in)
	if err != nil {
		return nil, err
	}

	err = s.conversations.Create(ctx, conv)
	if errors.Is(err, repository.ErrConflict) {
		// Another instance created it first
		existing, err := s.conversations.FindByParticipants(ctx, in.senderID, in.recipientID, in.propertyID)
		if err != nil {
			return nil, apperrors.Unavailable("Failed to load conversation", err)
		}
		return existing, s.checkExisting(existing, in)
	}
	if err != nil {
		return nil, apperrors.Unavailable("Failed to create conversation", err)
	}

	if s.metrics != nil {
		s.metrics.ConversationsOpen.Inc()
	}
	s.log.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("type", string(conv.Type)),
		zap.String("property_id", in.propertyID),
	)

	return conv, nil
}

// checkExisting validates a request against a conversation's captured participants
func (s *ConversationService) checkExisting(conv *models.Conversation, in *sendInput) error {
	sender, ok := conv.Participant(in.senderID)
	if !ok {
		return apperrors.NotParticipant(in.senderID)
	}
	if in.senderRole != "" && in.senderRole != sender.Role {
		return apperrors.Validation("senderRole does not match the sender's role in this conversation")
	}

	// An omitted senderRole falls back to the role captured in the conversation
	if in.recipientRole != "" && !policy.IsAllowed(sender.Role, in.recipientRole) {
		in.senderRole = sender.Role
		return s.rejectPair(in)
	}

	var recipient models.Participant
	if in.recipientID != "" {
		recipient, ok = conv.Participant(in.recipientID)
		if !ok {
			return apperrors.Validation("recipientId is not a participant of this conversation")
		}
	} else {
		recipient, ok = otherParticipant(conv, in.senderID)
	}
	if ok && in.recipientRole != "" && in.recipientRole != recipient.Role {
		return apperrors.Validation("recipientRole does not match the recipient's role in this conversation")
	}

	return nil
}

func otherParticipant(conv *models.Conversation, userID string) (models.Participant, bool) {
	for _, p := range conv.Participants {
		if p.UserID != userID {
			return p, true
		}
	}
	return models.Participant{}, false
}

func (s *ConversationService) newConversation(ctx context.Context, in *sendInput) (*models.Conversation, error) {
	sender, err := s.resolveParticipant(ctx, in.senderID, in.senderRole, "senderRole")
	if err != nil {
		return nil, err
	}
	if in.recipientRole != "" && !policy.IsAllowed(sender.Role, in.recipientRole) {
		in.senderRole = sender.Role
		return nil, s.rejectPair(in)
	}
	recipient, err := s.resolveParticipant(ctx, in.recipientID, in.recipientRole, "recipientRole")
	if err != nil {
		return nil, err
	}

	typ, ok := policy.ConversationTypeFor(sender.Role, recipient.Role)
	if !ok {
		in.senderRole, in.recipientRole = sender.Role, recipient.Role
		return nil, s.rejectPair(in)
	}

	title := in.propertyTitle
	if in.propertyID != "" && title == "" && s.properties != nil {
		prop, err := s.properties.GetProperty(ctx, in.propertyID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("property", err)
		}
		if err != nil {
			return nil, apperrors.Unavailable("Failed to load property", err)
		}
		title = prop.Title
	}

	now := s.timestamp()
	conv := &models.Conversation{
		ID:            s.newID(),
		Type:          typ,
		PropertyTitle: title,
		Participants:  []models.Participant{*sender, *recipient},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if in.propertyID != "" {
		id := in.propertyID
		conv.PropertyID = &id
	}

	return conv, nil
}

func (s *ConversationService) resolveParticipant(ctx context.Context, userID string, claimed models.Role, field string) (*models.Participant, error) {
	p, err := s.participants.Resolve(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.UnknownParticipant(userID, err)
	}
	if err != nil {
		return nil, apperrors.Unavailable("Failed to resolve participant", err)
	}
	if !p.Role.Valid() {
		return nil, apperrors.UnknownParticipant(userID, nil)
	}
	if claimed != "" && claimed != p.Role {
		return nil, apperrors.Validation(field + " does not match the user's account role")
	}
	return p, nil
}

// appendMessage stores the message and advances the conversation's last message
// under the conversation lock, so timestamps never go backwards within a conversation.
func (s *ConversationService) appendMessage(ctx context.Context, conversationID string, in *sendInput) (*models.Message, error) {
	unlock := s.convLocks.Lock(conversationID)
	defer unlock()

	current, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	ts := s.timestamp()
	if current.LastMessage != nil && ts.Before(current.LastMessage.Timestamp) {
		ts = current.LastMessage.Timestamp
	}

	msg := &models.Message{
		ID:             s.newID(),
		ConversationID: conversationID,
		SenderID:       in.senderID,
		MessageText:    in.text,
		Timestamp:      ts,
		Read:           false,
	}

	if err := s.messages.Append(ctx, msg); err != nil {
		return nil, apperrors.Unavailable("Failed to store message", err)
	}
	if err := s.conversations.UpdateLastMessage(ctx, conversationID, msg.Summary()); err != nil {
		return nil, apperrors.Unavailable("Failed to update conversation", err)
	}

	return msg, nil
}

func (s *ConversationService) publish(ctx context.Context, event models.WSMessage) {
	if err := s.notifier.Publish(ctx, event); err != nil {
		s.log.Warn("failed to publish event", zap.String("event", event.Event), zap.Error(err))
	}
}

// timestamp is truncated to the precision every store keeps
func (s *ConversationService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func sortMessages(msgs []models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		}
		return msgs[i].Seq < msgs[j].Seq
	})
}

func participantIDs(conv *models.Conversation) []string {
	ids := make([]string, len(conv.Participants))
	for i, p := range conv.Participants {
		ids[i] = p.UserID
	}
	return ids
}
