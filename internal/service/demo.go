package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/onlyif/messaging/internal/models"
	"github.com/onlyif/messaging/internal/repository"
)

// DemoData is the fixture set loaded when demo mode is on
type DemoData struct {
	Participants  []models.Participant
	Conversations []models.Conversation
	Messages      []models.Message
}

// NewDemoData builds fixtures whose timestamps end shortly before now
func NewDemoData(now time.Time) DemoData {
	now = now.UTC().Truncate(time.Second)

	buyer := models.Participant{UserID: "buyer-1", Name: "Emma Wilson", Role: models.RoleBuyer, Email: "emma.wilson@example.com"}
	agent := models.Participant{UserID: "agent-1", Name: "Sarah Johnson", Role: models.RoleAgent, Email: "sarah.johnson@onlyif.com.au"}
	peer := models.Participant{UserID: "agent-2", Name: "David Chen", Role: models.RoleAgent, Email: "david.chen@onlyif.com.au"}
	seller := models.Participant{UserID: "seller-1", Name: "Michael Brown", Role: models.RoleSeller, Email: "michael.brown@example.com"}

	prop1, prop2 := "prop-1", "prop-2"
	at := func(d time.Duration) time.Time { return now.Add(-d) }

	convs := []models.Conversation{
		{
			ID:            "conv-1",
			Type:          models.ConversationBuyerAgent,
			PropertyID:    &prop1,
			PropertyTitle: "Modern Family Home in Brighton",
			Participants:  []models.Participant{buyer, agent},
			CreatedAt:     at(48 * time.Hour),
			UpdatedAt:     at(2 * time.Hour),
		},
		{
			ID:            "conv-2",
			Type:          models.ConversationAgentSeller,
			PropertyID:    &prop1,
			PropertyTitle: "Modern Family Home in Brighton",
			Participants:  []models.Participant{agent, seller},
			CreatedAt:     at(72 * time.Hour),
			UpdatedAt:     at(5 * time.Hour),
		},
		{
			ID:            "conv-3",
			Type:          models.ConversationAgentAgent,
			PropertyID:    &prop2,
			PropertyTitle: "Luxury Apartment in South Yarra",
			Participants:  []models.Participant{agent, peer},
			CreatedAt:     at(24 * time.Hour),
			UpdatedAt:     at(time.Hour),
		},
	}

	msgs := []models.Message{
		{ID: "msg-1", ConversationID: "conv-1", SenderID: buyer.UserID, MessageText: "Hi, I'm interested in the Brighton property. Is it still available?", Timestamp: at(3 * time.Hour), Read: true},
		{ID: "msg-2", ConversationID: "conv-1", SenderID: agent.UserID, MessageText: "Yes it is! Would you like to book an inspection this weekend?", Timestamp: at(2 * time.Hour)},
		{ID: "msg-3", ConversationID: "conv-2", SenderID: agent.UserID, MessageText: "We have a buyer interested in an inspection on Saturday.", Timestamp: at(6 * time.Hour), Read: true},
		{ID: "msg-4", ConversationID: "conv-2", SenderID: seller.UserID, MessageText: "Saturday works. Please let me know the time.", Timestamp: at(5 * time.Hour)},
		{ID: "msg-5", ConversationID: "conv-3", SenderID: peer.UserID, MessageText: "Do you have comparable sales for South Yarra?", Timestamp: at(time.Hour)},
	}

	for i := range convs {
		for j := len(msgs) - 1; j >= 0; j-- {
			if msgs[j].ConversationID == convs[i].ID {
				convs[i].LastMessage = msgs[j].Summary()
				break
			}
		}
	}

	return DemoData{
		Participants:  []models.Participant{buyer, agent, peer, seller},
		Conversations: convs,
		Messages:      msgs,
	}
}

// SeedDemo writes the demo conversations and their messages through the stores
// and returns how many conversations it created. Conversations that already
// exist for the same participants and property are left untouched, so it is
// safe to run on every start.
func SeedDemo(ctx context.Context, convs repository.ConversationStore, msgs repository.MessageStore, demo DemoData) (int, error) {
	created := 0
	for i := range demo.Conversations {
		conv := demo.Conversations[i].Clone()
		conv.LastMessage = nil

		err := convs.Create(ctx, conv)
		if errors.Is(err, repository.ErrConflict) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("seed conversation %s: %w", conv.ID, err)
		}

		for j := range demo.Messages {
			msg := demo.Messages[j]
			if msg.ConversationID != conv.ID {
				continue
			}
			if err := msgs.Append(ctx, &msg); err != nil {
				return created, fmt.Errorf("seed message %s: %w", msg.ID, err)
			}
			if err := convs.UpdateLastMessage(ctx, conv.ID, msg.Summary()); err != nil {
				return created, fmt.Errorf("seed last message of %s: %w", conv.ID, err)
			}
		}
		created++
	}
	return created, nil
}
