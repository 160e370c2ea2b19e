// Package policy decides which marketplace roles may message each other.
// Buyers and sellers never talk directly; an agent sits between them.
package policy

import "github.com/onlyif/messaging/internal/models"

type rolePair struct {
	a, b models.Role
}

// allowed holds every permitted ordered pair and the conversation type it creates
var allowed = map[rolePair]models.ConversationType{
	{models.RoleBuyer, models.RoleAgent}:  models.ConversationBuyerAgent,
	{models.RoleAgent, models.RoleBuyer}:  models.ConversationBuyerAgent,
	{models.RoleAgent, models.RoleSeller}: models.ConversationAgentSeller,
	{models.RoleSeller, models.RoleAgent}: models.ConversationAgentSeller,
	{models.RoleAgent, models.RoleAgent}:  models.ConversationAgentAgent,
}

// IsAllowed reports whether sender may message recipient
func IsAllowed(sender, recipient models.Role) bool {
	_, ok := allowed[rolePair{sender, recipient}]
	return ok
}

// ConversationTypeFor returns the conversation type for a permitted role pair
func ConversationTypeFor(a, b models.Role) (models.ConversationType, bool) {
	t, ok := allowed[rolePair{a, b}]
	return t, ok
}
