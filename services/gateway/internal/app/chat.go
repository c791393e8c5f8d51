package app

import (
	"context"
	"strings"

	"farmassist/pkg/domain"
)

type chatRule struct {
	keywords []string
	reply    string
}

// chatRules are checked in order; the first rule with a matching keyword wins.
var chatRules = []chatRule{
	{
		keywords: []string{"irrigate", "water"},
		reply:    "Based on current soil moisture at 48%, you don't need to irrigate today. However, if it doesn't rain in the next 2 days, consider irrigating Field B. Current forecast shows no rain expected.",
	},
	{
		keywords: []string{"price", "wheat", "market"},
		reply:    "Wheat prices are currently ₹2,450/quintal at Kota Mandi, up 5.2% from last week. The 3-day forecast shows stable prices with a slight upward trend. Good time to sell if you're ready!",
	},
	{
		keywords: []string{"aphid", "pest"},
		reply:    "For aphid infestation: 1) Mix 5ml neem oil per liter of water, 2) Spray early morning or evening, 3) Repeat after 7 days. Monitor daily and avoid chemical pesticides during flowering.",
	},
	{
		keywords: []string{"weather", "forecast"},
		reply:    "Weather forecast for this week: Mon-Wed: Partly cloudy, 28-32°C. Thu-Fri: 60% chance of rain, 45mm expected. Weekend: Clear skies. Frost warning for Friday night - protect sensitive crops!",
	},
	{
		keywords: []string{"fertilizer", "npk"},
		reply:    "For optimal growth, apply NPK fertilizer (19:19:19) at 50kg per acre. Best time is early morning. Ensure soil moisture is adequate. Space applications 15 days apart for best results.",
	},
	{
		keywords: []string{"claim", "insurance"},
		reply:    "To file an insurance claim: 1) Go to Claims tab, 2) Click 'File New Claim', 3) Upload IoT sensor data as proof, 4) Submit for verification. Average processing time is 7-10 days.",
	},
}

const defaultChatReply = "I understand you're asking about farming. Could you be more specific? I can help with irrigation advice, pest control, market prices, weather updates, fertilizer recommendations, and insurance claims."

// RuleBasedReply maps a farmer's message to a canned answer by keyword.
func RuleBasedReply(message string) string {
	lower := strings.ToLower(message)
	for _, rule := range chatRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.reply
			}
		}
	}
	return defaultChatReply
}

// Chat answers a message and appends the exchange to the user's history.
func (a *App) Chat(ctx context.Context, userID, message string) (domain.ChatMessage, error) {
	if strings.TrimSpace(message) == "" {
		return domain.ChatMessage{}, domain.Invalid("message", "message is required")
	}
	return a.repos.Chats.Append(ctx, userID, message, RuleBasedReply(message))
}

// ChatHistory returns the user's exchanges oldest first.
func (a *App) ChatHistory(ctx context.Context, userID string) ([]domain.ChatMessage, error) {
	return a.repos.Chats.List(ctx, userID)
}
