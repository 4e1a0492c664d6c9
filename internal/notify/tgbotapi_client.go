package notify

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TGBotAPIClient adapts tgbotapi.BotAPI to the Sender interface.
type TGBotAPIClient struct {
	bot *tgbotapi.BotAPI
}

// NewTGBotAPIClient creates a Telegram client. It calls getMe to check the token.
func NewTGBotAPIClient(token string) (*TGBotAPIClient, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &TGBotAPIClient{bot: bot}, nil
}

// SendMessage sends an HTML formatted message to chatID.
func (c *TGBotAPIClient) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	_, err := c.bot.Send(msg)
	return err
}

var _ Sender = (*TGBotAPIClient)(nil)
