package telegram

import (
	"context"

	tele "gopkg.in/telebot.v4"

	"telecast/internal/broadcast"
)

// Sender sends composed broadcast messages through the Bot API. It satisfies
// the engine's send primitive contract: errors bubble up with their Telegram
// error text intact, which is what the classifier keys on.
type Sender struct {
	bot *tele.Bot
}

func (s *Sender) Send(ctx context.Context, recipient int64, msg broadcast.Outbound) error {
	// telebot calls are not context-aware; honor cancellation between sends.
	if err := ctx.Err(); err != nil {
		return err
	}

	to := tele.ChatID(recipient)
	var err error
	switch msg.Kind {
	case broadcast.KindPhoto:
		_, err = s.bot.Send(to, &tele.Photo{
			File:    tele.FromReader(msg.Media),
			Caption: msg.Text,
		})
	case broadcast.KindVideo:
		_, err = s.bot.Send(to, &tele.Video{
			File:    tele.FromReader(msg.Media),
			Caption: msg.Text,
		})
	case broadcast.KindDocument:
		_, err = s.bot.Send(to, &tele.Document{
			File:     tele.FromReader(msg.Media),
			FileName: msg.Name,
			Caption:  msg.Text,
		})
	default:
		_, err = s.bot.Send(to, msg.Text)
	}
	return err
}
