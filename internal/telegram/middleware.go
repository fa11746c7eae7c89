package telegram

import (
	"context"
	"time"

	tele "gopkg.in/telebot.v4"
)

// trackActivity stamps every update's sender into the recipient directory
// and the Redis activity window. Both writes are best-effort: a storage
// hiccup must never block handling the update.
func (b *Bot) trackActivity(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if u := c.Sender(); u != nil && !u.IsBot {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := b.store.UpsertUser(ctx, u.ID, u.Username); err != nil {
				b.log.Debug().Int64("user", u.ID).Err(err).Msg("directory upsert failed")
			}
			if b.toucher != nil {
				if err := b.toucher.Touch(ctx, u.ID); err != nil {
					b.log.Debug().Int64("user", u.ID).Err(err).Msg("activity touch failed")
				}
			}
			cancel()
		}
		return next(c)
	}
}
