package telegram

import (
	"context"
	"fmt"
	"html"
	"io"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"telecast/internal/broadcast"
	"telecast/internal/store"
)

const paceRateMax = 1800 // messages per minute, ~30/s (the Bot API ceiling)

func (b *Bot) handleStart(c tele.Context) error {
	return c.Send("Hi! You're all set to receive updates from this bot.")
}

// handleBroadcast opens a compose session for the admin.
func (b *Bot) handleBroadcast(c tele.Context) error {
	u := c.Sender()
	if u == nil || !b.isAdmin(u.ID) {
		return nil
	}
	b.sessions.put(u.ID, composeSession{
		state: stateAwaitContent,
		draft: store.NewJob{AdminID: u.ID},
	})
	return c.Send("📢 <b>New broadcast</b>\n\n" +
		"Send the content to broadcast: a text message, photo, video, or document.\n" +
		"Use /cancelbroadcast to abort.")
}

// handleContent advances the admin's compose session. Non-admin messages and
// messages outside a session fall through untouched.
func (b *Bot) handleContent(c tele.Context) error {
	u := c.Sender()
	if u == nil || !b.isAdmin(u.ID) {
		return nil
	}
	sess, ok := b.sessions.get(u.ID)
	if !ok {
		return nil
	}

	switch sess.state {
	case stateAwaitContent:
		return b.captureContent(c, sess)
	case stateAwaitPace:
		return b.capturePace(c, sess)
	default:
		return c.Send("Send /confirm to queue the broadcast, or /cancelbroadcast to abort.")
	}
}

func (b *Bot) captureContent(c tele.Context, sess composeSession) error {
	m := c.Message()
	u := c.Sender()

	switch {
	case m.Photo != nil:
		sess.draft.Kind = broadcast.KindPhoto
		sess.draft.Text = m.Caption
		sess.draft.MediaRef = b.captureMedia(c, &m.Photo.File, "photo.jpg")
	case m.Video != nil:
		sess.draft.Kind = broadcast.KindVideo
		sess.draft.Text = m.Caption
		sess.draft.MediaRef = b.captureMedia(c, &m.Video.File, orElse(m.Video.FileName, "video.mp4"))
	case m.Document != nil:
		sess.draft.Kind = broadcast.KindDocument
		sess.draft.Text = m.Caption
		sess.draft.MediaRef = b.captureMedia(c, &m.Document.File, orElse(m.Document.FileName, "file.bin"))
	case strings.TrimSpace(m.Text) != "":
		sess.draft.Kind = broadcast.KindText
		sess.draft.Text = m.Text
	default:
		return c.Send("That content type isn't supported. Send text, a photo, a video, or a document.")
	}

	sess.state = stateAwaitPace
	b.sessions.put(u.ID, sess)
	return c.Send(fmt.Sprintf(
		"Got it (%s).\n\nNow send the delivery rate in <b>messages per minute</b> (1–%d), or <i>skip</i> for the default.",
		sess.draft.Kind, paceRateMax))
}

// captureMedia downloads the attached file and stores it under a
// content-addressed reference. Failures degrade to an empty reference: the
// worker will then fall back to sending the caption, which beats losing the
// whole broadcast over a storage hiccup.
func (b *Bot) captureMedia(c tele.Context, f *tele.File, name string) string {
	if b.media == nil {
		_ = c.Send("⚠️ Media storage is disabled; recipients will get the caption text only.")
		return ""
	}
	rc, err := b.bot.File(f)
	if err != nil {
		b.log.Warn().Err(err).Msg("downloading media from telegram failed")
		_ = c.Send("⚠️ Couldn't fetch the media; recipients will get the caption text only.")
		return ""
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		b.log.Warn().Err(err).Msg("reading media failed")
		_ = c.Send("⚠️ Couldn't read the media; recipients will get the caption text only.")
		return ""
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	ref, err := b.media.Put(ctx, data, name)
	if err != nil {
		b.log.Warn().Err(err).Msg("storing media failed")
		_ = c.Send("⚠️ Couldn't store the media; recipients will get the caption text only.")
		return ""
	}
	return ref
}

func (b *Bot) capturePace(c tele.Context, sess composeSession) error {
	u := c.Sender()
	txt := strings.ToLower(strings.TrimSpace(c.Message().Text))

	switch txt {
	case "":
		return c.Send("Send a number of messages per minute, or <i>skip</i>.")
	case "skip", "/skip":
		sess.draft.PaceSeconds = 0
	default:
		rate, err := strconv.Atoi(txt)
		if err != nil || rate < 1 || rate > paceRateMax {
			return c.Send(fmt.Sprintf("The rate must be a whole number between 1 and %d.", paceRateMax))
		}
		sess.draft.PaceSeconds = 60.0 / float64(rate)
	}

	sess.state = stateAwaitConfirm
	b.sessions.put(u.ID, sess)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	total, err := b.store.CountEligible(ctx)
	if err != nil {
		b.log.Warn().Err(err).Msg("counting recipients failed")
	}

	pace := broadcast.Job{PaceSeconds: sess.draft.PaceSeconds}.Pace()
	return c.Send(fmt.Sprintf(
		"<b>Ready to queue</b>\n\n"+
			"Kind: %s\nPreview: <code>%s</code>\nRecipients: ~%d\nPace: 1 message / %s\n\n"+
			"Send /confirm to queue, or /cancelbroadcast to abort.",
		sess.draft.Kind, html.EscapeString(previewText(sess.draft.Text, 80)), total, pace))
}

// previewText truncates s for the confirmation message, cutting on a rune
// boundary so multibyte text stays valid.
func previewText(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}

func (b *Bot) handleConfirm(c tele.Context) error {
	u := c.Sender()
	if u == nil || !b.isAdmin(u.ID) {
		return nil
	}
	sess, ok := b.sessions.get(u.ID)
	if !ok || sess.state != stateAwaitConfirm {
		return c.Send("Nothing to confirm. Start with /broadcast.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := b.store.CreateJob(ctx, sess.draft)
	if err != nil {
		b.log.Error().Err(err).Msg("creating broadcast job failed")
		return c.Send("❌ Couldn't queue the broadcast, try again.")
	}
	b.sessions.drop(u.ID)

	b.log.Info().Str("job", job.ID).Int64("admin", u.ID).Str("kind", string(job.Kind)).Msg("broadcast job queued")
	return c.Send(fmt.Sprintf(
		"✅ Broadcast queued as <code>%s</code>. Delivery starts on the next engine pass; track it with /broadcasts.",
		job.ID))
}

func (b *Bot) handleCancel(c tele.Context) error {
	u := c.Sender()
	if u == nil || !b.isAdmin(u.ID) {
		return nil
	}
	b.sessions.drop(u.ID)
	return c.Send("Broadcast composition cancelled.")
}

func (b *Bot) handleBan(c tele.Context) error   { return b.setBan(c, true) }
func (b *Bot) handleUnban(c tele.Context) error { return b.setBan(c, false) }

// setBan flips a user's ban flag. Banned users drop out of broadcast
// enumeration immediately; unbanning restores them.
func (b *Bot) setBan(c tele.Context, banned bool) error {
	u := c.Sender()
	if u == nil || !b.isAdmin(u.ID) {
		return nil
	}
	id, err := strconv.ParseInt(strings.TrimSpace(c.Message().Payload), 10, 64)
	if err != nil || id == 0 {
		return c.Send("Usage: /ban 12345 or /unban 12345 (the numeric user id).")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.store.SetBanned(ctx, id, banned); err != nil {
		b.log.Error().Int64("user", id).Bool("banned", banned).Err(err).Msg("updating ban flag failed")
		return c.Send("❌ Couldn't update the ban flag, try again.")
	}

	b.log.Info().Int64("user", id).Bool("banned", banned).Int64("admin", u.ID).Msg("ban flag updated")
	if banned {
		return c.Send(fmt.Sprintf("🚫 User <code>%d</code> banned; broadcasts will skip them.", id))
	}
	return c.Send(fmt.Sprintf("✅ User <code>%d</code> unbanned; broadcasts will reach them again.", id))
}

// handleBroadcasts shows recent jobs and aggregate stats.
func (b *Bot) handleBroadcasts(c tele.Context) error {
	u := c.Sender()
	if u == nil || !b.isAdmin(u.ID) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats, err := b.store.Stats(ctx)
	if err != nil {
		return c.Send("❌ Couldn't load broadcast stats.")
	}
	jobs, err := b.store.ListRecent(ctx, 10)
	if err != nil {
		return c.Send("❌ Couldn't load recent broadcasts.")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>Broadcasts</b> — %d total, %d pending, %d processing, %d completed, %d failed\n",
		stats.Total, stats.Pending, stats.Processing, stats.Completed, stats.Failed)
	for _, j := range jobs {
		fmt.Fprintf(&sb, "\n%s <code>%s</code> %s — %d/%d sent, %d failed",
			statusIcon(j.Status), j.ID[:8], j.Kind, j.Sent, j.Total, j.Failed)
		if j.ErrorMessage != "" {
			fmt.Fprintf(&sb, "\n   ⤷ %s", html.EscapeString(j.ErrorMessage))
		}
	}
	if len(jobs) == 0 {
		sb.WriteString("\nNo broadcasts yet. Create one with /broadcast.")
	}
	return c.Send(sb.String())
}

func statusIcon(s broadcast.Status) string {
	switch s {
	case broadcast.StatusPending:
		return "⏳"
	case broadcast.StatusProcessing:
		return "🚀"
	case broadcast.StatusCompleted:
		return "✅"
	case broadcast.StatusFailed:
		return "❌"
	default:
		return "•"
	}
}

func orElse(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
