package enrich

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/edgard/leadscout/internal/config"
	"github.com/edgard/leadscout/internal/telegram"
)

var (
	contactHandleRe = regexp.MustCompile(`@([A-Za-z0-9_]{5,32})`)
	contactURLRe    = regexp.MustCompile(`https?://[^\s/$.?#].[^\s]*`)
)

// Channel resolves a bio channel reference and collects its profile, recent
// posts, and contact hints. Returns nil when the reference does not resolve
// or any step fails hard; the candidate then goes through analysis without
// channel context.
func (e *Enricher) Channel(ctx context.Context, ref string) *ChannelData {
	if e.client == nil || ref == "" {
		return nil
	}

	peer := e.resolvePeer(ctx, ref)
	if peer == nil {
		return nil
	}
	if err := e.randomPause(ctx, config.DelayBetweenChannelParse); err != nil {
		return nil
	}

	data := &ChannelData{
		Entity: Entity{
			ID:          peer.ID,
			Kind:        peer.Kind,
			Title:       peer.Title,
			Username:    peer.Username,
			About:       peer.About,
			MemberCount: peer.MemberCount,
		},
		Contacts: extractContacts(peer.About),
	}

	// Posts exist only for channels; a bio can also point at a plain user.
	if peer.Kind == telegram.PeerChannel {
		if err := e.randomPause(ctx, config.DelayBetweenPostsFetch); err != nil {
			return data
		}
		posts, err := e.client.ChannelPosts(ctx, peer.ID, e.cfg.PostsToFetch)
		if err != nil {
			e.log.WarnContext(ctx, "Fetching channel posts failed", "ref", ref, "error", err)
		}
		for _, p := range posts {
			data.RecentPosts = append(data.RecentPosts, ChannelPost{
				ID:    p.ID,
				Date:  p.Date.UTC().Format(time.RFC3339),
				Text:  p.Text,
				Views: p.Views,
			})
		}
	}

	return data
}

func (e *Enricher) resolvePeer(ctx context.Context, ref string) *telegram.Peer {
	for attempt := 0; attempt <= e.cfg.MaxFloodWaitRetries; attempt++ {
		peer, err := e.client.ResolvePeer(ctx, ref)
		if err == nil {
			return peer
		}

		var fw *telegram.FloodWaitError
		if errors.As(err, &fw) && attempt < e.cfg.MaxFloodWaitRetries {
			e.log.WarnContext(ctx, "Flood wait while resolving channel",
				"ref", ref,
				"wait", fw.Wait()+e.cfg.FloodWaitExtra)
			if serr := e.sleep(ctx, fw.Wait()+e.cfg.FloodWaitExtra); serr != nil {
				return nil
			}
			continue
		}

		if errors.Is(err, telegram.ErrNotFound) {
			e.log.DebugContext(ctx, "Channel reference did not resolve", "ref", ref)
		} else {
			e.log.WarnContext(ctx, "Channel resolve failed", "ref", ref, "error", err)
		}
		return nil
	}
	return nil
}

// extractContacts pulls an @handle and links out of a channel description.
// The first non-telegram link becomes the website; telegram links only fill
// the username slot when no @handle was present.
func extractContacts(about string) Contacts {
	var c Contacts
	if about == "" {
		return c
	}

	if m := contactHandleRe.FindStringSubmatch(about); m != nil {
		c.TelegramUsername = "@" + m[1]
	}

	for _, link := range contactURLRe.FindAllString(about, -1) {
		if strings.Contains(link, "t.me") || strings.Contains(link, "telegram.me") {
			if c.TelegramUsername == "" {
				c.TelegramUsername = link
			}
			continue
		}
		if c.Website == "" {
			c.Website = link
		} else {
			c.OtherLinks = append(c.OtherLinks, link)
		}
	}
	return c
}
