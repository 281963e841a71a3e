package stages

import (
	"context"
	"fmt"

	"qbitmanage/internal/config"
	"qbitmanage/internal/eventbus"
	"qbitmanage/internal/notifier"
	"qbitmanage/internal/qbittorrent"
	logx "qbitmanage/pkg/logx"
)

// Loader turns configuration identifiers into connected sessions.
type Loader struct {
	files *config.Loader
	cmds  config.Commands
	bus   eventbus.Bus
	log   logx.Logger

	// telegramAPI overrides the Bot API endpoint.
	telegramAPI string
}

// NewLoader wraps files. cmds are the process-level commands; they are OR-ed
// with each file's own commands.
func NewLoader(files *config.Loader, cmds config.Commands, bus eventbus.Bus, log logx.Logger) *Loader {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Loader{files: files, cmds: cmds, bus: bus, log: log}
}

// Load decodes the configuration file, logs in to its qBittorrent instance
// and builds its notifier.
func (l *Loader) Load(ctx context.Context, id string) (*Session, error) {
	f, err := l.files.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	qbt := qbittorrent.NewClient(f.QBT.Host, f.QBT.User, f.QBT.Pass, f.QBTTimeout())
	if err := qbt.Login(ctx); err != nil {
		qbt.Close()
		return nil, fmt.Errorf("connect %s: %w", f.QBT.Host, err)
	}
	if v, err := qbt.AppVersion(ctx); err == nil {
		l.log.Debug("qbittorrent connected", logx.String("config", id), logx.String("version", v))
	}

	n, err := l.notifierFor(f)
	if err != nil {
		qbt.Close()
		return nil, err
	}
	return NewSession(id, f, f.Commands.Merge(l.cmds), qbt, n, l.log), nil
}

// notifierFor returns nil when the file configures no delivery channel.
func (l *Loader) notifierFor(f *config.File) (notifier.Notifier, error) {
	nc := f.Notifications
	if nc == nil {
		return nil, nil
	}
	var senders []notifier.Sender
	for _, u := range nc.Webhooks {
		senders = append(senders, notifier.NewWebhookSender(u))
	}
	if t := nc.Telegram; t != nil && t.Token != "" {
		tg, err := notifier.NewTelegramSender(notifier.TelegramConfig{
			Token:    t.Token,
			ChatID:   t.ChatID,
			ThreadID: t.ThreadID,
			APIURL:   l.telegramAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("telegram notifier: %w", err)
		}
		senders = append(senders, tg)
	}
	if len(senders) == 0 {
		return nil, nil
	}
	timeout, err := config.ParseDurationField("notifications.timeout", nc.Timeout)
	if err != nil {
		return nil, err
	}
	return notifier.New(notifier.Config{RatePerSec: nc.RatePerSec, RetryMax: 2, Timeout: timeout}, l.log, l.bus, senders...), nil
}
