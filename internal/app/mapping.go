package app

import (
	"fmt"
	"strings"
	"time"

	"offerbot/internal/bots/admin"
	"offerbot/internal/bots/user"
	"offerbot/internal/broadcast"
	"offerbot/internal/composer"
	"offerbot/internal/config"
	"offerbot/internal/httpapi"
	"offerbot/internal/storage"
	logx "offerbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Logging.Telegram.ChatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	dsn := strings.TrimSpace(sc.DSN)
	if driver == "postgres" && dsn == "" {
		return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	window, err := config.ParseDurationField("leads.dedup_window", cfg.Leads.DedupWindow)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: driver, DSN: dsn, BusyTimeout: busy, DedupWindow: window}, nil
}

func mapBroadcastOptions(cfg *config.Config) (broadcast.Options, error) {
	o := broadcast.DefaultOptions()
	throttle, err := config.ParseDurationField("broadcast.throttle_delay", cfg.Broadcast.ThrottleDelay)
	if err != nil {
		return o, err
	}
	send, err := config.ParseDurationField("broadcast.send_timeout", cfg.Broadcast.SendTimeout)
	if err != nil {
		return o, err
	}
	o.ThrottleDelay = throttle
	o.SendTimeout = send
	if cfg.Broadcast.ChunkSize > 0 {
		o.ChunkSize = cfg.Broadcast.ChunkSize
	}
	if cfg.Broadcast.Delivery == string(broadcast.DeliveryCopy) {
		o.Delivery = broadcast.DeliveryCopy
	}
	return o, nil
}

func mapComposerSettings(cfg *config.Config) (composer.Settings, error) {
	ttl, err := config.ParseDurationOrDefault("composer.session_ttl", cfg.Composer.SessionTTL, composer.DefaultSettings().SessionTTL)
	if err != nil {
		return composer.Settings{}, err
	}
	return composer.Settings{
		SessionTTL:    ttl,
		ProgressEvery: cfg.Composer.ProgressEvery,
		UseRelay:      cfg.Broadcast.RelayEnabled(),
	}, nil
}

func mapUserSettings(cfg *config.Config) user.Settings {
	ub := cfg.UserBot
	links := make([]user.Link, 0, len(ub.PurchaseLinks))
	for _, l := range ub.PurchaseLinks {
		links = append(links, user.Link{Label: l.Label, URL: l.URL})
	}
	return user.Settings{
		OwnerChatID:      cfg.Telegram.OwnerChatID,
		WelcomePhoto:     ub.WelcomePhoto,
		WelcomeCaption:   ub.WelcomeCaption,
		WelcomeParseMode: ub.WelcomeParseMode,
		WebAppURL:        ub.WebAppURL,
		WebAppLabel:      ub.WebAppLabel,
		BuyLabel:         ub.BuyLabel,
		PurchaseLinks:    links,
		SupportLabel:     ub.SupportLabel,
		SupportURL:       ub.SupportURL,
	}
}

func mapAdminSettings(cfg *config.Config) admin.Settings {
	return admin.Settings{OwnerChatID: cfg.Telegram.OwnerChatID, NotifyLeads: cfg.Leads.NotifyAdmins}
}

func mapAPIConfig(cfg *config.Config) httpapi.Config {
	return httpapi.Config{
		Host:          cfg.API.Host,
		Port:          cfg.API.Port,
		AdminToken:    cfg.API.AdminToken,
		CORSOrigins:   cfg.API.CORSOrigins,
		RatePerMinute: cfg.API.RatePerMinute,
		BodyLimit:     cfg.API.BodyLimit,
	}
}
