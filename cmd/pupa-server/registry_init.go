package main

import (
	"log/slog"

	"github.com/raventid/go-pupa-server/internal/registry"
)

func initRegistry(cfg *appConfig, l *slog.Logger) *registry.Registry {
	r := registry.New()
	r.MailboxSize = cfg.mailboxBuffer
	switch cfg.mailboxPolicy {
	case "drop":
		r.Policy = registry.PolicyDrop
	case "kick":
		r.Policy = registry.PolicyKick
	default:
		l.Warn("unknown_mailbox_policy", "policy", cfg.mailboxPolicy, "used", "drop")
		r.Policy = registry.PolicyDrop
	}
	policyStr := map[registry.BackpressurePolicy]string{registry.PolicyDrop: "drop", registry.PolicyKick: "kick"}[r.Policy]
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	l.Info("registry_config", "policy", policyStr, "mailbox", r.MailboxSize)
	return r
}
