// Package bot is the inbound command surface: a thin Telegram gateway that
// resolves a tenant id from the chat and routes commands into the session
// core. All real logic lives behind the core's interfaces; this package is
// glue only.
package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/avelichko/walink/internal/address"
	"github.com/avelichko/walink/internal/domain"
	"github.com/avelichko/walink/internal/lookup"
	"github.com/avelichko/walink/internal/notify"
	"github.com/avelichko/walink/internal/ratelimit"
	"github.com/avelichko/walink/internal/session"
)

const (
	updateTimeout = 30 // long-poll seconds

	// Batch reports longer than this go out as a document.
	inlineReportLimit = 40

	helpText = `WhatsApp checker bot.

/login <phone> - link WhatsApp with a pairing code
/qr - link WhatsApp by scanning a QR code
/status - connection status
/check <number> - check if a number is on WhatsApp
/send <number> <text> - send a WhatsApp message
/bulk <numbers...> - check many numbers (or send a .txt/.csv file)
/logout - unlink the device and delete the session
/reset - delete local session data without unlinking`
)

// Gateway runs the Telegram command loop.
type Gateway struct {
	bot        *tgbotapi.BotAPI
	registry   *session.Registry
	auth       *session.AuthFlow
	resolver   *lookup.Resolver
	dispatcher *lookup.Dispatcher
	limiter    *ratelimit.Limiter
	notifier   notify.Notifier
	httpClient *http.Client
}

// New creates a gateway over an authorized bot client.
func New(botAPI *tgbotapi.BotAPI, registry *session.Registry, auth *session.AuthFlow,
	resolver *lookup.Resolver, dispatcher *lookup.Dispatcher,
	limiter *ratelimit.Limiter, notifier notify.Notifier) *Gateway {
	return &Gateway{
		bot:        botAPI,
		registry:   registry,
		auth:       auth,
		resolver:   resolver,
		dispatcher: dispatcher,
		limiter:    limiter,
		notifier:   notifier,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Run consumes updates until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = updateTimeout
	updates := g.bot.GetUpdatesChan(cfg)

	slog.Info("telegram gateway started", "bot", g.bot.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			g.bot.StopReceivingUpdates()
			slog.Info("telegram gateway stopped", "reason", ctx.Err())
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}
			// Pairing and batches block; one goroutine per message keeps
			// tenants from stalling each other.
			go g.handleMessage(ctx, update.Message)
		}
	}
}

func (g *Gateway) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	tenant := domain.TenantID(strconv.FormatInt(msg.Chat.ID, 10))

	if msg.Document != nil {
		g.handleBulkDocument(ctx, tenant, msg.Document)
		return
	}
	if !msg.IsCommand() {
		return
	}

	args := strings.TrimSpace(msg.CommandArguments())
	switch msg.Command() {
	case "start", "help":
		g.reply(ctx, tenant, helpText)
	case "login", "pair":
		g.handleLogin(ctx, tenant, args)
	case "qr":
		g.handleQR(ctx, tenant)
	case "status":
		g.handleStatus(ctx, tenant)
	case "check":
		g.handleCheck(ctx, tenant, args)
	case "send":
		g.handleSend(ctx, tenant, args)
	case "bulk":
		g.handleBulk(ctx, tenant, strings.Fields(args))
	case "logout":
		g.handleRemove(ctx, tenant, true)
	case "reset":
		g.handleRemove(ctx, tenant, false)
	default:
		g.reply(ctx, tenant, "Unknown command. Send /help for the command list.")
	}
}

func (g *Gateway) handleLogin(ctx context.Context, tenant domain.TenantID, phone string) {
	if phone == "" {
		g.reply(ctx, tenant, "Usage: /login <phone with country code>")
		return
	}
	_, err := g.auth.RequestPairingCode(ctx, tenant, phone)
	switch {
	case err == nil:
		// The auth flow already delivered the code.
	case errors.Is(err, domain.ErrInvalidPhone):
		g.reply(ctx, tenant, "Invalid phone number. Use the international format, e.g. +15550001111.")
	case errors.Is(err, domain.ErrAlreadyLinked):
		g.reply(ctx, tenant, "Already linked. Use /logout first.")
	default:
		slog.Error("pairing failed", "tenant_id", tenant, "error", err)
		g.reply(ctx, tenant, "Pairing failed. Try /reset and then /login again.")
	}
}

func (g *Gateway) handleQR(ctx context.Context, tenant domain.TenantID) {
	err := g.auth.RequestQR(ctx, tenant)
	switch {
	case err == nil:
		g.reply(ctx, tenant, "Generating QR code, it will arrive shortly...")
	case errors.Is(err, domain.ErrAlreadyLinked):
		g.reply(ctx, tenant, "Already linked. Use /logout first.")
	default:
		slog.Error("QR request failed", "tenant_id", tenant, "error", err)
		g.reply(ctx, tenant, "Could not start QR linking. Try again later.")
	}
}

func (g *Gateway) handleStatus(ctx context.Context, tenant domain.TenantID) {
	sess := g.registry.Get(tenant)
	if sess == nil {
		g.reply(ctx, tenant, "No active session. Use /login <phone> or /qr to link.")
		return
	}
	switch sess.State() {
	case domain.StateConnected:
		g.reply(ctx, tenant, "WhatsApp connected and active.")
	case domain.StateDisconnected, domain.StateInitializing:
		g.reply(ctx, tenant, "Not connected yet, reconnecting...")
	default:
		g.reply(ctx, tenant, "Waiting for the device to be linked.")
	}
}

func (g *Gateway) handleCheck(ctx context.Context, tenant domain.TenantID, raw string) {
	addr, err := address.Normalize(raw)
	if err != nil {
		g.reply(ctx, tenant, "Invalid number.")
		return
	}

	sess := g.registry.Get(tenant)
	if sess == nil || sess.State() != domain.StateConnected {
		g.reply(ctx, tenant, "Not connected. Use /login first.")
		return
	}

	if d := g.limiter.Allow(tenant); !d.OK {
		g.replyRateLimited(ctx, tenant, d)
		return
	}
	g.limiter.Record(tenant)

	info, err := g.resolver.Resolve(ctx, sess, addr)
	if err != nil {
		slog.Warn("check failed", "tenant_id", tenant, "error", err)
		g.reply(ctx, tenant, "Check failed, try again.")
		return
	}
	if !info.Exists {
		g.reply(ctx, tenant, fmt.Sprintf("%s is not on WhatsApp.", addr))
		return
	}
	text := fmt.Sprintf("%s is on WhatsApp.", addr)
	if info.Name != nil {
		text += fmt.Sprintf(" Name: %s.", *info.Name)
	}
	g.reply(ctx, tenant, text)
}

func (g *Gateway) handleSend(ctx context.Context, tenant domain.TenantID, args string) {
	parts := strings.SplitN(args, " ", 2)
	if len(parts) < 2 {
		g.reply(ctx, tenant, "Usage: /send <number> <text>")
		return
	}
	addr, err := address.Normalize(parts[0])
	if err != nil {
		g.reply(ctx, tenant, "Invalid number.")
		return
	}

	sess := g.registry.Get(tenant)
	if sess == nil || sess.State() != domain.StateConnected {
		g.reply(ctx, tenant, "Not connected. Use /login first.")
		return
	}

	if err := g.resolver.SendText(ctx, sess, addr, parts[1]); err != nil {
		slog.Warn("send failed", "tenant_id", tenant, "error", err)
		g.reply(ctx, tenant, "Send failed, try again.")
		return
	}
	g.reply(ctx, tenant, "Message sent.")
}

func (g *Gateway) handleBulk(ctx context.Context, tenant domain.TenantID, items []string) {
	if len(items) == 0 {
		g.reply(ctx, tenant, "Usage: /bulk <numbers separated by spaces>, or send a .txt/.csv file.")
		return
	}

	sess := g.registry.Get(tenant)
	if sess == nil || sess.State() != domain.StateConnected {
		g.reply(ctx, tenant, "Not connected. Use /login first.")
		return
	}

	g.reply(ctx, tenant, fmt.Sprintf("Checking %d numbers...", len(items)))

	results, err := g.dispatcher.Run(ctx, sess, items)
	if err != nil {
		slog.Warn("bulk run aborted", "tenant_id", tenant, "error", err)
	}
	g.sendReport(ctx, tenant, results)
}

// handleBulkDocument accepts a .txt or .csv upload and runs its numbers as
// a batch.
func (g *Gateway) handleBulkDocument(ctx context.Context, tenant domain.TenantID, doc *tgbotapi.Document) {
	name := strings.ToLower(doc.FileName)
	if !strings.HasSuffix(name, ".txt") && !strings.HasSuffix(name, ".csv") {
		g.reply(ctx, tenant, "Send a .txt or .csv file with one number per line.")
		return
	}

	url, err := g.bot.GetFileDirectURL(doc.FileID)
	if err != nil {
		slog.Warn("file url fetch failed", "tenant_id", tenant, "error", err)
		g.reply(ctx, tenant, "Could not download the file.")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		g.reply(ctx, tenant, "Could not download the file.")
		return
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		slog.Warn("file download failed", "tenant_id", tenant, "error", err)
		g.reply(ctx, tenant, "Could not download the file.")
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		g.reply(ctx, tenant, "Could not read the file.")
		return
	}

	g.handleBulk(ctx, tenant, splitNumbers(string(body)))
}

func (g *Gateway) handleRemove(ctx context.Context, tenant domain.TenantID, remoteLogout bool) {
	if err := g.registry.Remove(ctx, tenant, remoteLogout); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			g.reply(ctx, tenant, "Nothing to clear, no session is linked.")
			return
		}
		slog.Error("session removal failed", "tenant_id", tenant, "error", err)
		g.reply(ctx, tenant, "Could not clear the session, try again.")
		return
	}
	g.limiter.Forget(tenant)
	if remoteLogout {
		g.reply(ctx, tenant, "Logged out and session deleted. Use /login to link again.")
	} else {
		g.reply(ctx, tenant, "Session data deleted. Use /login <phone> to get a new pairing code.")
	}
}

func (g *Gateway) sendReport(ctx context.Context, tenant domain.TenantID, results []lookup.Result) {
	lines := make([]string, 0, len(results))
	for _, r := range results {
		switch r.Kind {
		case lookup.ResultValid:
			verdict := "not on WhatsApp"
			if r.Exists {
				verdict = "on WhatsApp"
			}
			lines = append(lines, fmt.Sprintf("%s: %s", r.Address, verdict))
		case lookup.ResultInvalid:
			lines = append(lines, fmt.Sprintf("%s: invalid", r.Raw))
		case lookup.ResultRateLimited:
			lines = append(lines, fmt.Sprintf("%s: skipped (rate limited)", r.Raw))
		case lookup.ResultFailed:
			lines = append(lines, fmt.Sprintf("%s: check failed", r.Raw))
		}
	}

	report := strings.Join(lines, "\n")
	if len(lines) > inlineReportLimit {
		if err := g.notifier.Document(ctx, tenant, "report.txt", []byte(report)); err != nil {
			slog.Warn("report delivery failed", "tenant_id", tenant, "error", err)
		}
		return
	}
	g.reply(ctx, tenant, report)
}

func (g *Gateway) replyRateLimited(ctx context.Context, tenant domain.TenantID, d ratelimit.Decision) {
	if d.Reason == ratelimit.ReasonCooldown {
		g.reply(ctx, tenant, fmt.Sprintf("Too fast, wait %s.", d.RetryAfter.Round(time.Second)))
		return
	}
	g.reply(ctx, tenant, "Daily quota reached, try again later.")
}

func (g *Gateway) reply(ctx context.Context, tenant domain.TenantID, text string) {
	if err := g.notifier.Text(ctx, tenant, text); err != nil {
		slog.Warn("reply delivery failed", "tenant_id", tenant, "error", err)
	}
}

// splitNumbers extracts candidate numbers from a txt/csv payload.
func splitNumbers(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == '\n' || r == '\r' || r == ',' || r == ';' || r == ' ' || r == '\t'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
