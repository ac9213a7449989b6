package bot

import (
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"safeguard/internal/catalog"
	"safeguard/internal/config"
)

const (
	startCaption = "🔰 *Safeguard*\n\n" +
		"Group protection & trending fast-track for crypto communities.\n\n" +
		"`/setup` — create a portal\n" +
		"`/trend` — boost your token\n\n" +
		"👇 *Initialize:*"

	portalText = "🛡 *PORTAL ACTIVATED*\n\nNew members must tap below to speak."

	verifyAckText = "✅ Verified! Welcome to the community."

	plansCaption = "📈 *TRENDING FAST-TRACK*\n\nGuarantee your spot:"

	confirmAckText = "✅ *PAYMENT SUBMITTED.*\n\n" +
		"The trending team is verifying your transaction. Boost starts in 10-15 minutes."
)

// btn builds a callback button with raw callback_data. Raw data (no telebot
// unique encoding) is required so presses reach the generic OnCallback route.
func btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

func urlBtn(text, url string) tele.Btn {
	return tele.Btn{Text: text, URL: url}
}

func startMarkup(links config.LinksConfig) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	rows := []tele.Row{}
	if links.AddToGroup != "" {
		rows = append(rows, rm.Row(urlBtn("➕ Add to Group", links.AddToGroup)))
	}
	var info tele.Row
	if links.Docs != "" {
		info = append(info, urlBtn("📖 Docs", links.Docs))
	}
	if links.Twitter != "" {
		info = append(info, urlBtn("🐦 Twitter", links.Twitter))
	}
	if len(info) > 0 {
		rows = append(rows, info)
	}
	rows = append(rows, rm.Row(btn("▶️ Trending Fast-Track", "plans")))
	rm.Inline(rows...)
	return rm
}

func portalMarkup() *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	rm.Inline(rm.Row(btn("Tap to Verify 🟢", "verify")))
	return rm
}

func plansMarkup(plans []catalog.Plan) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(plans))
	for _, p := range plans {
		label := fmt.Sprintf("%s - $%d", p.DisplayName, p.PriceUSD)
		rows = append(rows, rm.Row(btn(label, "buy:"+p.ID)))
	}
	rm.Inline(rows...)
	return rm
}

func invoiceText(p catalog.Plan, pay config.PaymentConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🧾 *INVOICE: %s*\n\n", p.DisplayName)
	fmt.Fprintf(&b, "💰 *Amount:* $%d USD\n\n", p.PriceUSD)
	if pay.ETHAddress != "" {
		fmt.Fprintf(&b, "💠 *ETH:* `%s`\n", pay.ETHAddress)
	}
	if pay.SOLAddress != "" {
		fmt.Fprintf(&b, "🟣 *SOL:* `%s`\n", pay.SOLAddress)
	}
	b.WriteString("\n⚠️ *Reply:* `/confirm <TX_HASH>`")
	return b.String()
}
