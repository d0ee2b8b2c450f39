package pulse

import (
	"fmt"
	"strings"

	"github.com/HerbHall/netpulse/pkg/models"
)

// MaxDisplayIPs caps the addresses listed per failing check in a message.
const MaxDisplayIPs = 10

// RenderMarkdown formats an alert as chat markdown: a priority-marked title,
// a quoted device summary and a tree of failing checks with their
// unreachable addresses.
func RenderMarkdown(alert *Alert) string {
	d := alert.Device
	priority := d.Priority
	if priority == "" {
		priority = models.PriorityLow
	}

	var b strings.Builder
	if alert.EventType == EventResolved {
		fmt.Fprintf(&b, "✅ **%s** recovered\n\n", d.DisplayName())
	} else {
		fmt.Fprintf(&b, "%s **%s** unreachable\n\n", priority.Marker(), d.DisplayName())
	}
	fmt.Fprintf(&b, "> 📍 Location: %s\n", orDash(d.Location))
	fmt.Fprintf(&b, "> 💻 OS: %s | 🏷️ Group: %s\n", orDash(d.OS), orDash(d.Group))
	fmt.Fprintf(&b, "> ⚠️ Priority: %s\n", priority)

	if alert.EventType == EventResolved {
		fmt.Fprintf(&b, "\nAll checks passing as of %s\n", alert.TriggeredAt.Format("2006-01-02 15:04:05 MST"))
		return b.String()
	}

	b.WriteString("\n**Failures**:\n")
	b.WriteString(renderFailureTree(alert.Failures))
	b.WriteString("\n---\n")
	b.WriteString(`<font color="warning">Check device power, network and service status</font>`)
	return b.String()
}

func renderFailureTree(failures []models.CheckFailure) string {
	var b strings.Builder
	b.WriteString("```\n")
	for i, f := range failures {
		fmt.Fprintf(&b, "┌─ 🔴 %s (port %d)\n", f.CheckName, f.Port)

		shown := f.AttemptedIPs
		if len(shown) > MaxDisplayIPs {
			shown = shown[:MaxDisplayIPs]
		}
		extra := len(f.AttemptedIPs) - len(shown)
		for j, ip := range shown {
			connector := "│  ├─"
			if j == len(shown)-1 && extra == 0 {
				connector = "│  └─"
			}
			fmt.Fprintf(&b, "%s ❌ %s\n", connector, ip)
		}
		if extra > 0 {
			fmt.Fprintf(&b, "│  └─ ... %d more\n", extra)
		}
		if i < len(failures)-1 {
			b.WriteString("│\n")
		}
	}
	fmt.Fprintf(&b, "└─ 📊 %d check(s) failed | %d ip(s) affected\n",
		len(failures), models.AffectedIPs(failures))
	b.WriteString("```\n")
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
