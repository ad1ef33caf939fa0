package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/master-pd/bot-master/internal/features"
	"github.com/master-pd/bot-master/internal/update"
)

func settingsFeature(d *Deps) features.Descriptor {
	return features.Descriptor{
		Name:        "settings",
		Description: "Show or change group settings",
		Version:     version,
		Events:      []update.Kind{update.KindMessage},
		Command:     "settings",
		Permissions: []string{"admin"},
		IgnoreBots:  true,
		Handler: func(ctx context.Context, req *features.Request) (*features.Outcome, error) {
			ev := req.Event
			if !ev.Chat.IsGroup() || d.Settings == nil {
				return nil, nil
			}
			fields := strings.Fields(req.Args)
			if len(fields) == 0 {
				return d.showSettings(ctx, ev)
			}

			action := strings.ToLower(fields[0])
			var key, value string
			if len(fields) > 1 {
				key = strings.ToLower(fields[1])
			}
			if len(fields) > 2 {
				value = strings.Join(fields[2:], " ")
			}

			switch action {
			case "set", "get", "reset":
			default:
				return nil, d.reply(ctx, ev, "Invalid action. Use: /settings [set|get|reset]")
			}
			if _, ok := toggleDefault(key); !ok {
				return nil, d.reply(ctx, ev, "Invalid setting. Available: "+toggleNames())
			}

			switch action {
			case "set":
				return d.setSetting(ctx, ev, key, value)
			case "get":
				return d.getSetting(ctx, ev, key)
			default:
				return d.resetSetting(ctx, ev, key)
			}
		},
	}
}

func toggleNames() string {
	names := make([]string, len(Toggles))
	for i, t := range Toggles {
		names[i] = t.Key
	}
	return strings.Join(names, ", ")
}

func onOff(on bool) string {
	if on {
		return "Enabled"
	}
	return "Disabled"
}

func (d *Deps) showSettings(ctx context.Context, ev *update.Event) (*features.Outcome, error) {
	stored, err := d.Settings.List(ctx, ev.Chat.ID)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	b.WriteString("<b>Current Settings:</b>\n\n")
	for _, t := range Toggles {
		on := t.Default
		if v, ok := parseToggle(stored[t.Key]); ok {
			on = v
		}
		fmt.Fprintf(&b, "• %s: %s\n", t.Key, onOff(on))
	}
	b.WriteString("\n<b>Usage:</b>\n/settings set welcome off\n/settings get welcome\n/settings reset welcome\n\n")
	b.WriteString("<b>Available settings:</b>\n" + toggleNames())

	if err := d.reply(ctx, ev, b.String()); err != nil {
		return nil, err
	}
	return outcome("settings_shown"), nil
}

func (d *Deps) setSetting(ctx context.Context, ev *update.Event, key, value string) (*features.Outcome, error) {
	on, ok := parseToggle(value)
	if !ok {
		return nil, d.reply(ctx, ev, "Invalid value. Use on or off.")
	}
	stored := "off"
	if on {
		stored = "on"
	}
	if err := d.Settings.Set(ctx, ev.Chat.ID, key, stored); err != nil {
		_ = d.reply(ctx, ev, "Failed to save setting.")
		return nil, err
	}
	if err := d.reply(ctx, ev, fmt.Sprintf("Setting updated!\n\n<b>%s</b>: %s", key, onOff(on))); err != nil {
		return nil, err
	}
	return outcome("setting_updated", "key", key, "value", stored), nil
}

func (d *Deps) getSetting(ctx context.Context, ev *update.Event, key string) (*features.Outcome, error) {
	v, ok, err := d.Settings.Get(ctx, ev.Chat.ID, key)
	if err != nil {
		return nil, err
	}
	on, valid := parseToggle(v)
	if !ok || !valid {
		def, _ := toggleDefault(key)
		if err := d.reply(ctx, ev, fmt.Sprintf("Setting <b>%s</b> is not configured (default: %s)", key, onOff(def))); err != nil {
			return nil, err
		}
		return outcome("setting_read", "key", key, "value", "default"), nil
	}
	if err := d.reply(ctx, ev, fmt.Sprintf("<b>Setting:</b> %s\n<b>Value:</b> %s", key, onOff(on))); err != nil {
		return nil, err
	}
	return outcome("setting_read", "key", key, "value", v), nil
}

func (d *Deps) resetSetting(ctx context.Context, ev *update.Event, key string) (*features.Outcome, error) {
	if err := d.Settings.Delete(ctx, ev.Chat.ID, key); err != nil {
		_ = d.reply(ctx, ev, "Failed to reset setting.")
		return nil, err
	}
	if err := d.reply(ctx, ev, fmt.Sprintf("Setting <b>%s</b> has been reset to default", key)); err != nil {
		return nil, err
	}
	return outcome("setting_reset", "key", key), nil
}
