package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"wisefido-iotcore/internal/domain"

	"go.uber.org/zap"
)

type manifestPayload struct {
	Components []json.RawMessage `json:"components"`
}

// manifestEntry keeps every field raw so one badly typed value never
// rejects the descriptor, let alone the whole manifest.
type manifestEntry struct {
	Key          json.RawMessage `json:"key"`
	Kind         json.RawMessage `json:"kind"`
	Name         json.RawMessage `json:"name"`
	Capabilities json.RawMessage `json:"capabilities"`
	Meta         json.RawMessage `json:"meta"`
}

func rawString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// key accepts a string or a number, anything else is treated as absent
func (e manifestEntry) key() string {
	raw := bytes.TrimSpace(e.Key)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// normalize kind is sensor unless the string "actuator", capabilities default
// to {}, meta.name to the key. hidden and hidden_reason are kept only with the
// types the sweepers rely on. The descriptor fully replaces what is stored.
func (e manifestEntry) normalize(key string) domain.ManifestComponent {
	mc := domain.ManifestComponent{
		Key:          key,
		Kind:         domain.KindSensor,
		Capabilities: json.RawMessage(`{}`),
		Meta:         domain.Meta{},
	}
	if kind, _ := rawString(e.Kind); kind == domain.KindActuator {
		mc.Kind = domain.KindActuator
	}
	if caps := bytes.TrimSpace(e.Capabilities); len(caps) > 0 && !bytes.Equal(caps, []byte("null")) && json.Valid(caps) {
		mc.Capabilities = json.RawMessage(caps)
	}
	_ = json.Unmarshal(e.Meta, &mc.Meta)
	if mc.Meta == nil {
		mc.Meta = domain.Meta{}
	}

	if v, ok := mc.Meta["hidden"]; ok {
		if _, isBool := v.(bool); !isBool {
			delete(mc.Meta, "hidden")
		}
	}
	if v, ok := mc.Meta["hidden_reason"]; ok {
		if _, isString := v.(string); !isString {
			delete(mc.Meta, "hidden_reason")
		}
	}

	if name, ok := rawString(e.Name); ok {
		mc.Meta["name"] = name
	} else if v, ok := mc.Meta["name"]; !ok || v == nil {
		mc.Meta["name"] = key
	}
	return mc
}

// handleManifest treats the payload as the source of truth: upsert every entry,
// hide what is missing (reason manifest), unhide what came back.
func (i *Ingestor) handleManifest(ctx context.Context, dev device, payload []byte) error {
	var m manifestPayload
	if err := json.Unmarshal(payload, &m); err != nil {
		i.logger.Debug("Dropping malformed manifest", zap.String("device_uid", dev.uid), zap.Error(err))
		return nil
	}

	keys := make([]string, 0, len(m.Components))
	seen := make(map[string]struct{}, len(m.Components))
	for _, raw := range m.Components {
		var entry manifestEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			i.logger.Debug("Skipping malformed manifest entry", zap.String("device_uid", dev.uid), zap.Error(err))
			continue
		}
		key := entry.key()
		if key == "" {
			continue
		}
		if err := i.components.UpsertManifest(ctx, dev.ref.ID, entry.normalize(key)); err != nil {
			return fmt.Errorf("upsert component %s/%s: %w", dev.uid, key, err)
		}
		if _, dup := seen[key]; !dup {
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}

	// an empty manifest never archives the whole device
	if len(keys) == 0 {
		return nil
	}

	hidden, err := i.components.HideMissing(ctx, dev.ref.ID, keys)
	if err != nil {
		return fmt.Errorf("hide missing components of %s: %w", dev.uid, err)
	}
	restored, err := i.components.UnhideManifest(ctx, dev.ref.ID, keys)
	if err != nil {
		return fmt.Errorf("unhide components of %s: %w", dev.uid, err)
	}

	i.logger.Debug("Manifest applied",
		zap.String("device_uid", dev.uid),
		zap.Int("components", len(keys)),
		zap.Int64("hidden", hidden),
		zap.Int64("restored", restored),
	)
	return nil
}
